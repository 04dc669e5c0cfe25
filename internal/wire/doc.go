// Package wire defines the fixed-layout binary messages exchanged between
// mapping agents and the coordinator.
//
// # Layouts
//
// Every message is a byte buffer divided into named segments. A Layout is
// built once from an ordered list of fields; each field's segment starts
// where the previous one ends, so there is no padding and the buffer length
// is the end of the last segment:
//
//	CalibrationMessage (126 bytes)
//	┌────┬────┬──────────────────────────────────────────────────────┐
//	│ 0  │ 1  │ 2 .. 125                                             │
//	│ dc │ rc │ calib                                                │
//	└────┴────┴──────────────────────────────────────────────────────┘
//	calib = disparity params (2×f32) | disparity type (i32)
//	      | depth size (2×i32) | depth projection (4×f32)
//	      | rgb size (2×i32)   | rgb projection (4×f32)
//	      | rgb-to-depth transform (4×4 f32, row-major)
//
// Segments are read and written with EncodeField and DecodeField, which
// copy typed values in and out of the buffer with encoding/binary. A size
// mismatch between a value and its segment is a programming error and
// panics; layouts are never derived from untrusted input.
//
// # Protocol
//
// An agent connects, sends a HelloMessage carrying its name and one
// CalibrationMessage, and waits for an AckMessage. The name is chosen by
// the agent and must stay the same across its sessions. It then streams frames, each as a FrameHeaderMessage followed
// by a FrameMessage whose size the header announces, and receives one
// AckMessage per frame.
//
// # Limitations
//
// Values use the host's native byte order, so agents and the coordinator
// must share endianness. There is no version negotiation: a mismatched peer
// produces a garbage decode rather than an error.
package wire

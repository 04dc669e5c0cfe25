// Package mapping carries an agent's sensor stream to the coordinator.
//
// # Protocol
//
// Each agent holds one TCP connection. All messages are fixed-layout
// wire messages. The hello and calibration are answered together, and
// every frame with a one-byte AckMessage:
//
//	agent                              coordinator
//	  │ HelloMessage ────────────────────▶ │  agent name
//	  │ CalibrationMessage ──────────────▶ │  register scene <name>
//	  │ ◀──────────────────────────── Ack  │
//	  │ FrameHeaderMessage ──────────────▶ │  index, pose, payload sizes
//	  │ FrameMessage ────────────────────▶ │  depth + rgb payloads
//	  │ ◀──────────────────────────── Ack  │  tracked state updated
//	  │            ...                     │
//	  │ close ───────────────────────────▶ │  scene removed
//
// The scene is named after the agent, so the evidence recorded for it
// carries over when the agent reconnects or the coordinator restarts from
// its sample store. A second live connection under a name already in use
// is rejected, as is an invalid name or a calibration with an image larger
// than HandlerOptions.MaxPixels. A rejection is answered with AckRejected
// and the connection is closed. Malformed frames close the connection
// without a reply.
//
// # Compression
//
// The calibration message carries one compression tag per stream, fixed
// for the whole session. Depth frames hold 2 bytes per pixel and colour
// frames 4 bytes per pixel before compression. Compress falls back to the
// raw bytes when a payload does not shrink, so a payload exactly as long as
// the uncompressed frame is always raw, and no payload is ever longer.
//
// # Roles
//
// Handler is the coordinator side and runs inside a server worker.
// Client is the agent side, used by cmd/agent and tests.
package mapping

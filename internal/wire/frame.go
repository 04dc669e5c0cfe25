package wire

import "github.com/dreamware/mapsync/internal/geometry"

var frameHeaderLayout = NewLayout(
	FieldOf[int32]("frame_index"),
	FieldOf[geometry.Matrix4f]("pose"),
	FieldOf[uint32]("depth_bytes"),
	FieldOf[uint32]("rgb_bytes"),
)

// FrameHeaderMessage precedes every frame: it carries the agent's locally
// tracked pose and the sizes of the compressed payloads that follow.
type FrameHeaderMessage struct {
	*Message
}

// NewFrameHeaderMessage allocates an empty frame header.
func NewFrameHeaderMessage() *FrameHeaderMessage {
	return &FrameHeaderMessage{Message: NewMessage(frameHeaderLayout)}
}

// SetFrameIndex records the agent's frame counter.
func (m *FrameHeaderMessage) SetFrameIndex(i int32) {
	EncodeField(m.Message, m.Segment("frame_index"), i)
}

// FrameIndex returns the agent's frame counter.
func (m *FrameHeaderMessage) FrameIndex() int32 {
	return DecodeField[int32](m.Message, m.Segment("frame_index"))
}

// SetPose records the world-to-camera pose the agent tracked for this
// frame, in the agent's own world frame.
func (m *FrameHeaderMessage) SetPose(p geometry.Pose) {
	EncodeField(m.Message, m.Segment("pose"), p.M())
}

// Pose returns the tracked world-to-camera pose.
func (m *FrameHeaderMessage) Pose() geometry.Pose {
	return geometry.NewPose(DecodeField[geometry.Matrix4f](m.Message, m.Segment("pose")))
}

// SetPayloadSizes records the compressed depth and colour payload sizes.
func (m *FrameHeaderMessage) SetPayloadSizes(depthBytes, rgbBytes uint32) {
	EncodeField(m.Message, m.Segment("depth_bytes"), depthBytes)
	EncodeField(m.Message, m.Segment("rgb_bytes"), rgbBytes)
}

// PayloadSizes returns the compressed depth and colour payload sizes.
func (m *FrameHeaderMessage) PayloadSizes() (depthBytes, rgbBytes uint32) {
	return DecodeField[uint32](m.Message, m.Segment("depth_bytes")),
		DecodeField[uint32](m.Message, m.Segment("rgb_bytes"))
}

// FrameMessage holds one frame's compressed depth and colour payloads.
// Its size comes from the preceding header, so each frame gets its own
// layout.
type FrameMessage struct {
	*Message
}

// NewFrameMessage allocates a frame payload with the given segment sizes.
func NewFrameMessage(depthBytes, rgbBytes int) *FrameMessage {
	l := NewLayout(
		Field{Name: "depth", Size: depthBytes},
		Field{Name: "rgb", Size: rgbBytes},
	)
	return &FrameMessage{Message: NewMessage(l)}
}

// Depth returns the depth payload, aliasing the message buffer.
func (m *FrameMessage) Depth() []byte {
	seg := m.Segment("depth")
	return m.Bytes()[seg.Offset:seg.End()]
}

// RGB returns the colour payload, aliasing the message buffer.
func (m *FrameMessage) RGB() []byte {
	seg := m.Segment("rgb")
	return m.Bytes()[seg.Offset:seg.End()]
}

// AckStatus is the one-byte reply to a calibration or frame message.
type AckStatus uint8

const (
	AckOK       AckStatus = 0
	AckRejected AckStatus = 1
)

var ackLayout = NewLayout(FieldOf[AckStatus]("status"))

// AckMessage acknowledges receipt of a calibration or frame.
type AckMessage struct {
	*Message
}

// NewAckMessage allocates an acknowledgement with the given status.
func NewAckMessage(status AckStatus) *AckMessage {
	m := &AckMessage{Message: NewMessage(ackLayout)}
	m.SetStatus(status)
	return m
}

// SetStatus overwrites the acknowledgement status.
func (m *AckMessage) SetStatus(s AckStatus) {
	EncodeField(m.Message, m.Segment("status"), s)
}

// Status returns the acknowledgement status. Any value other than AckOK
// means the message was refused.
func (m *AckMessage) Status() AckStatus {
	return DecodeField[AckStatus](m.Message, m.Segment("status"))
}

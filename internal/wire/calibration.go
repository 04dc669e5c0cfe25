package wire

import "github.com/dreamware/mapsync/internal/geometry"

// DisparityType selects how raw disparity values convert to depth.
type DisparityType int32

const (
	// DisparityKinect uses the Kinect-style inverse model.
	DisparityKinect DisparityType = 0
	// DisparityAffine uses a linear model.
	DisparityAffine DisparityType = 1
)

// DisparityCalib holds the disparity-to-depth conversion.
type DisparityCalib struct {
	Params [2]float32
	Type   DisparityType
}

// Intrinsics describes one camera stream: image size in pixels and the
// projection coefficients fx, fy, cx, cy.
type Intrinsics struct {
	Size       [2]int32
	Projection [4]float32
}

// Pixels returns width * height, or zero for a degenerate size.
func (in Intrinsics) Pixels() int {
	if in.Size[0] <= 0 || in.Size[1] <= 0 {
		return 0
	}
	return int(in.Size[0]) * int(in.Size[1])
}

// Calibration is the full RGB-D calibration of an agent's sensor.
type Calibration struct {
	Disparity  DisparityCalib
	Depth      Intrinsics
	RGB        Intrinsics
	RGBToDepth geometry.Matrix4f
}

var calibLayout = NewLayout(
	FieldOf[[2]float32]("disparity_params"),
	FieldOf[DisparityType]("disparity_type"),
	FieldOf[[2]int32]("depth_size"),
	FieldOf[[4]float32]("depth_projection"),
	FieldOf[[2]int32]("rgb_size"),
	FieldOf[[4]float32]("rgb_projection"),
	FieldOf[geometry.Matrix4f]("rgb_to_depth"),
)

var calibrationMessageLayout = NewLayout(
	FieldOf[DepthCompression]("depth_compression"),
	FieldOf[RGBCompression]("rgb_compression"),
	Embed("calib", calibLayout),
)

// CalibrationMessage carries an agent's calibration and the compression
// tags for the frames that follow it.
type CalibrationMessage struct {
	*Message
}

// NewCalibrationMessage allocates an empty calibration message.
func NewCalibrationMessage() *CalibrationMessage {
	return &CalibrationMessage{Message: NewMessage(calibrationMessageLayout)}
}

// CalibrationMessageSize is the fixed wire size of a CalibrationMessage.
func CalibrationMessageSize() int {
	return calibrationMessageLayout.Size()
}

// SetCalib writes c into the calibration segment.
func (m *CalibrationMessage) SetCalib(c Calibration) {
	EncodeField(m.Message, m.Segment("calib.disparity_params"), c.Disparity.Params)
	EncodeField(m.Message, m.Segment("calib.disparity_type"), c.Disparity.Type)
	EncodeField(m.Message, m.Segment("calib.depth_size"), c.Depth.Size)
	EncodeField(m.Message, m.Segment("calib.depth_projection"), c.Depth.Projection)
	EncodeField(m.Message, m.Segment("calib.rgb_size"), c.RGB.Size)
	EncodeField(m.Message, m.Segment("calib.rgb_projection"), c.RGB.Projection)
	EncodeField(m.Message, m.Segment("calib.rgb_to_depth"), c.RGBToDepth)
}

// Calib reads the calibration segment.
func (m *CalibrationMessage) Calib() Calibration {
	return Calibration{
		Disparity: DisparityCalib{
			Params: DecodeField[[2]float32](m.Message, m.Segment("calib.disparity_params")),
			Type:   DecodeField[DisparityType](m.Message, m.Segment("calib.disparity_type")),
		},
		Depth: Intrinsics{
			Size:       DecodeField[[2]int32](m.Message, m.Segment("calib.depth_size")),
			Projection: DecodeField[[4]float32](m.Message, m.Segment("calib.depth_projection")),
		},
		RGB: Intrinsics{
			Size:       DecodeField[[2]int32](m.Message, m.Segment("calib.rgb_size")),
			Projection: DecodeField[[4]float32](m.Message, m.Segment("calib.rgb_projection")),
		},
		RGBToDepth: DecodeField[geometry.Matrix4f](m.Message, m.Segment("calib.rgb_to_depth")),
	}
}

// SetDepthCompression records how the agent will compress depth payloads.
func (m *CalibrationMessage) SetDepthCompression(c DepthCompression) {
	EncodeField(m.Message, m.Segment("depth_compression"), c)
}

// DepthCompression returns the depth payload compression tag. The value
// is not validated; unknown tags are the receiver's to reject.
func (m *CalibrationMessage) DepthCompression() DepthCompression {
	return DecodeField[DepthCompression](m.Message, m.Segment("depth_compression"))
}

// SetRGBCompression records how the agent will compress colour payloads.
func (m *CalibrationMessage) SetRGBCompression(c RGBCompression) {
	EncodeField(m.Message, m.Segment("rgb_compression"), c)
}

// RGBCompression returns the colour payload compression tag, unvalidated.
func (m *CalibrationMessage) RGBCompression() RGBCompression {
	return DecodeField[RGBCompression](m.Message, m.Segment("rgb_compression"))
}

// EncodeCalibration builds a calibration message with uncompressed streams.
func EncodeCalibration(c Calibration) *CalibrationMessage {
	m := NewCalibrationMessage()
	m.SetCalib(c)
	return m
}

// DecodeCalibration extracts the calibration from m.
func DecodeCalibration(m *CalibrationMessage) Calibration {
	return m.Calib()
}

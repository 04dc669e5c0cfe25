// Package mapping implements the agent-to-coordinator frame stream on top
// of the connection manager.
// See doc.go for complete package documentation.
package mapping

import (
	"fmt"
	"log"

	"github.com/dreamware/mapsync/internal/scene"
	"github.com/dreamware/mapsync/internal/server"
	"github.com/dreamware/mapsync/internal/wire"
)

// Bytes per pixel of the uncompressed streams.
const (
	DepthBytesPerPixel = 2
	RGBBytesPerPixel   = 4
)

// DefaultMaxPixels bounds each calibrated image at 8 megapixels, which
// covers 4K sensors.
const DefaultMaxPixels = 1 << 23

// Scenes is the part of the scene registry a handler writes to.
type Scenes interface {
	AddScene(id string, state scene.SLAMState, relocaliser scene.Relocaliser) error
	RemoveScene(id string) bool
}

// RelocaliserFactory builds the relocaliser for a newly calibrated scene.
type RelocaliserFactory func(sceneID string, calib wire.Calibration) scene.Relocaliser

// HandlerOptions configures the handlers built by NewHandlerFactory.
type HandlerOptions struct {
	// Relocalisers builds each scene's relocaliser. Nil gives every scene
	// a scene.NullRelocaliser.
	Relocalisers RelocaliserFactory

	// MaxPixels is the largest depth or colour image, in pixels, an agent
	// may calibrate. Frame buffers are sized from the calibration, so this
	// bounds the memory one agent can make the server allocate. Zero means
	// DefaultMaxPixels.
	MaxPixels int
}

// Handler is the server side of one agent's stream. It reads the agent's
// hello and calibration once, then one frame per iteration, keeping the
// agent's scene up to date in the registry. The scene is named after the
// agent, so evidence about an agent survives its reconnects.
type Handler struct {
	server.Base

	scenes  Scenes
	opts    HandlerOptions
	state   *scene.TrackedState
	sceneID string

	calib    wire.Calibration
	depthTag wire.DepthCompression
	rgbTag   wire.RGBCompression

	// frames is touched only by the worker goroutine.
	frames     int
	registered bool
}

// NewHandlerFactory returns a server.HandlerFactory producing mapping
// handlers that register their scenes in scenes.
func NewHandlerFactory(scenes Scenes, opts HandlerOptions) server.HandlerFactory {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return func(h *server.Handle) server.ClientHandler {
		return &Handler{
			Base:   server.Base{Handle: h},
			scenes: scenes,
			opts:   opts,
		}
	}
}

// RunPre reads the hello and the calibration, and registers the scene.
func (m *Handler) RunPre() {
	hello := wire.NewHelloMessage()
	if !m.ReadMessage(hello) {
		return
	}
	msg := wire.NewCalibrationMessage()
	if !m.ReadMessage(msg) {
		return
	}

	name := hello.AgentName()
	if err := wire.ValidAgentName(name); err != nil {
		m.reject(err)
		return
	}
	m.sceneID = name
	m.SetName(name)

	m.calib = msg.Calib()
	m.depthTag = msg.DepthCompression()
	m.rgbTag = msg.RGBCompression()

	if err := m.checkCalibration(); err != nil {
		m.reject(err)
		return
	}

	var reloc scene.Relocaliser
	if m.opts.Relocalisers != nil {
		reloc = m.opts.Relocalisers(m.sceneID, m.calib)
	}
	m.state = scene.NewTrackedState(m.calib)
	if err := m.scenes.AddScene(m.sceneID, m.state, reloc); err != nil {
		m.reject(err)
		return
	}
	m.registered = true

	log.Printf("[Mapping] %s calibrated: depth %dx%d (%s), rgb %dx%d (%s)",
		m.sceneID, m.calib.Depth.Size[0], m.calib.Depth.Size[1], m.depthTag,
		m.calib.RGB.Size[0], m.calib.RGB.Size[1], m.rgbTag)
	m.WriteMessage(wire.NewAckMessage(wire.AckOK))
}

func (m *Handler) checkCalibration() error {
	if m.calib.Depth.Pixels() == 0 || m.calib.RGB.Pixels() == 0 {
		return fmt.Errorf("degenerate image size: depth %v, rgb %v", m.calib.Depth.Size, m.calib.RGB.Size)
	}
	if m.calib.Depth.Pixels() > m.opts.MaxPixels || m.calib.RGB.Pixels() > m.opts.MaxPixels {
		return fmt.Errorf("image size over %d pixels: depth %v, rgb %v",
			m.opts.MaxPixels, m.calib.Depth.Size, m.calib.RGB.Size)
	}
	if m.depthTag > wire.DepthCompressionZstd {
		return fmt.Errorf("unknown depth compression %d", m.depthTag)
	}
	if m.rgbTag > wire.RGBCompressionZstd {
		return fmt.Errorf("unknown rgb compression %d", m.rgbTag)
	}
	return nil
}

// reject tells the agent its session was refused and ends it.
func (m *Handler) reject(err error) {
	log.Printf("[Mapping] Client %d rejected: %v", m.ClientID(), err)
	m.WriteMessage(wire.NewAckMessage(wire.AckRejected))
	m.Fail(err)
}

// RunIter reads one frame header and its payloads, decompresses them and
// updates the scene's tracked state.
func (m *Handler) RunIter() {
	header := wire.NewFrameHeaderMessage()
	if !m.ReadMessage(header) {
		return
	}

	depthSize := m.calib.Depth.Pixels() * DepthBytesPerPixel
	rgbSize := m.calib.RGB.Pixels() * RGBBytesPerPixel
	depthBytes, rgbBytes := header.PayloadSizes()
	// Compress never grows a payload, so anything larger is garbage.
	if int64(depthBytes) > int64(depthSize) || int64(rgbBytes) > int64(rgbSize) {
		m.Fail(fmt.Errorf("frame %d: payload sizes %d/%d exceed %d/%d",
			header.FrameIndex(), depthBytes, rgbBytes, depthSize, rgbSize))
		return
	}

	frame := wire.NewFrameMessage(int(depthBytes), int(rgbBytes))
	if !m.ReadMessage(frame) {
		return
	}

	depth, err := Decompress(frame.Depth(), m.depthTag, depthSize)
	if err != nil {
		m.Fail(fmt.Errorf("frame %d depth: %w", header.FrameIndex(), err))
		return
	}
	rgb, err := Decompress(frame.RGB(), m.rgbTag, rgbSize)
	if err != nil {
		m.Fail(fmt.Errorf("frame %d rgb: %w", header.FrameIndex(), err))
		return
	}

	m.state.Update(header.FrameIndex(), header.Pose(), rgb, depth)
	m.frames++
	m.WriteMessage(wire.NewAckMessage(wire.AckOK))
}

// RunPost drops the scene's live state.
func (m *Handler) RunPost() {
	if !m.registered {
		return
	}
	m.scenes.RemoveScene(m.sceneID)
	log.Printf("[Mapping] %s ended after %d frames", m.sceneID, m.frames)
}

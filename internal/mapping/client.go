package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/wire"
)

// ErrRejected is returned when the coordinator refuses a message.
var ErrRejected = errors.New("rejected by coordinator")

// Client is the agent side of a stream. It is not safe for concurrent use.
type Client struct {
	conn     net.Conn
	name     string
	calib    wire.Calibration
	depthTag wire.DepthCompression
	rgbTag   wire.RGBCompression

	// Timeout bounds each message exchange. Zero waits indefinitely.
	Timeout time.Duration

	calibrated bool
}

// Dial connects to a coordinator as the agent called name. An agent must
// use the same name every time it connects; the coordinator keys the
// agent's alignment evidence by it.
func Dial(ctx context.Context, addr, name string) (*Client, error) {
	if err := wire.ValidAgentName(name); err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn, name), nil
}

// NewClient wraps an established connection for the agent called name.
// An invalid name is reported by SendCalibration.
func NewClient(conn net.Conn, name string) *Client {
	return &Client{conn: conn, name: name}
}

// Name returns the agent name the client introduces itself with.
func (c *Client) Name() string { return c.name }

// SendCalibration introduces the agent, sends the sensor calibration and
// the compression used for subsequent frames, and waits for the
// coordinator to accept them.
func (c *Client) SendCalibration(calib wire.Calibration, depthTag wire.DepthCompression, rgbTag wire.RGBCompression) error {
	hello := wire.NewHelloMessage()
	if err := hello.SetAgentName(c.name); err != nil {
		return err
	}
	msg := wire.EncodeCalibration(calib)
	msg.SetDepthCompression(depthTag)
	msg.SetRGBCompression(rgbTag)

	if err := c.send(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	if err := c.send(msg); err != nil {
		return fmt.Errorf("send calibration: %w", err)
	}
	if err := c.awaitAck(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	c.calib = calib
	c.depthTag = depthTag
	c.rgbTag = rgbTag
	c.calibrated = true
	return nil
}

// SendFrame compresses and sends one frame with the agent's tracked pose,
// and waits for the acknowledgement. depth must hold 2 bytes and rgb 4
// bytes per pixel of the calibrated image sizes.
func (c *Client) SendFrame(index int32, pose geometry.Pose, depth, rgb []byte) error {
	if !c.calibrated {
		return errors.New("send frame: not calibrated")
	}
	if want := c.calib.Depth.Pixels() * DepthBytesPerPixel; len(depth) != want {
		return fmt.Errorf("send frame: depth is %d bytes, want %d", len(depth), want)
	}
	if want := c.calib.RGB.Pixels() * RGBBytesPerPixel; len(rgb) != want {
		return fmt.Errorf("send frame: rgb is %d bytes, want %d", len(rgb), want)
	}

	depthPayload, err := Compress(depth, c.depthTag)
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	rgbPayload, err := Compress(rgb, c.rgbTag)
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}

	header := wire.NewFrameHeaderMessage()
	header.SetFrameIndex(index)
	header.SetPose(pose)
	header.SetPayloadSizes(uint32(len(depthPayload)), uint32(len(rgbPayload)))

	frame := wire.NewFrameMessage(len(depthPayload), len(rgbPayload))
	copy(frame.Depth(), depthPayload)
	copy(frame.RGB(), rgbPayload)

	if err := c.send(header); err != nil {
		return fmt.Errorf("send frame %d header: %w", index, err)
	}
	if err := c.send(frame); err != nil {
		return fmt.Errorf("send frame %d: %w", index, err)
	}
	if err := c.awaitAck(); err != nil {
		return fmt.Errorf("frame %d: %w", index, err)
	}
	return nil
}

// Close closes the connection. The coordinator treats a close between
// frames as a clean disconnect.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) deadline() {
	if c.Timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.Timeout))
	}
}

func (c *Client) send(msg interface{ Bytes() []byte }) error {
	c.deadline()
	_, err := c.conn.Write(msg.Bytes())
	return err
}

func (c *Client) awaitAck() error {
	c.deadline()
	ack := wire.NewAckMessage(wire.AckOK)
	if _, err := io.ReadFull(c.conn, ack.Bytes()); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if ack.Status() != wire.AckOK {
		return ErrRejected
	}
	return nil
}

// Package main implements mapsync-agent, a synthetic mapping agent that
// streams RGB-D frames to a mapsync coordinator.
//
// A real agent runs a tracker on a sensor and forwards each frame with its
// tracked pose. This one generates frames itself so that a coordinator can
// be exercised without hardware:
//
//	┌───────────────────────────────┐         ┌──────────────────────┐
//	│            Agent              │   TCP   │     Coordinator      │
//	├───────────────────────────────┤ ──────▶ ├──────────────────────┤
//	│  hello + calibration (once)   │         │  ack / reject        │
//	│  frame header + frame  (loop) │ ◀────── │  ack per frame       │
//	└───────────────────────────────┘         └──────────────────────┘
//
// The camera moves along a circle of radius 1 m about the Y axis, one
// degree per frame, always facing the centre. Depth is a smooth ramp and
// RGB encodes the frame index, so consecutive frames differ.
//
// The agent introduces itself by name. The coordinator keeps alignment
// evidence per name, so a restarted agent must reuse its name to pick up
// where it left off.
//
// Configuration:
//   - MAPSYNC_COORDINATOR: coordinator agent address (default "127.0.0.1:7851")
//   - MAPSYNC_AGENT_NAME: agent name (default the host name)
//
// Example usage:
//
//	# Stream 300 lz4-compressed frames at 30 fps
//	mapsync-agent --coordinator 10.0.0.5:7851 --name rover-1 --frames 300 --fps 30 \
//	  --depth-compression lz4 --rgb-compression zstd
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/mapping"
	"github.com/dreamware/mapsync/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type agentFlags struct {
	coordinator string
	name        string
	depthComp   string
	rgbComp     string
	frames      int
	fps         float64
	width       int
	height      int
	timeout     time.Duration
	retries     int
}

func newRootCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:           "mapsync-agent",
		Short:         "Stream synthetic RGB-D frames to a mapsync coordinator",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.coordinator, "coordinator", getenv("MAPSYNC_COORDINATOR", "127.0.0.1:7851"), "Coordinator agent address")
	flags.StringVar(&f.name, "name", getenv("MAPSYNC_AGENT_NAME", defaultName()), "Agent name, stable across restarts")
	flags.IntVar(&f.frames, "frames", 0, "Number of frames to send, 0 streams until interrupted")
	flags.Float64Var(&f.fps, "fps", 30, "Frames per second, 0 sends as fast as acknowledged")
	flags.StringVar(&f.depthComp, "depth-compression", "none", "Depth compression: none, lz4 or zstd")
	flags.StringVar(&f.rgbComp, "rgb-compression", "none", "RGB compression: none, lz4 or zstd")
	flags.IntVar(&f.width, "width", 64, "Image width in pixels")
	flags.IntVar(&f.height, "height", 48, "Image height in pixels")
	flags.DurationVar(&f.timeout, "timeout", 10*time.Second, "Per-message timeout")
	flags.IntVar(&f.retries, "retries", 10, "Connection attempts before giving up")
	return cmd
}

// run connects, calibrates and streams frames until done or ctx ends.
func run(ctx context.Context, f agentFlags) error {
	if err := wire.ValidAgentName(f.name); err != nil {
		return err
	}
	depthTag, err := wire.ParseDepthCompression(f.depthComp)
	if err != nil {
		return err
	}
	rgbTag, err := wire.ParseRGBCompression(f.rgbComp)
	if err != nil {
		return err
	}
	if f.width <= 0 || f.height <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", f.width, f.height)
	}
	if f.fps < 0 {
		return fmt.Errorf("fps cannot be negative, got %g", f.fps)
	}

	client, err := dial(ctx, f.coordinator, f.name, f.retries)
	if err != nil {
		return err
	}
	defer client.Close()
	client.Timeout = f.timeout

	calib := calibration(f.width, f.height)
	if err := client.SendCalibration(calib, depthTag, rgbTag); err != nil {
		return err
	}
	log.Printf("[Agent] %s calibrated %dx%d with depth %s, rgb %s", f.name, f.width, f.height, depthTag, rgbTag)

	var tick <-chan time.Time
	if f.fps > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / f.fps))
		defer ticker.Stop()
		tick = ticker.C
	}

	depth := make([]byte, calib.Depth.Pixels()*mapping.DepthBytesPerPixel)
	rgb := make([]byte, calib.RGB.Pixels()*mapping.RGBBytesPerPixel)
	for i := 0; f.frames == 0 || i < f.frames; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		renderFrame(int32(i), f.width, f.height, depth, rgb)
		if err := client.SendFrame(int32(i), trajectory(i), depth, rgb); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if (i+1)%100 == 0 {
			log.Printf("[Agent] Sent %d frames", i+1)
		}
	}
	log.Printf("[Agent] Finished after %d frames", f.frames)
	return nil
}

// dial retries the connection with a fixed backoff, since agents are often
// started alongside the coordinator.
func dial(ctx context.Context, addr, name string, attempts int) (*mapping.Client, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		client, err := mapping.Dial(ctx, addr, name)
		if err == nil {
			log.Printf("[Agent] Connected to coordinator @ %s", addr)
			return client, nil
		}
		lastErr = err
		log.Printf("[Agent] Connect retry %d: %v", i+1, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(400 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("failed to connect to coordinator: %w", lastErr)
}

// defaultName is the host name cut to fit an agent name.
func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "agent"
	}
	if len(host) > wire.MaxAgentNameLen {
		host = host[:wire.MaxAgentNameLen]
	}
	return host
}

// calibration describes a pinhole camera with a 60 degree horizontal field
// of view and registered depth and colour images.
func calibration(width, height int) wire.Calibration {
	fx := float32(float64(width) / 2 / math.Tan(math.Pi/6))
	in := wire.Intrinsics{
		Size:       [2]int32{int32(width), int32(height)},
		Projection: [4]float32{fx, fx, float32(width) / 2, float32(height) / 2},
	}
	return wire.Calibration{
		Depth:      in,
		RGB:        in,
		RGBToDepth: geometry.IdentityMatrix(),
	}
}

// trajectory returns the camera pose for frame i.
func trajectory(i int) geometry.Pose {
	angle := float64(i%360) * math.Pi / 180
	pos := [3]float64{math.Sin(angle), 0, -math.Cos(angle)}
	return geometry.PoseFromAxisAngle([3]float64{0, 1, 0}, -angle, pos)
}

// renderFrame fills depth with little-endian millimetres and rgb with RGBA
// pixels derived from the frame index.
func renderFrame(index int32, width, height int, depth, rgb []byte) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := y*width + x
			mm := uint16(1000 + 4*y + int(index%50))
			binary.LittleEndian.PutUint16(depth[2*p:], mm)
			rgb[4*p] = byte(x)
			rgb[4*p+1] = byte(y)
			rgb[4*p+2] = byte(index)
			rgb[4*p+3] = 0xff
		}
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

package integration

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mapsync/internal/cluster"
	"github.com/dreamware/mapsync/internal/config"
	"github.com/dreamware/mapsync/internal/coordinator"
	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/mapping"
	"github.com/dreamware/mapsync/internal/scene"
	"github.com/dreamware/mapsync/internal/wire"
)

// TestSystem is a coordinator with its admin API, plus the agents
// connected to it.
type TestSystem struct {
	t      *testing.T
	coord  *coordinator.Coordinator
	agents []*mapping.Client
	admin  string
}

// offset is the transform every successful relocalisation reports. Agent
// 0 and agent 1 started one metre apart and a quarter turn from each other.
var offset = geometry.PoseFromAxisAngle([3]float64{0, 1, 0}, 1.5707963, [3]float64{1, 0, 0})

// overlapping returns relocalisers under which agents 0 and 1 can find
// each other's frames and agent 2 is never found. Each agent paints its
// RGB frames with its own index, so a scene's relocaliser can tell who
// sent a frame.
func overlapping(sceneID string, _ wire.Calibration) scene.Relocaliser {
	var self byte
	_, _ = fmt.Sscanf(sceneID, "agent%d", &self)
	return scene.RelocaliserFunc(func(rgb, _ []byte, _ [4]float32) (scene.Result, bool) {
		other := rgb[0]
		if self < 2 && other < 2 && other != self {
			return scene.Result{Pose: offset, Quality: scene.QualityGood, Score: 0.9}, true
		}
		return scene.Result{Quality: scene.QualityFailed}, true
	})
}

func NewTestSystem(t *testing.T, cfg *config.Config) *TestSystem {
	c, err := coordinator.New(cfg, coordinator.Options{Relocalisers: overlapping})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return &TestSystem{t: t, coord: c, admin: "http://" + c.AdminAddr().String()}
}

// AddAgent connects, calibrates and sends one frame. The nth agent added
// is named "agent<n>".
func (ts *TestSystem) AddAgent(depthTag wire.DepthCompression, rgbTag wire.RGBCompression) *mapping.Client {
	ts.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	name := fmt.Sprintf("agent%d", len(ts.agents))
	client, err := mapping.Dial(ctx, ts.coord.AgentAddr().String(), name)
	require.NoError(ts.t, err)
	client.Timeout = 2 * time.Second
	ts.t.Cleanup(func() { _ = client.Close() })

	calib := wire.Calibration{
		Depth:      wire.Intrinsics{Size: [2]int32{8, 6}, Projection: [4]float32{7, 7, 4, 3}},
		RGB:        wire.Intrinsics{Size: [2]int32{8, 6}, Projection: [4]float32{7, 7, 4, 3}},
		RGBToDepth: geometry.IdentityMatrix(),
	}
	require.NoError(ts.t, client.SendCalibration(calib, depthTag, rgbTag))

	index := byte(len(ts.agents))
	depth := make([]byte, calib.Depth.Pixels()*mapping.DepthBytesPerPixel)
	rgb := bytes.Repeat([]byte{index}, calib.RGB.Pixels()*mapping.RGBBytesPerPixel)
	pose := geometry.PoseFromAxisAngle([3]float64{0, 0, 1}, 0.1*float64(index), [3]float64{0, 0, float64(index)})
	require.NoError(ts.t, client.SendFrame(1, pose, depth, rgb))
	// Attempts made between calibration and the first frame are penalised
	// as missing views.
	ts.coord.Scheduler().ResetPenalties()

	ts.agents = append(ts.agents, client)
	return client
}

func (ts *TestSystem) Pairs() map[string]cluster.PairStatus {
	ts.t.Helper()
	var pairs []cluster.PairStatus
	require.NoError(ts.t, cluster.GetJSON(context.Background(), ts.admin+"/pairs", &pairs))
	out := make(map[string]cluster.PairStatus, len(pairs))
	for _, p := range pairs {
		out[p.I+"->"+p.J] = p
	}
	return out
}

func (ts *TestSystem) Health() cluster.Health {
	ts.t.Helper()
	var h cluster.Health
	require.NoError(ts.t, cluster.GetJSON(context.Background(), ts.admin+"/health", &h))
	return h
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Admin = "127.0.0.1:0"
	cfg.IOTimeout = 5 * time.Second
	cfg.ReapInterval = 20 * time.Millisecond
	cfg.Scheduler.TickPeriod = time.Millisecond
	cfg.Scheduler.Interval = 2
	cfg.Scheduler.MaxPenalty = 5
	seed := int64(11)
	cfg.Scheduler.Seed = &seed
	return cfg
}

// TestThreeAgentCollaboration streams from three agents, of which only two
// observe the same space, and checks that the overlapping pair is aligned
// while the third agent is given up on.
func TestThreeAgentCollaboration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ts := NewTestSystem(t, testConfig())

	ts.AddAgent(wire.DepthCompressionNone, wire.RGBCompressionNone)
	ts.AddAgent(wire.DepthCompressionLZ4, wire.RGBCompressionZstd)
	ts.AddAgent(wire.DepthCompressionZstd, wire.RGBCompressionLZ4)

	require.Eventually(t, func() bool {
		pairs := ts.Pairs()
		return pairs["agent0->agent1"].Solved && pairs["agent1->agent0"].Solved
	}, 5*time.Second, 20*time.Millisecond, "overlapping agents should be aligned")

	require.Eventually(t, func() bool {
		h := ts.Health()
		return h.Scheduler.Abandoned > 0 && h.Scheduler.Idle > 0
	}, 5*time.Second, 20*time.Millisecond, "scheduler should give up on agent2 and go idle")

	pairs := ts.Pairs()
	assert.Len(t, pairs, 2, "only the overlapping pair has samples")
	assert.Zero(t, pairs["agent0->agent1"].Penalty)
	for _, other := range []string{"agent0", "agent1"} {
		assert.GreaterOrEqual(t, ts.coord.Scheduler().Penalty(other, "agent2"), 5.0, other)
	}
	assert.GreaterOrEqual(t, ts.Health().Scheduler.Abandoned, 2)

	// Every sample in the winning cluster came from the same estimate.
	c, ok := ts.coord.Registry().LargestCluster("agent0", "agent1")
	require.True(t, ok)
	require.GreaterOrEqual(t, len(c), 3)
	for _, sample := range c[1:] {
		assert.True(t, geometry.PosesAreSimilar(c[0], sample, 1e-2, 1e-4))
	}

	h := ts.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 3, h.Clients)
	assert.Equal(t, 3, h.Scenes)
	assert.GreaterOrEqual(t, h.Stored, 3)
}

// TestAgentChurn checks that scenes follow agent connections and that
// alignment evidence outlives a disconnect.
func TestAgentChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ts := NewTestSystem(t, testConfig())

	ts.AddAgent(wire.DepthCompressionLZ4, wire.RGBCompressionLZ4)
	b := ts.AddAgent(wire.DepthCompressionLZ4, wire.RGBCompressionLZ4)

	require.Eventually(t, func() bool {
		return ts.Pairs()["agent0->agent1"].Solved
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool {
		h := ts.Health()
		return h.Clients == 1 && h.Scenes == 1
	}, 3*time.Second, 20*time.Millisecond, "disconnected agent should be reaped")

	// Evidence is kept for the pair even though agent1 has gone.
	assert.True(t, ts.Pairs()["agent0->agent1"].Solved)
	assert.Equal(t, []string{"agent0"}, ts.coord.Registry().SceneIDs())

	// agent1 comes back under its name and finds the pair still solved.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	again, err := mapping.Dial(ctx, ts.coord.AgentAddr().String(), "agent1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	calib := wire.Calibration{
		Depth:      wire.Intrinsics{Size: [2]int32{8, 6}, Projection: [4]float32{7, 7, 4, 3}},
		RGB:        wire.Intrinsics{Size: [2]int32{8, 6}, Projection: [4]float32{7, 7, 4, 3}},
		RGBToDepth: geometry.IdentityMatrix(),
	}
	require.NoError(t, again.SendCalibration(calib, wire.DepthCompressionNone, wire.RGBCompressionNone))
	assert.Equal(t, []string{"agent0", "agent1"}, ts.coord.Registry().SceneIDs())
	assert.True(t, ts.Pairs()["agent1->agent0"].Solved)
}

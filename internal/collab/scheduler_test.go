package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/scene"
	"github.com/dreamware/mapsync/internal/wire"
)

// recorder is a relocaliser that logs the frames it was asked about and
// answers with a fixed result.
type recorder struct {
	mu      sync.Mutex
	queries []string
	answer  func(query string) (scene.Result, bool)
}

func (r *recorder) Relocalise(rgb, _ []byte, _ [4]float32) (scene.Result, bool) {
	r.mu.Lock()
	r.queries = append(r.queries, string(rgb))
	r.mu.Unlock()
	if r.answer == nil {
		return scene.Result{}, false
	}
	return r.answer(string(rgb))
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

var (
	goodPose = geometry.PoseFromAxisAngle([3]float64{0, 0, 1}, 0.4, [3]float64{1, 2, 0})
	good     = func(string) (scene.Result, bool) {
		return scene.Result{Pose: goodPose, Quality: scene.QualityGood, Score: 0.9}, true
	}
)

// newTestRegistry registers scenes whose current RGB frame is their own ID,
// so a relocaliser can tell which scene it is being queried with.
func newTestRegistry(t *testing.T, relocs map[string]*recorder) *scene.Registry {
	t.Helper()
	r := scene.NewRegistry(scene.DefaultOptions())
	for id, reloc := range relocs {
		st := scene.NewTrackedState(wire.Calibration{})
		st.Update(1, geometry.Identity(), []byte(id), []byte{0, 0})
		require.NoError(t, r.AddScene(id, st, reloc))
	}
	return r
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = 1
	cfg.Seed = 42
	return cfg
}

// primed returns a scheduler whose next Tick is due.
func primed(t *testing.T, reg Registry, cfg Config) *Scheduler {
	t.Helper()
	s, err := NewScheduler(reg, cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionWaiting, s.Tick(context.Background()).Action)
	return s
}

func addSamples(t *testing.T, r *scene.Registry, i, j string, n int) {
	t.Helper()
	for k := 0; k < n; k++ {
		require.NoError(t, r.AddRelativeTransformSample(context.Background(), i, j, goodPose))
	}
}

// TestNewSchedulerValidation tests config validation
func TestNewSchedulerValidation(t *testing.T) {
	reg := scene.NewRegistry(scene.DefaultOptions())

	_, err := NewScheduler(nil, testConfig())
	assert.Error(t, err)

	for name, mutate := range map[string]func(*Config){
		"zero interval":    func(c *Config) { c.Interval = 0 },
		"zero threshold":   func(c *Config) { c.SolvedThreshold = 0 },
		"negative step":    func(c *Config) { c.PenaltyStep = -1 },
		"negative maximum": func(c *Config) { c.MaxPenalty = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := NewScheduler(reg, cfg)
			assert.Error(t, err)
		})
	}
}

// TestTickCadence tests that attempts happen on nonzero multiples of Interval
func TestTickCadence(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	reg := newTestRegistry(t, map[string]*recorder{"A": a, "B": b})

	cfg := testConfig()
	cfg.Interval = 3
	s, err := NewScheduler(reg, cfg)
	require.NoError(t, err)

	var attempted []int
	for call := 1; call <= 10; call++ {
		if s.Tick(context.Background()).Attempted() {
			attempted = append(attempted, call)
		}
	}
	assert.Equal(t, []int{4, 7, 10}, attempted)
	assert.Equal(t, 10, s.Stats().Ticks)
	assert.Equal(t, 3, s.Stats().Attempts)
}

// TestTickCancelledContext tests that a cancelled context skips the attempt
func TestTickCancelledContext(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	s := primed(t, newTestRegistry(t, map[string]*recorder{"A": a, "B": b}), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ActionWaiting, s.Tick(ctx).Action)
	assert.Zero(t, a.calls()+b.calls())
}

// TestSelectsUniqueMinimum tests that the least-clustered pair is chosen
func TestSelectsUniqueMinimum(t *testing.T) {
	relocs := map[string]*recorder{"A": {}, "B": {}, "C": {}}
	reg := newTestRegistry(t, relocs)
	addSamples(t, reg, "A", "C", 2)
	addSamples(t, reg, "B", "C", 2)

	for seed := int64(0); seed < 20; seed++ {
		cfg := testConfig()
		cfg.Seed = seed
		s := primed(t, reg, cfg)

		out := s.Tick(context.Background())
		require.Equal(t, ActionRejected, out.Action)
		assert.Equal(t, scene.Pair{I: "A", J: "B"}, out.Pair.Unordered(), "seed %d", seed)
	}
	assert.Zero(t, relocs["C"].calls(), "C's model is never the target of an unsolved pair")
}

// TestTiesAreAllSelected tests that every tied pair gets a turn
func TestTiesAreAllSelected(t *testing.T) {
	reg := newTestRegistry(t, map[string]*recorder{"A": {}, "B": {}, "C": {}})
	addSamples(t, reg, "A", "B", 2)
	addSamples(t, reg, "A", "C", 2)
	addSamples(t, reg, "B", "C", 2)

	s := primed(t, reg, testConfig())
	seen := make(map[scene.Pair]int)
	for i := 0; i < 300; i++ {
		out := s.Tick(context.Background())
		require.Equal(t, ActionRejected, out.Action)
		seen[out.Pair]++
	}

	assert.Len(t, seen, 6, "all ordered pairs should be chosen: %v", seen)
	for p, n := range seen {
		assert.Greater(t, n, 10, "pair %s starved", p)
	}
}

// TestIdleOnceSolved tests that solved registries cause no attempts
func TestIdleOnceSolved(t *testing.T) {
	relocs := map[string]*recorder{"A": {answer: good}, "B": {answer: good}, "C": {answer: good}}
	reg := newTestRegistry(t, relocs)
	addSamples(t, reg, "A", "B", 3)
	addSamples(t, reg, "A", "C", 3)
	addSamples(t, reg, "B", "C", 4)

	s := primed(t, reg, testConfig())
	for i := 0; i < 50; i++ {
		assert.Equal(t, ActionIdle, s.Tick(context.Background()).Action)
	}
	for id, r := range relocs {
		assert.Zero(t, r.calls(), "relocaliser %s called", id)
	}
	assert.Empty(t, s.Candidates())
	assert.Equal(t, 50, s.Stats().Idle)
}

// TestIdleWithoutPairs tests registries with fewer than two scenes
func TestIdleWithoutPairs(t *testing.T) {
	s := primed(t, newTestRegistry(t, map[string]*recorder{"A": {}}), testConfig())
	assert.Equal(t, ActionIdle, s.Tick(context.Background()).Action)
}

// TestGoodResultAppendsSample tests sample acceptance
func TestGoodResultAppendsSample(t *testing.T) {
	a, b := &recorder{answer: good}, &recorder{answer: good}
	reg := newTestRegistry(t, map[string]*recorder{"A": a, "B": b})
	s := primed(t, reg, testConfig())

	out := s.Tick(context.Background())
	require.Equal(t, ActionAccepted, out.Action)
	assert.Equal(t, scene.QualityGood, out.Quality)

	cands := s.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, out.Pair, cands[0].Pair)
	assert.Equal(t, 0.9, cands[0].Score)
	// J's tracked pose is the identity, so the sample is the inverse of
	// the estimated pose.
	assert.Equal(t, goodPose.InvM(), cands[0].Pose.M())

	assert.Equal(t, 1, reg.SampleCount(out.Pair.I, out.Pair.J))
	assert.Zero(t, s.Penalty("A", "B"))

	// The relocaliser of I was queried with J's frame.
	owner := map[string]*recorder{"A": a, "B": b}[out.Pair.I]
	assert.Equal(t, []string{out.Pair.J}, owner.queries)
}

// TestSampleUsesPoseOfQueriedFrame tests that a frame arriving while the
// relocaliser runs does not change the pose the estimate is combined with
func TestSampleUsesPoseOfQueriedFrame(t *testing.T) {
	first := geometry.PoseFromAxisAngle([3]float64{0, 0, 1}, 0.3, [3]float64{-1, 0.5, 0})
	later := geometry.PoseFromAxisAngle([3]float64{0, 0, 1}, -1.2, [3]float64{2, -2, 0})

	reg := scene.NewRegistry(scene.DefaultOptions())
	states := map[string]*scene.TrackedState{}
	for _, id := range []string{"A", "B"} {
		states[id] = scene.NewTrackedState(wire.Calibration{})
		states[id].Update(1, first, []byte(id), []byte{0, 0})
	}
	// The queried agent moves on to its next frame mid-relocalisation.
	moving := scene.RelocaliserFunc(func(rgb, _ []byte, _ [4]float32) (scene.Result, bool) {
		states[string(rgb)].Update(2, later, rgb, []byte{0, 0})
		return scene.Result{Pose: goodPose, Quality: scene.QualityGood, Score: 1}, true
	})
	for id, st := range states {
		require.NoError(t, reg.AddScene(id, st, moving))
	}

	s := primed(t, reg, testConfig())
	out := s.Tick(context.Background())
	require.Equal(t, ActionAccepted, out.Action)

	want := geometry.RelativeTransform(goodPose, first)
	cands := s.Candidates()
	require.Len(t, cands, 1)
	assert.True(t, geometry.PosesAreSimilar(want, cands[0].Pose, 1e-4, 1e-5),
		"sample %v, want %v", cands[0].Pose.Translation(), want.Translation())

	c, ok := reg.LargestCluster(out.Pair.I, out.Pair.J)
	require.True(t, ok)
	assert.Equal(t, want.M(), c[0].M())
	assert.Equal(t, later.M(), states[out.Pair.J].Pose().M(), "the scene itself did move on")
}

// TestFailedResultPenalises tests penalty accounting
func TestFailedResultPenalises(t *testing.T) {
	poor := func(string) (scene.Result, bool) {
		return scene.Result{Pose: goodPose, Quality: scene.QualityPoor}, true
	}
	reg := newTestRegistry(t, map[string]*recorder{"A": {answer: poor}, "B": {answer: poor}})
	cfg := testConfig()
	cfg.PenaltyStep = 0.5
	s := primed(t, reg, cfg)

	out := s.Tick(context.Background())
	require.Equal(t, ActionRejected, out.Action)
	assert.Equal(t, scene.QualityPoor, out.Quality)
	assert.Empty(t, s.Candidates())
	assert.Zero(t, reg.SampleCount("A", "B"))
	assert.Equal(t, 0.5, s.Penalty("A", "B"))
	assert.Equal(t, 0.5, s.Penalty("B", "A"))

	s.Tick(context.Background())
	assert.Equal(t, 1.0, s.Penalty("B", "A"))

	s.ResetPenalties()
	assert.Zero(t, s.Penalty("A", "B"))
}

// TestMissingViewPenalises tests scenes that have not streamed a frame
func TestMissingViewPenalises(t *testing.T) {
	reg := scene.NewRegistry(scene.DefaultOptions())
	reloc := &recorder{answer: good}
	require.NoError(t, reg.AddScene("A", scene.NewTrackedState(wire.Calibration{}), reloc))
	require.NoError(t, reg.AddScene("B", scene.NewTrackedState(wire.Calibration{}), reloc))

	s := primed(t, reg, testConfig())
	out := s.Tick(context.Background())
	assert.Equal(t, ActionRejected, out.Action)
	assert.Equal(t, scene.QualityFailed, out.Quality)
	assert.Zero(t, reloc.calls())
	assert.Equal(t, 1.0, s.Penalty("A", "B"))
}

// TestWeightByPenalty tests that penalised pairs are chosen less often
func TestWeightByPenalty(t *testing.T) {
	cfg := testConfig()
	cfg.WeightByPenalty = true
	s, err := NewScheduler(scene.NewRegistry(scene.DefaultOptions()), cfg)
	require.NoError(t, err)

	fresh := scene.Pair{I: "A", J: "B"}
	tired := scene.Pair{I: "A", J: "C"}
	s.penalty[tired] = 9

	counts := make(map[scene.Pair]int)
	for i := 0; i < 2000; i++ {
		counts[s.choose([]scene.Pair{fresh, tired})]++
	}
	// Expected split is 10:1.
	assert.Greater(t, counts[fresh], 1600)
	assert.Greater(t, counts[tired], 50)
}

// TestSeedReplaysSchedule tests that equal seeds give equal schedules
func TestSeedReplaysSchedule(t *testing.T) {
	run := func() []scene.Pair {
		reg := newTestRegistry(t, map[string]*recorder{"A": {}, "B": {}, "C": {}, "D": {}})
		s := primed(t, reg, testConfig())
		var pairs []scene.Pair
		for i := 0; i < 30; i++ {
			pairs = append(pairs, s.Tick(context.Background()).Pair)
		}
		return pairs
	}
	assert.Equal(t, run(), run())
}

// TestThreeAgentConvergence tests an easy pair alongside two impossible ones
func TestThreeAgentConvergence(t *testing.T) {
	// A and B can relocalise each other's frames; C is unrecognisable and
	// cannot recognise anything.
	relocs := map[string]*recorder{
		"A": {answer: func(q string) (scene.Result, bool) {
			if q == "B" {
				return good(q)
			}
			return scene.Result{}, false
		}},
		"B": {answer: func(q string) (scene.Result, bool) {
			if q == "A" {
				return good(q)
			}
			return scene.Result{}, false
		}},
		"C": {},
	}
	reg := newTestRegistry(t, relocs)

	cfg := testConfig()
	cfg.MaxPenalty = 5
	s := primed(t, reg, cfg)
	ctx := context.Background()

	largest := func(i, j string) int {
		c, _ := reg.LargestCluster(i, j)
		return len(c)
	}

	// While the C pairs are still in play, A-B is never picked again once
	// it has pulled ahead of them.
	abandoned := func() bool {
		return s.Penalty("A", "C") >= 5 && s.Penalty("B", "C") >= 5
	}
	for i := 0; i < 200 && !abandoned(); i++ {
		s.Tick(ctx)
		require.LessOrEqual(t, largest("A", "B"), 1)
	}
	require.True(t, abandoned(), "C pairs should be abandoned")
	assert.Equal(t, 2, s.Stats().Abandoned)

	// With C out of the way, A-B is worked until solved.
	for i := 0; i < 10; i++ {
		s.Tick(ctx)
	}
	assert.Equal(t, 3, largest("A", "B"))
	assert.Equal(t, 3, largest("B", "A"))
	assert.Zero(t, largest("A", "C"))
	assert.Zero(t, s.Penalty("A", "B"))

	before := relocs["A"].calls() + relocs["B"].calls() + relocs["C"].calls()
	for i := 0; i < 20; i++ {
		assert.Equal(t, ActionIdle, s.Tick(ctx).Action)
	}
	after := relocs["A"].calls() + relocs["B"].calls() + relocs["C"].calls()
	assert.Equal(t, before, after)
	assert.Len(t, s.Candidates(), 3)
}

// TestRunAndStop tests the background loop
func TestRunAndStop(t *testing.T) {
	reg := newTestRegistry(t, map[string]*recorder{"A": {}, "B": {}})
	s, err := NewScheduler(reg, testConfig())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Stats().Attempts >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

// TestRunContextCancel tests that Run returns when its context ends
func TestRunContextCancel(t *testing.T) {
	s, err := NewScheduler(scene.NewRegistry(scene.DefaultOptions()), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestActionString tests action names
func TestActionString(t *testing.T) {
	assert.Equal(t, "waiting", ActionWaiting.String())
	assert.Equal(t, "idle", ActionIdle.String())
	assert.Equal(t, "accepted", ActionAccepted.String())
	assert.Equal(t, "rejected", ActionRejected.String())
}

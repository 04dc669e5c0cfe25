// Package collab schedules cross-agent relocalisation attempts.
// See doc.go for complete package documentation.
package collab

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/scene"
)

// Registry is the part of the scene registry the scheduler depends on.
// *scene.Registry satisfies it.
type Registry interface {
	SceneIDs() []string
	SLAMState(id string) (scene.SLAMState, error)
	Relocaliser(id string) (scene.Relocaliser, error)
	LargestCluster(sceneI, sceneJ string) (scene.Cluster, bool)
	AddRelativeTransformSample(ctx context.Context, sceneI, sceneJ string, sample geometry.Pose) error
}

// Config holds the scheduling policy.
type Config struct {
	// Interval is the number of ticks between attempts.
	Interval int

	// SolvedThreshold is the cluster size at which a pair counts as aligned.
	SolvedThreshold int

	// PenaltyStep is added to a pair's penalty on every failed attempt.
	PenaltyStep float64

	// WeightByPenalty weights the random choice within the least-clustered
	// group by 1/(1+penalty) instead of choosing uniformly.
	WeightByPenalty bool

	// MaxPenalty abandons a pair once its penalty reaches it. Zero never
	// abandons.
	MaxPenalty float64

	// Seed initialises the scheduler's random source.
	Seed int64
}

// DefaultConfig returns an attempt every 100 ticks, a solved threshold of 3
// and unweighted selection that never abandons a pair.
func DefaultConfig() Config {
	return Config{
		Interval:        100,
		SolvedThreshold: 3,
		PenaltyStep:     1,
		Seed:            time.Now().UnixNano(),
	}
}

// Validate checks the policy constants.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.SolvedThreshold <= 0 {
		return errors.New("solved threshold must be positive")
	}
	if c.PenaltyStep < 0 || c.MaxPenalty < 0 {
		return errors.New("penalties cannot be negative")
	}
	return nil
}

// Candidate is one accepted relocalisation: Pose is the transform from
// Pair.I's world frame to Pair.J's.
type Candidate struct {
	Pair  scene.Pair
	Pose  geometry.Pose
	Score float64
}

// Action says what a tick did.
type Action int

const (
	// ActionWaiting means the tick was not due.
	ActionWaiting Action = iota
	// ActionIdle means no pair needed work.
	ActionIdle
	// ActionAccepted means a good relocalisation produced a sample.
	ActionAccepted
	// ActionRejected means the attempt failed and the pair was penalised.
	ActionRejected
)

// String returns the action's name for logs.
func (a Action) String() string {
	switch a {
	case ActionIdle:
		return "idle"
	case ActionAccepted:
		return "accepted"
	case ActionRejected:
		return "rejected"
	default:
		return "waiting"
	}
}

// Outcome reports a single tick. Pair and Quality are set only for
// ActionAccepted and ActionRejected.
type Outcome struct {
	Pair    scene.Pair
	Action  Action
	Quality scene.Quality
}

// Attempted reports whether the tick ran a relocalisation.
func (o Outcome) Attempted() bool {
	return o.Action == ActionAccepted || o.Action == ActionRejected
}

// Stats counts ticks by outcome.
type Stats struct {
	Ticks     int `json:"ticks"`
	Attempts  int `json:"attempts"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Idle      int `json:"idle"`
	Abandoned int `json:"abandoned"`
}

// Scheduler decides, every Interval ticks, which scene pair to relate
// next and records the result.
//
// Tick calls are serialised, so selecting a pair and appending its
// sample happen atomically with respect to other ticks.
type Scheduler struct {
	registry Registry
	rng      *rand.Rand
	penalty  map[scene.Pair]float64
	stopCh   chan struct{}

	candidates []Candidate
	cfg        Config
	stats      Stats
	count      int

	tickMu   sync.Mutex // serialises Tick
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewScheduler creates a scheduler over registry.
func NewScheduler(registry Registry, cfg Config) (*Scheduler, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		registry: registry,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		penalty:  make(map[scene.Pair]float64),
		stopCh:   make(chan struct{}),
	}, nil
}

// Tick advances the tick counter and, when the previous count was a
// nonzero multiple of Interval, attempts one relocalisation.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	due := s.count > 0 && s.count%s.cfg.Interval == 0
	s.count++
	s.stats.Ticks++
	s.mu.Unlock()

	if !due || ctx.Err() != nil {
		return Outcome{Action: ActionWaiting}
	}

	pair, ok := s.selectPair()
	if !ok {
		s.mu.Lock()
		s.stats.Idle++
		s.mu.Unlock()
		return Outcome{Action: ActionIdle}
	}
	return s.attempt(ctx, pair)
}

// selectPair returns a pair from the least-clustered group, or false when
// that group is already solved or no pair is eligible.
func (s *Scheduler) selectPair() (scene.Pair, bool) {
	ids := s.registry.SceneIDs()

	s.mu.RLock()
	groups := make(map[int][]scene.Pair)
	for _, i := range ids {
		for _, j := range ids {
			if i == j {
				continue
			}
			p := scene.Pair{I: i, J: j}
			if s.abandonedLocked(p) {
				continue
			}
			size := 0
			if c, ok := s.registry.LargestCluster(i, j); ok {
				size = len(c)
			}
			groups[size] = append(groups[size], p)
		}
	}
	s.mu.RUnlock()

	if len(groups) == 0 {
		return scene.Pair{}, false
	}

	sizes := make([]int, 0, len(groups))
	for size := range groups {
		sizes = append(sizes, size)
	}
	smallest := slices.Min(sizes)
	if smallest >= s.cfg.SolvedThreshold {
		return scene.Pair{}, false
	}
	return s.choose(groups[smallest]), true
}

func (s *Scheduler) abandonedLocked(p scene.Pair) bool {
	return s.cfg.MaxPenalty > 0 && s.penalty[p.Unordered()] >= s.cfg.MaxPenalty
}

// choose picks uniformly from group, or by 1/(1+penalty) when
// WeightByPenalty is set.
func (s *Scheduler) choose(group []scene.Pair) scene.Pair {
	if !s.cfg.WeightByPenalty {
		return group[s.rng.Intn(len(group))]
	}

	s.mu.RLock()
	weights := make([]float64, len(group))
	var total float64
	for i, p := range group {
		weights[i] = 1 / (1 + s.penalty[p.Unordered()])
		total += weights[i]
	}
	s.mu.RUnlock()

	x := s.rng.Float64() * total
	for i, w := range weights {
		if x < w {
			return group[i]
		}
		x -= w
	}
	return group[len(group)-1]
}

// attempt relocalises sceneJ's current frame against sceneI's model. The
// frame and the pose tracked for it come from one snapshot, so a frame
// arriving mid-relocalisation cannot pair this estimate with a later pose.
func (s *Scheduler) attempt(ctx context.Context, p scene.Pair) Outcome {
	result, view, ok := s.relocalise(p)
	if !ok || result.Quality != scene.QualityGood {
		return s.reject(p, result.Quality)
	}

	sample := geometry.RelativeTransform(result.Pose, view.Pose)

	s.mu.Lock()
	s.candidates = append(s.candidates, Candidate{Pair: p, Pose: sample, Score: result.Score})
	s.stats.Attempts++
	s.stats.Accepted++
	s.mu.Unlock()

	if err := s.registry.AddRelativeTransformSample(ctx, p.I, p.J, sample); err != nil {
		log.Printf("[Scheduler] Sample for %s not fully recorded: %v", p, err)
	}
	log.Printf("[Scheduler] Relocalised %s (score %.3f)", p, result.Score)
	return Outcome{Action: ActionAccepted, Pair: p, Quality: result.Quality}
}

// relocalise looks both scenes up and runs the relocaliser on sceneJ's
// latest view, which it also returns. A scene that has gone away or has
// not streamed a frame yet counts as a failure.
func (s *Scheduler) relocalise(p scene.Pair) (scene.Result, scene.View, bool) {
	reloc, err := s.registry.Relocaliser(p.I)
	if err != nil {
		return scene.Result{}, scene.View{}, false
	}
	state, err := s.registry.SLAMState(p.J)
	if err != nil {
		return scene.Result{}, scene.View{}, false
	}
	view, ok := state.View()
	if !ok {
		return scene.Result{}, scene.View{}, false
	}
	result, ok := reloc.Relocalise(view.RGB, view.Depth, view.Calib.Depth.Projection)
	return result, view, ok
}

func (s *Scheduler) reject(p scene.Pair, q scene.Quality) Outcome {
	key := p.Unordered()

	s.mu.Lock()
	before := s.abandonedLocked(p)
	s.penalty[key] += s.cfg.PenaltyStep
	s.stats.Attempts++
	s.stats.Rejected++
	if !before && s.abandonedLocked(p) {
		s.stats.Abandoned++
		log.Printf("[Scheduler] Abandoning %s after penalty %.1f", key, s.penalty[key])
	}
	s.mu.Unlock()

	return Outcome{Action: ActionRejected, Pair: p, Quality: q}
}

// Run calls Tick every period until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Printf("[Scheduler] Started with interval %d ticks, period %v", s.cfg.Interval, period)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			log.Printf("[Scheduler] Stopped (context cancelled)")
			return
		case <-s.stopCh:
			log.Printf("[Scheduler] Stopped")
			return
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Candidates returns a copy of every accepted candidate, oldest first.
func (s *Scheduler) Candidates() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.candidates)
}

// Penalty returns the accumulated penalty for the unordered pair {i, j}.
func (s *Scheduler) Penalty(i, j string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.penalty[scene.Pair{I: i, J: j}.Unordered()]
}

// ResetPenalties clears the penalty table, which also revives abandoned
// pairs.
func (s *Scheduler) ResetPenalties() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penalty = make(map[scene.Pair]float64)
	s.stats.Abandoned = 0
}

// Stats returns tick counters.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

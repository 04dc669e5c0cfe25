// Package scene implements the registry of live mapping scenes and the
// relative-pose clusters accumulated between them.
// See doc.go for complete package documentation.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/storage"
)

var (
	// ErrSceneNotFound is returned when a scene ID is not registered.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrSceneExists is returned when registering a duplicate scene ID.
	ErrSceneExists = errors.New("scene already registered")
)

// Pair is an ordered pair of scene IDs. The cluster for (I, J) holds
// estimates of the transform from I's world frame to J's.
type Pair struct {
	I string `json:"i"`
	J string `json:"j"`
}

// Reverse returns (J, I).
func (p Pair) Reverse() Pair { return Pair{I: p.J, J: p.I} }

// Unordered returns the pair with its IDs sorted, so (a, b) and (b, a)
// share a key.
func (p Pair) Unordered() Pair {
	if p.J < p.I {
		return p.Reverse()
	}
	return p
}

// String formats the pair as "I->J".
func (p Pair) String() string { return p.I + "->" + p.J }

// Cluster is a set of mutually consistent relative-pose samples.
type Cluster []geometry.Pose

// PairStatus summarises the samples recorded for one ordered pair.
type PairStatus struct {
	Pair
	Samples  int `json:"samples"`
	Clusters int `json:"clusters"`
	Largest  int `json:"largest_cluster"`
}

// Options tunes sample clustering and persistence.
type Options struct {
	// Store receives every accepted sample. Nil keeps samples in memory only.
	Store storage.SampleStore

	// RotationThreshold is the largest rotation, in radians, between two
	// samples that still agree.
	RotationThreshold float64

	// TranslationThreshold is the largest translation difference between
	// two samples that still agree, in scene units.
	TranslationThreshold float64
}

// DefaultOptions returns 20 degrees and 5 centimetres.
func DefaultOptions() Options {
	return Options{
		RotationThreshold:    20 * math.Pi / 180,
		TranslationThreshold: 0.05,
	}
}

type entry struct {
	state       SLAMState
	relocaliser Relocaliser
}

// Registry maps scene IDs to their live state and relocaliser, and ordered
// scene pairs to their relative-pose clusters.
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - Returned clusters are copies
//   - The sample store is written outside the lock
type Registry struct {
	scenes   map[string]*entry
	clusters map[Pair][]Cluster
	samples  map[Pair]int
	opts     Options
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		scenes:   make(map[string]*entry),
		clusters: make(map[Pair][]Cluster),
		samples:  make(map[Pair]int),
		opts:     opts,
	}
}

// AddScene registers a live scene. A nil relocaliser is replaced by
// NullRelocaliser.
func (r *Registry) AddScene(id string, state SLAMState, relocaliser Relocaliser) error {
	if id == "" {
		return errors.New("scene ID cannot be empty")
	}
	if state == nil {
		return fmt.Errorf("scene %s: state cannot be nil", id)
	}
	if relocaliser == nil {
		relocaliser = NullRelocaliser{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenes[id]; exists {
		return fmt.Errorf("%w: %s", ErrSceneExists, id)
	}
	r.scenes[id] = &entry{state: state, relocaliser: relocaliser}
	log.Printf("[Registry] Scene %s registered", id)
	return nil
}

// RemoveScene forgets a scene's live state. Its clusters are kept, so a
// scene that reconnects under the same ID resumes where it left off.
func (r *Registry) RemoveScene(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenes[id]; !exists {
		return false
	}
	delete(r.scenes, id)
	log.Printf("[Registry] Scene %s removed", id)
	return true
}

// SceneIDs returns the registered scene IDs in sorted order.
func (r *Registry) SceneIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.scenes))
	for id := range r.scenes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SLAMState returns the live state of a scene.
func (r *Registry) SLAMState(id string) (SLAMState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.scenes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, id)
	}
	return e.state, nil
}

// Relocaliser returns the relocaliser built from a scene's model.
func (r *Registry) Relocaliser(id string) (Relocaliser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.scenes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, id)
	}
	return e.relocaliser, nil
}

// AddRelativeTransformSample records sample, the transform from sceneI's
// world to sceneJ's, in the (sceneI, sceneJ) clusters and its inverse in
// the (sceneJ, sceneI) clusters. The sample is then appended to the store,
// if any; a store failure is returned but the in-memory clusters keep the
// sample.
func (r *Registry) AddRelativeTransformSample(ctx context.Context, sceneI, sceneJ string, sample geometry.Pose) error {
	if sceneI == "" || sceneJ == "" || sceneI == sceneJ {
		return fmt.Errorf("invalid scene pair %q, %q", sceneI, sceneJ)
	}

	r.mu.Lock()
	r.addLocked(Pair{I: sceneI, J: sceneJ}, sample)
	r.addLocked(Pair{I: sceneJ, J: sceneI}, sample.Inverse())
	r.mu.Unlock()

	if r.opts.Store == nil {
		return nil
	}
	if err := r.opts.Store.Append(ctx, storage.NewSample(sceneI, sceneJ, sample)); err != nil {
		return fmt.Errorf("persist sample %s->%s: %w", sceneI, sceneJ, err)
	}
	return nil
}

// addLocked places sample in the first cluster whose founding member it
// agrees with, or starts a new cluster.
func (r *Registry) addLocked(p Pair, sample geometry.Pose) {
	r.samples[p]++
	clusters := r.clusters[p]
	for i, c := range clusters {
		if geometry.PosesAreSimilar(c[0], sample, r.opts.RotationThreshold, r.opts.TranslationThreshold) {
			clusters[i] = append(c, sample)
			return
		}
	}
	r.clusters[p] = append(clusters, Cluster{sample})
}

// LargestCluster returns a copy of the biggest cluster for (sceneI,
// sceneJ), or false if the pair has no samples. Ties go to the cluster
// founded first.
func (r *Registry) LargestCluster(sceneI, sceneJ string) (Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Cluster
	for _, c := range r.clusters[Pair{I: sceneI, J: sceneJ}] {
		if len(c) > len(best) {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return append(Cluster(nil), best...), true
}

// SampleCount returns the number of samples recorded for (sceneI, sceneJ).
func (r *Registry) SampleCount(sceneI, sceneJ string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.samples[Pair{I: sceneI, J: sceneJ}]
}

// Pairs returns a status line for every ordered pair with samples, sorted
// by pair.
func (r *Registry) Pairs() []PairStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PairStatus, 0, len(r.clusters))
	for p, clusters := range r.clusters {
		st := PairStatus{Pair: p, Samples: r.samples[p], Clusters: len(clusters)}
		for _, c := range clusters {
			st.Largest = max(st.Largest, len(c))
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b PairStatus) int {
		if a.I != b.I {
			if a.I < b.I {
				return -1
			}
			return 1
		}
		switch {
		case a.J < b.J:
			return -1
		case a.J > b.J:
			return 1
		}
		return 0
	})
	return out
}

// Restore rebuilds clusters from the store and returns the number of
// samples replayed. It does not write back to the store.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.opts.Store == nil {
		return 0, nil
	}
	samples, err := r.opts.Store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load samples: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		pose := geometry.NewPose(s.Pose)
		r.addLocked(Pair{I: s.SceneI, J: s.SceneJ}, pose)
		r.addLocked(Pair{I: s.SceneJ, J: s.SceneI}, pose.Inverse())
	}
	log.Printf("[Registry] Restored %d samples", len(samples))
	return len(samples), nil
}

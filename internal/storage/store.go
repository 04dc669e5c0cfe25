package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/mapsync/internal/geometry"
)

// ErrInvalidSample is returned when a sample is missing its scene IDs.
var ErrInvalidSample = errors.New("sample requires both scene IDs")

// Sample is one accepted relative-transform estimate between two scenes:
// Pose maps scene I's world frame into scene J's (wiTwj).
type Sample struct {
	RecordedAt time.Time         `cbor:"recorded_at"`
	ID         string            `cbor:"id"`
	SceneI     string            `cbor:"scene_i"`
	SceneJ     string            `cbor:"scene_j"`
	Pose       geometry.Matrix4f `cbor:"pose"`
}

// NewSample stamps a sample with a fresh ID and the current time.
func NewSample(sceneI, sceneJ string, pose geometry.Pose) Sample {
	return Sample{
		ID:         uuid.NewString(),
		SceneI:     sceneI,
		SceneJ:     sceneJ,
		Pose:       pose.M(),
		RecordedAt: time.Now().UTC(),
	}
}

func (s Sample) validate() error {
	if s.SceneI == "" || s.SceneJ == "" {
		return ErrInvalidSample
	}
	return nil
}

// SampleStore persists accepted samples so a restarted coordinator can
// rebuild its pose clusters.
// All implementations must be thread-safe for concurrent access.
type SampleStore interface {
	// Append records a sample. Samples are never updated in place.
	Append(ctx context.Context, s Sample) error

	// Load returns every recorded sample in insertion order.
	Load(ctx context.Context) ([]Sample, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (StoreStats, error)
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Samples int // Number of samples
	Pairs   int // Number of distinct ordered scene pairs
}

// MemoryStore implements SampleStore with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu      sync.RWMutex      // Protects concurrent access
	samples []Sample          // Samples in insertion order
	pairs   map[[2]string]int // Sample count per ordered pair
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs: make(map[[2]string]int),
	}
}

// Append stores a sample
func (m *MemoryStore) Append(_ context.Context, s Sample) error {
	if err := s.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, s)
	m.pairs[[2]string{s.SceneI, s.SceneJ}]++
	return nil
}

// Load returns a copy of all samples to prevent external modification
func (m *MemoryStore) Load(_ context.Context) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Sample, len(m.samples))
	copy(result, m.samples)
	return result, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats(_ context.Context) (StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{
		Samples: len(m.samples),
		Pairs:   len(m.pairs),
	}, nil
}

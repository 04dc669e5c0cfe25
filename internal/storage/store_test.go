package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mapsync/internal/geometry"
)

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		samples, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(samples) != 0 {
			t.Errorf("Expected empty store, got %d samples", len(samples))
		}
	})

	t.Run("append and load preserves order", func(t *testing.T) {
		store := NewMemoryStore()
		a := NewSample("a", "b", geometry.Identity())
		b := NewSample("b", "a", geometry.PoseFromAxisAngle([3]float64{0, 0, 1}, 1, [3]float64{}))

		if err := store.Append(ctx, a); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := store.Append(ctx, b); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}

		samples, _ := store.Load(ctx)
		if len(samples) != 2 || samples[0].ID != a.ID || samples[1].ID != b.ID {
			t.Errorf("Unexpected samples: %+v", samples)
		}

		stats, _ := store.Stats(ctx)
		if stats.Samples != 2 || stats.Pairs != 2 {
			t.Errorf("Expected 2 samples over 2 pairs, got %+v", stats)
		}
	})

	t.Run("load returns a copy", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Append(ctx, NewSample("a", "b", geometry.Identity()))

		samples, _ := store.Load(ctx)
		samples[0].SceneI = "mutated"

		again, _ := store.Load(ctx)
		if again[0].SceneI != "a" {
			t.Errorf("Store was modified through Load result")
		}
	})

	t.Run("rejects incomplete samples", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Append(ctx, Sample{SceneI: "a"}); err != ErrInvalidSample {
			t.Errorf("Expected ErrInvalidSample, got %v", err)
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		store := NewMemoryStore()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = store.Append(ctx, NewSample(fmt.Sprintf("s%d", i%4), "x", geometry.Identity()))
			}(i)
		}
		wg.Wait()

		stats, _ := store.Stats(ctx)
		if stats.Samples != 20 || stats.Pairs != 4 {
			t.Errorf("Expected 20 samples over 4 pairs, got %+v", stats)
		}
	})
}

// TestRedisStore round-trips samples through a miniredis instance.
func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	ctx := context.Background()
	store, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "mapsync-test")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	pose := geometry.PoseFromAxisAngle([3]float64{1, 1, 0}, 0.3, [3]float64{0.5, -1, 2})
	first := NewSample("agent0", "agent1", pose)
	second := NewSample("agent1", "agent0", pose.Inverse())
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))
	require.NoError(t, store.Append(ctx, NewSample("agent0", "agent1", pose)))

	samples, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	got := samples[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.SceneI, got.SceneI)
	assert.Equal(t, first.SceneJ, got.SceneJ)
	assert.Equal(t, first.Pose, got.Pose)
	assert.True(t, first.RecordedAt.Equal(got.RecordedAt))
	assert.Equal(t, second.ID, samples[1].ID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreStats{Samples: 3, Pairs: 2}, stats)

	assert.True(t, mr.Exists("mapsync-test:samples"))
	assert.ErrorIs(t, store.Append(ctx, Sample{SceneJ: "x"}), ErrInvalidSample)
}

// TestNewRedisStoreRequiresPrefix verifies the namespace is mandatory.
func TestNewRedisStoreRequiresPrefix(t *testing.T) {
	_, err := NewRedisStore(&redis.Options{Addr: "127.0.0.1:0"}, "")
	assert.Error(t, err)
}

// TestRedisStoreUnavailable verifies errors surface instead of panicking.
func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}, "p")
	require.NoError(t, err)
	defer store.Close()
	mr.Close()

	ctx := context.Background()
	assert.Error(t, store.Append(ctx, NewSample("a", "b", geometry.Identity())))
	_, err = store.Load(ctx)
	assert.Error(t, err)
}

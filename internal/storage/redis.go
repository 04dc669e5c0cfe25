package storage

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// sampleEncMode keeps nanosecond timestamps; the CBOR default truncates
// time values to whole seconds.
var sampleEncMode cbor.EncMode

func init() {
	var err error
	sampleEncMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
}

// RedisStore persists samples in a Redis list, one CBOR-encoded entry per
// sample, under "{prefix}:samples". A companion set "{prefix}:pairs"
// tracks the distinct ordered pairs seen.
//
// Thread-safe: the underlying go-redis client is safe for concurrent use.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store namespaced under prefix.
// Returns an error if prefix is empty.
func NewRedisStore(opts *redis.Options, prefix string) (*RedisStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("redis key prefix cannot be empty")
	}
	return &RedisStore{
		rdb:    redis.NewClient(opts),
		prefix: prefix,
	}, nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) samplesKey() string { return r.prefix + ":samples" }
func (r *RedisStore) pairsKey() string   { return r.prefix + ":pairs" }

// Append encodes s and pushes it onto the sample list.
func (r *RedisStore) Append(ctx context.Context, s Sample) error {
	if err := s.validate(); err != nil {
		return err
	}
	data, err := sampleEncMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode sample %s: %w", s.ID, err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, r.samplesKey(), data)
	pipe.SAdd(ctx, r.pairsKey(), s.SceneI+"|"+s.SceneJ)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write sample %s to Redis: %w", s.ID, err)
	}
	return nil
}

// Load reads and decodes the whole sample list.
func (r *RedisStore) Load(ctx context.Context) ([]Sample, error) {
	entries, err := r.rdb.LRange(ctx, r.samplesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read samples from Redis: %w", err)
	}

	samples := make([]Sample, 0, len(entries))
	for i, entry := range entries {
		var s Sample
		if err := cbor.Unmarshal([]byte(entry), &s); err != nil {
			return nil, fmt.Errorf("failed to decode sample %d: %w", i, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Stats returns the list length and number of distinct pairs.
func (r *RedisStore) Stats(ctx context.Context) (StoreStats, error) {
	n, err := r.rdb.LLen(ctx, r.samplesKey()).Result()
	if err != nil {
		return StoreStats{}, fmt.Errorf("failed to count samples: %w", err)
	}
	p, err := r.rdb.SCard(ctx, r.pairsKey()).Result()
	if err != nil {
		return StoreStats{}, fmt.Errorf("failed to count pairs: %w", err)
	}
	return StoreStats{Samples: int(n), Pairs: int(p)}, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const coordinationPrefix = "sos:"

var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// CoordinationRepository holds cross-instance state in Redis: sweeper leases, reminder
// watermarks and login attempt windows. A nil client turns every operation into a no-op
// that permits the caller to proceed.
type CoordinationRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCoordinationRepository constructs the repository.
func NewCoordinationRepository(client *redis.Client, logger *zap.Logger) *CoordinationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoordinationRepository{client: client, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (r *CoordinationRepository) Enabled() bool {
	return r != nil && r.client != nil
}

// AcquireLease takes a named lease for ttl. It returns false when another holder has it.
func (r *CoordinationRepository) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if !r.Enabled() {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, coordinationPrefix+"lease:"+name, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire lease %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLease drops the lease only if owner still holds it.
func (r *CoordinationRepository) ReleaseLease(ctx context.Context, name, owner string) error {
	if !r.Enabled() {
		return nil
	}
	if err := releaseLeaseScript.Run(ctx, r.client, []string{coordinationPrefix + "lease:" + name}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release lease %s: %w", name, err)
	}
	return nil
}

// MarkOnce records key with SET NX and reports whether this call was the first.
func (r *CoordinationRepository) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !r.Enabled() {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, coordinationPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis mark %s: %w", key, err)
	}
	return ok, nil
}

// WindowCount returns the number of hits recorded in the trailing window and the time
// the oldest of them leaves the window.
func (r *CoordinationRepository) WindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	if !r.Enabled() {
		return 0, time.Time{}, nil
	}
	fullKey := coordinationPrefix + "window:" + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, fullKey, "-inf", cutoff)
		count = pipe.ZCard(ctx, fullKey)
		oldest = pipe.ZRangeWithScores(ctx, fullKey, 0, 0)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis window count %s: %w", key, err)
	}

	var resetAt time.Time
	if entries := oldest.Val(); len(entries) > 0 {
		resetAt = time.UnixMilli(int64(entries[0].Score)).Add(window)
	}
	return int(count.Val()), resetAt, nil
}

// WindowAdd records a hit at now and keeps the key alive for one window.
func (r *CoordinationRepository) WindowAdd(ctx context.Context, key string, window time.Duration, now time.Time) error {
	if !r.Enabled() {
		return nil
	}
	fullKey := coordinationPrefix + "window:" + key
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, fullKey, window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis window add %s: %w", key, err)
	}
	return nil
}

// WindowReset clears the window for key.
func (r *CoordinationRepository) WindowReset(ctx context.Context, key string) error {
	if !r.Enabled() {
		return nil
	}
	if err := r.client.Del(ctx, coordinationPrefix+"window:"+key).Err(); err != nil {
		return fmt.Errorf("redis window reset %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity for the readiness check.
func (r *CoordinationRepository) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CoordinationRepository) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}

package repository

import (
	"context"
	"fmt"
	"time"

	"studysync/internal/models"

	"github.com/redis/go-redis/v9"
)

// renewLeaseScript extends the lease only for its current owner.
var renewLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (r *RedisQueueStore) leaseKey() string {
	return r.prefix + ":lease"
}

// AcquireLease takes the lease with SET NX PX or extends it for the same owner.
func (r *RedisQueueStore) AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, models.NewStorageError("lease", fmt.Errorf("redis client is nil"))
	}
	ok, err := r.client.SetNX(ctx, r.leaseKey(), owner, ttl).Result()
	if err != nil {
		return false, models.NewStorageError("lease", fmt.Errorf("failed to acquire sync lease: %w", err))
	}
	if ok {
		return true, nil
	}
	renewed, err := renewLeaseScript.Run(ctx, r.client, []string{r.leaseKey()}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, models.NewStorageError("lease", fmt.Errorf("failed to renew sync lease: %w", err))
	}
	return renewed == 1, nil
}

func (r *RedisQueueStore) ReleaseLease(ctx context.Context, owner string) error {
	if r.client == nil {
		return models.NewStorageError("lease", fmt.Errorf("redis client is nil"))
	}
	if err := releaseLeaseScript.Run(ctx, r.client, []string{r.leaseKey()}, owner).Err(); err != nil {
		return models.NewStorageError("lease", fmt.Errorf("failed to release sync lease: %w", err))
	}
	return nil
}

// AcquireLease on the memory store only guards orchestrators sharing this instance.
func (r *MemoryQueueStore) AcquireLease(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if r.leaseOwner != "" && r.leaseOwner != owner && now.Before(r.leaseUntil) {
		return false, nil
	}
	r.leaseOwner = owner
	r.leaseUntil = now.Add(ttl)
	return true, nil
}

func (r *MemoryQueueStore) ReleaseLease(_ context.Context, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaseOwner == owner {
		r.leaseOwner = ""
		r.leaseUntil = time.Time{}
	}
	return nil
}

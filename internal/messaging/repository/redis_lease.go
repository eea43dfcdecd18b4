package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "dmsync:lease:"

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisLease implements SyncLocker with SET NX PX keys
type redisLease struct {
	client redis.UniversalClient
}

// NewRedisLease creates a redis backed SyncLocker
func NewRedisLease(client redis.UniversalClient) SyncLocker {
	return &redisLease{client: client}
}

func (l *redisLease) Acquire(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, leaseKeyPrefix+accountID, owner, ttl).Result()
}

func (l *redisLease) Extend(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{leaseKeyPrefix + accountID}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *redisLease) Release(ctx context.Context, accountID, owner string) error {
	return releaseScript.Run(ctx, l.client, []string{leaseKeyPrefix + accountID}, owner).Err()
}

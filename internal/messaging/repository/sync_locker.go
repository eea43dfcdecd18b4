package repository

import (
	"context"
	"time"
)

// SyncLocker hands out per-account leases with a hard TTL. A lease is only
// extended or released by the owner that acquired it.
type SyncLocker interface {
	Acquire(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID, owner string) error
}

package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache is a redis read-through cache for pool snapshots. Mutating
// operations invalidate the entry; misses and redis failures fall back
// to the registry.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a snapshot cache with the given TTL.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func snapshotKey(id uint64) string {
	return fmt.Sprintf("pool:snapshot:%d", id)
}

// Get returns a cached snapshot, if present.
func (c *Cache) Get(ctx context.Context, id uint64) (*Snapshot, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).Warn("Snapshot cache read failed")
		}
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// Set stores a snapshot.
func (c *Cache) Set(ctx context.Context, snap *Snapshot) {
	if c == nil || c.rdb == nil || snap == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, snapshotKey(snap.ID), data, c.ttl).Err(); err != nil {
		logrus.WithError(err).Warn("Snapshot cache write failed")
	}
}

// Invalidate drops the cached snapshot for a pool.
func (c *Cache) Invalidate(ctx context.Context, id uint64) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, snapshotKey(id)).Err(); err != nil {
		logrus.WithError(err).Warn("Snapshot cache invalidation failed")
	}
}

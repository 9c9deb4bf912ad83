package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const graphVersionKey = "rbac:graph:version"

// GraphCache keeps user graphs in Redis under a global version.
// Any mutation of the graph bumps the version, orphaning every cached entry.
type GraphCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewGraphCache instantiates the cache. A nil client or non-positive ttl disables caching.
func NewGraphCache(client *redis.Client, ttl time.Duration) *GraphCache {
	return &GraphCache{client: client, ttl: ttl}
}

func (c *GraphCache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Version returns the current cache version, initialising when missing.
func (c *GraphCache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, graphVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent bump from being overwritten.
		if err := c.client.SetNX(ctx, graphVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, graphVersionKey).Int64()
	}
	return ver, err
}

// Load returns the cached graph or populates it with loader.
// Redis failures fall through to the loader; loader errors are never cached.
func (c *GraphCache) Load(ctx context.Context, userID int64, loader func(context.Context) (Graph, error)) (Graph, error) {
	if !c.enabled() {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("rbac:graph:%d:%d", ver, userID)

	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var g Graph
		if err := json.Unmarshal(payload, &g); err == nil {
			return g, nil
		}
	}

	// The shared load outlives any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		g, err := loader(loadCtx)
		if err != nil {
			return Graph{}, err
		}
		if raw, err := json.Marshal(g); err == nil {
			_ = c.client.Set(loadCtx, key, raw, c.ttl).Err()
		}
		return g, nil
	})
	select {
	case <-ctx.Done():
		return Graph{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Graph{}, res.Err
		}
		return res.Val.(Graph), nil
	}
}

// Bump invalidates every cached graph.
func (c *GraphCache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, graphVersionKey).Err()
}

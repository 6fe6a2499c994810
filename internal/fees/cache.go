package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const ruleCacheVersionKey = "fees:rules:version"

// RuleCache is a versioned read-through cache of fee rules per class and
// year. Any rule mutation bumps the version, orphaning every cached entry.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewRuleCache builds the cache. A nil client yields a pass-through cache.
func NewRuleCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RuleCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleCache{client: client, ttl: ttl, logger: logger}
}

// Version returns the current rule version, initialising it when missing.
func (c *RuleCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, ruleCacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, ruleCacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, ruleCacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Rules returns the rules of one class and year, loading them on a miss.
// Concurrent misses for the same key share a single load, which outlives
// the cancellation of whichever caller started it. Redis failures degrade
// to the loader.
func (c *RuleCache) Rules(ctx context.Context, classID, yearID int64, loader func(context.Context) ([]FeeStructure, error)) ([]FeeStructure, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("rule cache version unavailable", slog.Any("error", err))
		return loader(ctx)
	}
	key := ruleKey(classID, yearID, ver)
	loadCtx := context.WithoutCancel(ctx)
	res := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetch(loadCtx, key, loader)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-res:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Val.([]FeeStructure), nil
	}
}

func (c *RuleCache) fetch(ctx context.Context, key string, loader func(context.Context) ([]FeeStructure, error)) ([]FeeStructure, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rules []FeeStructure
		if err := json.Unmarshal(payload, &rules); err == nil {
			return rules, nil
		}
		c.logger.Warn("rule cache entry unreadable", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("rule cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	rules, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("rule cache write failed", slog.String("key", key), slog.Any("error", err))
	}
	return rules, nil
}

// Bump invalidates every cached rule set.
func (c *RuleCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, ruleCacheVersionKey).Err()
}

func ruleKey(classID, yearID, version int64) string {
	return fmt.Sprintf("fees:rules:%d:%d:%d", classID, yearID, version)
}

// Package cache constructs the Redis client backing the rule cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// ErrDisabled is returned when no Redis address is configured.
var ErrDisabled = errors.New("platform/cache: redis disabled")

// New creates a Redis client and verifies it answers PING.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrDisabled
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  pingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Optional is New for callers that can run without Redis: it logs why the
// cache is unavailable and returns a nil client.
func Optional(ctx context.Context, addr string, logger *slog.Logger) *redis.Client {
	client, err := New(ctx, addr)
	switch {
	case errors.Is(err, ErrDisabled):
		logger.Info("rule cache disabled")
		return nil
	case err != nil:
		logger.Warn("rule cache unavailable, reading rules from postgres", slog.Any("error", err))
		return nil
	}
	return client
}

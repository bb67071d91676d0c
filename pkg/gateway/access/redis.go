// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/toolgate/pkg/logger"
)

// redisKeyPrefix namespaces the access-set entries in a shared Redis.
const redisKeyPrefix = "toolgate:access:"

// RedisCache is the shared cache backend for multi-replica deployments:
// every replica sees the same decisions and the TTL is enforced by Redis.
// Cache failures degrade to recomputation, never to a denied or granted
// decision.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to the Redis named by the URL
// (redis://[:password@]host:port[/db]) and verifies connectivity.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid access-cache Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach access-cache Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the cached access set, or a miss on absence or any Redis
// failure.
func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warnf("Access-cache read failed: %v", err)
		}
		return nil, false
	}

	var servers []string
	if err := json.Unmarshal(data, &servers); err != nil {
		logger.Warnf("Access-cache entry corrupt, dropping: %v", err)
		return nil, false
	}
	return servers, true
}

// Set stores the access set with the configured TTL. Failures are logged
// and otherwise ignored.
func (c *RedisCache) Set(ctx context.Context, key string, servers []string) {
	data, err := json.Marshal(servers)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		logger.Warnf("Access-cache write failed: %v", err)
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

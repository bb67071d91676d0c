// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package access resolves which servers a caller may see and invoke.
// Decisions combine persisted group→server mappings, direct user grants,
// and the admin marker, intersected with the currently enabled servers.
package access

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/storage"
	"github.com/stacklok/toolgate/pkg/telemetry"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// AdminGroup grants access to every enabled server. Group comparison is
// case-sensitive, so only the exact marker counts.
const AdminGroup = "MCP-Admin"

// Cache stores computed access sets for a short interval so group changes
// propagate without manual invalidation. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the cached access set for the key, if fresh.
	Get(ctx context.Context, key string) ([]string, bool)

	// Set stores the access set under the key with the backend's TTL.
	Set(ctx context.Context, key string, servers []string)
}

// Resolver computes access sets. One Resolver exists per process; its
// cache bounds the database load of repeated decisions.
type Resolver struct {
	store    storage.Store
	registry *tenant.Registry
	cache    Cache
	metrics  *telemetry.Metrics
}

// NewResolver wires the access resolver. cache must not be nil; use
// NewMemoryCache for single-replica deployments.
func NewResolver(store storage.Store, registry *tenant.Registry, cache Cache, metrics *telemetry.Metrics) *Resolver {
	return &Resolver{
		store:    store,
		registry: registry,
		cache:    cache,
		metrics:  metrics,
	}
}

// AccessSet returns the sorted server IDs the caller may see. A store
// outage surfaces as an error so listing endpoints can answer 503 while
// call paths fail closed.
func (r *Resolver) AccessSet(ctx context.Context, identity *auth.Identity) ([]string, error) {
	if identity == nil {
		identity = auth.Anonymous()
	}

	enabled := r.registry.EnabledIDs()
	if identity.Admin || slices.Contains(identity.Groups, AdminGroup) {
		return enabled, nil
	}
	if identity.Email == "" && len(identity.Groups) == 0 {
		return nil, nil
	}

	key := cacheKey(identity)
	if servers, ok := r.cache.Get(ctx, key); ok {
		r.metrics.RecordCacheEvent(telemetry.CacheHit)
		return servers, nil
	}
	r.metrics.RecordCacheEvent(telemetry.CacheMiss)

	permitted := make(map[string]struct{})
	for _, group := range identity.Groups {
		servers, err := r.store.ServersForGroup(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("resolving servers for group %q: %w", group, err)
		}
		for _, id := range servers {
			permitted[id] = struct{}{}
		}
	}

	if identity.Email != "" {
		direct, err := r.store.DirectServersForUser(ctx, identity.Email)
		if err != nil {
			return nil, fmt.Errorf("resolving direct grants for %s: %w", identity.Email, err)
		}
		for _, id := range direct {
			permitted[id] = struct{}{}
		}
	}

	// Static default groups from the descriptor table grant alongside the
	// persisted mappings.
	for _, desc := range r.registry.Enabled() {
		for _, group := range desc.DefaultGroups {
			if slices.Contains(identity.Groups, group) {
				permitted[desc.ID] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(permitted))
	for _, id := range enabled {
		if _, ok := permitted[id]; ok {
			result = append(result, id)
		}
	}

	r.cache.Set(ctx, key, result)
	return result, nil
}

// CanAccess reports whether the caller may invoke the given server. Store
// outages fail closed: no decision means no access.
func (r *Resolver) CanAccess(ctx context.Context, identity *auth.Identity, serverID string) bool {
	servers, err := r.AccessSet(ctx, identity)
	if err != nil {
		logger.Warnf("Access resolution failed, denying %s: %v", serverID, err)
		return false
	}
	return slices.Contains(servers, serverID)
}

// cacheKey builds the (email, sorted-groups) cache key. Email arrives
// lower-cased from the identity resolver; groups keep their case.
func cacheKey(identity *auth.Identity) string {
	groups := append([]string(nil), identity.Groups...)
	sort.Strings(groups)
	return identity.Email + "|" + strings.Join(groups, ",")
}

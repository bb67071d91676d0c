// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolgate/pkg/api"
	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/config"
	"github.com/stacklok/toolgate/pkg/embeddings"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
	"github.com/stacklok/toolgate/pkg/gateway/meta"
	"github.com/stacklok/toolgate/pkg/gateway/openapi"
	"github.com/stacklok/toolgate/pkg/gateway/router"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/storage"
	"github.com/stacklok/toolgate/pkg/telemetry"
	"github.com/stacklok/toolgate/pkg/tenant"
	"github.com/stacklok/toolgate/pkg/versions"
)

// runServe wires the gateway bottom-up: configuration, logging, store
// pool, descriptor table, catalog engine, then the HTTP listener. The
// startup refresh runs before the listener unless skipped, so a ready
// gateway always serves a populated catalog.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Initialize(cfg.LogLevel, cfg.LogFormat)
	logger.Infof("Starting toolgate %s", versions.GetVersionInfo().Version)

	store, err := storage.NewPostgresStore(ctx, cfg.DBConnectionString)
	if err != nil {
		return fmt.Errorf("failed to connect to the persistent store: %w", err)
	}
	defer store.Close()

	registry, err := tenant.Load(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to load upstream descriptors: %w", err)
	}

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.New()
	}

	provider, err := embeddings.NewProvider(cfg.EmbeddingEndpoint, cfg.RefreshTimeout)
	if err != nil {
		return fmt.Errorf("failed to build the embedding provider: %w", err)
	}
	if provider != nil {
		defer func() { _ = provider.Close() }()
	}

	var cache access.Cache
	if cfg.AccessCacheRedisURL != "" {
		redisCache, err := access.NewRedisCache(ctx, cfg.AccessCacheRedisURL, cfg.AccessCacheTTL)
		if err != nil {
			return fmt.Errorf("failed to connect to the access-cache Redis: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
		cache = redisCache
	} else {
		memoryCache := access.NewMemoryCache(cfg.AccessCacheTTL)
		defer memoryCache.Close()
		cache = memoryCache
	}

	resolver := access.NewResolver(store, registry, cache, metrics)
	client := upstream.New()

	cat := catalog.New()
	engine := catalog.NewEngine(cat, registry, client, provider, store, metrics, catalog.Config{
		Timeout:      cfg.RefreshTimeout,
		Retries:      cfg.RefreshRetries,
		RetryDelay:   cfg.RefreshRetryDelay,
		EmbeddingDim: cfg.EmbeddingDim,
	})

	if cfg.SkipStartupRefresh {
		logger.Infof("Skipping startup refresh; catalog fills on the first explicit refresh")
	} else if err := engine.RunStartupRefresh(ctx); err != nil {
		return fmt.Errorf("startup refresh failed: %w", err)
	}

	executor := router.New(cat, resolver, registry, client, metrics, cfg.CallTimeout)
	facade := meta.New(cat, resolver, executor, provider)
	emitter := openapi.New(cat, resolver, cfg.MetaToolsMode, "Tool Gateway", versions.GetVersionInfo().Version)

	server := api.NewServer(api.Deps{
		Auth:     auth.NewResolver(cfg.TokenSigningSecret, store),
		Access:   resolver,
		Registry: registry,
		Catalog:  cat,
		Engine:   engine,
		Executor: executor,
		Facade:   facade,
		Emitter:  emitter,
		Metrics:  metrics,
	}, cfg.HTTPAddress, cfg.RequestBodyMaxBytes, cfg.MetricsEnabled)

	return server.Serve(ctx)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolgate/pkg/embeddings"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/storage"
	"github.com/stacklok/toolgate/pkg/telemetry"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// discoveryFanOut bounds how many upstreams are discovered concurrently.
const discoveryFanOut = 10

// embedBatchSize bounds each request to the embedding provider.
const embedBatchSize = 64

// Discoverer fetches the tool list from one resolved target. Satisfied by
// the upstream client; tests substitute fakes.
type Discoverer interface {
	Discover(ctx context.Context, target *tenant.Target) (*upstream.Discovery, error)
}

// Config carries the refresh tuning knobs.
type Config struct {
	// Timeout bounds each per-upstream discovery attempt.
	Timeout time.Duration

	// Retries is the number of retry attempts after the initial one.
	Retries int

	// RetryDelay is the fixed back-off between attempts.
	RetryDelay time.Duration

	// EmbeddingDim, when non-zero, rejects provider vectors of any other
	// dimension.
	EmbeddingDim int
}

// Engine rebuilds the catalog from the enabled upstreams. One Engine
// exists per process; explicit and startup refreshes share its guard.
type Engine struct {
	catalog    *Catalog
	registry   *tenant.Registry
	discoverer Discoverer
	provider   embeddings.Provider
	store      storage.Store
	metrics    *telemetry.Metrics
	cfg        Config

	refreshing  atomic.Bool
	startupOnce sync.Once
}

// NewEngine wires the refresh engine. provider may be nil (embeddings
// disabled); store may be nil only in tests that skip warm starts.
func NewEngine(
	cat *Catalog,
	registry *tenant.Registry,
	discoverer Discoverer,
	provider embeddings.Provider,
	store storage.Store,
	metrics *telemetry.Metrics,
	cfg Config,
) *Engine {
	return &Engine{
		catalog:    cat,
		registry:   registry,
		discoverer: discoverer,
		provider:   provider,
		store:      store,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Catalog returns the catalog this engine publishes into.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// RunStartupRefresh performs the once-only initial refresh. Subsequent
// calls are no-ops regardless of the first outcome.
func (e *Engine) RunStartupRefresh(ctx context.Context) error {
	var err error
	e.startupOnce.Do(func() {
		err = e.Refresh(ctx)
	})
	return err
}

// Refresh rediscovers every enabled upstream and swaps a new snapshot in.
// Upstream failures are contained: a failing server retains its previous
// entries, everything else updates. Only one refresh runs at a time;
// concurrent invocations get ErrRefreshInProgress.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.refreshing.CompareAndSwap(false, true) {
		return gateway.ErrRefreshInProgress
	}
	defer e.refreshing.Store(false)

	runID := uuid.NewString()
	start := time.Now()
	servers := e.registry.Enabled()
	logger.Infof("Catalog refresh %s: discovering %d upstreams", runID, len(servers))

	previous := e.catalog.Snapshot()
	discoveries, failed := e.discoverAll(ctx, servers)
	if err := ctx.Err(); err != nil {
		e.metrics.RecordRefresh(telemetry.RefreshFailed, time.Since(start))
		return fmt.Errorf("refresh %s aborted: %w", runID, err)
	}

	next := e.compile(runID, servers, discoveries, failed, previous)
	e.catalog.swap(next)

	// Embedding generation is best-effort and happens after the swap so a
	// slow provider never delays tool availability.
	e.attachEmbeddings(ctx, next, previous)

	elapsed := time.Since(start)
	switch {
	case len(failed) == 0:
		e.metrics.RecordRefresh(telemetry.RefreshSucceeded, elapsed)
	case len(failed) == len(servers) && len(servers) > 0:
		e.metrics.RecordRefresh(telemetry.RefreshFailed, elapsed)
	default:
		e.metrics.RecordRefresh(telemetry.RefreshPartial, elapsed)
	}

	logger.Infof("Catalog refresh %s: %d tools from %d upstreams (%d failed) in %s",
		runID, next.Len(), len(servers), len(failed), elapsed.Round(time.Millisecond))
	return nil
}

// discoverAll fans out over the enabled upstreams with bounded
// concurrency. Each upstream gets an independent timeout and retry budget;
// a slow or failing upstream never blocks the others.
func (e *Engine) discoverAll(
	ctx context.Context,
	servers []*gateway.ServerDescriptor,
) (map[string]*upstream.Discovery, map[string]error) {
	var mu sync.Mutex
	discoveries := make(map[string]*upstream.Discovery, len(servers))
	failed := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryFanOut)

	for _, server := range servers {
		g.Go(func() error {
			discovery, err := e.discoverOne(gctx, server)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnf("Discovery failed for upstream %s: %v", server.ID, err)
				failed[server.ID] = err
				return nil
			}
			discoveries[server.ID] = discovery
			return nil
		})
	}
	_ = g.Wait()

	return discoveries, failed
}

// discoverOne runs the tier-appropriate discovery with fixed-interval
// retries. A duplicate tool name within the batch is permanent: the
// upstream's advertisement is broken and retrying cannot fix it.
func (e *Engine) discoverOne(ctx context.Context, server *gateway.ServerDescriptor) (*upstream.Discovery, error) {
	target, err := e.registry.EffectiveTarget(ctx, nil, server.ID)
	if err != nil {
		return nil, err
	}

	operation := func() (*upstream.Discovery, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		discovery, err := e.discoverer.Discover(attemptCtx, target)
		if err != nil {
			return nil, err
		}
		if err := rejectDuplicates(discovery.Tools); err != nil {
			return nil, backoff.Permanent(err)
		}
		return discovery, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(e.cfg.Retries+1)), // #nosec G115 -- retries is validated non-negative
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.Debugf("Retrying discovery for %s in %v: %v", server.ID, delay, err)
		}),
	)
}

// compile assembles the new snapshot: fresh results replace a server's
// entries, failed servers retain their previous entries, and servers no
// longer enabled drop out entirely.
func (e *Engine) compile(
	runID string,
	servers []*gateway.ServerDescriptor,
	discoveries map[string]*upstream.Discovery,
	failed map[string]error,
	previous *Snapshot,
) *Snapshot {
	var records []gateway.ToolRecord
	schemas := make(map[string]map[string]map[string]any)
	carried := make(map[gateway.ToolKey][]float32)

	for _, server := range servers {
		if discovery, ok := discoveries[server.ID]; ok {
			records = append(records, discovery.Tools...)
			if len(discovery.Schemas) > 0 {
				schemas[server.ID] = discovery.Schemas
			}
			continue
		}
		if _, ok := failed[server.ID]; ok {
			// Retain the pre-refresh view of this server.
			for _, record := range previous.ServerTools(server.ID) {
				records = append(records, record)
				if vec, ok := previous.Embedding(record.Key()); ok {
					carried[record.Key()] = vec
				}
			}
			if prev := previous.ServerSchemas(server.ID); prev != nil {
				schemas[server.ID] = prev
			}
		}
	}

	return newSnapshot(runID, records, carried, schemas)
}

// attachEmbeddings computes vectors for the snapshot's tools and publishes
// a derived snapshot carrying them. Vectors are reused when a tool's text
// is unchanged, generated by the provider otherwise, and warm-started from
// the persisted table when the provider is absent or failing.
func (e *Engine) attachEmbeddings(ctx context.Context, current, previous *Snapshot) {
	records := current.All()
	if len(records) == 0 {
		return
	}

	vectors := make(map[gateway.ToolKey][]float32, len(records))
	var missing []gateway.ToolRecord
	for _, record := range records {
		if vec, ok := current.Embedding(record.Key()); ok {
			vectors[record.Key()] = vec
			continue
		}
		if vec, ok := previous.Embedding(record.Key()); ok {
			if prev, exists := previous.Tool(record.ServerID, record.Name); exists &&
				prev.Description == record.Description {
				vectors[record.Key()] = vec
				continue
			}
		}
		missing = append(missing, record)
	}

	remaining := e.embedWithProvider(ctx, missing, vectors)
	e.warmStartFromStore(ctx, remaining, vectors)

	if len(vectors) > 0 {
		e.catalog.swap(current.withEmbeddings(vectors))
	}
}

// embedWithProvider batches the missing tools through the provider and
// returns the tools still lacking a vector.
func (e *Engine) embedWithProvider(
	ctx context.Context,
	missing []gateway.ToolRecord,
	vectors map[gateway.ToolKey][]float32,
) []gateway.ToolRecord {
	if e.provider == nil || len(missing) == 0 {
		return missing
	}

	var remaining []gateway.ToolRecord
	for start := 0; start < len(missing); start += embedBatchSize {
		end := min(start+embedBatchSize, len(missing))
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, record := range batch {
			texts[i] = record.Name + " " + record.Description
		}

		results, err := e.provider.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Warnf("Embedding batch failed, semantic ranking degrades for %d tools: %v", len(batch), err)
			remaining = append(remaining, batch...)
			continue
		}
		for i, record := range batch {
			if e.cfg.EmbeddingDim > 0 && len(results[i]) != e.cfg.EmbeddingDim {
				logger.Warnf("Provider returned a %d-dim vector for %s, expected %d; dropping it",
					len(results[i]), record.Key(), e.cfg.EmbeddingDim)
				continue
			}
			vectors[record.Key()] = results[i]
		}
	}
	return remaining
}

// warmStartFromStore bulk-reads persisted vectors for tools the provider
// could not embed.
func (e *Engine) warmStartFromStore(
	ctx context.Context,
	missing []gateway.ToolRecord,
	vectors map[gateway.ToolKey][]float32,
) {
	if e.store == nil || len(missing) == 0 {
		return
	}

	keys := make([]gateway.ToolKey, len(missing))
	for i, record := range missing {
		keys[i] = record.Key()
	}

	persisted, err := e.store.EmbeddingsForTools(ctx, keys)
	if err != nil {
		logger.Warnf("Embedding warm start failed for %d tools: %v", len(keys), err)
		return
	}
	for key, vec := range persisted {
		vectors[key] = vec
	}
}

// rejectDuplicates fails a discovery batch that advertises the same tool
// name twice. Cross-server collisions are fine; within one server the
// composite key must stay unique.
func rejectDuplicates(records []gateway.ToolRecord) error {
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		if _, dup := seen[record.Name]; dup {
			return fmt.Errorf("%w: %s advertised %q twice",
				gateway.ErrDuplicateTool, record.ServerID, record.Name)
		}
		seen[record.Name] = struct{}{}
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the gateway's analytics counters. The counters
// are the only call history the gateway keeps: per-server call totals,
// refresh outcomes, and access-cache behaviour.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache event labels recorded by RecordCacheEvent.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Refresh outcome labels recorded by RecordRefresh.
const (
	RefreshSucceeded = "success"
	RefreshPartial   = "partial"
	RefreshFailed    = "failure"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing, so wiring stays unconditional at call sites.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	accessCacheEvent *prometheus.CounterVec
}

// New builds the collector set on a private registry. The registry also
// carries the standard process and Go collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_tool_calls_total",
			Help: "Tool calls routed to upstreams, by server and response code.",
		}, []string{"server", "code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_refresh_total",
			Help: "Catalog refresh runs by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "toolgate_refresh_duration_seconds",
			Help:    "Wall-clock duration of catalog refresh runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		accessCacheEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_access_cache_events_total",
			Help: "Access-decision cache hits and misses.",
		}, []string{"event"}),
	}
	registry.MustRegister(m.toolCalls, m.refreshes, m.refreshDuration, m.accessCacheEvent)
	return m
}

// RecordToolCall counts one routed call by server and HTTP status code.
func (m *Metrics) RecordToolCall(serverID string, statusCode int) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(serverID, strconv.Itoa(statusCode)).Inc()
}

// RecordRefresh counts one refresh run and its duration.
func (m *Metrics) RecordRefresh(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

// RecordCacheEvent counts one access-cache hit or miss.
func (m *Metrics) RecordCacheEvent(event string) {
	if m == nil {
		return
	}
	m.accessCacheEvent.WithLabelValues(event).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

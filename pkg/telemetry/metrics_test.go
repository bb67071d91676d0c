// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordToolCall("github", 200)
	m.RecordToolCall("github", 200)
	m.RecordToolCall("linear", 502)
	m.RecordRefresh(RefreshSucceeded, 1200*time.Millisecond)
	m.RecordCacheEvent(CacheHit)
	m.RecordCacheEvent(CacheMiss)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `toolgate_tool_calls_total{code="200",server="github"} 2`)
	assert.Contains(t, body, `toolgate_tool_calls_total{code="502",server="linear"} 1`)
	assert.Contains(t, body, `toolgate_refresh_total{outcome="success"} 1`)
	assert.Contains(t, body, `toolgate_access_cache_events_total{event="hit"} 1`)
}

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordToolCall("github", 200)
	m.RecordRefresh(RefreshFailed, time.Second)
	m.RecordCacheEvent(CacheMiss)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
	"github.com/stacklok/toolgate/pkg/gateway/meta"
	"github.com/stacklok/toolgate/pkg/gateway/openapi"
	"github.com/stacklok/toolgate/pkg/gateway/router"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/storage"
	"github.com/stacklok/toolgate/pkg/storage/mocks"
	"github.com/stacklok/toolgate/pkg/tenant"
)

type echoInvoker struct {
	calls []string
}

func (e *echoInvoker) Invoke(
	_ context.Context,
	target *tenant.Target,
	record gateway.ToolRecord,
	body []byte,
) (*upstream.Result, error) {
	e.calls = append(e.calls, target.Endpoint+"|"+record.ServerID+"/"+record.Name+"|"+string(body))
	return &upstream.Result{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"ok":true}`),
	}, nil
}

type fixedDiscoverer struct {
	tools map[string][]gateway.ToolRecord
}

func (d *fixedDiscoverer) Discover(_ context.Context, target *tenant.Target) (*upstream.Discovery, error) {
	return &upstream.Discovery{Tools: d.tools[target.Server.ID]}, nil
}

type apiFixture struct {
	router  http.Handler
	store   *mocks.MockStore
	invoker *echoInvoker
	engine  *catalog.Engine
}

func newAPIFixture(t *testing.T, bodyLimit int64, populate bool) *apiFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	entries := []tenant.Entry{
		{ID: "github", Tier: gateway.TierOpenAPI},
		{ID: "filesystem", Tier: gateway.TierChildProcess},
	}
	registry, err := tenant.New(entries,
		map[string]string{"github": "http://github.internal", "filesystem": "http://fs-bridge.internal"},
		map[string]string{"github": "gh", "filesystem": "fs"},
		store)
	require.NoError(t, err)

	discoverer := &fixedDiscoverer{tools: map[string][]gateway.ToolRecord{
		"github": {{
			ServerID:    "github",
			Name:        "merge_pull_request",
			Description: "Merge a pull request",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"pr": map[string]any{"type": "integer"}},
			},
			Tier: gateway.TierOpenAPI,
		}},
		"filesystem": {{
			ServerID:    "filesystem",
			Name:        "list_dir",
			InputSchema: map[string]any{"type": "object"},
			Tier:        gateway.TierChildProcess,
		}},
	}}

	cat := catalog.New()
	engine := catalog.NewEngine(cat, registry, discoverer, nil, nil, nil, catalog.Config{
		Timeout:    time.Second,
		RetryDelay: time.Millisecond,
	})
	if populate {
		require.NoError(t, engine.Refresh(context.Background()))
	}

	cache := access.NewMemoryCache(time.Minute)
	t.Cleanup(cache.Close)
	resolver := access.NewResolver(store, registry, cache, nil)

	invoker := &echoInvoker{}
	executor := router.New(cat, resolver, registry, invoker, nil, time.Second)
	facade := meta.New(cat, resolver, executor, nil)
	emitter := openapi.New(cat, resolver, false, "Tool Gateway", "test")

	server := NewServer(Deps{
		Auth:     auth.NewResolver("test-secret", store),
		Access:   resolver,
		Registry: registry,
		Catalog:  cat,
		Engine:   engine,
		Executor: executor,
		Facade:   facade,
		Emitter:  emitter,
	}, ":0", bodyLimit, false)

	return &apiFixture{
		router:  server.Router(),
		store:   store,
		invoker: invoker,
		engine:  engine,
	}
}

func (f *apiFixture) grantGitHub() {
	f.store.EXPECT().ServersForGroup(gomock.Any(), "MCP-GitHub").Return([]string{"github"}, nil).AnyTimes()
	f.store.EXPECT().DirectServersForUser(gomock.Any(), "alice@a.com").Return(nil, nil).AnyTimes()
	f.store.EXPECT().TenantEndpoint(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", storage.ErrNotFound).AnyTimes()
	f.store.EXPECT().TenantCredential(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", storage.ErrNotFound).AnyTimes()
}

func asAlice(req *http.Request) *http.Request {
	req.Header.Set(auth.HeaderEdgeValidated, "1")
	req.Header.Set(auth.HeaderEmail, "alice@a.com")
	req.Header.Set(auth.HeaderGroups, "MCP-GitHub")
	return req
}

func asAdmin(req *http.Request) *http.Request {
	req.Header.Set(auth.HeaderEdgeValidated, "1")
	req.Header.Set(auth.HeaderEmail, "root@a.com")
	req.Header.Set(auth.HeaderAdmin, "true")
	return req
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, false)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not ready before the first refresh")

	require.NoError(t, f.engine.Refresh(context.Background()))
	rec = f.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListServersIsCallerFiltered(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodGet, "/servers", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var servers []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &servers))
	assert.Equal(t, []string{"github"}, servers)
}

func TestListServersAnonymousIsEmpty(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestServerToolListing(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodGet, "/github", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var tools []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "merge_pull_request", tools[0]["tool_name"])

	rec = f.do(asAlice(httptest.NewRequest(http.MethodGet, "/filesystem", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(asAlice(httptest.NewRequest(http.MethodGet, "/unknown", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerToolListingStoreOutage(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.store.EXPECT().ServersForGroup(gomock.Any(), "MCP-GitHub").
		Return(nil, storage.ErrUnavailable).AnyTimes()
	f.store.EXPECT().DirectServersForUser(gomock.Any(), "alice@a.com").
		Return(nil, storage.ErrUnavailable).AnyTimes()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodGet, "/github", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code,
		"listing surfaces a store outage instead of denying")

	rec = f.do(asAlice(httptest.NewRequest(http.MethodGet, "/servers", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The call path fails closed on the same outage.
	rec = f.do(asAlice(httptest.NewRequest(http.MethodPost, "/github/merge_pull_request",
		strings.NewReader(`{"pr": 1}`))))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.invoker.calls)
}

func TestToolCallBothForms(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/github/merge_pull_request",
		strings.NewReader(`{"pr": 42}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(asAlice(httptest.NewRequest(http.MethodPost, "/github_merge_pull_request",
		strings.NewReader(`{"pr": 43}`))))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.invoker.calls, 2)
	assert.Contains(t, f.invoker.calls[0], `github/merge_pull_request|{"pr": 42}`)
	assert.Contains(t, f.invoker.calls[1], `github/merge_pull_request|{"pr": 43}`)
}

func TestToolCallDenied(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/filesystem/list_dir",
		strings.NewReader(`{}`))))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.invoker.calls)
}

func TestToolCallUnknownFlatName(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/noseparator",
		strings.NewReader(`{}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBodySizeBoundary(t *testing.T) {
	t.Parallel()

	const limit = 64
	f := newAPIFixture(t, limit, true)
	f.grantGitHub()

	// Valid JSON padded to exactly the limit.
	atLimit := `{"pr": 1}` + strings.Repeat(" ", limit-len(`{"pr": 1}`))
	require.Len(t, atLimit, limit)

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/github/merge_pull_request",
		strings.NewReader(atLimit))))
	assert.Equal(t, http.StatusOK, rec.Code, "a body exactly at the limit is accepted")

	rec = f.do(asAlice(httptest.NewRequest(http.MethodPost, "/github/merge_pull_request",
		strings.NewReader(atLimit+" "))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, "one byte over is rejected")
}

func TestRefreshRequiresAdmin(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/refresh", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(asAdmin(httptest.NewRequest(http.MethodPost, "/refresh", nil)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenAPIDocumentFiltered(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodGet, "/openapi.json", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/github/merge_pull_request")
	assert.Contains(t, paths, "/github_merge_pull_request")
	assert.NotContains(t, paths, "/filesystem/list_dir")
}

func TestMetaSearchTools(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/meta/search_tools",
		strings.NewReader(`{"query": "merge pull", "top_k": 2}`))))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "merge_pull_request", resp.Results[0]["tool_name"])
}

func TestMetaDescribeTools(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/meta/describe_tools",
		strings.NewReader(`{"names": ["github_merge_pull_request", "bogus_tool"]}`))))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tools map[string]json.RawMessage `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, "null", string(resp.Tools["github_merge_pull_request"]))
	assert.Equal(t, "null", string(resp.Tools["bogus_tool"]), "unknown names map to explicit null")
}

func TestMetaCallTool(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)
	f.grantGitHub()

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/meta/call_tool",
		strings.NewReader(`{"name": "github_merge_pull_request", "arguments": {"pr": 7}}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, f.invoker.calls, 1)
}

func TestMetaRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, 1<<20, true)

	rec := f.do(asAlice(httptest.NewRequest(http.MethodPost, "/meta/search_tools",
		strings.NewReader(`{broken`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

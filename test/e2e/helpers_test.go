// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/toolgate/pkg/api"
	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
	"github.com/stacklok/toolgate/pkg/gateway/meta"
	"github.com/stacklok/toolgate/pkg/gateway/openapi"
	"github.com/stacklok/toolgate/pkg/gateway/router"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/storage"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// fakeStore is an in-memory storage.Store for the suite. Keys follow the
// store's natural composite keys joined with "|".
type fakeStore struct {
	mu           sync.RWMutex
	groupServers map[string][]string
	direct       map[string][]string
	admins       map[string]bool
	credentials  map[string]string
	endpoints    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groupServers: map[string][]string{},
		direct:       map[string][]string{},
		admins:       map[string]bool{},
		credentials:  map[string]string{},
		endpoints:    map[string]string{},
	}
}

func (f *fakeStore) GroupsForUser(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) ServersForGroup(_ context.Context, group string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.groupServers[group], nil
}

func (f *fakeStore) DirectServersForUser(_ context.Context, email string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.direct[email], nil
}

func (f *fakeStore) IsAdmin(_ context.Context, email string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.admins[email], nil
}

func (f *fakeStore) TenantCredential(_ context.Context, tenantID, serverID, keyName string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	secret, ok := f.credentials[tenantID+"|"+serverID+"|"+keyName]
	if !ok {
		return "", storage.ErrNotFound
	}
	return secret, nil
}

func (f *fakeStore) TenantEndpoint(_ context.Context, tenantID, serverID string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	endpoint, ok := f.endpoints[tenantID+"|"+serverID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return endpoint, nil
}

func (*fakeStore) EmailForUserID(context.Context, string) (string, error) {
	return "", storage.ErrNotFound
}

func (*fakeStore) EmbeddingsForTools(context.Context, []gateway.ToolKey) (map[gateway.ToolKey][]float32, error) {
	return map[gateway.ToolKey][]float32{}, nil
}

func (*fakeStore) Ping(context.Context) error { return nil }

func (*fakeStore) Close() {}

// recordedCall is one request an upstream observed.
type recordedCall struct {
	Path   string
	Bearer string
	Body   string
}

// openAPIUpstream is an httptest upstream speaking the OpenAPI tier: it
// serves a discovery document and accepts tool POSTs.
type openAPIUpstream struct {
	server *httptest.Server
	mu     sync.Mutex
	calls  []recordedCall
}

func newOpenAPIUpstream(doc string, results map[string]string) *openAPIUpstream {
	u := &openAPIUpstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/openapi.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(doc))
			return
		}

		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.calls = append(u.calls, recordedCall{
			Path:   r.URL.Path,
			Bearer: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
			Body:   string(body),
		})
		u.mu.Unlock()

		if result, ok := results[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(result))
			return
		}
		http.NotFound(w, r)
	}))
	return u
}

func (u *openAPIUpstream) URL() string { return u.server.URL }

func (u *openAPIUpstream) Close() { u.server.Close() }

func (u *openAPIUpstream) toolCalls() []recordedCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]recordedCall(nil), u.calls...)
}

// newRPCUpstream starts a streamable HTTP MCP backend with a create_issue
// tool requiring a title.
func newRPCUpstream() *httptest.Server {
	srv := mcpserver.NewMCPServer("linear", "1.0.0", mcpserver.WithToolCapabilities(true))
	srv.AddTool(
		mcp.NewTool("create_issue",
			mcp.WithDescription("Create a new issue in a Linear team"),
			mcp.WithString("title", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("created: " + req.GetString("title", "")), nil
		},
	)
	return httptest.NewServer(mcpserver.NewStreamableHTTPServer(srv))
}

const githubDoc = `{
	"openapi": "3.1.0",
	"info": {"title": "github", "version": "1.0.0"},
	"paths": {
		"/merge_pull_request": {
			"post": {
				"summary": "Merge a pull request",
				"requestBody": {"content": {"application/json": {"schema": {
					"type": "object",
					"properties": {"pr": {"type": "integer"}},
					"required": ["pr"]
				}}}}
			}
		}
	}
}`

const filesystemDoc = `{
	"openapi": "3.1.0",
	"info": {"title": "filesystem", "version": "1.0.0"},
	"paths": {
		"/list_dir": {
			"post": {
				"summary": "List a directory",
				"requestBody": {"content": {"application/json": {"schema": {"type": "object"}}}}
			}
		}
	}
}`

// gatewayFixture is one fully assembled gateway over httptest upstreams.
type gatewayFixture struct {
	store  *fakeStore
	engine *catalog.Engine
	server *httptest.Server
	client *http.Client
}

func startGateway(store *fakeStore, entries []tenant.Entry, endpoints, credentials map[string]string) *gatewayFixture {
	registry, err := tenant.New(entries, endpoints, credentials, store)
	if err != nil {
		panic(err)
	}

	cache := access.NewMemoryCache(time.Minute)
	resolver := access.NewResolver(store, registry, cache, nil)
	client := upstream.New()

	cat := catalog.New()
	engine := catalog.NewEngine(cat, registry, client, nil, store, nil, catalog.Config{
		Timeout:    2 * time.Second,
		Retries:    0,
		RetryDelay: 10 * time.Millisecond,
	})

	executor := router.New(cat, resolver, registry, client, nil, 5*time.Second)
	facade := meta.New(cat, resolver, executor, nil)
	emitter := openapi.New(cat, resolver, false, "Tool Gateway", "e2e")

	apiServer := api.NewServer(api.Deps{
		Auth:     auth.NewResolver("e2e-secret", store),
		Access:   resolver,
		Registry: registry,
		Catalog:  cat,
		Engine:   engine,
		Executor: executor,
		Facade:   facade,
		Emitter:  emitter,
	}, ":0", 1<<20, false)

	return &gatewayFixture{
		store:  store,
		engine: engine,
		server: httptest.NewServer(apiServer.Router()),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *gatewayFixture) refresh() error {
	return g.engine.Refresh(context.Background())
}

func (g *gatewayFixture) Close() {
	g.server.Close()
}

type identityHeaders struct {
	email  string
	groups string
	admin  bool
}

func alice() identityHeaders {
	return identityHeaders{email: "alice@a.com", groups: "MCP-GitHub"}
}

func admin() identityHeaders {
	return identityHeaders{email: "root@a.com", groups: "MCP-Admin", admin: true}
}

// do sends one request to the gateway with edge identity headers set.
func (g *gatewayFixture) do(method, path string, who identityHeaders, body string) (*http.Response, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, g.server.URL+path, reader)
	if err != nil {
		panic(err)
	}
	if who.email != "" {
		req.Header.Set(auth.HeaderEdgeValidated, "1")
		req.Header.Set(auth.HeaderEmail, who.email)
		if who.groups != "" {
			req.Header.Set(auth.HeaderGroups, who.groups)
		}
		if who.admin {
			req.Header.Set(auth.HeaderAdmin, "true")
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		panic(err)
	}
	return resp, data
}

func decodeJSON[T any](data []byte) T {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

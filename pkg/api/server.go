// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the HTTP surface of the gateway: the route table,
// the middleware chain and the server lifecycle.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
	"github.com/stacklok/toolgate/pkg/gateway/meta"
	"github.com/stacklok/toolgate/pkg/gateway/openapi"
	"github.com/stacklok/toolgate/pkg/gateway/router"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/telemetry"
	"github.com/stacklok/toolgate/pkg/tenant"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Deps carries everything the HTTP surface serves. All fields except
// Metrics are required.
type Deps struct {
	Auth     *auth.Resolver
	Access   *access.Resolver
	Registry *tenant.Registry
	Catalog  *catalog.Catalog
	Engine   *catalog.Engine
	Executor *router.Executor
	Facade   *meta.Facade
	Emitter  *openapi.Emitter
	Metrics  *telemetry.Metrics
}

// Server is the assembled HTTP surface.
type Server struct {
	deps           Deps
	address        string
	bodyLimit      int64
	metricsEnabled bool
}

// NewServer wires the route table. bodyLimit caps inbound tool-call
// bodies; a body exactly at the limit is accepted.
func NewServer(deps Deps, address string, bodyLimit int64, metricsEnabled bool) *Server {
	return &Server{
		deps:           deps,
		address:        address,
		bodyLimit:      bodyLimit,
		metricsEnabled: metricsEnabled,
	}
}

// Router builds the chi router. Static routes are registered before the
// parameterised ones so /servers, /refresh and /meta never collide with
// the {server_id} wildcard.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		auth.Middleware(s.deps.Auth),
		requestLogging,
		middleware.Timeout(middlewareTimeout),
	)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metricsEnabled && s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/servers", s.handleListServers)
	r.Post("/refresh", s.handleRefresh)

	r.Route("/meta", func(r chi.Router) {
		r.Post("/search_tools", s.handleSearchTools)
		r.Post("/describe_tools", s.handleDescribeTools)
		r.Post("/call_tool", s.handleCallTool)
	})

	// The same placeholder name everywhere: chi requires wildcard names to
	// agree at a given tree position.
	r.Get("/{id}", s.handleServerTools)
	r.Post("/{id}", s.handleFlatCall)
	r.Post("/{id}/{toolName}", s.handleCall)

	return r
}

// Serve runs the listener until the context is cancelled, then drains
// in-flight requests before returning.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", s.address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return err
	}
	logger.Infof("HTTP server stopped")
	return nil
}

// requestLogging emits one line per request: method, path, status, caller
// and elapsed time. Bodies and credentials are never logged.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		identity := auth.IdentityFromContextOrAnonymous(r.Context())
		caller := "anonymous"
		if identity != nil && identity.Email != "" {
			caller = identity.Email
		}
		logger.Infof("%s %s %d %s caller=%s reqID=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond),
			caller, middleware.GetReqID(r.Context()))
	})
}

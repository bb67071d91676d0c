// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router executes tool calls: it checks the catalog and the
// caller's access, resolves the tenant-effective target, validates the
// body against the tool's input schema, and invokes the tier-appropriate
// transport.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/telemetry"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// Invoker executes one resolved call. Satisfied by the upstream client;
// tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, target *tenant.Target, record gateway.ToolRecord, body []byte) (*upstream.Result, error)
}

// Executor is the per-request routing pipeline. It is stateless across
// requests; all shared state lives in the catalog and the access cache.
type Executor struct {
	catalog     *catalog.Catalog
	access      *access.Resolver
	registry    *tenant.Registry
	invoker     Invoker
	metrics     *telemetry.Metrics
	callTimeout time.Duration
}

// New wires the executor.
func New(
	cat *catalog.Catalog,
	accessResolver *access.Resolver,
	registry *tenant.Registry,
	invoker Invoker,
	metrics *telemetry.Metrics,
	callTimeout time.Duration,
) *Executor {
	return &Executor{
		catalog:     cat,
		access:      accessResolver,
		registry:    registry,
		invoker:     invoker,
		metrics:     metrics,
		callTimeout: callTimeout,
	}
}

// Call routes one tool call. The body passes through verbatim; only the
// transport envelope changes per tier. Denied calls never reach the
// upstream. Calls are not retried; retry policy belongs to the caller.
func (e *Executor) Call(
	ctx context.Context,
	identity *auth.Identity,
	serverID, toolName string,
	body []byte,
) (*upstream.Result, error) {
	start := time.Now()

	if !e.catalog.Ready() {
		return nil, gateway.ErrNotReady
	}

	snapshot := e.catalog.Snapshot()
	record, ok := snapshot.Tool(serverID, toolName)
	if !ok {
		if _, known := e.registry.Descriptor(serverID); !known {
			return nil, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, serverID)
		}
		return nil, fmt.Errorf("%w: %s/%s", gateway.ErrToolNotFound, serverID, toolName)
	}

	// Access is checked before anything touches the wire.
	if !e.access.CanAccess(ctx, identity, serverID) {
		return nil, fmt.Errorf("%w: %s", gateway.ErrAccessDenied, serverID)
	}

	if err := validateBody(record, body); err != nil {
		return nil, err
	}

	target, err := e.registry.EffectiveTarget(ctx, identity, serverID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	defer cancel()

	result, err := e.invoker.Invoke(callCtx, target, record, body)
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.RecordToolCall(serverID, statusForError(err))
		logger.Infof("Tool call %s/%s by %s failed after %s: %v",
			serverID, toolName, callerForLog(identity), elapsed.Round(time.Millisecond), err)
		return nil, err
	}

	e.metrics.RecordToolCall(serverID, result.StatusCode)
	logger.Infof("Tool call %s/%s by %s: %d in %s",
		serverID, toolName, callerForLog(identity), result.StatusCode, elapsed.Round(time.Millisecond))
	return result, nil
}

// SplitQualifiedName splits the flat "{server_id}_{tool_name}" form at the
// first underscore. Server IDs never contain underscores, so the split is
// unambiguous even when the tool name does.
func SplitQualifiedName(qualified string) (serverID, toolName string, ok bool) {
	serverID, toolName, ok = strings.Cut(qualified, "_")
	if !ok || serverID == "" || toolName == "" {
		return "", "", false
	}
	return serverID, toolName, true
}

// validateBody checks the body is JSON and satisfies the tool's input
// schema. An empty body stands in for an empty argument object.
func validateBody(record gateway.ToolRecord, body []byte) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: not valid JSON", gateway.ErrInvalidBody)
	}
	if len(record.InputSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(record.InputSchema)
	documentLoader := gojsonschema.NewBytesLoader(body)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		// A broken upstream schema must not make its tools uncallable.
		logger.Debugf("Skipping schema validation for %s: %v", record.Key(), err)
		return nil
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return fmt.Errorf("%w: %s", gateway.ErrInvalidBody, strings.Join(issues, "; "))
	}
	return nil
}

// statusForError mirrors the handler-layer error mapping for metrics.
func statusForError(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, gateway.ErrUpstreamTimeout), errors.Is(err, gateway.ErrUpstreamUnavailable):
		return 504
	case errors.Is(err, gateway.ErrUpstreamFailed):
		return 502
	case errors.Is(err, gateway.ErrInvalidBody):
		return 400
	default:
		return 500
	}
}

// callerForLog renders the caller email for the request log line, never
// the token.
func callerForLog(identity *auth.Identity) string {
	if identity == nil || identity.Email == "" {
		return "anonymous"
	}
	return identity.Email
}

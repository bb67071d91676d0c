// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/router"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/logger"
)

// toolSummary is one row of the per-server tool listing.
type toolSummary struct {
	ToolName    string         `json:"tool_name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 503 until the first catalog refresh has completed.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Catalog.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	doc, err := s.deps.Emitter.Document(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	servers, err := s.deps.Access.AccessSet(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	if servers == nil {
		servers = []string{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	identity := auth.IdentityFromContextOrAnonymous(r.Context())

	if _, known := s.deps.Registry.Descriptor(serverID); !known {
		writeError(w, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, serverID))
		return
	}

	// Listing surfaces a store outage as 503; fail-closed 403 is reserved
	// for the call path.
	servers, err := s.deps.Access.AccessSet(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	if !slices.Contains(servers, serverID) {
		writeError(w, fmt.Errorf("%w: %s", gateway.ErrAccessDenied, serverID))
		return
	}

	records := s.deps.Catalog.Snapshot().ServerTools(serverID)
	tools := make([]toolSummary, 0, len(records))
	for _, record := range records {
		tools = append(tools, toolSummary{
			ToolName:    record.Name,
			Description: record.Description,
			InputSchema: record.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	s.executeCall(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "toolName"))
}

// handleFlatCall serves the deprecated "{server_id}_{tool_name}" form.
func (s *Server) handleFlatCall(w http.ResponseWriter, r *http.Request) {
	qualified := chi.URLParam(r, "id")
	serverID, toolName, ok := router.SplitQualifiedName(qualified)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, qualified))
		return
	}
	s.executeCall(w, r, serverID, toolName)
}

func (s *Server) executeCall(w http.ResponseWriter, r *http.Request, serverID, toolName string) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	result, err := s.deps.Executor.Call(r.Context(), identity, serverID, toolName, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

// writeResult relays the upstream response verbatim: status, content type
// and body all pass through untouched.
func writeResult(w http.ResponseWriter, result *upstream.Result) {
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write(result.Body); err != nil {
		logger.Warnf("Failed to relay upstream response: %v", err)
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	results, err := s.deps.Facade.SearchTools(r.Context(), identity, req.Query, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type describeRequest struct {
	Names []string `json:"names"`
}

func (s *Server) handleDescribeTools(w http.ResponseWriter, r *http.Request) {
	var req describeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	tools, err := s.deps.Facade.DescribeTools(r.Context(), identity, req.Names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

type callToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	result, err := s.deps.Facade.CallTool(r.Context(), identity, req.Name, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

// handleRefresh triggers a catalog rebuild. Admin only. The rebuild is
// detached from the request context so a dropped connection cannot abort
// it halfway.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContextOrAnonymous(r.Context())
	if !isAdmin(identity) {
		writeError(w, fmt.Errorf("%w: refresh requires admin", gateway.ErrAccessDenied))
		return
	}

	if err := s.deps.Engine.Refresh(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func isAdmin(identity *auth.Identity) bool {
	if identity == nil {
		return false
	}
	return identity.Admin || slices.Contains(identity.Groups, access.AdminGroup)
}

// readBody drains the request body under the configured cap. A body
// exactly at the limit is accepted; one byte over is rejected.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", gateway.ErrBodyTooLarge, s.bodyLimit)
		}
		return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidBody, err)
	}
	return body, nil
}

// decodeJSON reads a meta-endpoint request body under the size cap.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", gateway.ErrInvalidBody)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrInvalidBody, err)
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package meta implements the three-tool façade over the catalog:
// search_tools, describe_tools and call_tool. Clients that cannot carry
// hundreds of tool definitions discover tools on demand instead.
package meta

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/embeddings"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
	"github.com/stacklok/toolgate/pkg/gateway/router"
	"github.com/stacklok/toolgate/pkg/gateway/upstream"
	"github.com/stacklok/toolgate/pkg/logger"
)

const (
	// DefaultTopK applies when a search request omits top_k.
	DefaultTopK = 10

	// MaxTopK is the clamp ceiling for top_k.
	MaxTopK = 50

	nameMatchWeight = 3
)

// SearchResult is one ranked hit.
type SearchResult struct {
	ServerID    string  `json:"server_id"`
	ToolName    string  `json:"tool_name"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// ToolDescription is the full record returned by describe_tools.
type ToolDescription struct {
	ServerID    string         `json:"server_id"`
	ToolName    string         `json:"tool_name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Facade answers the meta-tool operations. All three share the caller's
// access set with the direct routes; nothing is reachable through the
// façade that the direct path would deny.
type Facade struct {
	catalog  *catalog.Catalog
	access   *access.Resolver
	executor *router.Executor
	provider embeddings.Provider
}

// New wires the façade. The provider may be nil; search then falls back
// to substring scoring.
func New(
	cat *catalog.Catalog,
	accessResolver *access.Resolver,
	executor *router.Executor,
	provider embeddings.Provider,
) *Facade {
	return &Facade{
		catalog:  cat,
		access:   accessResolver,
		executor: executor,
		provider: provider,
	}
}

// SearchTools ranks the caller's permitted tools against the query.
// topK nil means the default; values above the ceiling are clamped; zero
// yields an empty result without scoring anything. Before the first
// refresh the permitted catalog is empty, so results are empty too.
func (f *Facade) SearchTools(
	ctx context.Context,
	identity *auth.Identity,
	query string,
	topK *int,
) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", gateway.ErrInvalidBody)
	}

	k := DefaultTopK
	if topK != nil {
		k = *topK
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: top_k must not be negative", gateway.ErrInvalidBody)
	}
	if k == 0 {
		return []SearchResult{}, nil
	}
	k = min(k, MaxTopK)

	permitted, err := f.access.AccessSet(ctx, identity)
	if err != nil {
		return nil, err
	}

	snapshot := f.catalog.Snapshot()
	var candidates []gateway.ToolRecord
	for _, serverID := range permitted {
		candidates = append(candidates, snapshot.ServerTools(serverID)...)
	}
	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	results := f.rank(ctx, snapshot, candidates, query)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// rank scores the candidates semantically when vectors are available and
// by substring matching otherwise. Ordering is score descending with the
// qualified name as a deterministic tie-break.
func (f *Facade) rank(
	ctx context.Context,
	snapshot *catalog.Snapshot,
	candidates []gateway.ToolRecord,
	query string,
) []SearchResult {
	var queryVector []float32
	if f.provider != nil {
		vec, err := f.provider.Embed(ctx, query)
		if err != nil {
			logger.Warnf("Query embedding failed, falling back to substring ranking: %v", err)
		} else {
			queryVector = vec
		}
	}

	var results []SearchResult
	for _, record := range candidates {
		var score float64
		if queryVector != nil {
			vec, ok := snapshot.Embedding(record.Key())
			if ok && len(vec) == len(queryVector) {
				score = embeddings.CosineSimilarity(queryVector, vec)
			} else {
				// No vector for this tool; substring scoring keeps it
				// findable rather than invisible.
				score = substringScore(record, query)
			}
		} else {
			score = substringScore(record, query)
		}
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			ServerID:    record.ServerID,
			ToolName:    record.Name,
			Description: record.Description,
			Score:       score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ServerID+"_"+results[i].ToolName < results[j].ServerID+"_"+results[j].ToolName
	})
	return results
}

// substringScore counts case-insensitive query terms: a term hitting the
// tool name weighs three times a term hitting the description.
func substringScore(record gateway.ToolRecord, query string) float64 {
	name := strings.ToLower(record.Name)
	description := strings.ToLower(record.Description)

	score := 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(name, term) {
			score += nameMatchWeight
		}
		if strings.Contains(description, term) {
			score++
		}
	}
	return float64(score)
}

// DescribeTools resolves qualified "{server_id}_{tool_name}" names to full
// records. Names that do not resolve, including tools the caller may not
// access, map to an explicit null so the caller can tell which lookups
// failed.
func (f *Facade) DescribeTools(
	ctx context.Context,
	identity *auth.Identity,
	names []string,
) (map[string]*ToolDescription, error) {
	snapshot := f.catalog.Snapshot()
	out := make(map[string]*ToolDescription, len(names))
	for _, qualified := range names {
		out[qualified] = nil

		serverID, toolName, ok := router.SplitQualifiedName(qualified)
		if !ok {
			continue
		}
		record, found := snapshot.Tool(serverID, toolName)
		if !found {
			continue
		}
		if !f.access.CanAccess(ctx, identity, serverID) {
			continue
		}
		out[qualified] = &ToolDescription{
			ServerID:    record.ServerID,
			ToolName:    record.Name,
			Description: record.Description,
			InputSchema: record.InputSchema,
		}
	}
	return out, nil
}

// CallTool executes a tool addressed by its qualified name. The call runs
// the exact same pipeline as the direct route.
func (f *Facade) CallTool(
	ctx context.Context,
	identity *auth.Identity,
	name string,
	arguments []byte,
) (*upstream.Result, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", gateway.ErrInvalidBody)
	}

	serverID, toolName, ok := router.SplitQualifiedName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrToolNotFound, name)
	}

	return f.executor.Call(ctx, identity, serverID, toolName, arguments)
}

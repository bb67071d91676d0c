// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package catalog owns the in-process tool cache: immutable snapshots of
// the discovered catalog, the read-write lock guarding the current
// snapshot, and the refresh engine that rebuilds it from the upstreams.
package catalog

import (
	"sort"
	"time"

	"github.com/stacklok/toolgate/pkg/gateway"
)

// Snapshot is one coherent build of the catalog. Snapshots are immutable
// after construction; readers hold no locks while using one, and a
// concurrent refresh can only replace the snapshot wholesale.
type Snapshot struct {
	tools      map[gateway.ToolKey]gateway.ToolRecord
	byServer   map[string][]gateway.ToolRecord
	embeddings map[gateway.ToolKey][]float32
	schemas    map[string]map[string]map[string]any

	runID   string
	builtAt time.Time
}

// newSnapshot indexes the given records. Records arrive pre-validated:
// duplicate keys within one server were rejected during discovery.
func newSnapshot(
	runID string,
	records []gateway.ToolRecord,
	embeddingVectors map[gateway.ToolKey][]float32,
	schemas map[string]map[string]map[string]any,
) *Snapshot {
	s := &Snapshot{
		tools:      make(map[gateway.ToolKey]gateway.ToolRecord, len(records)),
		byServer:   make(map[string][]gateway.ToolRecord),
		embeddings: embeddingVectors,
		schemas:    schemas,
		runID:      runID,
		builtAt:    time.Now(),
	}
	if s.embeddings == nil {
		s.embeddings = map[gateway.ToolKey][]float32{}
	}
	if s.schemas == nil {
		s.schemas = map[string]map[string]map[string]any{}
	}

	for _, record := range records {
		s.tools[record.Key()] = record
		s.byServer[record.ServerID] = append(s.byServer[record.ServerID], record)
	}
	for id := range s.byServer {
		list := s.byServer[id]
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return s
}

// emptySnapshot is what readers observe before the first refresh
// completes: a valid, empty catalog rather than an error.
func emptySnapshot() *Snapshot {
	return newSnapshot("", nil, nil, nil)
}

// Tool looks up one record by its composite key.
func (s *Snapshot) Tool(serverID, toolName string) (gateway.ToolRecord, bool) {
	record, ok := s.tools[gateway.ToolKey{ServerID: serverID, ToolName: toolName}]
	return record, ok
}

// ServerTools returns the records for one server, sorted by tool name.
func (s *Snapshot) ServerTools(serverID string) []gateway.ToolRecord {
	return s.byServer[serverID]
}

// Servers returns the IDs of servers with at least one cached tool, sorted.
func (s *Snapshot) Servers() []string {
	out := make([]string, 0, len(s.byServer))
	for id := range s.byServer {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// All returns every record ordered by server ID then tool name.
func (s *Snapshot) All() []gateway.ToolRecord {
	out := make([]gateway.ToolRecord, 0, len(s.tools))
	for _, id := range s.Servers() {
		out = append(out, s.byServer[id]...)
	}
	return out
}

// Embedding returns the vector attached to a tool, if one exists.
func (s *Snapshot) Embedding(key gateway.ToolKey) ([]float32, bool) {
	vec, ok := s.embeddings[key]
	return vec, ok
}

// ServerSchemas returns the reusable schema components discovered from one
// server's OpenAPI document, keyed by schema name.
func (s *Snapshot) ServerSchemas(serverID string) map[string]map[string]any {
	return s.schemas[serverID]
}

// Len reports the number of cached tools.
func (s *Snapshot) Len() int {
	return len(s.tools)
}

// RunID identifies the refresh run that built this snapshot. Empty for the
// uninitialised snapshot.
func (s *Snapshot) RunID() string {
	return s.runID
}

// withEmbeddings derives a new snapshot carrying the given vectors. The
// tool and schema indexes are shared: they are immutable either way.
func (s *Snapshot) withEmbeddings(vectors map[gateway.ToolKey][]float32) *Snapshot {
	clone := *s
	clone.embeddings = vectors
	return &clone
}

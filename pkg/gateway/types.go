// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway defines the core domain types shared by the toolgate
// subpackages: upstream descriptors, cached tool records, and the closed set
// of transport tiers an upstream may speak.
package gateway

import (
	"fmt"
	"strings"
)

// Tier identifies the transport family of an upstream tool server.
// The set is closed; per-tier discovery and invocation strategies key off it.
type Tier string

const (
	// TierOpenAPI is a direct HTTP server advertising an OpenAPI document.
	TierOpenAPI Tier = "openapi"

	// TierStreamableHTTP is a JSON-RPC server speaking MCP streamable HTTP.
	TierStreamableHTTP Tier = "streamable-http"

	// TierSSE is a server-sent-events upstream reached through its HTTP façade.
	TierSSE Tier = "sse"

	// TierChildProcess is a child-process protocol wrapped as HTTP by a local
	// bridge service. The configured endpoint is the bridge base URL.
	TierChildProcess Tier = "child-process"

	// TierInCluster is a plain HTTP container reachable inside the cluster.
	TierInCluster Tier = "in-cluster"
)

// Valid reports whether t is one of the five supported tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierOpenAPI, TierStreamableHTTP, TierSSE, TierChildProcess, TierInCluster:
		return true
	default:
		return false
	}
}

// UsesRPC reports whether the tier speaks MCP JSON-RPC on the wire.
// All other tiers expose plain HTTP endpoints, either natively or through a
// bridge façade.
func (t Tier) UsesRPC() bool {
	return t == TierStreamableHTTP
}

// ToolKey uniquely identifies a tool in the catalog. Tool names may collide
// across servers; the composite key is always unambiguous.
type ToolKey struct {
	ServerID string
	ToolName string
}

// String renders the key as the qualified "{server_id}_{tool_name}" form used
// by the flat call route and the meta-tools façade.
func (k ToolKey) String() string {
	return k.ServerID + "_" + k.ToolName
}

// ServerDescriptor describes one configured upstream. Descriptors are built
// once at startup by the tenant registry and are immutable afterwards; the
// per-request effective endpoint and credential are derived copies, never
// mutations.
type ServerDescriptor struct {
	// ID is the stable slug identifying the server in routes and storage.
	ID string

	// Name is the human-readable display name.
	Name string

	// Description is a one-line summary shown in catalog listings.
	Description string

	// Tier selects the discovery and invocation strategy.
	Tier Tier

	// Endpoint is the default base URL. For child-process upstreams this is
	// the local bridge URL. Trailing slashes are trimmed at load time.
	Endpoint string

	// CredentialKey is the key name used when looking up tenant-scoped
	// credential overrides for this server.
	CredentialKey string

	// Credential is the default upstream credential. It is resolved from the
	// environment at startup and must never appear in logs or responses.
	Credential string `json:"-"`

	// DefaultGroups lists groups granted access by static configuration, in
	// addition to the persisted group mappings.
	DefaultGroups []string

	// Enabled is computed at load time: the descriptor is listed and its
	// required credential is present and non-empty.
	Enabled bool
}

// ToolRecord is one cached tool advertised by an upstream. Records are
// created during refresh and replaced wholesale by the next refresh; they are
// never mutated in place.
type ToolRecord struct {
	// ServerID is the owning server's descriptor ID.
	ServerID string

	// Name is the tool name, unique within the server.
	Name string

	// Description is the human description advertised by the upstream.
	Description string

	// InputSchema is the JSON-schema-shaped parameter description
	// (type/properties/required) advertised by the upstream.
	InputSchema map[string]any

	// Tier records the origin transport family.
	Tier Tier

	// Invocation carries the tier-specific detail needed to call the tool.
	Invocation InvocationHint
}

// Key returns the composite catalog key for the record.
func (t ToolRecord) Key() ToolKey {
	return ToolKey{ServerID: t.ServerID, ToolName: t.Name}
}

// QualifiedName renders the "{server_id}_{tool_name}" form.
func (t ToolRecord) QualifiedName() string {
	return t.Key().String()
}

// InvocationHint tells the router how to reach the tool upstream.
// Exactly one family of fields is populated, matching the record's tier.
type InvocationHint struct {
	// RPCMethod is the tool name advertised over JSON-RPC (tools/call name).
	RPCMethod string

	// HTTPPath is the upstream operation path for HTTP-family tiers,
	// without the endpoint prefix (e.g. "/merge_pull_request").
	HTTPPath string

	// HTTPMethod is the verb for HTTPPath. Discovery only ingests POST
	// operations today, but the hint keeps the verb explicit.
	HTTPMethod string
}

// ValidateServerID checks that an ID is usable as a route segment and as the
// prefix of the flat "{server_id}_{tool_name}" form. Underscores are reserved
// as the qualified-name separator.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: server ID is empty", ErrInvalidDescriptor)
	}
	if strings.ContainsAny(id, "_/ ") {
		return fmt.Errorf("%w: server ID %q must not contain underscores, slashes, or spaces", ErrInvalidDescriptor, id)
	}
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			continue
		}
		return fmt.Errorf("%w: server ID %q must be a lowercase slug", ErrInvalidDescriptor, id)
	}
	return nil
}

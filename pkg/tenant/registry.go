// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tenant owns the upstream descriptor table and computes the
// effective endpoint and credential for each call, applying per-tenant
// overrides from the persistent store.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/config"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/storage"
)

// DefaultCredentialKey names the tenant credential row consulted when a
// descriptor does not declare its own key.
const DefaultCredentialKey = "api-key"

// Entry is one upstream in the descriptor file. Endpoint and credential
// are deliberately absent: they arrive through configuration
// (upstream-<id>-endpoint, upstream-<id>-credential) so secrets never live
// in the descriptor table.
type Entry struct {
	ID            string       `yaml:"id"`
	Name          string       `yaml:"name"`
	Description   string       `yaml:"description"`
	Tier          gateway.Tier `yaml:"tier"`
	CredentialKey string       `yaml:"credential-key"`
	DefaultGroups []string     `yaml:"default-groups"`
}

type descriptorFile struct {
	Upstreams []Entry `yaml:"upstreams"`
}

// Target is the resolved destination for one upstream call.
type Target struct {
	// Server is the descriptor the call ultimately addresses.
	Server *gateway.ServerDescriptor

	// Endpoint is the base URL after tenant overrides, trailing slash
	// trimmed.
	Endpoint string

	// Credential is the effective bearer credential after tenant
	// overrides. Never logged.
	Credential string
}

// Registry holds the immutable descriptor table. Construction happens once
// at startup; afterwards only reads.
type Registry struct {
	descriptors map[string]*gateway.ServerDescriptor
	order       []string
	store       storage.Store
}

// Load reads the descriptor file named by the configuration and resolves
// per-upstream endpoints and credentials.
func Load(cfg *config.Config, store storage.Store) (*Registry, error) {
	data, err := os.ReadFile(cfg.UpstreamsFile) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read upstreams file %s: %w", cfg.UpstreamsFile, err)
	}

	entries, err := ParseDescriptors(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstreams file %s: %w", cfg.UpstreamsFile, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	endpoints, credentials, err := cfg.ResolveUpstreams(ids)
	if err != nil {
		return nil, err
	}

	return New(entries, endpoints, credentials, store)
}

// ParseDescriptors decodes the descriptor table. Unknown fields are
// rejected so typos surface at startup instead of silently disabling an
// upstream.
func ParseDescriptors(data []byte) ([]Entry, error) {
	var file descriptorFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, err
	}
	return file.Upstreams, nil
}

// New builds the registry from parsed entries and the per-upstream
// endpoint and credential maps. An upstream is enabled iff its credential
// is present and non-empty.
func New(entries []Entry, endpoints, credentials map[string]string, store storage.Store) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]*gateway.ServerDescriptor, len(entries)),
		store:       store,
	}

	for _, e := range entries {
		if err := gateway.ValidateServerID(e.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidDescriptor, err)
		}
		if _, dup := r.descriptors[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate upstream ID %q", gateway.ErrInvalidDescriptor, e.ID)
		}
		if !e.Tier.Valid() {
			return nil, fmt.Errorf("%w: upstream %q has unknown tier %q", gateway.ErrInvalidDescriptor, e.ID, e.Tier)
		}

		credentialKey := e.CredentialKey
		if credentialKey == "" {
			credentialKey = DefaultCredentialKey
		}

		credential := credentials[e.ID]
		desc := &gateway.ServerDescriptor{
			ID:            e.ID,
			Name:          e.Name,
			Description:   e.Description,
			Tier:          e.Tier,
			Endpoint:      trimEndpoint(endpoints[e.ID]),
			CredentialKey: credentialKey,
			Credential:    credential,
			DefaultGroups: append([]string(nil), e.DefaultGroups...),
			Enabled:       credential != "",
		}
		if !desc.Enabled {
			logger.Infof("Upstream %s is disabled: no credential configured", e.ID)
		}

		r.descriptors[e.ID] = desc
		r.order = append(r.order, e.ID)
	}
	sort.Strings(r.order)

	return r, nil
}

// Descriptor returns the descriptor for an upstream ID.
func (r *Registry) Descriptor(id string) (*gateway.ServerDescriptor, bool) {
	desc, ok := r.descriptors[id]
	return desc, ok
}

// Descriptors returns every descriptor ordered by ID.
func (r *Registry) Descriptors() []*gateway.ServerDescriptor {
	out := make([]*gateway.ServerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

// Enabled returns the enabled descriptors ordered by ID.
func (r *Registry) Enabled() []*gateway.ServerDescriptor {
	out := make([]*gateway.ServerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		if desc := r.descriptors[id]; desc.Enabled {
			out = append(out, desc)
		}
	}
	return out
}

// EnabledIDs returns the IDs of enabled upstreams ordered by ID.
func (r *Registry) EnabledIDs() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.descriptors[id].Enabled {
			out = append(out, id)
		}
	}
	return out
}

// EffectiveTarget computes the endpoint and credential for a call by the
// given identity. Descriptor defaults apply unless one of the caller's
// groups carries an override in the store. When several groups override
// the same server, the alphabetically first group wins and a warning is
// logged.
//
// A store outage is surfaced as an error rather than silently falling back
// to the default endpoint: routing a tenant's call to the wrong physical
// backend is worse than failing the call.
func (r *Registry) EffectiveTarget(
	ctx context.Context,
	identity *auth.Identity,
	serverID string,
) (*Target, error) {
	desc, ok := r.descriptors[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, serverID)
	}

	target := &Target{
		Server:     desc,
		Endpoint:   desc.Endpoint,
		Credential: desc.Credential,
	}

	groups := sortedGroups(identity)
	if len(groups) == 0 {
		return target, nil
	}

	endpoint, err := r.endpointOverride(ctx, groups, serverID)
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		target.Endpoint = trimEndpoint(endpoint)
	}

	credential, err := r.credentialOverride(ctx, groups, serverID, desc.CredentialKey)
	if err != nil {
		return nil, err
	}
	if credential != "" {
		target.Credential = credential
	}

	return target, nil
}

func (r *Registry) endpointOverride(ctx context.Context, groups []string, serverID string) (string, error) {
	var (
		winner   string
		endpoint string
		matches  []string
	)
	for _, group := range groups {
		override, err := r.store.TenantEndpoint(ctx, group, serverID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolving endpoint override for server %s: %w", serverID, err)
		}
		matches = append(matches, group)
		if winner == "" {
			winner = group
			endpoint = override
		}
	}
	if len(matches) > 1 {
		logger.Warnf("Server %s has endpoint overrides from multiple groups %v; using group %s",
			serverID, matches, winner)
	}
	return endpoint, nil
}

func (r *Registry) credentialOverride(
	ctx context.Context,
	groups []string,
	serverID, credentialKey string,
) (string, error) {
	var (
		winner     string
		credential string
		matches    []string
	)
	for _, group := range groups {
		override, err := r.store.TenantCredential(ctx, group, serverID, credentialKey)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolving credential override for server %s: %w", serverID, err)
		}
		matches = append(matches, group)
		if winner == "" {
			winner = group
			credential = override
		}
	}
	if len(matches) > 1 {
		logger.Warnf("Server %s has credential overrides from multiple groups %v; using group %s",
			serverID, matches, winner)
	}
	return credential, nil
}

func sortedGroups(identity *auth.Identity) []string {
	if identity == nil || len(identity.Groups) == 0 {
		return nil
	}
	groups := append([]string(nil), identity.Groups...)
	sort.Strings(groups)
	return groups
}

// trimEndpoint removes trailing slashes so path joins never double up.
// Idempotent by construction.
func trimEndpoint(endpoint string) string {
	return strings.TrimRight(endpoint, "/")
}

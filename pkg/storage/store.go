// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides read-only access to the persisted access-control
// and tenant tables shared with the identity provisioning system.
package storage

import (
	"context"
	"errors"

	"github.com/stacklok/toolgate/pkg/gateway"
)

var (
	// ErrNotFound is returned when a requested row does not exist. Callers
	// must be able to distinguish an absent row from a store outage.
	ErrNotFound = errors.New("row not found")

	// ErrUnavailable is returned when the store cannot be reached or a
	// query fails for a reason other than a missing row.
	ErrUnavailable = errors.New("store unavailable")
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store defines the read operations the gateway performs against the shared
// database. All tables are owned by the external identity provisioning
// system; the gateway never writes to them.
type Store interface {
	// GroupsForUser returns the group names the user belongs to. An
	// unknown email yields an empty slice, not ErrNotFound.
	GroupsForUser(ctx context.Context, email string) ([]string, error)

	// ServersForGroup returns the server IDs a group is permitted to use.
	// An unknown group yields an empty slice, not ErrNotFound.
	ServersForGroup(ctx context.Context, group string) ([]string, error)

	// DirectServersForUser returns server IDs granted to the user
	// directly, independent of group membership. Any access level grants.
	DirectServersForUser(ctx context.Context, email string) ([]string, error)

	// IsAdmin reports whether the user carries the admin flag. A missing
	// row means false, not an error.
	IsAdmin(ctx context.Context, email string) (bool, error)

	// TenantCredential returns the secret stored for the given tenant,
	// server and key name. Missing rows yield ErrNotFound.
	TenantCredential(ctx context.Context, tenantID, serverID, keyName string) (string, error)

	// TenantEndpoint returns the endpoint override stored for the given
	// tenant and server. Missing rows yield ErrNotFound.
	TenantEndpoint(ctx context.Context, tenantID, serverID string) (string, error)

	// EmailForUserID resolves a user ID from the external identity table
	// to an email address. Missing rows yield ErrNotFound.
	EmailForUserID(ctx context.Context, userID string) (string, error)

	// EmbeddingsForTools bulk-reads persisted embedding vectors for the
	// given tool keys. Keys with no persisted vector are absent from the
	// result; an empty key set yields an empty map without a query.
	EmbeddingsForTools(ctx context.Context, keys []gateway.ToolKey) (map[gateway.ToolKey][]float32, error)

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close()
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/toolgate/pkg/gateway"
)

// queryTimeout bounds every individual read. Lookups here sit on the hot
// path of request handling, so a slow database must not stall callers
// indefinitely.
const queryTimeout = 5 * time.Second

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database and verifies connectivity
// before returning. The pool is sized by the connection string.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: creating connection pool: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrUnavailable, err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool. Used by tests and by
// callers that manage pool lifecycle themselves.
func NewPostgresStoreWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GroupsForUser returns the group names the user belongs to.
func (s *PostgresStore) GroupsForUser(ctx context.Context, email string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT group_name FROM toolgate.user_groups WHERE user_email = $1 ORDER BY group_name`,
		email,
	)
	if err != nil {
		return nil, wrapQueryError("listing groups for user", err)
	}
	return collectStrings(rows, "listing groups for user")
}

// ServersForGroup returns the server IDs a group is permitted to use.
func (s *PostgresStore) ServersForGroup(ctx context.Context, group string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT server_id FROM toolgate.group_servers WHERE group_name = $1 ORDER BY server_id`,
		group,
	)
	if err != nil {
		return nil, wrapQueryError("listing servers for group", err)
	}
	return collectStrings(rows, "listing servers for group")
}

// DirectServersForUser returns server IDs granted directly to the user.
// Any access level grants; the level column is not differentiated yet.
func (s *PostgresStore) DirectServersForUser(ctx context.Context, email string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT server_id FROM toolgate.direct_user_access WHERE user_email = $1 ORDER BY server_id`,
		email,
	)
	if err != nil {
		return nil, wrapQueryError("listing direct servers for user", err)
	}
	return collectStrings(rows, "listing direct servers for user")
}

// IsAdmin reports whether the user carries the admin flag. A missing row
// means false.
func (s *PostgresStore) IsAdmin(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM toolgate.admin_users WHERE user_email = $1)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, wrapQueryError("checking admin flag", err)
	}
	return exists, nil
}

// TenantCredential returns the secret stored for the tenant, server and
// key name.
func (s *PostgresStore) TenantCredential(ctx context.Context, tenantID, serverID, keyName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var secret string
	err := s.pool.QueryRow(ctx,
		`SELECT secret_value FROM toolgate.tenant_credentials
		 WHERE tenant_id = $1 AND server_id = $2 AND key_name = $3`,
		tenantID, serverID, keyName,
	).Scan(&secret)
	if err != nil {
		return "", wrapQueryError("fetching tenant credential", err)
	}
	return secret, nil
}

// TenantEndpoint returns the endpoint override stored for the tenant and
// server.
func (s *PostgresStore) TenantEndpoint(ctx context.Context, tenantID, serverID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var endpoint string
	err := s.pool.QueryRow(ctx,
		`SELECT endpoint FROM toolgate.tenant_endpoints
		 WHERE tenant_id = $1 AND server_id = $2`,
		tenantID, serverID,
	).Scan(&endpoint)
	if err != nil {
		return "", wrapQueryError("fetching tenant endpoint", err)
	}
	return endpoint, nil
}

// EmailForUserID resolves a user ID to an email via the external identity
// table. The users table is owned by the identity system; only this
// read touches it.
func (s *PostgresStore) EmailForUserID(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var email string
	err := s.pool.QueryRow(ctx,
		`SELECT email FROM users WHERE id = $1`,
		userID,
	).Scan(&email)
	if err != nil {
		return "", wrapQueryError("resolving user id", err)
	}
	return email, nil
}

// EmbeddingsForTools bulk-reads persisted embedding vectors. The key set
// is passed as parallel arrays so one round trip covers any batch size.
func (s *PostgresStore) EmbeddingsForTools(
	ctx context.Context,
	keys []gateway.ToolKey,
) (map[gateway.ToolKey][]float32, error) {
	result := make(map[gateway.ToolKey][]float32, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	serverIDs := make([]string, len(keys))
	toolNames := make([]string, len(keys))
	for i, k := range keys {
		serverIDs[i] = k.ServerID
		toolNames[i] = k.ToolName
	}

	rows, err := s.pool.Query(ctx,
		`SELECT e.server_id, e.tool_name, e.embedding
		 FROM toolgate.tool_embeddings e
		 JOIN unnest($1::text[], $2::text[]) AS want(server_id, tool_name)
		   ON e.server_id = want.server_id AND e.tool_name = want.tool_name`,
		serverIDs, toolNames,
	)
	if err != nil {
		return nil, wrapQueryError("reading tool embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key    gateway.ToolKey
			vector []float32
		)
		if err := rows.Scan(&key.ServerID, &key.ToolName, &vector); err != nil {
			return nil, wrapQueryError("scanning tool embedding", err)
		}
		result[key] = vector
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError("reading tool embeddings", err)
	}
	return result, nil
}

// Ping verifies connectivity to the store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: pinging database: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// collectStrings drains a single-column result set. Rows are closed before
// returning.
func collectStrings(rows pgx.Rows, op string) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, wrapQueryError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(op, err)
	}
	return out, nil
}

// wrapQueryError maps driver errors onto the store sentinels. A missing
// row is reported as ErrNotFound; everything else counts as an outage so
// access decisions can fail closed.
func wrapQueryError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

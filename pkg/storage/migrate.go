// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	// Registers the pgx stdlib driver used to open the migration connection.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies all pending schema migrations using goose. It opens a
// plain database/sql connection because goose does not speak the pgx
// native protocol. The external identity tables are not touched.
func Migrate(ctx context.Context, connString string) error {
	return withProvider(connString, func(provider *goose.Provider) error {
		if _, err := provider.Up(ctx); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the most recently applied migration.
func MigrateDown(ctx context.Context, connString string) error {
	return withProvider(connString, func(provider *goose.Provider) error {
		if _, err := provider.Down(ctx); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		return nil
	})
}

// MigrationStatus returns one line per known migration with its state.
func MigrationStatus(ctx context.Context, connString string) ([]string, error) {
	var lines []string
	err := withProvider(connString, func(provider *goose.Provider) error {
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		for _, status := range statuses {
			lines = append(lines, fmt.Sprintf("%s: %s", status.Source.Path, status.State))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// withProvider opens a migration connection, builds the goose provider on
// the embedded migration files and runs fn against it.
func withProvider(connString string, fn func(*goose.Provider) error) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	// The embedded filesystem nests everything under "migrations/"; goose
	// wants a flat filesystem of .sql files.
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectPostgres, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	return fn(provider)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package embeddings generates vector embeddings for semantic tool search.
package embeddings

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Provider

// Provider generates vector embeddings from text. Implementations may use
// remote services or deterministic fakes.
type Provider interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vector embeddings for multiple texts, one per
	// input and in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the provider.
	Close() error
}

// NewProvider returns the embedding provider for the given endpoint, or
// nil when embeddings are disabled (empty endpoint). A nil provider is
// valid: search falls back to substring ranking.
func NewProvider(endpoint string, timeout time.Duration) (Provider, error) {
	if endpoint == "" {
		return nil, nil
	}
	return newTEIClient(endpoint, timeout)
}

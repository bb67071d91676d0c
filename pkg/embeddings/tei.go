// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// embedPath is the TEI (Text Embeddings Inference) embed endpoint.
const embedPath = "/embed"

// defaultTimeout bounds each request to the embedding service.
const defaultTimeout = 30 * time.Second

// embedRequest is the TEI request body. Truncate lets the service cut
// inputs that exceed the model's context rather than erroring.
type embedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// teiClient talks to a TEI-compatible embedding service.
type teiClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Provider = (*teiClient)(nil)

// newTEIClient creates a client for the given base URL. A zero timeout
// selects the default.
func newTEIClient(baseURL string, timeout time.Duration) (*teiClient, error) {
	if baseURL == "" {
		return nil, errors.New("TEI BaseURL is required")
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &teiClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Embed returns a vector embedding for the given text.
func (c *teiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch returns vector embeddings for multiple texts in input order.
func (c *teiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("TEI returned status %d: %s", resp.StatusCode, msg)
	}

	var embeddings [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("TEI returned %d embeddings for %d inputs", len(embeddings), len(texts))
	}

	return embeddings, nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (*teiClient) Close() error {
	return nil
}

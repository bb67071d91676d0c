// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream implements the per-tier discovery and invocation
// strategies. The tier set is closed: JSON-RPC upstreams speak MCP
// streamable HTTP through the mcp-go client; every other tier exposes plain
// HTTP endpoints, either natively or through a bridge façade, and is walked
// via its OpenAPI document.
package upstream

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// maxResponseSize caps upstream response bodies. A single oversized
// response must not exhaust gateway memory; upstreams needing more should
// paginate.
const maxResponseSize = 100 * 1024 * 1024 // 100 MB

// Discovery is the outcome of walking one upstream: the advertised tools
// plus any reusable schema components its OpenAPI document declares.
type Discovery struct {
	// Tools are the advertised tool records, in document order.
	Tools []gateway.ToolRecord

	// Schemas holds the upstream's components.schemas entries, when the
	// tier exposes an OpenAPI document. Keyed by schema name.
	Schemas map[string]map[string]any
}

// Result is the normalised outcome of one tool invocation. The body is
// opaque: the gateway forwards it verbatim with the content type preserved.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client executes tier-appropriate discovery and invocation against
// resolved targets. One Client is constructed at startup and shared by the
// refresh engine and the router; it holds the single egress HTTP client.
type Client struct {
	httpClient *http.Client
}

// New builds the shared upstream client. Per-call deadlines come from the
// caller's context, not from the HTTP client, so discovery and invocation
// can carry different timeouts.
func New() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: sizeLimitedTransport(http.DefaultTransport),
		},
	}
}

// Discover fetches the tool list from the target using the strategy for
// its tier. An upstream advertising no tools yields an empty Discovery,
// not an error.
func (c *Client) Discover(ctx context.Context, target *tenant.Target) (*Discovery, error) {
	if target.Server.Tier.UsesRPC() {
		return c.discoverRPC(ctx, target)
	}
	return c.discoverOpenAPI(ctx, target)
}

// Invoke executes one tool call against the target. The raw JSON body is
// passed through for HTTP-family tiers and wrapped in a tools/call
// envelope for the JSON-RPC tier.
func (c *Client) Invoke(
	ctx context.Context,
	target *tenant.Target,
	record gateway.ToolRecord,
	body []byte,
) (*Result, error) {
	if target.Server.Tier.UsesRPC() {
		return c.invokeRPC(ctx, target, record, body)
	}
	return c.invokeHTTP(ctx, target, record, body)
}

// sizeLimitedTransport wraps response bodies with the size cap before any
// decoding happens.
func sizeLimitedTransport(base http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Body = struct {
			io.Reader
			io.Closer
		}{
			Reader: io.LimitReader(resp.Body, maxResponseSize),
			Closer: resp.Body,
		}
		return resp, nil
	})
}

// roundTripperFunc is a function adapter for http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// bearerTransport injects the effective credential on every egress
// request. The credential never appears anywhere else.
type bearerTransport struct {
	base       http.RoundTripper
	credential string
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if b.credential != "" {
		clone.Header.Set("Authorization", "Bearer "+b.credential)
	}
	return b.base.RoundTrip(clone)
}

// rpcHTTPClient builds the HTTP client handed to the mcp-go transports:
// size limit plus credential injection on top of the shared transport.
func (c *Client) rpcHTTPClient(target *tenant.Target, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &bearerTransport{
			base:       c.httpClient.Transport,
			credential: target.Credential,
		},
		Timeout: timeout,
	}
}

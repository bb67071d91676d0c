// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// clientName identifies the gateway in the MCP initialize handshake.
const clientName = "toolgate"

// discoverRPC lists the tools a JSON-RPC upstream advertises via the MCP
// tools/list call and converts each advertised input schema to the
// request-body shape the rest of the gateway works with.
func (c *Client) discoverRPC(ctx context.Context, target *tenant.Target) (*Discovery, error) {
	mcpClient, err := c.connectRPC(ctx, target)
	if err != nil {
		return nil, err
	}
	defer closeRPC(mcpClient)

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, wrapUpstreamError(err, target.Server.ID, "list tools")
	}

	discovery := &Discovery{}
	for _, tool := range result.Tools {
		discovery.Tools = append(discovery.Tools, gateway.ToolRecord{
			ServerID:    target.Server.ID,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: convertInputSchema(tool.InputSchema),
			Tier:        target.Server.Tier,
			Invocation:  gateway.InvocationHint{RPCMethod: tool.Name},
		})
	}
	return discovery, nil
}

// invokeRPC wraps the call in a tools/call envelope and returns the final
// result payload as JSON. JSON-RPC error objects surface as upstream
// failures; tool-level IsError results are part of the payload and travel
// back to the caller in band.
func (c *Client) invokeRPC(
	ctx context.Context,
	target *tenant.Target,
	record gateway.ToolRecord,
	body []byte,
) (*Result, error) {
	var arguments map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &arguments); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidBody, err)
		}
	}

	mcpClient, err := c.connectRPC(ctx, target)
	if err != nil {
		return nil, err
	}
	defer closeRPC(mcpClient)

	result, err := mcpClient.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      record.Invocation.RPCMethod,
			Arguments: arguments,
		},
	})
	if err != nil {
		return nil, wrapUpstreamError(err, target.Server.ID, "call tool")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding result from %s: %v",
			gateway.ErrUpstreamFailed, target.Server.ID, err)
	}

	return &Result{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        payload,
	}, nil
}

// connectRPC starts and initialises a streamable-HTTP MCP client for the
// target. Request and response IDs increase monotonically per connection;
// the transport owns that bookkeeping.
func (c *Client) connectRPC(ctx context.Context, target *tenant.Target) (*client.Client, error) {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		// An elapsed deadline must still produce a real transport
		// timeout, never an unbounded client.
		if timeout < time.Millisecond {
			timeout = time.Millisecond
		}
	}

	mcpClient, err := client.NewStreamableHttpClient(
		target.Endpoint,
		transport.WithHTTPTimeout(timeout),
		transport.WithHTTPBasicClient(c.rpcHTTPClient(target, timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating streamable-http client for %s: %w", target.Server.ID, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		closeRPC(mcpClient)
		return nil, wrapUpstreamError(err, target.Server.ID, "connect")
	}

	if _, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}); err != nil {
		closeRPC(mcpClient)
		return nil, wrapUpstreamError(err, target.Server.ID, "initialize")
	}

	return mcpClient, nil
}

func closeRPC(c *client.Client) {
	if err := c.Close(); err != nil {
		logger.Debugf("Failed to close MCP client: %v", err)
	}
}

// convertInputSchema flattens the advertised MCP input schema into the
// JSON-schema map shape used by the catalog and the OpenAPI emitter.
// Round-tripping through the emitter preserves properties and required
// flags exactly.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": "object"}
	if schema.Type != "" {
		out["type"] = schema.Type
	}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

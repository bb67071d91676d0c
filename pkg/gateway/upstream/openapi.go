// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/tenant"
)

// openAPIPath is the document location every HTTP-family upstream serves.
const openAPIPath = "/openapi.json"

// discoverOpenAPI fetches {endpoint}/openapi.json and turns every POST
// operation into a ToolRecord. The tool name is the final path segment;
// the full operation path is kept in the invocation hint so nested paths
// still route correctly.
func (c *Client) discoverOpenAPI(ctx context.Context, target *tenant.Target) (*Discovery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Endpoint+openAPIPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request for %s: %w", target.Server.ID, err)
	}
	if target.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+target.Credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUpstreamError(err, target.Server.ID, "fetch OpenAPI document")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d for %s",
			gateway.ErrUpstreamFailed, target.Server.ID, resp.StatusCode, openAPIPath)
	}

	doc, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapUpstreamError(err, target.Server.ID, "read OpenAPI document")
	}
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: %s served a malformed OpenAPI document",
			gateway.ErrUpstreamFailed, target.Server.ID)
	}

	return parseOpenAPIDocument(doc, target.Server)
}

// parseOpenAPIDocument walks the paths map of an OpenAPI document and
// collects POST operations plus the reusable components.schemas entries.
// A document without a paths map is treated as advertising no tools.
func parseOpenAPIDocument(doc []byte, server *gateway.ServerDescriptor) (*Discovery, error) {
	discovery := &Discovery{}

	gjson.GetBytes(doc, "paths").ForEach(func(path, operations gjson.Result) bool {
		post := operations.Get("post")
		if !post.Exists() {
			return true
		}

		name := toolNameFromPath(path.String())
		if name == "" {
			return true
		}

		record := gateway.ToolRecord{
			ServerID:    server.ID,
			Name:        name,
			Description: operationDescription(post),
			InputSchema: requestBodySchema(post),
			Tier:        server.Tier,
			Invocation: gateway.InvocationHint{
				HTTPPath:   ensureLeadingSlash(path.String()),
				HTTPMethod: http.MethodPost,
			},
		}
		discovery.Tools = append(discovery.Tools, record)
		return true
	})

	schemas := gjson.GetBytes(doc, "components.schemas")
	if schemas.IsObject() {
		discovery.Schemas = make(map[string]map[string]any, len(schemas.Map()))
		schemas.ForEach(func(name, schema gjson.Result) bool {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(schema.Raw), &decoded); err == nil {
				discovery.Schemas[name.String()] = decoded
			}
			return true
		})
	}

	return discovery, nil
}

// invokeHTTP posts the body to the tool's operation path with the
// effective credential. The response is opaque: status, content type, and
// body travel back to the caller untouched.
func (c *Client) invokeHTTP(
	ctx context.Context,
	target *tenant.Target,
	record gateway.ToolRecord,
	body []byte,
) (*Result, error) {
	path := record.Invocation.HTTPPath
	if path == "" {
		path = "/" + record.Name
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building call request for %s: %w", target.Server.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+target.Credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUpstreamError(err, target.Server.ID, "call tool")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapUpstreamError(err, target.Server.ID, "read tool response")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s returned status %d",
			gateway.ErrUpstreamFailed, target.Server.ID, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Result{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        payload,
	}, nil
}

// operationDescription prefers the operation summary over its description.
func operationDescription(op gjson.Result) string {
	if summary := op.Get("summary").String(); summary != "" {
		return summary
	}
	return op.Get("description").String()
}

// requestBodySchema lifts the application/json request schema of an
// operation, or an empty object schema when the operation takes no body.
func requestBodySchema(op gjson.Result) map[string]any {
	raw := op.Get(`requestBody.content.application/json.schema`)
	if raw.IsObject() {
		var schema map[string]any
		if err := json.Unmarshal([]byte(raw.Raw), &schema); err == nil {
			return schema
		}
	}
	return map[string]any{"type": "object"}
}

// toolNameFromPath extracts the final segment of an operation path.
// Templated segments cannot be addressed as tools and are skipped.
func toolNameFromPath(path string) string {
	segment := path[strings.LastIndex(path, "/")+1:]
	if segment == "" || strings.ContainsAny(segment, "{}") {
		return ""
	}
	return segment
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

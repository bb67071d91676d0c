// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package openapi assembles the caller-filtered OpenAPI 3.1 document.
// The document is built fresh per request from the current catalog
// snapshot and the caller's access set; between refreshes the same caller
// always receives byte-equivalent output because the document is plain
// maps and encoding/json sorts object keys.
package openapi

import (
	"context"
	"reflect"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/gateway/access"
	"github.com/stacklok/toolgate/pkg/gateway/catalog"
)

const specVersion = "3.1.0"

// Emitter renders the gateway's API surface as OpenAPI 3.1.
type Emitter struct {
	catalog  *catalog.Catalog
	access   *access.Resolver
	metaMode bool
	title    string
	version  string
}

// New wires the emitter. metaMode switches the document from one
// operation per tool to the three-operation façade.
func New(cat *catalog.Catalog, accessResolver *access.Resolver, metaMode bool, title, version string) *Emitter {
	if title == "" {
		title = "Tool Gateway"
	}
	if version == "" {
		version = "0.0.0"
	}
	return &Emitter{
		catalog:  cat,
		access:   accessResolver,
		metaMode: metaMode,
		title:    title,
		version:  version,
	}
}

// Document builds the caller's view of the API. Before the first refresh
// completes the document is valid but carries no operations.
func (e *Emitter) Document(ctx context.Context, identity *auth.Identity) (map[string]any, error) {
	paths := map[string]any{}
	schemas := map[string]any{}

	if e.metaMode {
		e.addMetaOperations(paths, schemas)
	} else if err := e.addToolOperations(ctx, identity, paths, schemas); err != nil {
		return nil, err
	}

	return map[string]any{
		"openapi": specVersion,
		"info": map[string]any{
			"title":   e.title,
			"version": e.version,
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": schemas,
		},
	}, nil
}

// addToolOperations emits one POST per permitted tool plus the deprecated
// flat-name alias, then merges the upstream component schemas.
func (e *Emitter) addToolOperations(
	ctx context.Context,
	identity *auth.Identity,
	paths, schemas map[string]any,
) error {
	permitted, err := e.access.AccessSet(ctx, identity)
	if err != nil {
		return err
	}

	snapshot := e.catalog.Snapshot()
	for _, serverID := range permitted {
		for _, record := range snapshot.ServerTools(serverID) {
			qualified := serverID + "_" + record.Name
			schemas[qualified] = inputSchema(record)

			paths["/"+serverID+"/"+record.Name] = map[string]any{
				"post": e.toolOperation(record, qualified, false),
			}
			paths["/"+qualified] = map[string]any{
				"post": e.toolOperation(record, qualified, true),
			}
		}
	}

	// Permitted servers iterate in sorted order, so collision prefixing is
	// deterministic across requests.
	for _, serverID := range permitted {
		mergeComponentSchemas(schemas, serverID, snapshot.ServerSchemas(serverID))
	}
	return nil
}

func (*Emitter) toolOperation(record gateway.ToolRecord, qualified string, deprecated bool) map[string]any {
	operationID := qualified
	if deprecated {
		operationID = qualified + "_flat"
	}
	op := map[string]any{
		"operationId": operationID,
		"tags":        []any{record.ServerID},
		"requestBody": map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"$ref": "#/components/schemas/" + qualified,
					},
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{
				"description": "Tool response",
			},
		},
	}
	if record.Description != "" {
		op["summary"] = record.Description
	}
	if deprecated {
		op["deprecated"] = true
	}
	return op
}

// addMetaOperations emits exactly the three façade operations. Individual
// tools are not advertised in this mode.
func (e *Emitter) addMetaOperations(paths, schemas map[string]any) {
	schemas["search_tools_input"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"top_k": map[string]any{"type": "integer"},
		},
		"required": []any{"query"},
	}
	schemas["describe_tools_input"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"names": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"names"},
	}
	schemas["call_tool_input"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"type": "string"},
			"arguments": map[string]any{"type": "object"},
		},
		"required": []any{"name"},
	}

	meta := map[string]string{
		"search_tools":   "Rank the caller's permitted tools against a natural-language query",
		"describe_tools": "Return the full input schema for qualified tool names",
		"call_tool":      "Execute a tool addressed by its qualified name",
	}
	for name, summary := range meta {
		paths["/meta/"+name] = map[string]any{
			"post": map[string]any{
				"operationId": name,
				"summary":     summary,
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{
								"$ref": "#/components/schemas/" + name + "_input",
							},
						},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Tool response",
					},
				},
			},
		}
	}
}

// inputSchema returns the tool's schema, or the empty-object schema when
// the upstream advertised none.
func inputSchema(record gateway.ToolRecord) map[string]any {
	if len(record.InputSchema) == 0 {
		return map[string]any{"type": "object"}
	}
	return record.InputSchema
}

// mergeComponentSchemas folds one server's upstream component schemas into
// the shared table. Identical duplicates collapse to one entry; a name
// already taken by a different schema gets the server ID as a prefix.
func mergeComponentSchemas(schemas map[string]any, serverID string, components map[string]map[string]any) {
	for name, schema := range components {
		existing, taken := schemas[name]
		if !taken {
			schemas[name] = schema
			continue
		}
		if reflect.DeepEqual(existing, schema) {
			continue
		}
		schemas[serverID+"_"+name] = schema
	}
}

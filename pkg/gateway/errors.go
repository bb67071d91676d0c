// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"strings"
)

// Domain errors shared across toolgate subpackages. They are defined at the
// package root and should be checked with errors.Is(); wrapping errors add
// the specific server, tool, or operation involved.
var (
	// ErrServerNotFound indicates the requested server ID is not in the catalog.
	ErrServerNotFound = errors.New("server not found")

	// ErrToolNotFound indicates the requested tool is not in the catalog.
	ErrToolNotFound = errors.New("tool not found")

	// ErrAccessDenied indicates the caller's access set does not include the
	// target server. Denied calls are never forwarded upstream.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotReady indicates the catalog has not been populated yet.
	// Listings degrade to empty; tool calls surface this as 503.
	ErrNotReady = errors.New("catalog not populated")

	// ErrUpstreamUnavailable indicates a connect failure reaching the
	// upstream. Surfaced to callers as 504.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout indicates the per-call deadline expired while
	// waiting on the upstream. Surfaced to callers as 504.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrUpstreamFailed indicates the upstream answered with a 5xx status or
	// a JSON-RPC error object. Surfaced to callers as 502.
	ErrUpstreamFailed = errors.New("upstream request failed")

	// ErrInvalidBody indicates the request body is not valid JSON or does not
	// satisfy the tool's input schema.
	ErrInvalidBody = errors.New("invalid request body")

	// ErrBodyTooLarge indicates the request body exceeds the configured
	// ceiling. Bodies exactly at the limit are accepted.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrRefreshInProgress indicates an explicit refresh was requested while
	// another refresh holds the rebuild guard.
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrDuplicateTool indicates an upstream advertised the same tool name
	// twice in one discovery batch. The batch is rejected.
	ErrDuplicateTool = errors.New("duplicate tool name within server")

	// ErrInvalidDescriptor indicates a malformed upstream descriptor entry.
	ErrInvalidDescriptor = errors.New("invalid server descriptor")
)

// IsTimeoutError reports whether the error message indicates a timeout.
// Used as a fallback when libraries surface timeouts as plain strings
// rather than net.Error or context errors.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}

// IsConnectionError reports whether the error message indicates a failure
// to reach the peer at all.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network is unreachable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

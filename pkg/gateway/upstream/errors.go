// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/stacklok/toolgate/pkg/gateway"
)

// wrapUpstreamError maps a transport failure to the matching sentinel so
// handlers can translate it with errors.Is instead of string matching.
//
// Detection order: typed context and net errors first, then message
// patterns for libraries that flatten their failures to strings.
func wrapUpstreamError(err error, serverID, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s on %s: %v", gateway.ErrUpstreamTimeout, operation, serverID, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s on %s cancelled: %v", gateway.ErrUpstreamUnavailable, operation, serverID, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s on %s: %v", gateway.ErrUpstreamTimeout, operation, serverID, err)
	}

	if gateway.IsTimeoutError(err) {
		return fmt.Errorf("%w: %s on %s: %v", gateway.ErrUpstreamTimeout, operation, serverID, err)
	}
	if gateway.IsConnectionError(err) {
		return fmt.Errorf("%w: %s on %s: %v", gateway.ErrUpstreamUnavailable, operation, serverID, err)
	}

	return fmt.Errorf("%w: %s on %s: %v", gateway.ErrUpstreamUnavailable, operation, serverID, err)
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stacklok/toolgate/pkg/gateway"
	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/storage"
)

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the gateway error taxonomy to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrServerNotFound), errors.Is(err, gateway.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, gateway.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrNotReady), errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrUpstreamTimeout), errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusGatewayTimeout
	case errors.Is(err, gateway.ErrUpstreamFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the error as JSON. Client errors carry the message;
// server errors log the detail and return the bare status text so internal
// state never leaks.
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code >= http.StatusInternalServerError {
		logger.Errorf("Request failed: %v", err)
		message = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: message})
}

// writeJSON renders any payload with the given status.
func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}

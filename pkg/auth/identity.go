// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves the caller identity for every gateway request.
package auth

import (
	"encoding/json"
	"fmt"
)

// Identity represents the caller of a gateway request. The zero value is
// the anonymous identity: no email, no groups, no admin flag. Anonymous
// callers are never rejected here; access resolution downstream simply
// grants them nothing.
type Identity struct {
	// Email is the caller's email address, lower-cased. Empty for
	// anonymous callers.
	Email string

	// Name is the human-readable name, when a source provided one.
	Name string

	// Groups are the group names the caller belongs to, deduplicated.
	// Comparison is case-sensitive throughout.
	Groups []string

	// Admin is set when the caller carries the admin flag.
	Admin bool

	// Token is the original bearer token when the identity came from one.
	// This is redacted in String() and MarshalJSON() to prevent leakage.
	Token string
}

// Anonymous returns the degenerate identity used when no source yields a
// caller.
func Anonymous() *Identity {
	return &Identity{}
}

// IsAnonymous reports whether the identity carries no caller.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.Email == ""
}

// String returns a representation safe for logs. The token is never
// included.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Email:%q, Admin:%v}", i.Email, i.Admin)
}

// MarshalJSON redacts the token so an Identity can never leak credentials
// through structured logs or API responses.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type SafeIdentity struct {
		Email  string   `json:"email"`
		Name   string   `json:"name,omitempty"`
		Groups []string `json:"groups"`
		Admin  bool     `json:"admin"`
		Token  string   `json:"token,omitempty"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&SafeIdentity{
		Email:  i.Email,
		Name:   i.Name,
		Groups: i.Groups,
		Admin:  i.Admin,
		Token:  token,
	})
}

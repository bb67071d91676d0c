// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

// IdentityContextKey is the key used to store the Identity in the request
// context. An empty struct type cannot collide with keys from other
// packages.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context. A nil identity leaves
// the context unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves the Identity from the context. Returns the
// identity and true if present, nil and false otherwise.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// IdentityFromContextOrAnonymous retrieves the Identity from the context,
// falling back to the anonymous identity. Handlers can always assume a
// non-nil identity.
func IdentityFromContextOrAnonymous(ctx context.Context) *Identity {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity
	}
	return Anonymous()
}

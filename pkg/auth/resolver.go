// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/storage"
)

// Headers set by the trusted edge proxy. The edge strips these from
// external traffic, so their presence attests upstream validation.
const (
	HeaderEdgeValidated = "X-Edge-Validated"
	HeaderEmail         = "X-Auth-Request-Email"
	HeaderGroups        = "X-Auth-Request-Groups"
	HeaderAdmin         = "X-Auth-Request-Admin"
	HeaderUser          = "X-Auth-Request-User"
)

// SessionCookieName carries the bearer token for browser sessions.
const SessionCookieName = "toolgate_session"

// Resolver produces an Identity for each inbound request. It never fails
// the request: any problem with a source yields the anonymous identity and
// the outer edge is expected to refuse unsigned traffic.
type Resolver struct {
	secret []byte
	store  storage.Store
}

// NewResolver builds a Resolver on the shared signing secret. The store
// supplies group membership, the admin flag, and user-id resolution for
// tokens that do not carry an email claim.
func NewResolver(secret string, store storage.Store) *Resolver {
	return &Resolver{secret: []byte(secret), store: store}
}

// Resolve inspects the request sources in priority order: edge headers,
// then the Authorization bearer token, then the session cookie. The first
// source present wins; later sources are not consulted even when the
// winning source yields an anonymous identity.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) *Identity {
	if req.Header.Get(HeaderEdgeValidated) != "" {
		return r.fromEdgeHeaders(req)
	}

	if token := bearerToken(req); token != "" {
		return r.fromToken(ctx, token)
	}

	if cookie, err := req.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return r.fromToken(ctx, cookie.Value)
	}

	return Anonymous()
}

// fromEdgeHeaders trusts the sibling headers verbatim. Groups arrive
// comma-separated.
func (*Resolver) fromEdgeHeaders(req *http.Request) *Identity {
	identity := &Identity{
		Email: strings.ToLower(strings.TrimSpace(req.Header.Get(HeaderEmail))),
		Name:  req.Header.Get(HeaderUser),
	}

	if raw := req.Header.Get(HeaderGroups); raw != "" {
		var groups []string
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
		identity.Groups = dedupeGroups(groups)
	}

	if admin, err := strconv.ParseBool(req.Header.Get(HeaderAdmin)); err == nil {
		identity.Admin = admin
	}

	return identity
}

// fromToken validates the token and enriches the identity from the store.
// The signature check admits exactly one algorithm; tokens signed any
// other way are treated as absent.
func (r *Resolver) fromToken(ctx context.Context, tokenString string) *Identity {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		logger.Debugf("Bearer token rejected: %v", err)
		return Anonymous()
	}

	email, err := r.emailFromClaims(ctx, claims)
	if err != nil {
		logger.Debugf("Could not resolve caller from token claims: %v", err)
		return Anonymous()
	}

	identity := &Identity{
		Email: strings.ToLower(email),
		Token: tokenString,
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}

	groups, err := r.store.GroupsForUser(ctx, identity.Email)
	if err != nil {
		logger.Warnf("Group lookup failed for %s: %v", identity.Email, err)
	} else {
		identity.Groups = dedupeGroups(groups)
	}

	admin, err := r.store.IsAdmin(ctx, identity.Email)
	if err != nil {
		logger.Warnf("Admin lookup failed for %s: %v", identity.Email, err)
	} else {
		identity.Admin = admin
	}

	return identity
}

// emailFromClaims extracts the email claim directly or resolves a user-id
// claim against the external identity table.
func (r *Resolver) emailFromClaims(ctx context.Context, claims jwt.MapClaims) (string, error) {
	if email, ok := claims["email"].(string); ok && email != "" {
		return email, nil
	}

	userID, err := subjectClaim(claims)
	if err != nil {
		return "", err
	}

	email, err := r.store.EmailForUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("looking up user id %q: %w", userID, err)
	}
	return email, nil
}

// subjectClaim returns the sub claim as a string. Numeric subjects are
// common when the identity system keys users by integer ID.
func subjectClaim(claims jwt.MapClaims) (string, error) {
	switch sub := claims["sub"].(type) {
	case string:
		if sub != "" {
			return sub, nil
		}
	case float64:
		return strconv.FormatInt(int64(sub), 10), nil
	}
	return "", errors.New("token carries neither email nor sub claim")
}

// bearerToken extracts the token from the Authorization header, or ""
// when the header is absent or not a bearer scheme.
func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// dedupeGroups removes duplicate group names preserving first-seen order.
// Comparison is case-sensitive: "Ops" and "ops" are distinct tenants.
func dedupeGroups(groups []string) []string {
	if len(groups) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

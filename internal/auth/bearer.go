// Package auth implements the two independent authentication paths spec §9
// explicitly requires stay separate: BearerAuth (submission tokens, §4.3)
// and SignedAuth (query-endpoint signed claims, §6). They validate against
// different trust surfaces and are never unified.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/eidaws/statistics-gateway/internal/apperr"
)

// NodeResolver maps a bearer token value to the node it authenticates,
// honoring the valid_from/valid_until window (spec §3 Token invariant).
// Implemented by internal/store against the tokens table.
type NodeResolver interface {
	ResolveToken(ctx context.Context, token string) (nodeID int64, nodeName string, err error)
}

// BearerAuth extracts and resolves the submission bearer token (spec §4.3
// steps 1-2).
type BearerAuth struct {
	resolver NodeResolver
	header   string
}

// NewBearerAuth creates a BearerAuth reading the token from the given
// header (spec default "Authentication", not the standard "Authorization").
func NewBearerAuth(resolver NodeResolver, header string) *BearerAuth {
	if header == "" {
		header = "Authentication"
	}
	return &BearerAuth{resolver: resolver, header: header}
}

// Authenticate resolves the request's bearer token to a node identity.
// Returns apperr.Unauthenticated if the header is absent/malformed, or
// whatever the resolver reports (apperr.InvalidBearerToken) if the token
// doesn't match a live row.
func (b *BearerAuth) Authenticate(r *http.Request) (nodeID int64, nodeName string, err error) {
	token := extractBearer(r.Header.Get(b.header))
	if token == "" {
		return 0, "", apperr.Unauthenticated
	}
	return b.resolver.ResolveToken(r.Context(), token)
}

func extractBearer(headerValue string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
}

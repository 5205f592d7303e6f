// Package httpapi implements the HTTP facade (spec §4.7, §6): the state
// machine receive -> parse-params -> authenticate? -> authorize? -> plan
// -> execute -> shape -> respond, wired over the validator, auth,
// restriction, query, and store packages.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eidaws/statistics-gateway/internal/apperr"
	"github.com/eidaws/statistics-gateway/internal/auth"
	"github.com/eidaws/statistics-gateway/internal/query"
	"github.com/eidaws/statistics-gateway/internal/restriction"
	"github.com/eidaws/statistics-gateway/internal/store"
)

// Backend is the narrow slice of *store.Store the HTTP layer calls
// directly (outside the query.Store/restriction.PolicyLookup/
// auth.NodeResolver seams those packages already depend on), kept as an
// interface so handlers are testable with a fake store.
type Backend interface {
	Ping(ctx context.Context) error
	CheckGrants(ctx context.Context) ([]store.Grant, error)
	ListNodes(ctx context.Context) ([]store.NodeRow, error)
	ListNetworks(ctx context.Context) ([]store.NetworkRow, error)
	NodeDefaultPolicy(ctx context.Context, node string) (defaultPolicy *bool, easGroup string, err error)
	NetworkPolicy(ctx context.Context, node, network string) (inversion *bool, easGroup string, err error)
	Submit(ctx context.Context, nodeID int64, method string, req store.SubmissionRequest) error
}

// API holds the wired dependencies every handler needs.
type API struct {
	Store        Backend
	Resolver     *restriction.Resolver
	Bearer       *auth.BearerAuth
	Signed       *auth.SignedAuth
	Executor     *query.Executor
	Logger       zerolog.Logger
	MaxBodyBytes int64
}

// New creates an API.
func New(st Backend, resolver *restriction.Resolver, bearer *auth.BearerAuth, signed *auth.SignedAuth, executor *query.Executor, logger zerolog.Logger, maxBodyBytes int64) *API {
	return &API{
		Store:        st,
		Resolver:     resolver,
		Bearer:       bearer,
		Signed:       signed,
		Executor:     executor,
		Logger:       logger,
		MaxBodyBytes: maxBodyBytes,
	}
}

// writeError maps a domain error to its §7 status code and a short stable
// JSON body (the messages SPEC_FULL.md §12 fixes as test-asserted
// substrings).
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// readBody reads the request body up to maxBytes, defaulting to 8MiB.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	return io.ReadAll(r.Body)
}

// candidateNodes returns the node names a query should be gated against:
// the explicit `node` filter if present, else every known node (spec §4.6
// "If network is specified, the resolver gates the request before
// execution" — gating needs a node to pair with each network name when the
// caller didn't name one).
func (a *API) candidateNodes(r *http.Request, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	nodes, err := a.Store.ListNodes(r.Context())
	if err != nil {
		return nil, err
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names, nil
}

// isOperatorForAny reports whether claims make the caller an operator for
// at least one of the given nodes (GLOSSARY "Operator": memberof contains
// the node's eas_group).
func (a *API) isOperatorForAny(r *http.Request, claims auth.Claims, nodes []string) bool {
	if len(claims.MemberOf) == 0 {
		return false
	}
	for _, node := range nodes {
		_, easGroup, err := a.Store.NodeDefaultPolicy(r.Context(), node)
		if err != nil {
			continue
		}
		if restriction.IsOperator(easGroup, claims.MemberOf) {
			return true
		}
	}
	return false
}

package httpapi

import (
	"errors"
	"net/http"

	"github.com/eidaws/statistics-gateway/internal/apperr"
	"github.com/eidaws/statistics-gateway/internal/auth"
	"github.com/eidaws/statistics-gateway/internal/query"
	"github.com/eidaws/statistics-gateway/internal/restriction"
	"github.com/eidaws/statistics-gateway/internal/validator"
)

// rawValues adapts a net/url.Values-shaped query string into
// validator.Values.
func rawValues(r *http.Request) validator.Values {
	q := r.URL.Query()
	out := make(validator.Values, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// literalNetworks returns the non-wildcard network filter values — the
// ones a pre-execution gate can resolve directly, as opposed to a glob that
// only the executor's per-row collapse can handle.
func literalNetworks(networks []validator.WildcardValue) []string {
	var out []string
	for _, n := range networks {
		if !n.UseLike {
			out = append(out, n.Value)
		}
	}
	return out
}

// publicNetworkGate hard-fails /public when the caller named an explicit
// restricted network (SPEC_FULL.md §12: PublicNoAccess is a 401, checked
// before the query runs; the broader, non-filtered case is instead handled
// by the executor's unconditional CollapseAll).
func (a *API) publicNetworkGate(r *http.Request, p validator.Params) error {
	literals := literalNetworks(p.Network)
	if len(literals) == 0 {
		return nil
	}
	nodes, err := a.candidateNodes(r, p.Node)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		for _, network := range literals {
			dec, err := a.Resolver.Resolve(r.Context(), node, network)
			if err != nil {
				if errors.Is(err, apperr.NoMatchingEntry) {
					continue
				}
				return err
			}
			if dec.State == restriction.Yes {
				return apperr.PublicNoAccess
			}
		}
	}
	return nil
}

// restrictedNetworkGate hard-fails /restricted and /raw with NotAuthorized
// (403) when the caller named an explicit restricted network they are
// neither group-authorized for nor the operator of.
func (a *API) restrictedNetworkGate(r *http.Request, p validator.Params, claims auth.Claims) error {
	literals := literalNetworks(p.Network)
	if len(literals) == 0 {
		return nil
	}
	nodes, err := a.candidateNodes(r, p.Node)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		isOperator := a.isOperatorForAny(r, claims, []string{node})
		for _, network := range literals {
			dec, err := a.Resolver.Resolve(r.Context(), node, network)
			if err != nil {
				if errors.Is(err, apperr.NoMatchingEntry) {
					continue
				}
				return err
			}
			if dec.State == restriction.Yes && !isOperator && !claims.IsMember(dec.Group) {
				return apperr.NotAuthorized
			}
		}
	}
	return nil
}

// Public handles GET /dataselect/public.
func (a *API) Public(w http.ResponseWriter, r *http.Request) {
	params, err := validator.Validate(validator.EndpointPublic, rawValues(r), false)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.publicNetworkGate(r, params); err != nil {
		writeError(w, err)
		return
	}

	plan := query.Build(params, false)
	rows, err := a.Executor.Execute(r.Context(), plan, query.Authz{CollapseAll: true})
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, r.URL.RawQuery, plan, rows)
}

// authenticateSigned reads the POST body as the detached-signature-wrapped
// token and verifies it (spec §6: "Signed-token body (query
// authentication)").
func (a *API) authenticateSigned(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	body, err := readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		writeError(w, apperr.Unauthenticated)
		return auth.Claims{}, false
	}
	if len(body) == 0 {
		writeError(w, apperr.Unauthenticated)
		return auth.Claims{}, false
	}
	claims, err := a.Signed.Authenticate(body)
	if err != nil {
		writeError(w, err)
		return auth.Claims{}, false
	}
	return claims, true
}

// Restricted handles POST /dataselect/restricted.
func (a *API) Restricted(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.authenticateSigned(w, r)
	if !ok {
		return
	}

	nodeFilter := validator.FlattenValues(r.URL.Query()["node"])
	candidates, err := a.candidateNodes(r, nodeFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	isOperator := a.isOperatorForAny(r, claims, candidates)

	params, err := validator.Validate(validator.EndpointRestricted, rawValues(r), isOperator)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.restrictedNetworkGate(r, params, claims); err != nil {
		writeError(w, err)
		return
	}

	plan := query.Build(params, false)
	authz := query.Authz{
		Groups:            claims.MemberOf,
		IsOperatorForNode: func(node string) bool { return a.isOperatorForAny(r, claims, []string{node}) },
	}
	rows, err := a.Executor.Execute(r.Context(), plan, authz)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, r.URL.RawQuery, plan, rows)
}

// Raw handles POST /dataselect/raw: same auth/restriction rules as
// Restricted, no aggregation (SPEC_FULL.md §12).
func (a *API) Raw(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.authenticateSigned(w, r)
	if !ok {
		return
	}

	nodeFilter := validator.FlattenValues(r.URL.Query()["node"])
	candidates, err := a.candidateNodes(r, nodeFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	isOperator := a.isOperatorForAny(r, claims, candidates)

	params, err := validator.Validate(validator.EndpointRaw, rawValues(r), isOperator)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.restrictedNetworkGate(r, params, claims); err != nil {
		writeError(w, err)
		return
	}

	plan := query.Build(params, true)
	authz := query.Authz{
		Groups:            claims.MemberOf,
		IsOperatorForNode: func(node string) bool { return a.isOperatorForAny(r, claims, []string{node}) },
	}
	rows, err := a.Executor.Execute(r.Context(), plan, authz)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, r.URL.RawQuery, plan, rows)
}

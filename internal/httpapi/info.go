package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/eidaws/statistics-gateway/internal/apperr"
)

// Health handles GET /_health: DB reachability plus the role's required
// grants (SPEC_FULL.md §12 supplemented feature). It answers 200 only when
// both hold, and 503 otherwise.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status  string   `json:"status"`
		Missing []string `json:"missing_grants,omitempty"`
	}{Status: "ok"}

	if err := a.Store.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unreachable"})
		return
	}

	missing, err := a.Store.CheckGrants(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, g := range missing {
		resp.Missing = append(resp.Missing, g.String())
	}
	w.Header().Set("Content-Type", "application/json")
	if len(resp.Missing) > 0 {
		resp.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Nodes handles GET /_nodes.
func (a *API) Nodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.Store.ListNodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type nodeOut struct {
		Name          string `json:"name"`
		DefaultPolicy *bool  `json:"default_policy"`
	}
	out := make([]nodeOut, len(nodes))
	for i, n := range nodes {
		out[i] = nodeOut{Name: n.Name, DefaultPolicy: n.DefaultPolicy}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Networks handles GET /_networks.
func (a *API) Networks(w http.ResponseWriter, r *http.Request) {
	networks, err := a.Store.ListNetworks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type netOut struct {
		Name      string `json:"name"`
		Node      string `json:"node"`
		Inversion *bool  `json:"inversion"`
	}
	out := make([]netOut, len(networks))
	for i, n := range networks {
		out[i] = netOut{Name: n.Name, Node: n.Node, Inversion: n.Inversion}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// IsRestricted handles GET /_isRestricted?node=...&network=... (spec §4.4).
func (a *API) IsRestricted(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	network := r.URL.Query().Get("network")
	if node == "" || network == "" {
		writeError(w, apperr.Mandatory)
		return
	}
	dec, err := a.Resolver.Resolve(r.Context(), node, network)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"node":       node,
		"network":    network,
		"restricted": dec.State.String(),
		"group":      dec.Group,
	})
}

// NodeRestrictionPolicy handles GET /node_restriction_policy?node=....
func (a *API) NodeRestrictionPolicy(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	if node == "" {
		writeError(w, apperr.Mandatory)
		return
	}
	defaultPolicy, _, err := a.Store.NodeDefaultPolicy(r.Context(), node)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"restriction_policy": boolPtrToFlag(defaultPolicy),
	})
}

// NetworkRestrictionPolicy handles GET /network_restriction_policy?node=...&network=....
func (a *API) NetworkRestrictionPolicy(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	network := r.URL.Query().Get("network")
	if node == "" || network == "" {
		writeError(w, apperr.Mandatory)
		return
	}
	inversion, easGroup, err := a.Store.NetworkPolicy(r.Context(), node, network)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"invert_policy": boolPtrToFlag(inversion),
		"eas_group":     easGroup,
	})
}

// boolPtrToFlag renders a nullable policy bool the way the original service
// does: "1"/"0" for a known value, null when unset.
func boolPtrToFlag(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return "1"
	}
	return "0"
}

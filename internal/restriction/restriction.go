// Package restriction implements the restriction resolver (spec §4.4):
// given a (node, network) pair, compute whether the network is visibility-
// gated and which group may bypass the gate.
//
// The resolver's shape — a struct holding a mutex-protected cache plus an
// Evaluate-style method returning a typed decision — is grounded on the
// teacher's policy/opa.go; the general Rego policy engine that file wraps
// has no analogue here, since this resolver is a closed two-flag truth
// table, not a pluggable policy language.
package restriction

import (
	"context"
	"sync"
	"time"

	"github.com/eidaws/statistics-gateway/redisclient"
)

// State is the tri-state restriction verdict.
type State int

const (
	No State = iota
	Yes
	Undefined
)

func (s State) String() string {
	switch s {
	case No:
		return "no"
	case Yes:
		return "yes"
	default:
		return "not yet defined"
	}
}

// Decision is the resolver's output for a (node, network) pair.
type Decision struct {
	State State
	// Group is the authorizing group for this network, if restricted.
	Group string
}

// PolicyLookup resolves the raw DB-resident flags the resolver needs. It is
// a narrow seam (grounded on the teacher's DBInterface-style handler
// pattern, see DESIGN.md) so the resolver is testable without a database.
type PolicyLookup interface {
	NodeDefaultPolicy(ctx context.Context, node string) (defaultPolicy *bool, easGroup string, err error)
	NetworkPolicy(ctx context.Context, node, network string) (inversion *bool, easGroup string, err error)
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// Resolver computes restriction decisions, cached briefly to avoid a DB
// round trip on every row of a large restricted-query result set.
type Resolver struct {
	lookup PolicyLookup
	redis  *redisclient.Client // optional; Resolve does not read or write it, decisions are cached in process only
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a Resolver. redis may be nil (in-process cache only, per
// main.go's "continue without Redis" resilience pattern).
func New(lookup PolicyLookup, redis *redisclient.Client, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		lookup: lookup,
		redis:  redis,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

func cacheKey(node, network string) string { return node + "\x00" + network }

// Resolve computes restricted(node, network) = nodeDefault XOR
// networkInversion, per spec §4.4's truth table. Either flag being unset
// (nil) yields Undefined — this follows the original service's
// implementation (views_restrictions.py: either None => "not yet
// defined"), the reading of spec §4.4 this resolver standardizes on; see
// DESIGN.md for the ambiguity this resolves.
func (r *Resolver) Resolve(ctx context.Context, node, network string) (Decision, error) {
	key := cacheKey(node, network)

	r.mu.Lock()
	if e, ok := r.cache[key]; ok && time.Now().Before(e.expiresAt) {
		r.mu.Unlock()
		return e.decision, nil
	}
	r.mu.Unlock()

	defaultPolicy, nodeGroup, err := r.lookup.NodeDefaultPolicy(ctx, node)
	if err != nil {
		// NoMatchingEntry is expected to be returned by the lookup itself
		// when no row matches (node unknown); propagate as-is.
		return Decision{}, err
	}
	inversion, netGroup, err := r.lookup.NetworkPolicy(ctx, node, network)
	if err != nil {
		return Decision{}, err
	}

	var dec Decision
	switch {
	case defaultPolicy == nil || inversion == nil:
		dec = Decision{State: Undefined}
	case *defaultPolicy != *inversion:
		group := nodeGroup
		if netGroup != "" {
			group = netGroup
		}
		dec = Decision{State: Yes, Group: group}
	default:
		dec = Decision{State: No}
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{decision: dec, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return dec, nil
}

// IsOperator reports whether callerGroups contains the node's eas_group,
// per the GLOSSARY's "Operator" definition.
func IsOperator(nodeEASGroup string, callerGroups map[string]struct{}) bool {
	if nodeEASGroup == "" {
		return false
	}
	_, ok := callerGroups[nodeEASGroup]
	return ok
}

// ParseGroups normalizes the signed token's semicolon-joined membership
// claim into a set. Only the ';'-separated shape is recognized; any other
// separator (such as a path-like '/' form) is kept as part of a group name,
// and empty segments are dropped.
func ParseGroups(claim string) map[string]struct{} {
	out := make(map[string]struct{})
	start := 0
	for i := 0; i <= len(claim); i++ {
		if i == len(claim) || claim[i] == ';' {
			if i > start {
				out[claim[start:i]] = struct{}{}
			}
			start = i + 1
		}
	}
	return out
}

// InvalidateCache clears all cached decisions (used when an admin changes
// a node/network's policy flags out of band).
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

package query

import (
	"context"
	"fmt"

	"github.com/eidaws/statistics-gateway/internal/hll"
	"github.com/eidaws/statistics-gateway/internal/restriction"
)

// Row is one output row: dimension fields are populated only when the
// plan's Projection selected them, blank otherwise (the output shaper
// renders unselected dimensions as "*"). Clients is nil when the row
// carries no client cardinality (e.g. a raw row whose stored sketch is
// null).
type Row struct {
	Date                                   string
	Node, Network, Station, Location       string
	Channel, Country                       string
	Bytes, NbRequests, NbSuccessfulRequests int64
	NbFailedRequests                        int64
	Clients                                 *hll.Sketch
}

// Store is what the executor needs from the storage layer: run a plan and
// return its rows. A real implementation renders Plan into SQL; the
// interface boundary keeps the partitioning logic below testable with a
// fake.
type Store interface {
	Query(ctx context.Context, plan Plan) ([]Row, error)
}

// Authz carries the caller's privileges into Execute for the per-row
// restriction gate (spec §4.4, SPEC_FULL.md §12's operator-bypass
// supplement).
type Authz struct {
	// CollapseAll forces every restricted row into "Other" regardless of
	// caller identity — the /public endpoint's rule: group membership and
	// operator status are ignored.
	CollapseAll bool

	// Groups is the caller's memberof set from a verified signed token.
	// Nil/empty for unauthenticated callers.
	Groups map[string]struct{}

	// IsOperatorForNode reports whether the caller is the operator of the
	// given node (member of its eas_group). Nil means never operator.
	IsOperatorForNode func(node string) bool
}

func hasGroup(groups map[string]struct{}, group string) bool {
	if groups == nil || group == "" {
		return false
	}
	_, ok := groups[group]
	return ok
}

// Executor runs a Plan against a Store and applies the restriction-aware
// "Other" collapse to the result (spec §4.4, §9's re-architecture note:
// partitioning is a pure function over rows + decisions, independent of
// the SQL that produced them).
type Executor struct {
	store    Store
	resolver *restriction.Resolver
}

// NewExecutor creates an Executor.
func NewExecutor(store Store, resolver *restriction.Resolver) *Executor {
	return &Executor{store: store, resolver: resolver}
}

// otherKey groups collapsed rows by the detail columns still present after
// the SNCL dimensions are folded into "Other" (date/country survive when
// the plan projects them; network-level identity does not).
type otherKey struct {
	date    string
	country string
}

// Execute runs plan and, when the plan projects the network dimension,
// applies the restriction gate: rows whose (node, network) resolves to
// restricted are collapsed into a synthetic "Other" row unless the caller
// is authorized (member of the authorizing group, or the node's operator).
// Rows for unrestricted or Undefined-state networks pass through unchanged.
func (e *Executor) Execute(ctx context.Context, plan Plan, authz Authz) ([]Row, error) {
	rows, err := e.store.Query(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if !plan.Projection.Network {
		return rows, nil
	}
	return e.partition(ctx, rows, authz)
}

func (e *Executor) partition(ctx context.Context, rows []Row, authz Authz) ([]Row, error) {
	others := make(map[otherKey]*Row)
	var order []otherKey
	out := make([]Row, 0, len(rows))

	for _, row := range rows {
		dec, err := e.resolver.Resolve(ctx, row.Node, row.Network)
		if err != nil {
			return nil, fmt.Errorf("resolve restriction for %s/%s: %w", row.Node, row.Network, err)
		}
		if dec.State != restriction.Yes {
			out = append(out, row)
			continue
		}

		operatorBypass := !authz.CollapseAll && authz.IsOperatorForNode != nil && authz.IsOperatorForNode(row.Node)
		groupAuthorized := !authz.CollapseAll && hasGroup(authz.Groups, dec.Group)
		if operatorBypass || groupAuthorized {
			out = append(out, row)
			continue
		}

		key := otherKey{date: row.Date, country: row.Country}
		agg, ok := others[key]
		if !ok {
			agg = &Row{Node: "Other", Network: "Other", Date: row.Date, Country: row.Country}
			others[key] = agg
			order = append(order, key)
		}
		agg.Bytes += row.Bytes
		agg.NbRequests += row.NbRequests
		agg.NbSuccessfulRequests += row.NbSuccessfulRequests
		agg.NbFailedRequests += row.NbFailedRequests
		if row.Clients != nil {
			if agg.Clients == nil {
				agg.Clients = hll.New(row.Clients.Precision())
			}
			if err := agg.Clients.UnionInto(row.Clients); err != nil {
				return nil, fmt.Errorf("union Other bucket: %w", err)
			}
		}
	}

	for _, k := range order {
		out = append(out, *others[k])
	}
	return out, nil
}

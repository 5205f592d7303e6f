package query

import (
	"context"
	"testing"

	"github.com/eidaws/statistics-gateway/internal/hll"
	"github.com/eidaws/statistics-gateway/internal/restriction"
)

type fakeStore struct{ rows []Row }

func (f fakeStore) Query(ctx context.Context, plan Plan) ([]Row, error) {
	return f.rows, nil
}

type fakePolicy struct {
	networkRestricted map[string]bool // keyed by node+"/"+network
	group             string
}

func (p fakePolicy) NodeDefaultPolicy(ctx context.Context, node string) (*bool, string, error) {
	return boolPtr(false), "", nil
}

func (p fakePolicy) NetworkPolicy(ctx context.Context, node, network string) (*bool, string, error) {
	restricted := p.networkRestricted[node+"/"+network]
	inv := boolPtr(restricted) // nodeDefault=false XOR inversion=restricted => restricted
	return inv, p.group, nil
}

func boolPtr(b bool) *bool { return &b }

func sketchWith(vals ...uint64) *hll.Sketch {
	s := hll.NewStandard()
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

func TestExecuteNoNetworkProjectionSkipsPartition(t *testing.T) {
	store := fakeStore{rows: []Row{{Node: "GFZ", Network: "RESTR"}}}
	policy := fakePolicy{networkRestricted: map[string]bool{"GFZ/RESTR": true}}
	exec := NewExecutor(store, restriction.New(policy, nil, 0))

	plan := Plan{Projection: Projection{Node: true}}
	rows, err := exec.Execute(context.Background(), plan, Authz{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Network != "RESTR" {
		t.Fatalf("expected pass-through when network isn't projected, got %+v", rows)
	}
}

func TestExecuteCollapsesUnauthorizedRestrictedNetwork(t *testing.T) {
	store := fakeStore{rows: []Row{
		{Date: "2020-09", Node: "GFZ", Network: "OPEN", Bytes: 10, Clients: sketchWith(1)},
		{Date: "2020-09", Node: "GFZ", Network: "RESTR", Bytes: 20, Clients: sketchWith(2)},
	}}
	policy := fakePolicy{networkRestricted: map[string]bool{"GFZ/RESTR": true}, group: "GFZ-RESTR"}
	exec := NewExecutor(store, restriction.New(policy, nil, 0))

	plan := Plan{Projection: Projection{Node: true, Network: true}}
	rows, err := exec.Execute(context.Background(), plan, Authz{Groups: map[string]struct{}{"other": {}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one open row + one Other row, got %d: %+v", len(rows), rows)
	}
	var other *Row
	for i := range rows {
		if rows[i].Network == "Other" {
			other = &rows[i]
		}
	}
	if other == nil || other.Bytes != 20 || other.Node != "Other" {
		t.Fatalf("expected collapsed Other row with Bytes=20, got %+v", other)
	}
}

func TestExecutePassesThroughWhenCallerInAuthorizingGroup(t *testing.T) {
	store := fakeStore{rows: []Row{{Node: "GFZ", Network: "RESTR", Bytes: 5}}}
	policy := fakePolicy{networkRestricted: map[string]bool{"GFZ/RESTR": true}, group: "GFZ-RESTR"}
	exec := NewExecutor(store, restriction.New(policy, nil, 0))

	plan := Plan{Projection: Projection{Node: true, Network: true}}
	rows, err := exec.Execute(context.Background(), plan, Authz{Groups: map[string]struct{}{"GFZ-RESTR": {}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Network != "RESTR" {
		t.Fatalf("expected authorized caller to see real network, got %+v", rows)
	}
}

func TestExecuteOperatorBypass(t *testing.T) {
	store := fakeStore{rows: []Row{{Node: "GFZ", Network: "RESTR", Bytes: 5}}}
	policy := fakePolicy{networkRestricted: map[string]bool{"GFZ/RESTR": true}, group: "GFZ-RESTR"}
	exec := NewExecutor(store, restriction.New(policy, nil, 0))

	plan := Plan{Projection: Projection{Node: true, Network: true}}
	authz := Authz{IsOperatorForNode: func(node string) bool { return node == "GFZ" }}
	rows, err := exec.Execute(context.Background(), plan, authz)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Network != "RESTR" {
		t.Fatalf("expected operator bypass, got %+v", rows)
	}
}

func TestExecuteCollapseAllIgnoresGroupAndOperator(t *testing.T) {
	store := fakeStore{rows: []Row{{Node: "GFZ", Network: "RESTR", Bytes: 5}}}
	policy := fakePolicy{networkRestricted: map[string]bool{"GFZ/RESTR": true}, group: "GFZ-RESTR"}
	exec := NewExecutor(store, restriction.New(policy, nil, 0))

	plan := Plan{Projection: Projection{Node: true, Network: true}}
	authz := Authz{
		CollapseAll:       true,
		Groups:            map[string]struct{}{"GFZ-RESTR": {}},
		IsOperatorForNode: func(string) bool { return true },
	}
	rows, err := exec.Execute(context.Background(), plan, authz)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Network != "Other" {
		t.Fatalf("expected /public to collapse unconditionally, got %+v", rows)
	}
}

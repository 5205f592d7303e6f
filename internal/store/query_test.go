package store

import (
	"strings"
	"testing"
	"time"

	"github.com/eidaws/statistics-gateway/internal/hll"
	"github.com/eidaws/statistics-gateway/internal/query"
	"github.com/eidaws/statistics-gateway/internal/validator"
)

func TestRenderSelectProjectsOnlyRequestedDims(t *testing.T) {
	plan := query.Plan{
		Projection: query.Projection{Node: true, Network: true},
		Filters:    query.Filters{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	spec := renderSelect(plan)

	if len(spec.dims) != 2 || spec.dims[0] != "node" || spec.dims[1] != "network" {
		t.Fatalf("unexpected dims: %v", spec.dims)
	}
	if !strings.Contains(spec.sql, "GROUP BY n.name, ds.network") {
		t.Fatalf("expected GROUP BY node+network, got: %s", spec.sql)
	}
	if !strings.Contains(spec.sql, "array_agg(ds.clients)") {
		t.Fatalf("expected array_agg over clients, got: %s", spec.sql)
	}
	if len(spec.args) != 1 {
		t.Fatalf("expected one bound arg (start), got %v", spec.args)
	}
}

func TestRenderSelectOrdersByMonthWhenProjected(t *testing.T) {
	plan := query.Plan{
		Projection: query.Projection{Node: true, Month: true},
		Filters:    query.Filters{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	spec := renderSelect(plan)
	if !strings.Contains(spec.sql, "ORDER BY date_month ASC") {
		t.Fatalf("expected ORDER BY date_month ASC, got: %s", spec.sql)
	}
}

func TestRenderSelectRawHasNoGroupBy(t *testing.T) {
	plan := query.Plan{
		Projection: query.Projection{Node: true, Network: true, Station: true},
		Filters:    query.Filters{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		Raw:        true,
	}
	spec := renderSelectRaw(plan)
	if strings.Contains(spec.sql, "GROUP BY") {
		t.Fatalf("raw query must not group: %s", spec.sql)
	}
	if !strings.Contains(spec.sql, "ds.clients") {
		t.Fatalf("expected per-row clients column, got: %s", spec.sql)
	}
}

func TestWildcardClauseUsesLikeOnlyForWildcardValues(t *testing.T) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$X"
	}
	values := []validator.WildcardValue{
		{Value: "EI%", UseLike: true},
		{Value: "FIXED", UseLike: false},
	}
	clause := wildcardClause("ds.station", values, arg)
	if !strings.Contains(clause, "ds.station LIKE $X") || !strings.Contains(clause, "ds.station = $X") {
		t.Fatalf("expected mixed LIKE/equality clause, got %q", clause)
	}
	if len(args) != 2 {
		t.Fatalf("expected both values bound, got %v", args)
	}
}

func TestRenderWhereEndIsExclusive(t *testing.T) {
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	where, args := renderWhere(query.Filters{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   &end,
	})
	if !strings.Contains(where, "ds.date >= $1") || !strings.Contains(where, "ds.date < $2") {
		t.Fatalf("expected half-open date range, got %q", where)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %v", args)
	}
}

func TestAssembleAggregatedRowUnionsClientsAgg(t *testing.T) {
	a := hll.NewStandard()
	a.Add(1)
	b := hll.NewStandard()
	b.Add(2)

	vals := []any{
		"GFZ",     // node
		"GE",      // network
		int64(10), // bytes
		int64(2),  // nb_requests
		int64(2),  // nb_successful_requests
		int64(0),  // nb_failed_requests
		[]any{a.ToBytes(), b.ToBytes()},
	}
	row, err := assembleAggregatedRow([]string{"node", "network"}, vals)
	if err != nil {
		t.Fatal(err)
	}
	if row.Node != "GFZ" || row.Network != "GE" || row.Bytes != 10 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Clients.Cardinality() == 0 {
		t.Fatalf("expected unioned cardinality > 0")
	}
}

func TestAssembleRawRowKeepsPerRowClients(t *testing.T) {
	s := hll.NewStandard()
	s.Add(42)
	vals := []any{
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), // date
		"GFZ",
		int64(5), int64(1), int64(1), int64(0),
		s.ToBytes(),
	}
	row, err := assembleRawRow([]string{"date", "node"}, vals)
	if err != nil {
		t.Fatal(err)
	}
	if row.Date != "2024-03-01" || row.Clients == nil || row.Clients.Cardinality() == 0 {
		t.Fatalf("unexpected row: %+v", row)
	}
}

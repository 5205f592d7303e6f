package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eidaws/statistics-gateway/internal/hll"
	"github.com/eidaws/statistics-gateway/internal/query"
	"github.com/eidaws/statistics-gateway/internal/validator"
)

// selectSpec is a rendered SQL statement plus the ordered list of dimension
// roles its SELECT list carries ahead of the fixed trailing aggregate
// columns. Keeping this a pure function of Plan (no DB handle) is the
// point of spec §9's re-architecture note: "makes SQL shape testable
// without a DB".
type selectSpec struct {
	sql  string
	args []any
	dims []string
}

// renderWhere builds the WHERE clause shared by both the aggregated and
// raw query paths.
func renderWhere(f query.Filters) (string, []any) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	clauses = append(clauses, "ds.date >= "+arg(f.Start))
	if f.End != nil {
		clauses = append(clauses, "ds.date < "+arg(*f.End))
	}
	if len(f.Node) > 0 {
		clauses = append(clauses, "n.name = ANY("+arg(f.Node)+")")
	}
	if c := wildcardClause("ds.network", f.Network, arg); c != "" {
		clauses = append(clauses, c)
	}
	if c := wildcardClause("ds.station", f.Station, arg); c != "" {
		clauses = append(clauses, c)
	}
	if c := wildcardClause("ds.location", f.Location, arg); c != "" {
		clauses = append(clauses, c)
	}
	if c := wildcardClause("ds.channel", f.Channel, arg); c != "" {
		clauses = append(clauses, c)
	}
	if len(f.Country) > 0 {
		clauses = append(clauses, "ds.country = ANY("+arg(f.Country)+")")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// wildcardClause ORs together one comparison per value: LIKE when the
// validator marked it a wildcard match, plain equality otherwise (the
// Open Question 3 fix, SPEC_FULL.md §13).
func wildcardClause(col string, values []validator.WildcardValue, arg func(any) string) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v.UseLike {
			parts = append(parts, col+" LIKE "+arg(v.Value))
		} else {
			parts = append(parts, col+" = "+arg(v.Value))
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// renderSelect builds the GROUP BY query used by /public and /restricted:
// project only the selected SNCL/detail dimensions, sum the counters, and
// array_agg the opaque HLL bytes for an application-side union (no
// server-side aggregate exists for the sketch's binary format).
func renderSelect(plan query.Plan) selectSpec {
	var cols, groupCols, dims []string
	add := func(role, expr string) {
		cols = append(cols, expr+" AS "+role)
		groupCols = append(groupCols, expr)
		dims = append(dims, role)
	}

	switch {
	case plan.Projection.Month:
		add("date_month", "date_trunc('month', ds.date)")
	case plan.Projection.Year:
		add("date_year", "date_trunc('year', ds.date)")
	}
	if plan.Projection.Node {
		add("node", "n.name")
	}
	if plan.Projection.Network {
		add("network", "ds.network")
	}
	if plan.Projection.Station {
		add("station", "ds.station")
	}
	if plan.Projection.Location {
		add("location", "ds.location")
	}
	if plan.Projection.Channel {
		add("channel", "ds.channel")
	}
	if plan.Projection.Country {
		add("country", "ds.country")
	}

	cols = append(cols,
		"sum(ds.bytes) AS bytes",
		"sum(ds.nb_requests) AS nb_requests",
		"sum(ds.nb_successful_requests) AS nb_successful_requests",
		"sum(ds.nb_failed_requests) AS nb_failed_requests",
		"array_agg(ds.clients) AS clients_agg",
	)

	where, args := renderWhere(plan.Filters)

	sql := "SELECT " + strings.Join(cols, ", ") +
		" FROM dataselect_stats ds JOIN nodes n ON n.id = ds.node_id" + where +
		" GROUP BY " + strings.Join(groupCols, ", ")

	switch {
	case plan.Projection.Month:
		sql += " ORDER BY date_month ASC"
	case plan.Projection.Year:
		sql += " ORDER BY date_year ASC"
	}

	return selectSpec{sql: sql, args: args, dims: dims}
}

// renderSelectRaw builds the /dataselect/raw query: one row per stored
// stat, no GROUP BY, the sketch column carried as-is (SPEC_FULL.md §12).
func renderSelectRaw(plan query.Plan) selectSpec {
	var cols, dims []string
	add := func(role, expr string) {
		cols = append(cols, expr+" AS "+role)
		dims = append(dims, role)
	}

	add("date", "ds.date")
	if plan.Projection.Node {
		add("node", "n.name")
	}
	if plan.Projection.Network {
		add("network", "ds.network")
	}
	if plan.Projection.Station {
		add("station", "ds.station")
	}
	if plan.Projection.Location {
		add("location", "ds.location")
	}
	if plan.Projection.Channel {
		add("channel", "ds.channel")
	}
	if plan.Projection.Country {
		add("country", "ds.country")
	}
	cols = append(cols, "ds.bytes", "ds.nb_requests", "ds.nb_successful_requests", "ds.nb_failed_requests", "ds.clients")

	where, args := renderWhere(plan.Filters)
	sql := "SELECT " + strings.Join(cols, ", ") +
		" FROM dataselect_stats ds JOIN nodes n ON n.id = ds.node_id" + where +
		" ORDER BY ds.date ASC"

	return selectSpec{sql: sql, args: args, dims: dims}
}

// Query implements query.Store by rendering and executing the appropriate
// SELECT, then assembling query.Row values.
func (s *Store) Query(ctx context.Context, plan query.Plan) ([]query.Row, error) {
	if plan.Raw {
		return s.runRaw(ctx, plan)
	}
	return s.runAggregated(ctx, plan)
}

func (s *Store) runAggregated(ctx context.Context, plan query.Plan) ([]query.Row, error) {
	spec := renderSelect(plan)
	rows, err := s.pool.Query(ctx, spec.sql, spec.args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregated stats: %w", err)
	}
	defer rows.Close()

	var out []query.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read stat row: %w", err)
		}
		row, err := assembleAggregatedRow(spec.dims, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) runRaw(ctx context.Context, plan query.Plan) ([]query.Row, error) {
	spec := renderSelectRaw(plan)
	rows, err := s.pool.Query(ctx, spec.sql, spec.args...)
	if err != nil {
		return nil, fmt.Errorf("query raw stats: %w", err)
	}
	defer rows.Close()

	var out []query.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read raw stat row: %w", err)
		}
		row, err := assembleRawRow(spec.dims, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func assembleDim(row *query.Row, role string, v any) {
	switch role {
	case "date_month":
		if t, ok := v.(time.Time); ok {
			row.Date = t.Format("2006-01")
		}
	case "date_year":
		if t, ok := v.(time.Time); ok {
			row.Date = t.Format("2006")
		}
	case "date":
		if t, ok := v.(time.Time); ok {
			row.Date = t.Format("2006-01-02")
		}
	case "node":
		row.Node, _ = v.(string)
	case "network":
		row.Network, _ = v.(string)
	case "station":
		row.Station, _ = v.(string)
	case "location":
		row.Location, _ = v.(string)
	case "channel":
		row.Channel, _ = v.(string)
	case "country":
		if v != nil {
			row.Country, _ = v.(string)
		}
	}
}

func assembleAggregatedRow(dims []string, vals []any) (query.Row, error) {
	var row query.Row
	i := 0
	for _, d := range dims {
		assembleDim(&row, d, vals[i])
		i++
	}

	row.Bytes = toInt64(vals[i])
	i++
	row.NbRequests = toInt64(vals[i])
	i++
	row.NbSuccessfulRequests = toInt64(vals[i])
	i++
	row.NbFailedRequests = toInt64(vals[i])
	i++

	sketch := hll.NewStandard()
	if agg, ok := vals[i].([]any); ok {
		for _, c := range agg {
			b, ok := c.([]byte)
			if !ok || b == nil {
				continue
			}
			parsed, err := hll.FromBytes(b)
			if err != nil {
				return query.Row{}, fmt.Errorf("decode clients hll: %w", err)
			}
			if err := sketch.UnionInto(parsed); err != nil {
				return query.Row{}, fmt.Errorf("union clients hll: %w", err)
			}
		}
	}
	row.Clients = sketch
	return row, nil
}

func assembleRawRow(dims []string, vals []any) (query.Row, error) {
	var row query.Row
	i := 0
	for _, d := range dims {
		assembleDim(&row, d, vals[i])
		i++
	}

	row.Bytes = toInt64(vals[i])
	i++
	row.NbRequests = toInt64(vals[i])
	i++
	row.NbSuccessfulRequests = toInt64(vals[i])
	i++
	row.NbFailedRequests = toInt64(vals[i])
	i++

	if b, ok := vals[i].([]byte); ok && b != nil {
		sketch, err := hll.FromBytes(b)
		if err != nil {
			return query.Row{}, fmt.Errorf("decode clients hll: %w", err)
		}
		row.Clients = sketch
	}
	return row, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

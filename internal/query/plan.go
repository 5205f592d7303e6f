// Package query implements the query planner and executor (spec §4.6,
// §9's re-architecture note): an explicit plan tree
// {projections, filters, groupBy, format} built by the validated
// parameters, instead of ad-hoc incremental ORM clause appending. This
// makes the SQL shape testable without a database.
package query

import (
	"time"

	"github.com/eidaws/statistics-gateway/internal/validator"
)

// Projection selects which SNCL levels and detail columns appear in the
// result; everything not selected is rendered as the literal "*" by the
// output shaper (spec §4.6).
type Projection struct {
	Node, Network, Station, Location, Channel bool
	Month, Year, Country                      bool
}

// levelProjection returns the SNCL projection implied by a `level` value
// (spec §4.6: "A level of network projects node, network; channel
// projects all four").
func levelProjection(level string) Projection {
	p := Projection{Node: true}
	switch level {
	case "network":
		p.Network = true
	case "station":
		p.Network, p.Station = true, true
	case "location":
		p.Network, p.Station, p.Location = true, true, true
	case "channel":
		p.Network, p.Station, p.Location, p.Channel = true, true, true, true
	}
	return p
}

// Filters is the WHERE-clause shape: the normalized parameter values the
// executor (or its SQL-rendering backend) filters rows by.
type Filters struct {
	Start    time.Time
	End      *time.Time
	Node     []string
	Network  []validator.WildcardValue
	Station  []validator.WildcardValue
	Location []validator.WildcardValue
	Channel  []validator.WildcardValue
	Country  []string
}

// Plan is the full query plan: projections, filters, group-by (implied by
// Projection), and output format.
type Plan struct {
	Projection Projection
	Filters    Filters
	Format     string
	HLLValues  bool

	// Raw marks the /dataselect/raw path: no GROUP BY / HLL union, one row
	// per stored DataselectStat with its own cardinality.
	Raw bool
}

// Build assembles a Plan from validated request parameters.
func Build(params validator.Params, raw bool) Plan {
	proj := levelProjection(params.Level)
	proj.Month = params.Details["month"]
	proj.Year = params.Details["year"]
	proj.Country = params.Details["country"]

	return Plan{
		Projection: proj,
		Filters: Filters{
			Start:    params.Start,
			End:      params.End,
			Node:     params.Node,
			Network:  params.Network,
			Station:  params.Station,
			Location: params.Location,
			Channel:  params.Channel,
			Country:  params.Country,
		},
		Format:    params.Format,
		HLLValues: params.HLLValues,
		Raw:       raw,
	}
}

// Package validator implements the request validator (spec §4.5):
// endpoint-aware parameter allow-lists, type/format checks, wildcard
// normalization, default filling, and mandatory-field enforcement.
package validator

import (
	"strings"
	"time"

	"github.com/eidaws/statistics-gateway/internal/apperr"
)

// Endpoint identifies which of the three stats endpoints is being
// validated against, since their allow-lists differ (spec §6).
type Endpoint int

const (
	EndpointPublic Endpoint = iota
	EndpointRestricted
	EndpointRaw
)

// WildcardValue is a single value for network/station/location/channel
// after wildcard normalization. UseLike is true only when the raw value
// literally contained '*' or '?' — the fix for the source's
// "'%' or '_' in net" bug (SPEC_FULL.md §13, Open Question 3), which made
// every value use LIKE regardless of content.
type WildcardValue struct {
	Value   string
	UseLike bool
}

// HasWildcard reports whether s contains a glob wildcard character.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

func newWildcardValue(raw string) WildcardValue {
	if !HasWildcard(raw) {
		return WildcardValue{Value: raw, UseLike: false}
	}
	v := strings.NewReplacer("*", "%", "?", "_").Replace(raw)
	return WildcardValue{Value: v, UseLike: true}
}

// Params is the validator's output: a fully normalized, type-checked view
// of the request's query parameters.
type Params struct {
	Start time.Time // normalized to the first day of the month
	End   *time.Time

	Node    []string
	Country []string

	Network  []WildcardValue
	Station  []WildcardValue
	Location []WildcardValue
	Channel  []WildcardValue

	Format    string // "csv" or "json"
	Level     string // node|network|station|location|channel
	Details   map[string]bool // subset of {month, year, country}
	HLLValues bool
}

var commonAllowed = map[string]bool{
	"start": true, "end": true, "node": true, "network": true,
	"country": true, "format": true, "level": true, "details": true,
	"hllvalues": true,
}

var sncAllowed = map[string]bool{"station": true, "location": true, "channel": true}

var validLevels = map[string]bool{
	"node": true, "network": true, "station": true, "location": true, "channel": true,
}

var belowNetworkLevels = map[string]bool{"station": true, "location": true, "channel": true}

// Values is the input shape the validator consumes: one entry per query
// key, already split out by the HTTP layer (net/url.Values). Multiple
// values under the same key and comma-joined values within one entry are
// both accepted and flattened here (spec §4.5 "multi-value parameters").
type Values map[string][]string

// FlattenValues exposes flatten for callers (the HTTP layer) that need to
// inspect a raw query parameter — e.g. candidate node names — ahead of a
// full Validate call.
func FlattenValues(vs []string) []string { return flatten(vs) }

// flatten splits each entry on commas and concatenates across repeated
// keys, per spec §4.5.
func flatten(vs []string) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks raw against the endpoint's allow-list and produces
// normalized Params. isOperator reflects whether the caller is an operator
// for at least one node under consideration (only meaningful for
// /restricted; ignored for /public, which is never operator-privileged —
// spec §4.5's NoNetwork rule is phrased in terms of a "non-operator caller
// on /restricted").
func Validate(endpoint Endpoint, raw Values, isOperator bool) (Params, error) {
	allowed := commonAllowed
	if endpoint != EndpointPublic {
		allowed = mergeAllowed(commonAllowed, sncAllowed)
	}

	for key := range raw {
		if !allowed[key] {
			return Params{}, apperr.UnknownParameter{Name: key}
		}
	}

	var p Params

	startVals := flatten(raw["start"])
	if len(startVals) == 0 {
		return Params{}, apperr.Mandatory
	}
	start, err := parseYearMonth(startVals[0])
	if err != nil {
		return Params{}, apperr.BadValue{Name: "start"}
	}
	p.Start = start

	if endVals := flatten(raw["end"]); len(endVals) > 0 {
		end, err := parseYearMonth(endVals[0])
		if err != nil {
			return Params{}, apperr.BadValue{Name: "end"}
		}
		p.End = &end
	}

	p.Node = flatten(raw["node"])
	p.Country = flatten(raw["country"])

	p.Network = toWildcardValues(flatten(raw["network"]))
	if endpoint != EndpointPublic {
		p.Station = toWildcardValues(flatten(raw["station"]))
		p.Location = toWildcardValues(flatten(raw["location"]))
		p.Channel = toWildcardValues(flatten(raw["channel"]))
	}

	p.Format = "csv"
	if fmtVals := flatten(raw["format"]); len(fmtVals) > 0 {
		f := fmtVals[0]
		if f != "csv" && f != "json" {
			return Params{}, apperr.BadValue{Name: "format"}
		}
		p.Format = f
	}

	levelVals := flatten(raw["level"])
	p.Level = "node"
	if len(levelVals) > 0 {
		lvl := levelVals[0]
		if !validLevels[lvl] {
			return Params{}, apperr.BadValue{Name: "level"}
		}
		if endpoint == EndpointPublic && lvl != "node" && lvl != "network" {
			return Params{}, apperr.BadValue{Name: "level"}
		}
		p.Level = lvl
	}

	details, err := parseDetails(flatten(raw["details"]))
	if err != nil {
		return Params{}, err
	}
	p.Details = details

	if hllVals := flatten(raw["hllvalues"]); len(hllVals) > 0 {
		switch hllVals[0] {
		case "true":
			p.HLLValues = true
		case "false":
			p.HLLValues = false
		default:
			return Params{}, apperr.BadValue{Name: "hllvalues"}
		}
	}

	if endpoint != EndpointPublic && !isOperator {
		usesSNCL := len(p.Station) > 0 || len(p.Location) > 0 || len(p.Channel) > 0 || belowNetworkLevels[p.Level]
		if usesSNCL && len(p.Network) == 0 {
			return Params{}, apperr.NoNetwork
		}
	}

	return p, nil
}

func mergeAllowed(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func toWildcardValues(raws []string) []WildcardValue {
	out := make([]WildcardValue, 0, len(raws))
	for _, r := range raws {
		out = append(out, newWildcardValue(r))
	}
	return out
}

// parseYearMonth parses "YYYY-MM" and normalizes to the first day of that
// month (spec §4.5).
func parseYearMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

// parseDetails validates the details subset and the month/year exclusivity
// rule (spec §4.5, §8 scenario 4).
func parseDetails(vals []string) (map[string]bool, error) {
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		switch v {
		case "month", "year", "country":
			out[v] = true
		default:
			return nil, apperr.BadValue{Name: "details"}
		}
	}
	if out["month"] && out["year"] {
		return nil, apperr.BothMonthYear
	}
	return out, nil
}

package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eidaws/statistics-gateway/internal/query"
)

// outRow is the shaped, endpoint-facing view of a query.Row: every
// dimension the plan didn't project renders as the literal "*" (spec §4.6)
// — driven by which Projection flags were set, not by whether the
// underlying string happens to be empty (the failure bucket legitimately
// has an empty network/station).
type outRow struct {
	Date       string `json:"date"`
	Node       string `json:"node"`
	Network    string `json:"network"`
	Station    string `json:"station"`
	Location   string `json:"location"`
	Channel    string `json:"channel"`
	Country    string `json:"country"`
	Bytes      int64  `json:"bytes"`
	NbReqs     int64  `json:"nb_requests"`
	NbSuccReqs int64  `json:"nb_successful_requests"`
	Clients    int64  `json:"clients"`
	HLLClients string `json:"hll_clients,omitempty"`
}

func star(present bool, v string) string {
	if !present {
		return "*"
	}
	return v
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

func shapeRow(plan query.Plan, r query.Row) outRow {
	out := outRow{
		Node:       star(plan.Projection.Node, r.Node),
		Network:    star(plan.Projection.Network, r.Network),
		Station:    star(plan.Projection.Station, r.Station),
		Location:   star(plan.Projection.Location, r.Location),
		Channel:    star(plan.Projection.Channel, r.Channel),
		Bytes:      r.Bytes,
		NbReqs:     r.NbRequests,
		NbSuccReqs: r.NbSuccessfulRequests,
	}
	out.Date = star(plan.Projection.Month || plan.Projection.Year || plan.Raw, r.Date)
	out.Country = star(plan.Projection.Country, r.Country)
	if r.Clients != nil {
		out.Clients = r.Clients.Cardinality()
		if plan.HLLValues {
			out.HLLClients = "\\x" + hexEncode(r.Clients.ToBytes())
		}
	}
	return out
}

type resultBody struct {
	Version           string   `json:"version"`
	RequestParameters string   `json:"request_parameters"`
	Results           []outRow `json:"results"`
}

func writeJSON(w http.ResponseWriter, rawQuery string, rows []outRow) {
	w.Header().Set("Content-Type", "application/json")
	body := resultBody{Version: "1.0.0", RequestParameters: rawQuery, Results: rows}
	_ = json.NewEncoder(w).Encode(body)
}

// csvColumns is the fixed column order spec §4.6 fixes for the CSV body.
var csvColumns = []string{"date", "node", "network", "station", "location", "channel", "country", "bytes", "nb_requests", "nb_successful_requests", "clients"}

func writeCSV(w http.ResponseWriter, rawQuery string, rows []outRow, hllValues bool) {
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprintf(w, "# version=1.0.0\n")
	fmt.Fprintf(w, "# request_parameters=%s\n", rawQuery)

	cols := csvColumns
	if hllValues {
		cols = append(append([]string{}, csvColumns...), "hll_clients")
	}

	cw := csv.NewWriter(w)
	_ = cw.Write(cols)
	for _, r := range rows {
		rec := []string{
			r.Date, r.Node, r.Network, r.Station, r.Location, r.Channel, r.Country,
			fmt.Sprintf("%d", r.Bytes), fmt.Sprintf("%d", r.NbReqs), fmt.Sprintf("%d", r.NbSuccReqs),
			fmt.Sprintf("%d", r.Clients),
		}
		if hllValues {
			rec = append(rec, r.HLLClients)
		}
		_ = cw.Write(rec)
	}
	cw.Flush()
}

// respond shapes rows per plan and writes them in the requested format.
func respond(w http.ResponseWriter, rawQuery string, plan query.Plan, rows []query.Row) {
	shaped := make([]outRow, len(rows))
	for i, r := range rows {
		shaped[i] = shapeRow(plan, r)
	}
	if plan.Format == "json" {
		writeJSON(w, rawQuery, shaped)
		return
	}
	writeCSV(w, rawQuery, shaped, plan.HLLValues)
}

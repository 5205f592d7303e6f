package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/eidaws/statistics-gateway/internal/apperr"
	"github.com/eidaws/statistics-gateway/internal/store"
)

// submitEnvelope mirrors aggregator.Submission's field names, and
// submitStat mirrors aggregator.StatEnvelope's (spec §6's submission
// payload shape).
type submitEnvelope struct {
	Version      string       `json:"version"`
	GeneratedAt  string       `json:"generated_at"`
	DaysCoverage []string     `json:"days_coverage"`
	Stats        []submitStat `json:"stats"`
}

type submitStat struct {
	Month                  string `json:"month"`
	Network                string `json:"network"`
	Station                string `json:"station"`
	Location               string `json:"location"`
	Channel                string `json:"channel"`
	Country                string `json:"country"`
	Bytes                  int64  `json:"bytes"`
	NbRequests             int64  `json:"nb_requests"`
	NbSuccessfulRequests   int64  `json:"nb_successful_requests"`
	NbUnsuccessfulRequests int64  `json:"nb_unsuccessful_requests"`
	Clients                string `json:"clients"`
}

func toSubmissionRequest(env submitEnvelope) store.SubmissionRequest {
	stats := make([]store.StatInput, len(env.Stats))
	for i, s := range env.Stats {
		stats[i] = store.StatInput{
			Month:                  s.Month,
			Network:                s.Network,
			Station:                s.Station,
			Location:               s.Location,
			Channel:                s.Channel,
			Country:                s.Country,
			Bytes:                  s.Bytes,
			NbRequests:             s.NbRequests,
			NbSuccessfulRequests:   s.NbSuccessfulRequests,
			NbUnsuccessfulRequests: s.NbUnsuccessfulRequests,
			ClientsHex:             s.Clients,
		}
	}
	return store.SubmissionRequest{
		Version:      env.Version,
		GeneratedAt:  env.GeneratedAt,
		DaysCoverage: env.DaysCoverage,
		Stats:        stats,
	}
}

// Submit handles POST|PUT /submit (spec §4.3, §6).
func (a *API) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		writeError(w, apperr.MethodNotAllowed)
		return
	}

	nodeID, _, err := a.Bearer.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		writeError(w, apperr.MalformedPayload)
		return
	}

	var env submitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, apperr.MalformedPayload)
		return
	}

	if err := a.Store.Submit(r.Context(), nodeID, r.Method, toSubmissionRequest(env)); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

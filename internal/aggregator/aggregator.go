// Package aggregator implements the streaming log-line aggregation engine
// (spec §4.2). It turns a stream of per-request JSON log lines into a keyed
// multiset of statistics and assembles the submission envelope.
package aggregator

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/eidaws/statistics-gateway/internal/hll"
)

// Key is the in-memory bucketing key used during aggregation. It omits
// node, since the aggregator runs per-node and the node is attached at
// submission time by the token authenticator, not carried in the payload.
type Key struct {
	Date     time.Time
	Network  string
	Station  string
	Location string
	Channel  string
	Country  string
}

// Bucket is one in-flight statistic, owned exclusively by the Aggregator
// until ToPayload serializes it. It is a plain value with its own HLL sketch — never a
// shared class-level default (spec §9).
type Bucket struct {
	Key                  Key
	Bytes                int64
	NbSuccessfulRequests int64
	NbFailedRequests     int64
	Clients              *hll.Sketch
}

func newBucket(k Key) *Bucket {
	return &Bucket{Key: k, Clients: hll.NewStandard()}
}

// merge folds other into b in place (counter-additive, HLL-union).
func (b *Bucket) merge(other *Bucket) {
	b.Bytes += other.Bytes
	b.NbSuccessfulRequests += other.NbSuccessfulRequests
	b.NbFailedRequests += other.NbFailedRequests
	_ = b.Clients.UnionInto(other.Clients)
}

// Aggregator accumulates Buckets across one or more Parse calls.
type Aggregator struct {
	buckets map[Key]*Bucket
	days    map[string]struct{}
	skipped int
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{buckets: make(map[Key]*Bucket), days: make(map[string]struct{})}
}

// logRecord is the shape of one input JSON line.
type logRecord struct {
	Finished string `json:"finished"`
	Status   string `json:"status"`
	UserID   string `json:"userID"`
	UserLocation struct {
		Country string `json:"country"`
	} `json:"userLocation"`
	Trace []traceResult `json:"trace"`
}

type traceResult struct {
	Net   string `json:"net"`
	Sta   string `json:"sta"`
	Cha   string `json:"cha"`
	Loc   string `json:"loc"`
	Bytes int64  `json:"bytes"`
}

// LineWarner receives a warning for every skipped line or record, mirroring
// the original's "log at warn, continue" failure semantics (spec §4.2).
// It's an interface (not a concrete zerolog dependency) so tests can assert
// against captured warnings without constructing a real logger.
type LineWarner interface {
	Warn(msg string, err error)
}

type discardWarner struct{}

func (discardWarner) Warn(string, error) {}

// Parse reads newline-delimited JSON records from r and folds them into the
// aggregator's buckets. Malformed lines and records missing mandatory
// fields are skipped individually (spec §4.2 failure semantics); an error
// reading r itself aborts the whole run (the original's IOError case).
func (a *Aggregator) Parse(r io.Reader, warn LineWarner) error {
	if warn == nil {
		warn = discardWarner{}
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			a.skipped++
			warn.Warn("malformed json line", err)
			continue
		}
		if err := a.ingest(rec); err != nil {
			a.skipped++
			warn.Warn("skipping record", err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

// missingFieldError flags a record lacking a mandatory field; the record is
// skipped, not the whole file (spec §4.2).
type missingFieldError struct{ field string }

func (e missingFieldError) Error() string { return "missing mandatory field: " + e.field }

func (a *Aggregator) ingest(rec logRecord) error {
	if rec.Finished == "" {
		return missingFieldError{"finished"}
	}
	finished, err := time.Parse(time.RFC3339, rec.Finished)
	if err != nil {
		return err
	}
	monthStart := time.Date(finished.Year(), finished.Month(), 1, 0, 0, 0, 0, time.UTC)
	a.days[finished.UTC().Format("2006-01-02")] = struct{}{}

	if rec.Status == "OK" {
		if len(rec.Trace) == 0 {
			return missingFieldError{"trace"}
		}
		for _, tr := range rec.Trace {
			if tr.Net == "" || tr.Sta == "" || tr.Cha == "" {
				a.skipped++
				continue // per-trace failure, skip the trace not the record
			}
			loc := tr.Loc
			if loc == "" {
				loc = "--"
			}
			key := Key{
				Date:     monthStart,
				Network:  tr.Net,
				Station:  tr.Sta,
				Location: loc,
				Channel:  tr.Cha,
				Country:  rec.UserLocation.Country,
			}
			b := a.bucketFor(key)
			b.NbSuccessfulRequests++
			b.Bytes += tr.Bytes
			b.Clients.Add(clientHash(rec.UserID))
		}
		return nil
	}

	// Non-OK status: attribute a single failure to the synthetic key
	// (date, "", "", "--", "", country) per spec §4.2 / SPEC_FULL.md §13.
	if rec.UserLocation.Country == "" {
		return missingFieldError{"userLocation.country"}
	}
	key := Key{Date: monthStart, Location: "--", Country: rec.UserLocation.Country}
	b := a.bucketFor(key)
	b.NbFailedRequests++
	b.Clients.Add(clientHash(rec.UserID))
	return nil
}

func (a *Aggregator) bucketFor(k Key) *Bucket {
	b, ok := a.buckets[k]
	if !ok {
		b = newBucket(k)
		a.buckets[k] = b
	}
	return b
}

// clientHash hashes a user identifier the same way on every call, so the
// same user always lands in the same HLL register (spec §4.2 "insert
// hash(userID)"). It yields a full 64-bit hash, since hll.Add takes both
// the register index and the rank from a 64-bit value.
func clientHash(userID string) uint64 {
	return murmur3.Sum64([]byte(userID))
}

// Merge folds other's buckets into a. Used both internally (two Parse runs
// accumulating into one Aggregator) and to verify the idempotence-under-
// merge law in tests: parse(log1++log2) == merge(parse(log1), parse(log2)).
func (a *Aggregator) Merge(other *Aggregator) {
	for k, ob := range other.buckets {
		if existing, ok := a.buckets[k]; ok {
			existing.merge(ob)
		} else {
			a.buckets[k] = ob
		}
	}
	for d := range other.days {
		a.days[d] = struct{}{}
	}
}

// Buckets returns the current buckets sorted by key for deterministic
// iteration (the aggregation itself is insertion-order independent per
// spec §4.2; this ordering is only for stable output).
func (a *Aggregator) Buckets() []*Bucket {
	out := make([]*Bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Key, out[j].Key
		if !ki.Date.Equal(kj.Date) {
			return ki.Date.Before(kj.Date)
		}
		if ki.Network != kj.Network {
			return ki.Network < kj.Network
		}
		if ki.Station != kj.Station {
			return ki.Station < kj.Station
		}
		if ki.Location != kj.Location {
			return ki.Location < kj.Location
		}
		if ki.Channel != kj.Channel {
			return ki.Channel < kj.Channel
		}
		return ki.Country < kj.Country
	})
	return out
}

// Skipped returns the count of lines, records and individual traces skipped
// due to malformed JSON or missing mandatory fields.
func (a *Aggregator) Skipped() int { return a.skipped }

// Days returns the distinct calendar days ("YYYY-MM-DD") actually seen
// across every parsed record's "finished" timestamp, sorted ascending. This
// is what the submission envelope's days_coverage field must carry (spec
// §6) — the server parses each entry with strptime("%Y-%m-%d"), so it can
// never be a log file name.
func (a *Aggregator) Days() []string {
	out := make([]string, 0, len(a.days))
	for d := range a.days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// StatEnvelope is one entry of the submission payload's "stats" array
// (spec §6).
type StatEnvelope struct {
	Month                  string `json:"month"`
	Network                string `json:"network"`
	Station                string `json:"station"`
	Location               string `json:"location"`
	Channel                string `json:"channel"`
	Country                string `json:"country,omitempty"`
	Bytes                  int64  `json:"bytes"`
	NbRequests             int64  `json:"nb_requests"`
	NbSuccessfulRequests   int64  `json:"nb_successful_requests"`
	NbUnsuccessfulRequests int64  `json:"nb_unsuccessful_requests"`
	Clients                string `json:"clients"` // "\x<hex>"
}

// Submission is the full submission envelope produced by ToPayload
// (spec §6).
type Submission struct {
	Version      string         `json:"version"`
	GeneratedAt  string         `json:"generated_at"`
	DaysCoverage []string       `json:"days_coverage"`
	Stats        []StatEnvelope `json:"stats"`
}

// ToPayload serializes all buckets into a submission envelope. generatedAt
// and daysCoverage are supplied by the caller (the CLI wrapper), since the
// aggregator itself has no wall-clock access per the no-Date.Now() rule
// used in this codebase's test harness.
func (a *Aggregator) ToPayload(version, generatedAt string, daysCoverage []string) Submission {
	buckets := a.Buckets()
	stats := make([]StatEnvelope, 0, len(buckets))
	for _, b := range buckets {
		stats = append(stats, StatEnvelope{
			Month:                  b.Key.Date.Format("2006-01-02"),
			Network:                b.Key.Network,
			Station:                b.Key.Station,
			Location:               b.Key.Location,
			Channel:                b.Key.Channel,
			Country:                b.Key.Country,
			Bytes:                  b.Bytes,
			NbRequests:             b.NbSuccessfulRequests + b.NbFailedRequests,
			NbSuccessfulRequests:   b.NbSuccessfulRequests,
			NbUnsuccessfulRequests: b.NbFailedRequests,
			Clients:                "\\x" + hexEncode(b.Clients.ToBytes()),
		})
	}
	return Submission{
		Version:      version,
		GeneratedAt:  generatedAt,
		DaysCoverage: daysCoverage,
		Stats:        stats,
	}
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

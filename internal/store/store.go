// Package store implements the pgx-backed transactional store (spec §4.3,
// §5): connection pool, token resolution, node/network policy lookups, the
// submission pipeline's upsert-with-merge/upsert-with-replace semantics,
// and duplicate-submission detection.
//
// Schema assumed (out of scope per spec.md §1 — migrations are an external
// collaborator): nodes(id, name, contact, default_policy, eas_group),
// networks(node_id, name, inversion, eas_group), tokens(id, node_id, value,
// valid_from, valid_until), payloads(node_id, hash, version, generated_at,
// days_coverage) with a unique (node_id, hash), dataselect_stats(node_id,
// date, network, station, location, channel, country, bytes, nb_requests,
// nb_successful_requests, nb_failed_requests, clients, created_at,
// updated_at) with a unique (node_id, date, network, station, location,
// channel, country).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spaolacci/murmur3"

	"github.com/eidaws/statistics-gateway/internal/apperr"
)

// Store wraps a pgx connection pool. It implements auth.NodeResolver,
// restriction.PolicyLookup, and query.Store, so the rest of the codebase
// depends on those narrow interfaces rather than on this concrete type.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pool and verifies connectivity within connTimeout, per
// spec §5's "DB pool: bounded, with a documented max" and §9's "explicit
// pool handle" re-architecture note.
func Open(ctx context.Context, databaseURL string, maxConns int32, connTimeout time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity (the <prefix>/_health probe's DB-reachability
// half; the DB-privilege half is CheckGrants). The ambient /healthz probe
// does not touch the DB.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ResolveToken implements auth.NodeResolver: maps a bearer token value to
// its owning node, honoring the [valid_from, valid_until) window (spec
// §4.3 step 2).
func (s *Store) ResolveToken(ctx context.Context, token string) (int64, string, error) {
	var nodeID int64
	var nodeName string
	err := s.pool.QueryRow(ctx, `
		SELECT n.id, n.name
		FROM tokens t
		JOIN nodes n ON n.id = t.node_id
		WHERE t.value = $1 AND now() >= t.valid_from AND now() < t.valid_until
	`, token).Scan(&nodeID, &nodeName)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", apperr.InvalidBearerToken
	}
	if err != nil {
		return 0, "", fmt.Errorf("resolve token: %w", err)
	}
	return nodeID, nodeName, nil
}

// NodeDefaultPolicy implements restriction.PolicyLookup.
func (s *Store) NodeDefaultPolicy(ctx context.Context, node string) (*bool, string, error) {
	var defaultPolicy *bool
	var easGroup string
	err := s.pool.QueryRow(ctx, `
		SELECT default_policy, eas_group FROM nodes WHERE name = $1
	`, node).Scan(&defaultPolicy, &easGroup)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", apperr.NoMatchingEntry
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup node default policy: %w", err)
	}
	return defaultPolicy, easGroup, nil
}

// NetworkPolicy implements restriction.PolicyLookup.
func (s *Store) NetworkPolicy(ctx context.Context, node, network string) (*bool, string, error) {
	var inversion *bool
	var easGroup string
	err := s.pool.QueryRow(ctx, `
		SELECT nw.inversion, nw.eas_group
		FROM networks nw
		JOIN nodes n ON n.id = nw.node_id
		WHERE n.name = $1 AND nw.name = $2
	`, node, network).Scan(&inversion, &easGroup)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", apperr.NoMatchingEntry
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup network policy: %w", err)
	}
	return inversion, easGroup, nil
}

// NodeRow is one row of the /_nodes listing.
type NodeRow struct {
	Name          string
	DefaultPolicy *bool
}

// ListNodes implements the /_nodes supplemented feature (SPEC_FULL.md §12).
func (s *Store) ListNodes(ctx context.Context) ([]NodeRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, default_policy FROM nodes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeRow
	for rows.Next() {
		var n NodeRow
		if err := rows.Scan(&n.Name, &n.DefaultPolicy); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NetworkRow is one row of the /_networks listing.
type NetworkRow struct {
	Name, Node string
	Inversion  *bool
}

// ListNetworks implements the /_networks supplemented feature.
func (s *Store) ListNetworks(ctx context.Context) ([]NetworkRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT nw.name, n.name, nw.inversion
		FROM networks nw
		JOIN nodes n ON n.id = nw.node_id
		ORDER BY n.name, nw.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	defer rows.Close()

	var out []NetworkRow
	for rows.Next() {
		var n NetworkRow
		if err := rows.Scan(&n.Name, &n.Node, &n.Inversion); err != nil {
			return nil, fmt.Errorf("scan network row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Grant is one (table, privilege) pair the /_health probe requires.
type Grant struct{ Table, Privilege string }

func (g Grant) String() string { return g.Privilege + " on " + g.Table }

// RequiredGrants is the exact set SPEC_FULL.md §12's health check demands.
var RequiredGrants = []Grant{
	{"dataselect_stats", "SELECT"},
	{"nodes", "SELECT"},
	{"networks", "SELECT"},
	{"tokens", "SELECT"},
	{"payloads", "SELECT"},
	{"dataselect_stats", "INSERT"},
	{"payloads", "INSERT"},
	{"dataselect_stats", "UPDATE"},
}

// CheckGrants reports which of RequiredGrants the connected role lacks, by
// querying information_schema.role_table_grants (SPEC_FULL.md §12).
func (s *Store) CheckGrants(ctx context.Context) ([]Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, privilege_type
		FROM information_schema.role_table_grants
		WHERE grantee = current_user
	`)
	if err != nil {
		return nil, fmt.Errorf("query role grants: %w", err)
	}
	defer rows.Close()

	held := make(map[Grant]bool)
	for rows.Next() {
		var table, priv string
		if err := rows.Scan(&table, &priv); err != nil {
			return nil, fmt.Errorf("scan role grant: %w", err)
		}
		held[Grant{table, priv}] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role grants: %w", err)
	}

	var missing []Grant
	for _, g := range RequiredGrants {
		if !held[g] {
			missing = append(missing, g)
		}
	}
	return missing, nil
}

// StatInput is one entry of a submission's "stats" array (spec §6).
type StatInput struct {
	Month                  string
	Network                string
	Station                string
	Location               string
	Channel                string
	Country                string
	Bytes                  int64
	NbRequests             int64
	NbSuccessfulRequests   int64
	NbUnsuccessfulRequests int64
	ClientsHex             string // "\x<hex>", spec §6 wire layout
}

// SubmissionRequest is the validated submission envelope (spec §4.3 step 3).
type SubmissionRequest struct {
	Version      string
	GeneratedAt  string
	DaysCoverage []string
	Stats        []StatInput
}

// Submit runs the full submission pipeline inside a single transaction
// (spec §4.3 steps 4-7, §5 atomicity). method is http.MethodPost
// ("merge-add") or http.MethodPut ("replace").
func (s *Store) Submit(ctx context.Context, nodeID int64, method string, req SubmissionRequest) error {
	if req.Version == "" || req.GeneratedAt == "" || len(req.DaysCoverage) == 0 || len(req.Stats) == 0 {
		return apperr.MalformedPayload
	}
	for _, st := range req.Stats {
		if st.Month == "" || st.ClientsHex == "" || st.Network == "" {
			return apperr.MalformedPayload
		}
	}

	hash := contentHash(req.Stats)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO payloads (node_id, hash, version, generated_at, days_coverage)
		VALUES ($1, $2, $3, $4, $5)
	`, nodeID, hash, req.Version, req.GeneratedAt, req.DaysCoverage)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.DuplicateSubmission
		}
		return fmt.Errorf("insert payload receipt: %w", err)
	}

	for _, st := range req.Stats {
		if err := upsertStat(ctx, tx, nodeID, method, st); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

// contentHash computes the duplicate-detection hash over the stats array
// (spec §4.3 step 4: murmur3_32 of the stringified stats).
func contentHash(stats []StatInput) int64 {
	h := murmur3.New32()
	for _, st := range stats {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d|%d|%d|%d|%s",
			st.Month, st.Network, st.Station, st.Location, st.Channel, st.Country,
			st.Bytes, st.NbRequests, st.NbSuccessfulRequests, st.NbUnsuccessfulRequests, st.ClientsHex)
	}
	return int64(h.Sum32())
}

package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eidaws/statistics-gateway/internal/apperr"
	"github.com/eidaws/statistics-gateway/internal/hll"
	"github.com/eidaws/statistics-gateway/internal/model"
)

// upsertStat applies one stat entry's upsert rule (spec §4.3 steps 5-7):
// auto-creates the Network row on first sight, then either replaces (PUT)
// or merge-adds (POST) the dataselect_stats row.
func upsertStat(ctx context.Context, tx pgx.Tx, nodeID int64, method string, st StatInput) error {
	month, err := time.Parse("2006-01-02", st.Month)
	if err != nil {
		return apperr.MalformedPayload
	}
	loc := st.Location
	if loc == "" {
		loc = "--"
	}
	country := model.NormalizeCountry(st.Country)

	nbUnsuccessful := st.NbUnsuccessfulRequests
	nbRequests := st.NbRequests
	if nbRequests == 0 {
		nbRequests = st.NbSuccessfulRequests + nbUnsuccessful
	}

	clientsBytes, err := hex.DecodeString(strings.TrimPrefix(st.ClientsHex, "\\x"))
	if err != nil {
		return apperr.MalformedPayload
	}
	if _, err := hll.FromBytes(clientsBytes); err != nil {
		return apperr.MalformedPayload
	}

	// Auto-create the Network row, inversion unset/false (spec §3's
	// "auto-created on first ingestion" invariant).
	if _, err := tx.Exec(ctx, `
		INSERT INTO networks (node_id, name, inversion)
		VALUES ($1, $2, false)
		ON CONFLICT (node_id, name) DO NOTHING
	`, nodeID, st.Network); err != nil {
		return fmt.Errorf("auto-create network: %w", err)
	}

	if method == http.MethodPut {
		return replaceStat(ctx, tx, nodeID, month, st, loc, country, nbRequests, nbUnsuccessful, clientsBytes)
	}
	return mergeAddStat(ctx, tx, nodeID, month, st, loc, country, nbRequests, nbUnsuccessful, clientsBytes)
}

// replaceStat implements the PUT rule: overwrite numeric fields and HLL,
// reset created_at (spec §4.3 step 6).
func replaceStat(ctx context.Context, tx pgx.Tx, nodeID int64, month time.Time, st StatInput, loc string, country *string, nbRequests, nbUnsuccessful int64, clientsBytes []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO dataselect_stats (node_id, date, network, station, location, channel, country,
			bytes, nb_requests, nb_successful_requests, nb_failed_requests, clients, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now(), now())
		ON CONFLICT (node_id, date, network, station, location, channel, country)
		DO UPDATE SET
			bytes = EXCLUDED.bytes,
			nb_requests = EXCLUDED.nb_requests,
			nb_successful_requests = EXCLUDED.nb_successful_requests,
			nb_failed_requests = EXCLUDED.nb_failed_requests,
			clients = EXCLUDED.clients,
			created_at = now(),
			updated_at = now()
	`, nodeID, month, st.Network, st.Station, loc, st.Channel, country,
		st.Bytes, nbRequests, st.NbSuccessfulRequests, nbUnsuccessful, clientsBytes)
	if err != nil {
		return fmt.Errorf("replace stat: %w", err)
	}
	return nil
}

// mergeAddStat implements the POST rule: add counters, sum bytes, union
// HLLs, bump updated_at (spec §4.3 step 6). The HLL union itself runs in
// Go — no server-side aggregate exists for the opaque sketch bytes — so the
// existing row is locked (SELECT ... FOR UPDATE) within the submission's
// transaction before the union is computed and written back.
func mergeAddStat(ctx context.Context, tx pgx.Tx, nodeID int64, month time.Time, st StatInput, loc string, country *string, nbRequests, nbUnsuccessful int64, clientsBytes []byte) error {
	var existing []byte
	err := tx.QueryRow(ctx, `
		SELECT clients FROM dataselect_stats
		WHERE node_id = $1 AND date = $2 AND network = $3 AND station = $4
		  AND location = $5 AND channel = $6 AND country IS NOT DISTINCT FROM $7
		FOR UPDATE
	`, nodeID, month, st.Network, st.Station, loc, st.Channel, country).Scan(&existing)

	if errors.Is(err, pgx.ErrNoRows) {
		_, err := tx.Exec(ctx, `
			INSERT INTO dataselect_stats (node_id, date, network, station, location, channel, country,
				bytes, nb_requests, nb_successful_requests, nb_failed_requests, clients, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now(), now())
		`, nodeID, month, st.Network, st.Station, loc, st.Channel, country,
			st.Bytes, nbRequests, st.NbSuccessfulRequests, nbUnsuccessful, clientsBytes)
		if err != nil {
			return fmt.Errorf("insert stat: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock existing stat: %w", err)
	}

	merged, err := hll.FromBytes(existing)
	if err != nil {
		return fmt.Errorf("decode existing clients hll: %w", err)
	}
	incoming, err := hll.FromBytes(clientsBytes)
	if err != nil {
		return apperr.MalformedPayload
	}
	if err := merged.UnionInto(incoming); err != nil {
		return fmt.Errorf("union clients hll: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE dataselect_stats
		SET bytes = bytes + $1,
			nb_requests = nb_requests + $2,
			nb_successful_requests = nb_successful_requests + $3,
			nb_failed_requests = nb_failed_requests + $4,
			clients = $5,
			updated_at = now()
		WHERE node_id = $6 AND date = $7 AND network = $8 AND station = $9
		  AND location = $10 AND channel = $11 AND country IS NOT DISTINCT FROM $12
	`, st.Bytes, nbRequests, st.NbSuccessfulRequests, nbUnsuccessful, merged.ToBytes(),
		nodeID, month, st.Network, st.Station, loc, st.Channel, country)
	if err != nil {
		return fmt.Errorf("merge-add stat: %w", err)
	}
	return nil
}

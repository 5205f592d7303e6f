// Command aggregator is the per-node CLI wrapper around internal/aggregator
// (spec §4.2, §6): it parses one or more request-log files (optionally
// bz2-compressed), folds them into monthly per-(network, station, location,
// channel, country) buckets, and writes a submission envelope to disk
// (unless --output-file is empty) and, when --gateway-url is set, also
// POSTs it to a running gateway's /submit endpoint.
//
// Exit codes (spec §6): 0 success, 1 input/validation error, 2 network/DB
// error.
package main

import (
	"bytes"
	"compress/bzip2"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eidaws/statistics-gateway/internal/aggregator"
)

const submissionVersion = "1.0.0"

type warner struct{ log zerolog.Logger }

func (w warner) Warn(msg string, err error) {
	w.log.Warn().Err(err).Msg(msg)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aggregator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	outputFile := fs.String("output-file", "output_statistics.json", "file to write the submission envelope to")
	gatewayURL := fs.String("gateway-url", "", "if set, POST the envelope to this gateway instead of (or in addition to) writing output-file")
	bearerToken := fs.String("bearer-token", "", "bearer token for the gateway's /submit endpoint")
	logLevel := fs.String("log-level", "info", "zerolog level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(stderr, "aggregator: at least one log file is required")
		return 1
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	agg := aggregator.New()
	w := warner{log: log}

	for _, path := range files {
		if err := parseFile(agg, path, w); err != nil {
			log.Error().Err(err).Str("file", path).Msg("failed to read log file")
			return 1
		}
		log.Info().Str("file", path).Msg("parsed log file")
	}
	if agg.Skipped() > 0 {
		log.Warn().Int("skipped", agg.Skipped()).Msg("some lines/records were skipped")
	}

	payload := agg.ToPayload(submissionVersion, time.Now().UTC().Format(time.RFC3339), agg.Days())

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal submission envelope")
		return 1
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, body, 0o644); err != nil {
			log.Error().Err(err).Str("file", *outputFile).Msg("failed to write output file")
			return 1
		}
		log.Info().Str("file", *outputFile).Int("stats", len(payload.Stats)).Msg("wrote submission envelope")
	}

	if *gatewayURL != "" {
		if err := submit(*gatewayURL, *bearerToken, body); err != nil {
			log.Error().Err(err).Str("url", *gatewayURL).Msg("submission failed")
			return 2
		}
		log.Info().Str("url", *gatewayURL).Msg("submitted to gateway")
	}

	fmt.Fprintf(stdout, "aggregated %d buckets from %d file(s)\n", len(payload.Stats), len(files))
	return 0
}

// parseFile opens path (transparently decompressing a .bz2 suffix) and
// folds its lines into agg.
func parseFile(agg *aggregator.Aggregator, path string, w warner) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".bz2") {
		r = bzip2.NewReader(f)
	}
	return agg.Parse(r, w)
}

func submit(url, bearerToken string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authentication", "Bearer "+bearerToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eidaws/statistics-gateway/config"
	"github.com/eidaws/statistics-gateway/internal/auth"
	"github.com/eidaws/statistics-gateway/internal/httpapi"
	"github.com/eidaws/statistics-gateway/internal/query"
	"github.com/eidaws/statistics-gateway/internal/restriction"
	"github.com/eidaws/statistics-gateway/internal/store"
)

// fakeBackend satisfies httpapi.Backend without a database.
type fakeBackend struct {
	pingErr  error
	nodes    []store.NodeRow
	networks []store.NetworkRow
}

func (f *fakeBackend) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeBackend) CheckGrants(ctx context.Context) ([]store.Grant, error) {
	return nil, nil
}
func (f *fakeBackend) ListNodes(ctx context.Context) ([]store.NodeRow, error) {
	return f.nodes, nil
}
func (f *fakeBackend) ListNetworks(ctx context.Context) ([]store.NetworkRow, error) {
	return f.networks, nil
}
func (f *fakeBackend) NodeDefaultPolicy(ctx context.Context, node string) (*bool, string, error) {
	return nil, "", nil
}
func (f *fakeBackend) NetworkPolicy(ctx context.Context, node, network string) (*bool, string, error) {
	return nil, "", nil
}
func (f *fakeBackend) Submit(ctx context.Context, nodeID int64, method string, req store.SubmissionRequest) error {
	return nil
}

// fakeQueryStore satisfies query.Store.
type fakeQueryStore struct{}

func (fakeQueryStore) Query(ctx context.Context, plan query.Plan) ([]query.Row, error) {
	return nil, nil
}

// fakeNodeResolver satisfies auth.NodeResolver.
type fakeNodeResolver struct{}

func (fakeNodeResolver) ResolveToken(ctx context.Context, token string) (int64, string, error) {
	return 0, "", errInvalidToken
}

var errInvalidToken = errors.New("invalid token")

// fakeVerifier satisfies auth.SignatureVerifier, always rejecting.
type fakeVerifier struct{}

func (fakeVerifier) Verify(signed []byte) ([]byte, error) {
	return nil, io.ErrUnexpectedEOF
}

func testSetup() http.Handler {
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		StatsPrefix:      "/eidaws/statistics/1",
		RateLimitEnabled: false,
		DefaultTimeout:   2 * time.Second,
		MaxBodyBytes:     1 << 20,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()

	backend := &fakeBackend{}
	resolver := restriction.New(backend, nil, 30*time.Second)
	bearer := auth.NewBearerAuth(fakeNodeResolver{}, "Authentication")
	signed := auth.NewSignedAuth(fakeVerifier{}, nil)
	executor := query.NewExecutor(fakeQueryStore{}, resolver)

	api := httpapi.New(backend, resolver, bearer, signed, executor, log, cfg.MaxBodyBytes)
	return New(cfg, log, api)
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"healthz", "/healthz", http.StatusOK},
		{"ready", "/ready", http.StatusOK},
		{"gateway health", "/eidaws/statistics/1/_health", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rw := httptest.NewRecorder()
			r.ServeHTTP(rw, req)
			if rw.Result().StatusCode != tc.status {
				t.Fatalf("expected %d for %s, got %d", tc.status, tc.path, rw.Result().StatusCode)
			}
		})
	}
}

func TestPublicDataselectIsMounted(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodGet, "/eidaws/statistics/1/dataselect/public?network=GE&start=2020-01&end=2020-01&format=json", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode == http.StatusNotFound {
		t.Fatalf("expected /dataselect/public to be routed, got 404")
	}
}

func TestRestrictedAndRawRejectGet(t *testing.T) {
	r := testSetup()

	for _, path := range []string{"/eidaws/statistics/1/dataselect/restricted", "/eidaws/statistics/1/dataselect/raw"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rw := httptest.NewRecorder()
		r.ServeHTTP(rw, req)
		if rw.Result().StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 for GET %s (POST-only route), got %d", path, rw.Result().StatusCode)
		}
	}
}

func TestSubmitRequiresBearerAuth(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodPost, "/eidaws/statistics/1/submit", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated submit, got %d", rw.Result().StatusCode)
	}
}

func TestCORSPreflightHeaders(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodOptions, "/eidaws/statistics/1/dataselect/public", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS Allow-Origin header on preflight response")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	headers := []string{
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Strict-Transport-Security",
	}
	for _, h := range headers {
		if rw.Header().Get(h) == "" {
			t.Fatalf("expected security header %s to be set", h)
		}
	}
}

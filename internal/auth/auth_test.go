package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eidaws/statistics-gateway/internal/apperr"
)

type fakeResolver struct {
	nodeID   int64
	nodeName string
	err      error
}

func (f fakeResolver) ResolveToken(ctx context.Context, token string) (int64, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	return f.nodeID, f.nodeName, nil
}

func TestBearerAuthMissingHeader(t *testing.T) {
	b := NewBearerAuth(fakeResolver{}, "")
	r := httptest.NewRequest(http.MethodPost, "/submit", nil)
	_, _, err := b.Authenticate(r)
	if err != apperr.Unauthenticated {
		t.Fatalf("got %v, want Unauthenticated", err)
	}
}

func TestBearerAuthResolves(t *testing.T) {
	b := NewBearerAuth(fakeResolver{nodeID: 7, nodeName: "GFZ"}, "Authentication")
	r := httptest.NewRequest(http.MethodPost, "/submit", nil)
	r.Header.Set("Authentication", "Bearer tok123")
	id, name, err := b.Authenticate(r)
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 || name != "GFZ" {
		t.Fatalf("got (%d,%q)", id, name)
	}
}

func TestBearerAuthInvalidToken(t *testing.T) {
	wantErr := errors.New("boom")
	b := NewBearerAuth(fakeResolver{err: wantErr}, "Authentication")
	r := httptest.NewRequest(http.MethodPost, "/submit", nil)
	r.Header.Set("Authentication", "Bearer bad")
	_, _, err := b.Authenticate(r)
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

type acceptAllVerifier struct{ cleartext string }

func (a acceptAllVerifier) Verify(signed []byte) ([]byte, error) {
	return []byte(a.cleartext), nil
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(signed []byte) ([]byte, error) {
	return nil, errors.New("bad sig")
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestSignedAuthHappyPath(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cleartext := "{valid_until:2030-01-01T00:00:00.000Z, memberof:opA;opB}"
	s := NewSignedAuth(acceptAllVerifier{cleartext}, fixedClock(now))
	claims, err := s.Authenticate([]byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	if !claims.IsMember("opA") || !claims.IsMember("opB") {
		t.Fatalf("claims missing expected groups: %+v", claims.MemberOf)
	}
	if claims.IsMember("opC") {
		t.Fatalf("unexpected membership")
	}
}

func TestSignedAuthExpired(t *testing.T) {
	now := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	cleartext := "{valid_until:2030-01-01T00:00:00.000Z, memberof:opA}"
	s := NewSignedAuth(acceptAllVerifier{cleartext}, fixedClock(now))
	_, err := s.Authenticate([]byte("whatever"))
	if err != apperr.TokenExpired {
		t.Fatalf("got %v, want TokenExpired", err)
	}
}

func TestSignedAuthBadSignature(t *testing.T) {
	s := NewSignedAuth(rejectVerifier{}, nil)
	_, err := s.Authenticate([]byte("whatever"))
	if err != apperr.BadSignature {
		t.Fatalf("got %v, want BadSignature", err)
	}
}

func TestSignedAuthMalformedClaims(t *testing.T) {
	s := NewSignedAuth(acceptAllVerifier{"not-a-claims-blob"}, nil)
	_, err := s.Authenticate([]byte("whatever"))
	if err != apperr.BadSignature {
		t.Fatalf("got %v, want BadSignature", err)
	}
}

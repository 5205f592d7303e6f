package auth

import (
	"strconv"
	"strings"
	"time"

	"github.com/eidaws/statistics-gateway/internal/apperr"
)

// SignatureVerifier checks a detached signature over a cleartext blob and
// returns the cleartext if valid. The GPG trust root used in production is
// explicitly out of scope (spec.md §1); this is the seam it would plug
// into — any implementation satisfying this interface works, including a
// test fake that always accepts.
type SignatureVerifier interface {
	Verify(signed []byte) (cleartext []byte, err error)
}

// Claims is the parsed content of a verified signed token (spec §6): at
// minimum valid_until and memberof.
type Claims struct {
	ValidUntil time.Time
	MemberOf   map[string]struct{}
}

// IsMember reports whether group is present in MemberOf.
func (c Claims) IsMember(group string) bool {
	if group == "" {
		return false
	}
	_, ok := c.MemberOf[group]
	return ok
}

// Clock lets tests pin "now" instead of depending on time.Now(); production
// wiring passes time.Now.
type Clock func() time.Time

// SignedAuth verifies and parses the query-endpoint signed token.
type SignedAuth struct {
	verifier SignatureVerifier
	now      Clock
}

// NewSignedAuth creates a SignedAuth. now defaults to time.Now.
func NewSignedAuth(verifier SignatureVerifier, now Clock) *SignedAuth {
	if now == nil {
		now = time.Now
	}
	return &SignedAuth{verifier: verifier, now: now}
}

// Authenticate verifies the signature, parses the claims, and checks
// freshness. Returns apperr.BadSignature on a bad/unverifiable signature,
// apperr.TokenExpired if valid_until has passed.
func (s *SignedAuth) Authenticate(signed []byte) (Claims, error) {
	cleartext, err := s.verifier.Verify(signed)
	if err != nil {
		return Claims{}, apperr.BadSignature
	}
	claims, err := parseClaims(string(cleartext))
	if err != nil {
		return Claims{}, apperr.BadSignature
	}
	if s.now().After(claims.ValidUntil) {
		return Claims{}, apperr.TokenExpired
	}
	return claims, nil
}

// parseClaims extracts a colon-separated key:value token wrapped in braces,
// e.g. "{valid_until:2030-01-01T00:00:00.000Z, memberof:opA;opB}", grounded
// on helper_functions.py's check_authentication (regex-extract the
// brace-wrapped body, split on commas then colons).
func parseClaims(body string) (Claims, error) {
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < 0 || end <= start {
		return Claims{}, apperr.BadSignature
	}
	inner := body[start+1 : end]

	fields := make(map[string]string)
	for _, part := range strings.Split(inner, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			continue
		}
		fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	rawUntil, ok := fields["valid_until"]
	if !ok {
		return Claims{}, apperr.BadSignature
	}
	validUntil, err := parseClaimTime(rawUntil)
	if err != nil {
		return Claims{}, apperr.BadSignature
	}

	return Claims{
		ValidUntil: validUntil,
		MemberOf:   parseGroupsClaim(fields["memberof"]),
	}, nil
}

// parseClaimTime accepts the original's "%Y-%m-%dT%H:%M:%S.%fZ" shape and
// plain RFC3339 as an equivalent.
func parseClaimTime(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// parseGroupsClaim normalizes the semicolon-joined memberof claim. It is
// the same algorithm as restriction.ParseGroups, duplicated here (rather
// than importing internal/restriction) only to keep auth free of a
// dependency on restriction. Both split on ';' only; no other claim shape
// is recognized.
func parseGroupsClaim(claim string) map[string]struct{} {
	out := make(map[string]struct{})
	start := 0
	for i := 0; i <= len(claim); i++ {
		if i == len(claim) || claim[i] == ';' {
			if i > start {
				out[claim[start:i]] = struct{}{}
			}
			start = i + 1
		}
	}
	return out
}

// intOrZero converts s to an int, treating a missing or unparsable value as
// zero rather than erroring. Nothing in this package calls it.
func intOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

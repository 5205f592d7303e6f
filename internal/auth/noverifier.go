package auth

import "errors"

// RejectAllVerifier is the safe default SignatureVerifier when no trust
// root is configured: every signed token fails closed rather than being
// silently accepted.
type RejectAllVerifier struct{}

func (RejectAllVerifier) Verify(signed []byte) ([]byte, error) {
	return nil, errors.New("no signed-token trust root configured")
}

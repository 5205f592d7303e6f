package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/clearsign"
)

// PGPVerifier implements SignatureVerifier against a GPG keyring. This is
// intentionally the minimal concrete instance of the interface spec.md §1
// calls out as out of scope ("the GPG trust root, treated as an opaque
// signature verifier") — production trust-root management (key rotation,
// revocation) is an external collaborator; this just checks a clearsigned
// message against a fixed keyring file.
type PGPVerifier struct {
	keyring openpgp.EntityList
}

// NewPGPVerifier loads an ASCII-armored public keyring from path.
func NewPGPVerifier(path string) (*PGPVerifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trust root: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read trust root keyring: %w", err)
	}
	return &PGPVerifier{keyring: keyring}, nil
}

// Verify checks a clearsigned message and returns its plaintext body.
func (v *PGPVerifier) Verify(signed []byte) ([]byte, error) {
	block, _ := clearsign.Decode(signed)
	if block == nil {
		return nil, errors.New("not a clearsigned message")
	}
	if _, err := openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body); err != nil {
		return nil, fmt.Errorf("check signature: %w", err)
	}
	return block.Plaintext, nil
}

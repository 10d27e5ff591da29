package audit

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// macKeyInfo domain-separates audit MAC keys from any other key derived
// from the same root secret.
const macKeyInfo = "governor/audit/mac/v1"

// DeriveMACKey derives the 32-byte audit MAC key from a root secret using
// HKDF-SHA256. The same secret and salt always yield the same key, so log
// verification works across restarts.
func DeriveMACKey(rootSecret, salt []byte) ([]byte, error) {
	if len(rootSecret) == 0 {
		return nil, fmt.Errorf("audit: empty root secret")
	}
	r := hkdf.New(sha256.New, rootSecret, salt, []byte(macKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("audit: derive mac key: %w", err)
	}
	return key, nil
}

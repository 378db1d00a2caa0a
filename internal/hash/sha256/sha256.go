// Package sha256 computes content digests used to detect duplicate record writes.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hasher digests accepted records for the shared state store.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashJSON hashes a JSON document after removing insignificant whitespace,
// so indentation differences do not change the digest.
func (h *Hasher) HashJSON(doc []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return "", fmt.Errorf("compact json: %w", err)
	}
	return h.Hash(buf.Bytes())
}

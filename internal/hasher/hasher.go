// Package hasher computes content fingerprints over the final byte stream of an
// upload. Fingerprints are unsalted and depend only on the bytes, so identical
// content always yields the identical fingerprint.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a supported digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Size is the fingerprint length in bytes for every supported algorithm.
const Size = 32

// Fingerprint is a fixed-length digest tagged with the algorithm that made it.
type Fingerprint struct {
	Algorithm Algorithm
	Sum       [Size]byte
}

// String returns the lowercase hex encoding of the digest.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f.Sum[:])
}

// Qualified returns "<algorithm>:<hex>", the form used as a content identifier.
func (f Fingerprint) Qualified() string {
	return string(f.Algorithm) + ":" + f.String()
}

// Hasher computes fingerprints with one configured algorithm.
type Hasher struct {
	alg Algorithm
}

// New returns a Hasher for the named algorithm. An empty name selects SHA-256.
func New(name string) (*Hasher, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return &Hasher{alg: SHA256}, nil
	case BLAKE3:
		return &Hasher{alg: BLAKE3}, nil
	default:
		return nil, fmt.Errorf("hasher: unsupported algorithm %q", name)
	}
}

// Algorithm reports the configured algorithm.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Digest fingerprints data. An empty buffer yields the digest of the empty sequence.
func (h *Hasher) Digest(data []byte) Fingerprint {
	fp := Fingerprint{Algorithm: h.alg}
	switch h.alg {
	case BLAKE3:
		fp.Sum = blake3.Sum256(data)
	default:
		fp.Sum = sha256.Sum256(data)
	}
	return fp
}

// Parse decodes a hex digest produced by Fingerprint.String.
func Parse(alg Algorithm, hexDigest string) (Fingerprint, error) {
	fp := Fingerprint{Algorithm: alg}
	decoded, err := hex.DecodeString(hexDigest)
	if err != nil {
		return fp, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != Size {
		return fp, fmt.Errorf("digest is %d bytes, want %d", len(decoded), Size)
	}
	copy(fp.Sum[:], decoded)
	return fp, nil
}

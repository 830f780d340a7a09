package common

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Hasher accumulates a SHA-256 fingerprint from streamed chunks.
type Hasher struct {
	h hash.Hash
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Sha256OfBytes returns the hex digest of the buffer. Used as the flight
// fingerprint for report QR codes and artifact naming.
func Sha256OfBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

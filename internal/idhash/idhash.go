// Package idhash is the keyed hashing primitive shared by event sanitization and
// experiment assignment. Every output is derived from a BLAKE3 key that is itself
// derived from the per-deployment salt, so hashes are stable within a deployment
// and cannot be reversed or recomputed without the salt.
package idhash

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

const keyContext = "cli-analytics identifier hashing v1"

// Domain separators keep the different outputs from colliding with each other.
const (
	domainIdentifier  = "identifier"
	domainDigest      = "digest"
	domainFingerprint = "fingerprint"
)

// Hasher produces salted identifiers and digests. Safe for concurrent use.
type Hasher struct {
	key [32]byte
}

// New derives the hashing key from the deployment salt.
func New(salt string) *Hasher {
	h := &Hasher{}
	blake3.DeriveKey(keyContext, []byte(salt), h.key[:])
	return h
}

// Identifier hashes a caller-supplied identifier into 32 hex characters.
func (h *Hasher) Identifier(value string) string {
	sum := h.sum(domainIdentifier, value)
	return hex.EncodeToString(sum[:16])
}

// Digest combines parts into a uniformly distributed 64-bit value.
func (h *Hasher) Digest(parts ...string) uint64 {
	sum := h.sum(domainDigest, parts...)
	return binary.BigEndian.Uint64(sum[:8])
}

// Fingerprint combines parts into a stable 32 hex character content key.
func (h *Hasher) Fingerprint(parts ...string) string {
	sum := h.sum(domainFingerprint, parts...)
	return hex.EncodeToString(sum[:16])
}

// sum writes each part length-prefixed so ("ab","c") and ("a","bc") differ.
func (h *Hasher) sum(domain string, parts ...string) []byte {
	hasher, err := blake3.NewKeyed(h.key[:])
	if err != nil {
		panic("idhash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var lenBuf [binary.MaxVarintLen64]byte
	write := func(s string) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		_, _ = hasher.Write(lenBuf[:n])
		_, _ = hasher.Write([]byte(s))
	}
	write(domain)
	write(strconv.Itoa(len(parts)))
	for _, p := range parts {
		write(p)
	}
	return hasher.Sum(nil)
}

package idhash

import (
	"strings"
	"testing"
)

func TestIdentifier_StableAndSalted(t *testing.T) {
	a := New("salt-one")
	b := New("salt-two")

	if a.Identifier("alice") != a.Identifier("alice") {
		t.Error("same salt and input must hash identically")
	}
	if a.Identifier("alice") == b.Identifier("alice") {
		t.Error("different salts must produce different hashes")
	}
	if a.Identifier("alice") == a.Identifier("bob") {
		t.Error("different inputs must produce different hashes")
	}
	got := a.Identifier("alice")
	if len(got) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(got))
	}
	if strings.Contains(got, "alice") {
		t.Error("hash must not contain the input")
	}
}

func TestDomainsAreSeparated(t *testing.T) {
	h := New("salt")
	if h.Identifier("x") == h.Fingerprint("x") {
		t.Error("identifier and fingerprint of the same value must differ")
	}
}

func TestDigest_PartBoundaries(t *testing.T) {
	h := New("salt")
	if h.Digest("ab", "c") == h.Digest("a", "bc") {
		t.Error("part boundaries must affect the digest")
	}
	if h.Digest("t", "exp", "actor") != h.Digest("t", "exp", "actor") {
		t.Error("digest must be deterministic")
	}
}

func BenchmarkIdentifier(b *testing.B) {
	h := New("bench-salt")
	for i := 0; i < b.N; i++ {
		_ = h.Identifier("user@example.com")
	}
}

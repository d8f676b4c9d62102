package digest

import (
	"bytes"
	"testing"
)

func TestSumRecipeOnly(t *testing.T) {
	var h Hasher
	h.AddString("hello")

	sum := h.Sum()
	if len(sum) != 20 {
		t.Fatalf("expected 20-byte digest without fingerprint, got %d bytes", len(sum))
	}

	if !bytes.Equal(SliceRecipes(sum), sum) {
		t.Errorf("SliceRecipes should return the whole digest when there is no host part")
	}
	if SliceHost(sum) != nil {
		t.Errorf("SliceHost should be nil without a fingerprint contribution")
	}
}

func TestSumWithFingerprint(t *testing.T) {
	var h Hasher
	h.AddString("hello")
	h.Fingerprint([]byte("gcc-12.2"))

	sum := h.Sum()
	if len(sum) != 40 {
		t.Fatalf("expected 40-byte digest with fingerprint, got %d bytes", len(sum))
	}

	var noFingerprint Hasher
	noFingerprint.AddString("hello")
	if !bytes.Equal(SliceRecipes(sum), noFingerprint.Sum()) {
		t.Errorf("recipe half must match the digest of an otherwise identical hasher without a fingerprint")
	}
	if len(SliceHost(sum)) != 20 {
		t.Errorf("host half should be 20 bytes")
	}
}

func TestLengthPrefixAvoidsConcatenationCollision(t *testing.T) {
	var a Hasher
	a.AddLengthPrefixed([]byte("ab")).AddLengthPrefixed([]byte("c"))

	var b Hasher
	b.AddLengthPrefixed([]byte("a")).AddLengthPrefixed([]byte("bc"))

	if bytes.Equal(a.Sum(), b.Sum()) {
		t.Errorf("length-prefixed encoding must not collide across concatenation boundaries")
	}
}

func TestStringRoundTripsRecipeOnly(t *testing.T) {
	var h Hasher
	h.AddString("hello")
	s := String(h.Sum())
	if len(s) == 0 {
		t.Fatal("expected non-empty canonical string")
	}
	if s[:5] != "sha1:" {
		t.Errorf("expected sha1: prefix, got %q", s)
	}
}

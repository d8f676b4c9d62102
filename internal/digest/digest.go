// Package digest computes the two-part content digests used to identify
// steps and packages (Variant-Id and Result-Id).
//
// A digest is always a 20-byte SHA1 sum of the "recipe" bytes a step
// contributes by itself. If any host-dependent fingerprint bytes were
// also added, a second 20-byte SHA1 sum of those bytes is appended,
// producing a 40-byte digest. A digest with no fingerprint contribution
// is never padded to 40 bytes: older consumers that only understand the
// 20-byte form must keep working.
package digest

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"

	godigest "github.com/opencontainers/go-digest"
)

// Hasher accumulates the two byte streams that make up a digest: recipe
// bytes, written by every step regardless of sandboxing or host state,
// and fingerprint bytes, which the caller writes only for a
// fingerprinted step.
//
// The zero value is ready to use.
type Hasher struct {
	recipes []byte
	host    []byte
}

// Add appends bytes to the recipe-internal part of the digest.
func (h *Hasher) Add(b []byte) *Hasher {
	h.recipes = append(h.recipes, b...)
	return h
}

// AddString is Add for a string, avoiding a caller-side []byte(s) copy
// at call sites that already hold a string.
func (h *Hasher) AddString(s string) *Hasher {
	h.recipes = append(h.recipes, s...)
	return h
}

// AddUint32 appends n as 4 little-endian bytes, the length-prefix
// encoding used throughout recipe digests (e.g. before a variable-length
// string or list so that "ab"+"c" cannot collide with "a"+"bc").
func (h *Hasher) AddUint32(n uint32) *Hasher {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	h.recipes = append(h.recipes, buf[:]...)
	return h
}

// AddLengthPrefixed appends len(b) as a uint32 length prefix followed by
// b itself.
func (h *Hasher) AddLengthPrefixed(b []byte) *Hasher {
	h.AddUint32(uint32(len(b)))
	h.recipes = append(h.recipes, b...)
	return h
}

// Fingerprint appends bytes to the host-dependent part of the digest.
func (h *Hasher) Fingerprint(b []byte) *Hasher {
	h.host = append(h.host, b...)
	return h
}

// Sum returns the final digest bytes: 20 bytes if no fingerprint
// contribution was ever added, 40 bytes (recipe half then host half)
// otherwise.
func (h *Hasher) Sum() []byte {
	recipeSum := sha1.Sum(h.recipes)
	if len(h.host) == 0 {
		return recipeSum[:]
	}
	hostSum := sha1.Sum(h.host)
	out := make([]byte, 0, 40)
	out = append(out, recipeSum[:]...)
	out = append(out, hostSum[:]...)
	return out
}

// SliceRecipes extracts the recipe-internal part of a digest produced by
// Sum.
func SliceRecipes(d []byte) []byte {
	if len(d) < 20 {
		return d
	}
	return d[:20]
}

// SliceHost extracts the host-fingerprint part of a digest produced by
// Sum. Returns nil if the digest has no fingerprint contribution.
func SliceHost(d []byte) []byte {
	if len(d) <= 20 {
		return nil
	}
	return d[20:]
}

// String renders d in the "sha1:<hex>" canonical form used for
// Variant-Id/Result-Id display and cache keys. A 40-byte digest (recipe
// half plus host fingerprint half) is rendered "sha1:<hex40>:<hex40>".
func String(d []byte) string {
	recipePart := godigest.NewDigestFromEncoded(godigest.SHA1, hex.EncodeToString(SliceRecipes(d)))
	if host := SliceHost(d); len(host) > 0 {
		return recipePart.String() + ":" + hex.EncodeToString(host)
	}
	return recipePart.String()
}

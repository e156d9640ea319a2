// Package pathhash computes the 128-bit case-insensitive identity hash
// used throughout the engine to recognize a path across restarts (spec
// §4.1). It mirrors the approach mutagen's staging store uses for its own
// path-addressed cache (pkg/synchronization/endpoint/local/staging/store),
// which pools github.com/zeebo/xxh3 hashers for exactly this kind of
// high-throughput, non-cryptographic path hashing — the same library
// supplies a native Hash128 entry point, so no separate pooling or
// truncation of a 64-bit hash is needed here.
package pathhash

import (
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/zeebo/xxh3"

	"github.com/assetcooker/assetcooker/internal/model"
)

// Hash computes the PathHash for an absolute path. The path must already
// be normalized to use the platform separator only; Hash performs the
// locale-invariant uppercasing itself, then hashes the little-endian
// UTF-16 bytes of the uppercased path.
//
// Per spec §4.1, implementations must not substitute a 64-bit hash here;
// xxh3.Hash128 is used specifically because it produces a full 128-bit
// digest.
func Hash(absolutePath string) model.PathHash {
	upper := uppercaseInvariant(absolutePath)
	wide := utf16.Encode([]rune(upper))
	bytes := make([]byte, 2*len(wide))
	for i, unit := range wide {
		binary.LittleEndian.PutUint16(bytes[2*i:], unit)
	}
	sum := xxh3.Hash128(bytes)
	return model.PathHash{High: sum.Hi, Low: sum.Lo}
}

// uppercaseInvariant uppercases a path the way the spec requires: a
// locale-invariant mapping, not the current OS locale's case table. Go's
// unicode.ToUpper operates on Unicode simple case folding rules rather
// than a locale-specific table, which is the invariant behavior we want
// (Windows' own invariant-culture uppercasing has the same property for
// the ASCII and Latin-1 ranges that dominate real filesystem paths).
func uppercaseInvariant(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for _, r := range path {
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

package model

import "fmt"

// PathHash is a 128-bit case-insensitive hash of an absolute path. It is
// the durable cross-run identity for a path: collisions are treated as
// impossible, and a 64-bit hash is never an acceptable substitute (see
// internal/pathhash for the computation).
type PathHash struct {
	High uint64
	Low  uint64
}

func (h PathHash) String() string {
	return fmt.Sprintf("%016x%016x", h.High, h.Low)
}

// IsZero reports whether the hash is the zero value. A zero hash is never
// produced by internal/pathhash for a non-empty path, so it is safe to use
// as a "not computed" sentinel in tests.
func (h PathHash) IsZero() bool {
	return h.High == 0 && h.Low == 0
}

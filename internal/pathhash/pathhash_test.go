package pathhash

import "testing"

// TestHashIsCaseInsensitive tests that paths differing only by case
// (within the ASCII/Latin-1 range the spec cares about) hash identically.
func TestHashIsCaseInsensitive(t *testing.T) {
	a := Hash(`C:\Repo\Assets\Texture.png`)
	b := Hash(`c:\repo\assets\texture.PNG`)
	if a != b {
		t.Errorf("Hash differs by case: %v != %v", a, b)
	}
}

// TestHashIsDeterministic tests that hashing the same path twice produces
// the same result.
func TestHashIsDeterministic(t *testing.T) {
	const path = `C:\Repo\Assets\Model.fbx`
	if Hash(path) != Hash(path) {
		t.Error("Hash is not deterministic for the same input")
	}
}

// TestHashDistinguishesDifferentPaths tests that distinct paths hash to
// distinct values (not a guarantee in general, but expected for this
// small a sample with a 128-bit hash).
func TestHashDistinguishesDifferentPaths(t *testing.T) {
	paths := []string{
		`C:\Repo\a.txt`,
		`C:\Repo\b.txt`,
		`C:\Repo\Assets\a.txt`,
		`D:\Repo\a.txt`,
	}
	seen := map[string]bool{}
	for _, p := range paths {
		h := Hash(p).String()
		if seen[h] {
			t.Errorf("path %q produced a hash collision: %s", p, h)
		}
		seen[h] = true
	}
}

// TestHashIsNonZero tests that a real path never produces the zero hash,
// since model.PathHash.IsZero is documented to rely on that.
func TestHashIsNonZero(t *testing.T) {
	if Hash(`C:\Repo\a.txt`).IsZero() {
		t.Error("Hash produced the zero value for a non-empty path")
	}
}

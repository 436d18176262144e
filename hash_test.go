// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import "testing"

func TestFnvVariantsDiffer(t *testing.T) {
	fixed := fnv1a64([]byte("foo/bar"), 0)
	legacy := fnv1a64Legacy([]byte("foo/bar"), 0)
	if fixed == legacy {
		t.Fatalf("bugfix and legacy variants agree (%#x); they must not", fixed)
	}
}

func TestPathHashSelectsVariantByVersion(t *testing.T) {
	const p = "Game/Content/Maps/Arena.umap"
	const seed = 42

	data := pathHashBytes(p)

	v11 := pathHash(VersionFnv64BugFix, p, seed)
	if want := fnv1a64(data, seed); v11 != want {
		t.Errorf("v11 hash = %#x, want bugfix variant %#x", v11, want)
	}

	v10 := pathHash(VersionPathHashIndex, p, seed)
	if want := fnv1a64Legacy(data, seed); v10 != want {
		t.Errorf("v10 hash = %#x, want legacy variant %#x", v10, want)
	}

	if v10 == v11 {
		t.Error("v10 and v11 hashes agree; archives would cross-validate incorrectly")
	}
}

func TestPathHashLowercases(t *testing.T) {
	if pathHash(VersionFnv64BugFix, "A/B.TXT", 7) != pathHash(VersionFnv64BugFix, "a/b.txt", 7) {
		t.Error("path hash is case-sensitive; it must lowercase first")
	}
}

func TestFnv1a64KnownValue(t *testing.T) {
	// Unseeded FNV-1a of no input is the offset basis itself.
	if got := fnv1a64(nil, 0); got != fnvOffset64 {
		t.Errorf("fnv1a64(nil) = %#x, want offset basis %#x", got, fnvOffset64)
	}
	// Standard FNV-1a test vector.
	if got := fnv1a64([]byte("a"), 0); got != 0xaf63dc4c8601ec8c {
		t.Errorf("fnv1a64(\"a\") = %#x, want 0xaf63dc4c8601ec8c", got)
	}
}

func TestPathHashUsesUTF16(t *testing.T) {
	// The engine hashes the UTF-16LE encoding, so ASCII input hashes with an
	// interleaved zero byte per character, not the raw UTF-8 bytes.
	got := pathHashBytes("ab")
	want := []byte{'a', 0, 'b', 0}
	if string(got) != string(want) {
		t.Errorf("pathHashBytes(\"ab\") = %v, want %v", got, want)
	}
}

func TestDerivePathHashSeed(t *testing.T) {
	a := DerivePathHashSeed("MyGame-WindowsNoEditor.pak")
	b := DerivePathHashSeed("mygame-windowsnoeditor.pak")
	if a != b {
		t.Error("seed derivation must lowercase the filename first")
	}
	if a == DerivePathHashSeed("other.pak") {
		t.Error("distinct filenames produced the same seed")
	}
}

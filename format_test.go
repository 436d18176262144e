// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"testing"
)

func TestFooterSizeByVersion(t *testing.T) {
	// magic + version + offset + size + sha1 = 44 bytes, plus per-version
	// additions.
	cases := []struct {
		v    Version
		want int
	}{
		{VersionNoTimestamps, 44},
		{VersionCompressionEncryption, 44},
		{VersionIndexEncryption, 45},
		{VersionEncryptionKeyGUID, 61},
		{VersionFNameBasedCompression, 61 + 4*32},
		{VersionFrozenIndex, 61 + 128 + 5*32},
		{VersionPathHashIndex, 61 + 5*32},
		{VersionFnv64BugFix, 61 + 5*32},
	}
	for _, c := range cases {
		if got := c.v.footerSize(); got != c.want {
			t.Errorf("footerSize(v%d) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestFooterRoundTrip(t *testing.T) {
	for v := MinVersion; v <= MaxVersion; v++ {
		f := &Footer{
			Version:     v,
			IndexOffset: 0xDEAD,
			IndexSize:   0xBEEF,
		}
		copy(f.IndexSHA1[:], bytes.Repeat([]byte{0x5A}, 20))
		if v.allowsIndexEncryption() {
			f.EncryptedIndex = true
		}
		if v.hasEncryptionKeyGUID() {
			copy(f.KeyGUID[:], bytes.Repeat([]byte{0x33}, 16))
		}
		if v.hasCompressionNameTable() {
			f.CompressionTags = []string{CompressionZlib, CompressionZstd}
		}

		var buf bytes.Buffer
		if err := f.write(&buf); err != nil {
			t.Fatalf("v%d: write footer: %v", v, err)
		}
		if buf.Len() != v.footerSize() {
			t.Errorf("v%d: wrote %d bytes, footerSize says %d", v, buf.Len(), v.footerSize())
		}

		got, err := readFooter(bytes.NewReader(buf.Bytes()), v)
		if err != nil {
			t.Fatalf("v%d: read footer: %v", v, err)
		}
		if got.IndexOffset != f.IndexOffset || got.IndexSize != f.IndexSize || got.IndexSHA1 != f.IndexSHA1 {
			t.Errorf("v%d: index fields did not round trip", v)
		}
		if got.EncryptedIndex != f.EncryptedIndex {
			t.Errorf("v%d: encrypted flag did not round trip", v)
		}
		if v.hasEncryptionKeyGUID() && got.KeyGUID != f.KeyGUID {
			t.Errorf("v%d: key guid did not round trip", v)
		}
		if v.hasCompressionNameTable() {
			if got.CompressionTags[0] != CompressionZlib || got.CompressionTags[1] != CompressionZstd {
				t.Errorf("v%d: compression tags = %v", v, got.CompressionTags)
			}
		}
	}
}

func TestDiscoverFooterFindsVersion(t *testing.T) {
	f := &Footer{Version: VersionDeleteRecords, IndexOffset: 100, IndexSize: 32}
	var buf bytes.Buffer
	buf.Write(make([]byte, 200)) // fake payload+index region
	if err := f.write(&buf); err != nil {
		t.Fatalf("write footer: %v", err)
	}

	got, v, err := discoverFooter(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if v != VersionDeleteRecords {
		t.Errorf("discovered version %d, want %d", v, VersionDeleteRecords)
	}
	if got.IndexOffset != 100 {
		t.Errorf("index offset = %d, want 100", got.IndexOffset)
	}
}

func TestDiscoverFooterRejectsGarbage(t *testing.T) {
	junk := bytes.Repeat([]byte{0x42}, 512)
	if _, _, err := discoverFooter(bytes.NewReader(junk), int64(len(junk))); err == nil {
		t.Error("garbage accepted as an archive")
	}
}

func TestCompressionMethodTable(t *testing.T) {
	f := &Footer{
		Version:         VersionFnv64BugFix,
		CompressionTags: []string{CompressionZlib, "", CompressionZstd},
	}

	tag, err := f.compressionMethodTag(0)
	if err != nil || tag != "" {
		t.Errorf("index 0 = (%q, %v), want no compression", tag, err)
	}
	tag, err = f.compressionMethodTag(1)
	if err != nil || tag != CompressionZlib {
		t.Errorf("index 1 = (%q, %v), want Zlib", tag, err)
	}
	if _, err := f.compressionMethodTag(2); err == nil {
		t.Error("empty slot resolved to a method")
	}

	i, err := f.compressionMethodIndex(CompressionZstd)
	if err != nil || i != 3 {
		t.Errorf("Zstd index = (%d, %v), want 3", i, err)
	}
	if _, err := f.compressionMethodIndex(CompressionGzip); err == nil {
		t.Error("absent tag resolved to an index")
	}
}

func TestLegacyCompressionMethodTable(t *testing.T) {
	// Pre-name-table versions resolve against the implicit Zlib/Gzip/Oodle
	// slot list.
	f := &Footer{Version: VersionRelativeChunkOffsets}
	tag, err := f.compressionMethodTag(1)
	if err != nil || tag != CompressionZlib {
		t.Errorf("legacy index 1 = (%q, %v), want Zlib", tag, err)
	}
	tag, err = f.compressionMethodTag(2)
	if err != nil || tag != CompressionGzip {
		t.Errorf("legacy index 2 = (%q, %v), want Gzip", tag, err)
	}
	tag, err = f.compressionMethodTag(3)
	if err != nil || tag != CompressionOodle {
		t.Errorf("legacy index 3 = (%q, %v), want Oodle", tag, err)
	}
	if _, err := f.compressionMethodTag(4); err == nil {
		t.Error("legacy index 4 resolved to a method")
	}
}

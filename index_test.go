// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMountPoint(t *testing.T) {
	m, err := normalizeMountPoint("../../../")
	require.NoError(t, err)
	assert.Equal(t, "../../../", m)

	m, err = normalizeMountPoint("Game/Content")
	require.NoError(t, err)
	assert.Equal(t, "Game/Content/", m)

	_, err = normalizeMountPoint(string(make([]byte, 65536)))
	assert.ErrorIs(t, err, ErrMountPointTooLong)
}

func TestSealOrderPadsBeforeHashing(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}

	plain := []byte("ten bytes.") // deliberately not 16-byte aligned
	sealed, hash, err := sealIndexSection(append([]byte(nil), plain...), true, AESCipher{}, key)
	require.NoError(t, err)
	require.Len(t, sealed, 16, "sealed section must be padded to the block boundary")

	// The recorded hash is the SHA-1 of the PADDED plaintext, never the raw
	// ten bytes.
	padded := make([]byte, 16)
	copy(padded, plain)
	assert.Equal(t, sha1.Sum(padded), hash)
	assert.NotEqual(t, sha1.Sum(plain), hash)

	// A reader decrypting the section recomputes the identical hash.
	recovered, gotHash, err := unsealIndexSection(sealed, true, AESCipher{}, key)
	require.NoError(t, err)
	assert.Equal(t, hash, gotHash)
	assert.Equal(t, padded, recovered)
}

func TestSealUnencryptedIsPlain(t *testing.T) {
	plain := []byte("unencrypted index bytes")
	sealed, hash, err := sealIndexSection(append([]byte(nil), plain...), false, AESCipher{}, [32]byte{})
	require.NoError(t, err)
	assert.Equal(t, plain, sealed, "unencrypted sections are written verbatim, no padding")
	assert.Equal(t, sha1.Sum(plain), hash)
}

func TestPathHashIndexBuilderRoundTrip(t *testing.T) {
	b := newPathHashIndexBuilder(3)
	b.add(0x1111, EntryLocation{Kind: LocationEncodedOffset, Value: 0})
	b.add(0x2222, EntryLocation{Kind: LocationListIndex, Value: 5})
	b.add(0x3333, EntryLocation{Kind: LocationInvalid})

	raw, err := b.build()
	require.NoError(t, err)

	idx, err := parsePathHashIndex(bytes.NewReader(raw))
	require.NoError(t, err)

	loc, ok := idx.lookup(0x1111)
	require.True(t, ok)
	assert.Equal(t, EntryLocation{Kind: LocationEncodedOffset, Value: 0}, loc)

	loc, ok = idx.lookup(0x2222)
	require.True(t, ok)
	assert.Equal(t, EntryLocation{Kind: LocationListIndex, Value: 5}, loc)

	_, ok = idx.lookup(0x9999)
	assert.False(t, ok)
}

func TestFullDirectoryIndexBuilderRoundTrip(t *testing.T) {
	b := newFullDirectoryIndexBuilder()
	b.add("a.txt", EntryLocation{Kind: LocationEncodedOffset, Value: 0})
	b.add("sub/dir/b.txt", EntryLocation{Kind: LocationEncodedOffset, Value: 12})
	b.add("sub/c.txt", EntryLocation{Kind: LocationListIndex, Value: 0})

	raw, err := b.build()
	require.NoError(t, err)

	idx, err := parseFullDirectoryIndex(bytes.NewReader(raw))
	require.NoError(t, err)

	require.Contains(t, idx.Dirs, "/")
	require.Contains(t, idx.Dirs, "sub/")
	require.Contains(t, idx.Dirs, "sub/dir/")

	assert.Equal(t, uint32(0), idx.Dirs["/"]["a.txt"].Value)
	assert.Equal(t, uint32(12), idx.Dirs["sub/dir/"]["b.txt"].Value)
	assert.Equal(t, LocationListIndex, idx.Dirs["sub/"]["c.txt"].Kind)
}

func TestFullDirectoryIndexBuildIsDeterministic(t *testing.T) {
	build := func() []byte {
		b := newFullDirectoryIndexBuilder()
		b.add("z/last.bin", EntryLocation{})
		b.add("a/first.bin", EntryLocation{})
		b.add("m/mid.bin", EntryLocation{})
		raw, err := b.build()
		require.NoError(t, err)
		return raw
	}
	assert.Equal(t, build(), build())
}

func TestPrimaryIndexRoundTrip(t *testing.T) {
	v := VersionFnv64BugFix
	p := &PrimaryIndex{
		MountPoint:     "../../../",
		PathHashSeed:   0xCAFEBABE,
		EncodedEntries: []byte{1, 2, 3, 4, 5},

		HasPathHashIndex: true,
		PathHashOffset:   1000,
		PathHashSize:     64,

		HasFullDirectoryIndex: true,
		FullDirectoryOffset:   1064,
		FullDirectorySize:     128,
	}
	copy(p.PathHashSHA1[:], bytes.Repeat([]byte{0xAA}, 20))
	copy(p.FullDirectorySHA1[:], bytes.Repeat([]byte{0xBB}, 20))
	p.SetEntryCount(9)

	var buf bytes.Buffer
	require.NoError(t, p.write(&buf, v, func(string) (int, error) { return 0, nil }))

	got, err := parsePrimaryIndex(bytes.NewReader(buf.Bytes()), v, testResolveTag)
	require.NoError(t, err)

	assert.Equal(t, p.MountPoint, got.MountPoint)
	assert.Equal(t, p.PathHashSeed, got.PathHashSeed)
	assert.Equal(t, 9, got.EntryCount())
	assert.Equal(t, p.EncodedEntries, got.EncodedEntries)
	assert.Equal(t, p.PathHashOffset, got.PathHashOffset)
	assert.Equal(t, p.PathHashSHA1, got.PathHashSHA1)
	assert.Equal(t, p.FullDirectoryOffset, got.FullDirectoryOffset)
	assert.Equal(t, p.FullDirectorySHA1, got.FullDirectorySHA1)
}

func TestPrimaryIndexRejectsNegativeCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLPString(&buf, "../../../"))
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // entry count -1

	_, err := parsePrimaryIndex(bytes.NewReader(buf.Bytes()), VersionFnv64BugFix, testResolveTag)
	assert.ErrorIs(t, err, ErrCorruptPakIndex)
}

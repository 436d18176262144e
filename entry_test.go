// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"reflect"
	"testing"
)

// testResolveTag is the method table used by entry codec tests: slot 1 is
// Zlib, everything else unknown.
func testResolveTag(index int) (string, error) {
	switch index {
	case 0:
		return "", nil
	case 1:
		return CompressionZlib, nil
	}
	return "", ErrUnknownCompressionMethod
}

func encodeDecode(t *testing.T, e *Entry, v Version, methodIndex int) *Entry {
	t.Helper()
	if !e.encodable(v, methodIndex) {
		t.Fatal("entry unexpectedly not encodable")
	}
	var buf bytes.Buffer
	if err := e.encode(&buf, v, methodIndex); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeEncoded(bytes.NewReader(buf.Bytes()), v, testResolveTag)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestEncodeDecodeUncompressed(t *testing.T) {
	e := &Entry{
		Offset:           0x1000,
		CompressedSize:   4096,
		UncompressedSize: 4096,
		BlockSize:        4096,
	}
	got := encodeDecode(t, e, VersionFnv64BugFix, 0)
	if !reflect.DeepEqual(got, e) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestEncodeDecodeSingleBlock(t *testing.T) {
	v := VersionFnv64BugFix
	e := &Entry{
		Offset:           0x2000,
		CompressedSize:   1234,
		UncompressedSize: 5000,
		CompressionTag:   CompressionZlib,
		BlockSize:        5000, // not a multiple of 2048: exercises the literal sentinel
	}
	e.Blocks = []block{{Start: 0, End: 0}}
	start := e.blockBase(v) + int64(e.headerSize(v))
	e.Blocks[0] = block{Start: start, End: start + e.CompressedSize}

	got := encodeDecode(t, e, v, 1)
	if !reflect.DeepEqual(got, e) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestEncodeDecodeMultiBlockEncrypted(t *testing.T) {
	v := VersionFnv64BugFix
	e := &Entry{
		Offset:           0x8000,
		UncompressedSize: 131072,
		CompressionTag:   CompressionZlib,
		Encrypted:        true,
		BlockSize:        65536,
	}
	lengths := []int64{30011, 29517}
	e.Blocks = make([]block, len(lengths))
	cursor := e.blockBase(v) + int64(e.headerSize(v))
	for i, l := range lengths {
		e.Blocks[i] = block{Start: cursor, End: cursor + l}
		e.CompressedSize += l
		cursor += align64(l)
	}

	got := encodeDecode(t, e, v, 1)
	if !reflect.DeepEqual(got, e) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestEncodeDecodeLargeOffset(t *testing.T) {
	// Offsets beyond u32 must fall back to the 64-bit field.
	e := &Entry{
		Offset:           0x1_2345_6789,
		CompressedSize:   10,
		UncompressedSize: 10,
		BlockSize:        10,
	}
	got := encodeDecode(t, e, VersionFnv64BugFix, 0)
	if got.Offset != e.Offset {
		t.Errorf("offset = %#x, want %#x", got.Offset, e.Offset)
	}
}

func TestNotEncodable(t *testing.T) {
	v := VersionFnv64BugFix
	e := &Entry{
		Offset:           0,
		CompressedSize:   100,
		UncompressedSize: 100,
		CompressionTag:   CompressionZlib,
		BlockSize:        100,
		// First block does not start at the header boundary.
		Blocks: []block{{Start: 9999, End: 10099}},
	}
	if e.encodable(v, 1) {
		t.Error("entry with displaced first block should not be encodable")
	}
	if (&Entry{}).encodable(v, 64) {
		t.Error("method index >= 64 should not be encodable")
	}
}

func TestOnDiskHeaderRoundTrip(t *testing.T) {
	v := VersionFnv64BugFix
	e := &Entry{
		Offset:           0x400,
		CompressedSize:   777,
		UncompressedSize: 2000,
		CompressionTag:   CompressionZlib,
		BlockSize:        2000,
	}
	copy(e.PayloadSHA1[:], bytes.Repeat([]byte{0xAB}, 20))
	e.Blocks = []block{{Start: 0, End: 0}}
	start := int64(e.headerSize(v))
	e.Blocks[0] = block{Start: start, End: start + e.CompressedSize}

	var buf bytes.Buffer
	if err := e.writeOnDisk(&buf, v, 1); err != nil {
		t.Fatalf("write on-disk: %v", err)
	}
	if buf.Len() != e.headerSize(v) {
		t.Errorf("serialized header is %d bytes, headerSize says %d", buf.Len(), e.headerSize(v))
	}

	got, err := readOnDisk(bytes.NewReader(buf.Bytes()), v, e.Offset, testResolveTag)
	if err != nil {
		t.Fatalf("read on-disk: %v", err)
	}
	if !reflect.DeepEqual(got, e) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestIndexRecordCarriesOffsetNotHash(t *testing.T) {
	v := VersionFnv64BugFix
	e := &Entry{
		Offset:           0x1234,
		CompressedSize:   50,
		UncompressedSize: 50,
		BlockSize:        50,
	}
	copy(e.PayloadSHA1[:], bytes.Repeat([]byte{0xCD}, 20))

	var buf bytes.Buffer
	if err := e.writeIndexRecord(&buf, v, 0); err != nil {
		t.Fatalf("write index record: %v", err)
	}
	got, err := readOnDisk(bytes.NewReader(buf.Bytes()), v, -1, testResolveTag)
	if err != nil {
		t.Fatalf("read index record: %v", err)
	}
	if got.Offset != e.Offset {
		t.Errorf("offset = %#x, want %#x (index records carry the real offset)", got.Offset, e.Offset)
	}
	if got.PayloadSHA1 != [20]byte{} {
		t.Errorf("payload sha1 = %x, want zero-filled in index form", got.PayloadSHA1)
	}
}

func TestOnDiskHeaderVersion2(t *testing.T) {
	// Version 2 has no compression method, encrypted flag, or block size
	// fields: the header is exactly offset + sizes + sha1.
	e := &Entry{
		Offset:           64,
		CompressedSize:   10,
		UncompressedSize: 10,
	}
	var buf bytes.Buffer
	if err := e.writeOnDisk(&buf, VersionNoTimestamps, 0); err != nil {
		t.Fatalf("write on-disk: %v", err)
	}
	if want := 8 + 8 + 8 + 20; buf.Len() != want {
		t.Errorf("v2 header is %d bytes, want %d", buf.Len(), want)
	}
}

// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"errors"
	"testing"
)

func TestCompressorRoundTrips(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)

	for _, tag := range []string{CompressionZlib, CompressionGzip, CompressionZstd} {
		t.Run(tag, func(t *testing.T) {
			c, err := lookupCompressor(tag)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			packed, err := c.Compress(data)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if len(packed) >= len(data) {
				t.Errorf("repetitive input did not shrink: %d -> %d", len(data), len(packed))
			}
			out, err := c.Decompress(packed, len(data))
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(out, data) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestLookupUnknownCompressor(t *testing.T) {
	if _, err := lookupCompressor("lzham"); !errors.Is(err, ErrUnknownCompressionMethod) {
		t.Errorf("err = %v, want ErrUnknownCompressionMethod", err)
	}
}

func TestOodleCompressUnsupported(t *testing.T) {
	c, err := lookupCompressor(CompressionOodle)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := c.Compress([]byte("x")); !errors.Is(err, ErrFeatureUnsupported) {
		t.Errorf("err = %v, want ErrFeatureUnsupported", err)
	}
}

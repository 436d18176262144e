// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/new-world-tools/go-oodle"
)

// Compressor is the narrow capability the codec depends on for a single
// named compression method. The set of methods is closed per archive
// format, so a registry keyed by tag is preferred over open dispatch.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
}

// Compression method tags, matching the footer's compression-method name
// table entries.
const (
	CompressionZlib  = "Zlib"
	CompressionGzip  = "Gzip"
	CompressionZstd  = "Zstd"
	CompressionOodle = "Oodle"
)

// compressorRegistry maps a method tag to its codec. Registered once at
// init; callers never mutate it, matching the closed-set-of-algorithms
// design called out in the package's design notes.
var compressorRegistry = map[string]Compressor{
	CompressionZlib:  zlibCompressor{},
	CompressionGzip:  gzipCompressor{},
	CompressionZstd:  zstdCompressor{},
	CompressionOodle: oodleCompressor{},
}

// lookupCompressor resolves a method tag to its Compressor, or reports
// ErrUnknownCompressionMethod.
func lookupCompressor(tag string) (Compressor, error) {
	c, ok := compressorRegistry[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompressionMethod, tag)
	}
	return c, nil
}

// zlibCompressor wraps klauspost/compress/zlib, a drop-in replacement for
// the standard library's compress/zlib used elsewhere in the retrieved
// example pack (BeHierarchic, meigma/blob) for faster, more memory-frugal
// deflate.
type zlibCompressor struct{}

func (zlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := kzlib.NewWriterLevel(&buf, kzlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	r, err := kzlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib reader: %v", ErrBlockDecompressionFailed, err)
	}
	defer r.Close()
	out := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: zlib: %v", ErrBlockDecompressionFailed, err)
	}
	return out[:n], nil
}

// gzipCompressor uses the standard library directly: gzip has no
// competing implementation anywhere in the retrieved pack, so there is
// nothing to prefer over compress/gzip here.
type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip reader: %v", ErrBlockDecompressionFailed, err)
	}
	defer r.Close()
	out := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: gzip: %v", ErrBlockDecompressionFailed, err)
	}
	return out[:n], nil
}

// zstdCompressor wraps klauspost/compress/zstd, the way meigma/blob's
// create.go and internal/file/decompress.go construct encoders/decoders.
type zstdCompressor struct{}

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decoder: %v", ErrBlockDecompressionFailed, err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrBlockDecompressionFailed, err)
	}
	return out, nil
}

// oodleCompressor wraps github.com/new-world-tools/go-oodle, the Oodle
// codec used across the Unreal Engine ecosystem for shipping compression.
// Decompress-only: producing Oodle streams needs the vendor encoder, so
// Oodle archives can be read but not written.
type oodleCompressor struct{}

func (oodleCompressor) Compress(data []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: writing Oodle compression is not supported", ErrFeatureUnsupported)
}

func (oodleCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	out, err := oodle.Decompress(data, int64(uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: oodle: %v", ErrBlockDecompressionFailed, err)
	}
	if len(out) != uncompressedSize {
		return nil, fmt.Errorf("%w: oodle produced %d bytes, wanted %d", ErrSizeMismatch, len(out), uncompressedSize)
	}
	return out, nil
}

// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

type writerState int

const (
	stateOpen writerState = iota
	stateWritingFiles
	stateFinalizing
	stateClosed
)

// defaultMountPoint is the engine convention: three levels up from the
// archive.
const defaultMountPoint = "../../../"

// pendingEntry pairs a caller-supplied path with the Entry bookkeeping
// accumulated for it while writing.
type pendingEntry struct {
	path  string
	entry Entry
}

// Writer accepts files one at a time in caller order, streaming each to the
// sink immediately, then emits the footer and indices on WriteIndex. It
// follows the state machine Open -> WritingFiles -> Finalizing -> Closed;
// any call after Closed fails with ErrWriterFinalized.
type Writer struct {
	sink    io.Writer
	version Version

	mountPoint   string
	pathHashSeed uint64
	compression  []string
	key          [32]byte
	hasKey       bool
	cipher       BlockCipher
	encryptIndex bool
	encryptData  bool
	keyGUID      KeyGUID
	hasKeyGUID   bool

	log *slog.Logger

	state   writerState
	offset  int64
	entries []pendingEntry
}

// Option configures a Writer at construction: version, compression, key,
// path hash seed, mount point.
type Option func(*Writer) error

// WithWriterVersion selects the on-disk format version. Required.
func WithWriterVersion(v Version) Option {
	return func(w *Writer) error {
		if !v.valid() {
			return fmt.Errorf("%w: version %d", ErrUnsupportedVersion, v)
		}
		if !v.supportsWrite() {
			return fmt.Errorf("%w: version %d is frozen (read-only)", ErrFeatureUnsupported, v)
		}
		w.version = v
		return nil
	}
}

// WithCompression selects the compression methods this writer may use, in
// preference order; WriteFile compresses with the first entry. Passing no
// tags disables compression.
func WithCompression(tags ...string) Option {
	return func(w *Writer) error {
		for _, t := range tags {
			if _, err := lookupCompressor(t); err != nil {
				return err
			}
		}
		w.compression = tags
		return nil
	}
}

// WithKey supplies the AES-256 (or VFallenDoll) key. Callers must also opt
// into WithEncryptData and/or WithEncryptIndex; supplying a key alone
// enables neither.
func WithKey(key [32]byte) Option {
	return func(w *Writer) error {
		w.key = key
		w.hasKey = true
		return nil
	}
}

// WithCipher overrides the default AES-256 block cipher.
func WithCipher(c BlockCipher) Option {
	return func(w *Writer) error {
		w.cipher = c
		return nil
	}
}

// WithEncryptIndex enables index encryption; the selected version must
// support it (>=4) and a key must be supplied.
func WithEncryptIndex(enabled bool) Option {
	return func(w *Writer) error {
		w.encryptIndex = enabled
		return nil
	}
}

// WithEncryptData enables per-block file payload encryption.
func WithEncryptData(enabled bool) Option {
	return func(w *Writer) error {
		w.encryptData = enabled
		return nil
	}
}

// WithKeyGUID records the encryption key GUID written into the footer
// (>=7). Callers that don't set one get a freshly generated GUID whenever
// encryption is enabled.
func WithKeyGUID(g KeyGUID) Option {
	return func(w *Writer) error {
		w.keyGUID = g
		w.hasKeyGUID = true
		return nil
	}
}

// WithMountPoint overrides the default mount point "../../../".
func WithMountPoint(m string) Option {
	return func(w *Writer) error {
		norm, err := normalizeMountPoint(m)
		if err != nil {
			return err
		}
		w.mountPoint = norm
		return nil
	}
}

// WithPathHashSeed overrides the default seed of 0. The writer does not
// derive a seed itself; DerivePathHashSeed computes the filename-based one.
func WithPathHashSeed(seed uint64) Option {
	return func(w *Writer) error {
		w.pathHashSeed = seed
		return nil
	}
}

// WithWriterLogger attaches a structured logger.
func WithWriterLogger(l *slog.Logger) Option {
	return func(w *Writer) error {
		w.log = l
		return nil
	}
}

// NewWriter constructs a Writer streaming to sink. WithWriterVersion is
// required; every other option has a default.
func NewWriter(sink io.Writer, opts ...Option) (*Writer, error) {
	w := &Writer{
		sink:   sink,
		cipher: AESCipher{},
		log:    slog.Default(),
	}
	for _, o := range opts {
		if err := o(w); err != nil {
			return nil, err
		}
	}
	if w.version == VersionUnknown {
		return nil, fmt.Errorf("%w: version must be set via WithWriterVersion", ErrFeatureUnsupported)
	}
	if w.mountPoint == "" {
		norm, err := normalizeMountPoint(defaultMountPoint)
		if err != nil {
			return nil, err
		}
		w.mountPoint = norm
	}
	if (w.encryptIndex || w.encryptData) && !w.hasKey {
		return nil, ErrKeyRequired
	}
	if w.encryptIndex && !w.version.allowsIndexEncryption() {
		return nil, fmt.Errorf("%w: index encryption requires version >= 4", ErrFeatureUnsupported)
	}
	if (w.encryptIndex || w.encryptData) && !w.version.hasCompressionEncryption() {
		return nil, fmt.Errorf("%w: encryption requires version >= 3", ErrFeatureUnsupported)
	}
	if w.hasCompressionRequest() && !w.version.hasCompressionEncryption() {
		return nil, fmt.Errorf("%w: per-block compression requires version >= 3", ErrFeatureUnsupported)
	}
	if w.version.hasCompressionNameTable() && len(w.compression) > w.version.compressionMethodSlots() {
		return nil, fmt.Errorf("%w: version %d supports at most %d compression methods", ErrFeatureUnsupported, w.version, w.version.compressionMethodSlots())
	}
	if (w.encryptIndex || w.encryptData) && w.version.hasEncryptionKeyGUID() && !w.hasKeyGUID {
		g, err := NewKeyGUID()
		if err != nil {
			return nil, fmt.Errorf("generate key guid: %w", err)
		}
		w.keyGUID = g
	}
	w.state = stateOpen
	return w, nil
}

func (w *Writer) hasCompressionRequest() bool { return len(w.compression) > 0 }

func (w *Writer) methodIndexOf(tag string) (int, error) {
	if tag == "" {
		return 0, nil
	}
	table := w.compression
	if !w.version.hasCompressionNameTable() {
		// Versions without a footer name table resolve against the engine's
		// implicit slot list instead of the writer's configured one.
		table = legacyCompressionTags
	}
	for i, t := range table {
		if t == tag {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s not in writer's compression list", ErrUnknownCompressionMethod, tag)
}

// WriteFile compresses (if configured), encrypts (if configured), and
// streams path's payload to the sink immediately, then records its entry
// for the eventual index. Block size is min(len(data), 65536): small
// files use their own length, never a fixed 64 KiB block, or cross-reader
// validation would fail.
func (w *Writer) WriteFile(path string, data []byte) error {
	if w.state == stateFinalizing || w.state == stateClosed {
		return ErrWriterFinalized
	}
	w.state = stateWritingFiles

	tag := ""
	if len(w.compression) > 0 {
		tag = w.compression[0]
	}

	var e Entry
	e.UncompressedSize = int64(len(data))
	e.CompressionTag = tag
	e.Encrypted = w.encryptData && w.hasKey
	sum := sha1.Sum(data)
	e.PayloadSHA1 = sum
	e.Offset = w.offset

	blockSize := len(data)
	if blockSize > 65536 {
		blockSize = 65536
	}
	e.BlockSize = blockSize

	var blockPlain [][]byte
	compress := tag != "" && len(data) > 0
	if compress {
		count := (len(data) + blockSize - 1) / blockSize
		blockPlain = make([][]byte, count)
		for i := 0; i < count; i++ {
			start := i * blockSize
			end := start + blockSize
			if end > len(data) {
				end = len(data)
			}
			blockPlain[i] = data[start:end]
		}
		e.Blocks = make([]block, count)
	} else {
		e.CompressionTag = ""
		e.CompressedSize = e.UncompressedSize
	}

	methodIndex, err := w.methodIndexOf(e.CompressionTag)
	if err != nil {
		return err
	}

	headerBytes := int64(e.headerSize(w.version))
	base := e.blockBase(w.version)

	var compressedBlocks [][]byte
	if compress {
		compressor, err := lookupCompressor(tag)
		if err != nil {
			return err
		}
		compressedBlocks = make([][]byte, len(blockPlain))
		cursor := base + headerBytes
		var total int64
		for i, plain := range blockPlain {
			cb, err := compressor.Compress(plain)
			if err != nil {
				return fmt.Errorf("compress block %d of %s: %w", i, path, err)
			}
			compressedBlocks[i] = cb
			length := int64(len(cb))
			e.Blocks[i] = block{Start: cursor, End: cursor + length}
			total += length
			if e.Encrypted {
				length = align64(length)
			}
			cursor += length
		}
		e.CompressedSize = total
	}

	if err := e.writeOnDisk(w.sink, w.version, methodIndex); err != nil {
		return fmt.Errorf("write header for %s: %w", path, err)
	}
	w.offset += headerBytes

	if compress {
		for i, cb := range compressedBlocks {
			payload := cb
			if e.Encrypted {
				padded := padTo16(cb)
				out := make([]byte, len(padded))
				copy(out, padded)
				if err := ecbEncrypt(w.cipher, w.key, out); err != nil {
					return fmt.Errorf("encrypt block %d of %s: %w", i, path, err)
				}
				payload = out
			}
			if _, err := w.sink.Write(payload); err != nil {
				return fmt.Errorf("write block %d of %s: %w", i, path, err)
			}
			w.offset += int64(len(payload))
		}
	} else {
		payload := data
		if e.Encrypted {
			padded := padTo16(data)
			out := make([]byte, len(padded))
			copy(out, padded)
			if err := ecbEncrypt(w.cipher, w.key, out); err != nil {
				return fmt.Errorf("encrypt payload of %s: %w", path, err)
			}
			payload = out
		}
		if _, err := w.sink.Write(payload); err != nil {
			return fmt.Errorf("write payload of %s: %w", path, err)
		}
		w.offset += int64(len(payload))
	}

	w.entries = append(w.entries, pendingEntry{path: path, entry: e})
	return nil
}

// WriteIndex sorts the recorded entries by lowercased path, builds and
// seals the index sections, and writes PHI, then FDI, then the primary
// index, then the footer. It transitions the writer through Finalizing to
// Closed; any further call fails with ErrWriterFinalized.
func (w *Writer) WriteIndex() error {
	if w.state == stateClosed {
		return ErrWriterFinalized
	}
	w.state = stateFinalizing
	defer func() { w.state = stateClosed }()

	sort.Slice(w.entries, func(i, j int) bool {
		return strings.ToLower(w.entries[i].path) < strings.ToLower(w.entries[j].path)
	})

	primary := &PrimaryIndex{
		MountPoint:   w.mountPoint,
		PathHashSeed: w.pathHashSeed,
	}
	primary.SetEntryCount(len(w.entries))

	legacy := !w.version.hasPathHashAndDirectoryIndex()

	var encodedBuf bytes.Buffer
	var phiBuilder *pathHashIndexBuilder
	var fdiBuilder *fullDirectoryIndexBuilder
	if !legacy {
		phiBuilder = newPathHashIndexBuilder(len(w.entries))
		fdiBuilder = newFullDirectoryIndexBuilder()
	}

	for _, pe := range w.entries {
		e := pe.entry
		if legacy {
			primary.Files = append(primary.Files, e)
			primary.Paths = append(primary.Paths, pe.path)
			continue
		}

		methodIndex, err := w.methodIndexOf(e.CompressionTag)
		if err != nil {
			return err
		}

		var loc EntryLocation
		if e.encodable(w.version, methodIndex) {
			loc = EntryLocation{Kind: LocationEncodedOffset, Value: uint32(encodedBuf.Len())}
			if err := e.encode(&encodedBuf, w.version, methodIndex); err != nil {
				return fmt.Errorf("encode entry %s: %w", pe.path, err)
			}
		} else {
			loc = EntryLocation{Kind: LocationListIndex, Value: uint32(len(primary.Files))}
			primary.Files = append(primary.Files, e)
		}

		hash := pathHash(w.version, pe.path, w.pathHashSeed)
		phiBuilder.add(hash, loc)
		fdiBuilder.add(pe.path, loc)
	}
	primary.EncodedEntries = encodedBuf.Bytes()

	var phiSealed, fdiSealed []byte
	if !legacy {
		phiPlain, err := phiBuilder.build()
		if err != nil {
			return fmt.Errorf("build path hash index: %w", err)
		}
		fdiPlain, err := fdiBuilder.build()
		if err != nil {
			return fmt.Errorf("build full directory index: %w", err)
		}

		var phiHash, fdiHash [20]byte
		phiSealed, phiHash, err = sealIndexSection(phiPlain, w.encryptIndex, w.cipher, w.key)
		if err != nil {
			return fmt.Errorf("seal path hash index: %w", err)
		}
		fdiSealed, fdiHash, err = sealIndexSection(fdiPlain, w.encryptIndex, w.cipher, w.key)
		if err != nil {
			return fmt.Errorf("seal full directory index: %w", err)
		}

		phiOffset := w.offset
		fdiOffset := phiOffset + int64(len(phiSealed))

		primary.HasPathHashIndex = true
		primary.PathHashOffset = uint64(phiOffset)
		primary.PathHashSize = uint64(len(phiSealed))
		primary.PathHashSHA1 = phiHash

		primary.HasFullDirectoryIndex = true
		primary.FullDirectoryOffset = uint64(fdiOffset)
		primary.FullDirectorySize = uint64(len(fdiSealed))
		primary.FullDirectorySHA1 = fdiHash
	}

	var primaryPlain bytes.Buffer
	if err := primary.write(&primaryPlain, w.version, w.methodIndexOf); err != nil {
		return fmt.Errorf("write primary index: %w", err)
	}
	primarySealed, primaryHash, err := sealIndexSection(primaryPlain.Bytes(), w.encryptIndex, w.cipher, w.key)
	if err != nil {
		return fmt.Errorf("seal primary index: %w", err)
	}

	primaryOffset := w.offset + int64(len(phiSealed)) + int64(len(fdiSealed))

	for _, buf := range [][]byte{phiSealed, fdiSealed, primarySealed} {
		if len(buf) == 0 {
			continue
		}
		if _, err := w.sink.Write(buf); err != nil {
			return fmt.Errorf("write index section: %w", err)
		}
		w.offset += int64(len(buf))
	}

	footer := &Footer{
		Version:        w.version,
		IndexOffset:    uint64(primaryOffset),
		IndexSize:      uint64(len(primarySealed)),
		IndexSHA1:      primaryHash,
		EncryptedIndex: w.encryptIndex,
	}
	if w.version.hasEncryptionKeyGUID() {
		footer.KeyGUID = w.keyGUID
	}
	if w.version.hasCompressionNameTable() {
		footer.CompressionTags = append([]string(nil), w.compression...)
	}

	if err := footer.write(w.sink); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}

	w.log.Info("pak: wrote archive", "version", int(w.version), "entries", len(w.entries), "index_offset", primaryOffset)
	return nil
}

// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Reader opens an archive for lookup and extraction. It owns no payload
// caches: every Get re-reads and re-decodes straight from the underlying
// source, matching the stateless-reader model the format assumes.
type Reader struct {
	src    io.ReaderAt
	closer io.Closer
	size   int64
	mu     sync.Mutex // guards seek+read sequences against the shared source

	footer  *Footer
	version Version
	primary *PrimaryIndex
	phi     *PathHashIndex
	fdi     *FullDirectoryIndex

	cipher BlockCipher
	key    [32]byte
	hasKey bool

	log *slog.Logger
}

// ReaderOption configures Open, following the same functional-options shape
// the writer's builder uses.
type ReaderOption func(*Reader)

// WithReaderKey supplies the AES-256 key used to decrypt an encrypted index
// and/or encrypted file payloads.
func WithReaderKey(key [32]byte) ReaderOption {
	return func(r *Reader) {
		r.key = key
		r.hasKey = true
	}
}

// WithReaderCipher overrides the default AES-256 block cipher, e.g. with
// VFallenDollCipher{}.
func WithReaderCipher(c BlockCipher) ReaderOption {
	return func(r *Reader) { r.cipher = c }
}

// WithReaderLogger attaches a structured logger; Open uses slog.Default()
// when none is supplied.
func WithReaderLogger(l *slog.Logger) ReaderOption {
	return func(r *Reader) { r.log = l }
}

// Open discovers the footer, decrypts and validates the indices, and
// returns a ready-to-use Reader over src, which must expose size bytes of
// archive data via ReaderAt.
func Open(src io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		src:    src,
		size:   size,
		cipher: AESCipher{},
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	footer, version, err := discoverFooter(src, size)
	if err != nil {
		return nil, err
	}
	r.footer = footer
	r.version = version

	primary, err := r.readIndex()
	if err != nil {
		// Decryption and hash failures are deterministic; only a parse
		// failure gets the single retry before surfacing as corrupt.
		if errors.Is(err, ErrIndexDecryptionFailed) || errors.Is(err, ErrIndexHashMismatch) {
			return nil, err
		}
		r.log.Warn("pak: primary index parse failed, retrying once", "error", err)
		primary, err = r.readIndex()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPakIndex, err)
		}
	}
	r.primary = primary

	if primary.HasPathHashIndex {
		phi, err := r.readSecondaryIndex(primary.PathHashOffset, primary.PathHashSize, primary.PathHashSHA1)
		if err != nil {
			return nil, fmt.Errorf("path hash index: %w", err)
		}
		r.phi, err = parsePathHashIndex(bytes.NewReader(phi))
		if err != nil {
			return nil, fmt.Errorf("parse path hash index: %w", err)
		}
	}
	if primary.HasFullDirectoryIndex {
		fdi, err := r.readSecondaryIndex(primary.FullDirectoryOffset, primary.FullDirectorySize, primary.FullDirectorySHA1)
		if err != nil {
			return nil, fmt.Errorf("full directory index: %w", err)
		}
		r.fdi, err = parseFullDirectoryIndex(bytes.NewReader(fdi))
		if err != nil {
			return nil, fmt.Errorf("parse full directory index: %w", err)
		}
	}

	r.log.Info("pak: opened archive", "version", int(version), "entries", primary.EntryCount(), "mount_point", primary.MountPoint)
	return r, nil
}

// OpenFile opens path on disk and wraps it with Open; the returned Reader's
// Close releases the underlying file.
func OpenFile(path string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	r, err := Open(f, info.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Close releases the underlying file handle, if Open was reached via
// OpenFile. It is a no-op otherwise.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Version reports the archive's on-disk format version.
func (r *Reader) Version() Version { return r.version }

// MountPoint returns the normalized mount path recorded in the primary
// index.
func (r *Reader) MountPoint() string { return r.primary.MountPoint }

// PathHash returns the path-hash-index key for a mount-relative path, using
// this archive's seed and the FNV-1a variant its version calls for.
func (r *Reader) PathHash(path string) uint64 {
	return pathHash(r.version, path, r.primary.PathHashSeed)
}

// PathHashLegacy returns the pre-bugfix hash for the same path and seed,
// regardless of the archive's version. Useful for building hash dictionaries
// against older archives.
func (r *Reader) PathHashLegacy(path string) uint64 {
	return fnv1a64Legacy(pathHashBytes(path), r.primary.PathHashSeed)
}

func (r *Reader) readAt(buf []byte, offset int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.src.ReadAt(buf, offset)
	return err
}

func (r *Reader) resolveTag(index int) (string, error) {
	return r.footer.compressionMethodTag(index)
}

// readIndex reads, unseals, and parses the primary index described by the
// footer.
func (r *Reader) readIndex() (*PrimaryIndex, error) {
	if r.footer.EncryptedIndex && !r.hasKey {
		return nil, fmt.Errorf("%w: archive index is encrypted and no key was supplied", ErrIndexDecryptionFailed)
	}
	buf := make([]byte, r.footer.IndexSize)
	if err := r.readAt(buf, int64(r.footer.IndexOffset)); err != nil {
		return nil, fmt.Errorf("read primary index bytes: %w", err)
	}
	plain, hash, err := unsealIndexSection(buf, r.footer.EncryptedIndex, r.cipher, r.key)
	if err != nil {
		return nil, err
	}
	if hash != r.footer.IndexSHA1 {
		return nil, fmt.Errorf("%w: primary index", ErrIndexHashMismatch)
	}
	return parsePrimaryIndex(bytes.NewReader(plain), r.version, r.resolveTag)
}

// readSecondaryIndex reads, unseals, and hash-validates the PHI or FDI
// section recorded at offset/size in the primary index, against the given
// recorded hash.
func (r *Reader) readSecondaryIndex(offset, size uint64, wantHash [20]byte) ([]byte, error) {
	buf := make([]byte, size)
	if err := r.readAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read bytes: %w", err)
	}
	plain, hash, err := unsealIndexSection(buf, r.footer.EncryptedIndex, r.cipher, r.key)
	if err != nil {
		return nil, err
	}
	if hash != wantHash {
		return nil, ErrIndexHashMismatch
	}
	return plain, nil
}

// Files returns every non-deleted entry's mount-relative path in
// lexicographic order. Enumeration requires a full directory index (≥10)
// or the legacy per-entry path list (<10); without either, paths cannot be
// recovered from a path-hash-only index and ErrFeatureUnsupported is
// returned.
func (r *Reader) Files() ([]string, error) {
	if r.fdi != nil {
		var out []string
		for dir, files := range r.fdi.Dirs {
			trimmed := strings.TrimPrefix(dir, "/")
			for name, loc := range files {
				if loc.Kind == LocationInvalid {
					continue
				}
				out = append(out, trimmed+name)
			}
		}
		sort.Strings(out)
		return out, nil
	}
	if r.primary.Paths != nil {
		out := make([]string, len(r.primary.Paths))
		copy(out, r.primary.Paths)
		sort.Strings(out)
		return out, nil
	}
	return nil, fmt.Errorf("%w: archive has neither a full directory index nor legacy path list", ErrFeatureUnsupported)
}

// locate resolves a mount-relative path to its Entry via the fastest
// available index: PHI first (hash, O(1)), then FDI, then a linear scan of
// the legacy path list.
func (r *Reader) locate(path string) (*Entry, error) {
	if r.phi != nil {
		ph := pathHash(r.version, path, r.primary.PathHashSeed)
		loc, ok := r.phi.lookup(ph)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return r.entryAt(loc)
	}
	if r.fdi != nil {
		dir, file := splitDirAndFile(path)
		files, ok := r.fdi.Dirs[dir]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		loc, ok := files[file]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return r.entryAt(loc)
	}
	for i, p := range r.primary.Paths {
		if p == path {
			e := r.primary.Files[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
}

func (r *Reader) entryAt(loc EntryLocation) (*Entry, error) {
	switch loc.Kind {
	case LocationEncodedOffset:
		if int(loc.Value) > len(r.primary.EncodedEntries) {
			return nil, fmt.Errorf("%w: encoded entry offset out of range", ErrCorruptPakIndex)
		}
		return decodeEncoded(bytes.NewReader(r.primary.EncodedEntries[loc.Value:]), r.version, r.resolveTag)
	case LocationListIndex:
		if int(loc.Value) >= len(r.primary.Files) {
			return nil, fmt.Errorf("%w: list index out of range", ErrCorruptPakIndex)
		}
		e := r.primary.Files[loc.Value]
		return &e, nil
	default:
		if !r.version.supportsDeleteRecords() {
			return nil, fmt.Errorf("%w: invalid entry location at version %d", ErrCorruptPakIndex, r.version)
		}
		return nil, fmt.Errorf("%w: delete record", ErrFileNotFound)
	}
}

// Get writes path's uncompressed bytes to w. When check is true, the
// on-disk payload SHA-1 is verified against the recorded hash and
// ErrPayloadHashMismatch is returned on mismatch.
func (r *Reader) Get(path string, w io.Writer, check bool) error {
	located, err := r.locate(path)
	if err != nil {
		return err
	}

	// Re-read the on-disk header fresh: it carries the real payload hash
	// (zeroed in index-resident and absent in encoded form) and a block
	// table expressed in the same base the writer used when it knew its
	// own absolute offset.
	sec := io.NewSectionReader(r.src, located.Offset, r.size-located.Offset)
	entry, err := readOnDisk(sec, r.version, located.Offset, r.resolveTag)
	if err != nil {
		return fmt.Errorf("read on-disk entry header: %w", err)
	}

	return r.readPayload(entry, w, check)
}

func (r *Reader) readPayload(e *Entry, w io.Writer, check bool) error {
	var compressor Compressor
	if e.isCompressed() {
		var err error
		compressor, err = lookupCompressor(e.CompressionTag)
		if err != nil {
			return err
		}
	}

	blocks := e.absoluteBlocks(r.version)

	var hasher hash.Hash
	dest := w
	if check {
		h := sha1.New()
		hasher = h
		dest = io.MultiWriter(w, h)
	}

	remaining := e.UncompressedSize
	for i, b := range blocks {
		rawLen := b.End - b.Start
		onDiskLen := rawLen
		if e.Encrypted {
			onDiskLen = int64(align16(int(rawLen)))
		}
		buf := make([]byte, onDiskLen)
		if err := r.readAt(buf, b.Start); err != nil {
			return fmt.Errorf("read block %d: %w", i, err)
		}
		if e.Encrypted {
			if !r.hasKey {
				return fmt.Errorf("%w: %v", ErrBlockDecryptionFailed, ErrKeyRequired)
			}
			if err := ecbDecrypt(r.cipher, r.key, buf); err != nil {
				return fmt.Errorf("%w: %v", ErrBlockDecryptionFailed, err)
			}
			buf = buf[:rawLen]
		}

		blockUncompressed := int64(e.BlockSize)
		if i == len(blocks)-1 {
			blockUncompressed = remaining
		}

		var plain []byte
		if e.isCompressed() {
			out, err := compressor.Decompress(buf, int(blockUncompressed))
			if err != nil {
				return err
			}
			plain = out
		} else {
			plain = buf
		}

		if int64(len(plain)) != blockUncompressed {
			return fmt.Errorf("%w: block %d produced %d bytes, wanted %d", ErrSizeMismatch, i, len(plain), blockUncompressed)
		}
		if _, err := dest.Write(plain); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		remaining -= int64(len(plain))
	}

	if remaining != 0 {
		return fmt.Errorf("%w: %d bytes unaccounted for", ErrSizeMismatch, remaining)
	}

	if check {
		sum := hasher.Sum(nil)
		if !bytes.Equal(sum, e.PayloadSHA1[:]) {
			return fmt.Errorf("%w: got %x, want %x", ErrPayloadHashMismatch, sum, e.PayloadSHA1)
		}
	}
	return nil
}

// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode/utf16"
)

// EntryLocationKind discriminates the three ways a PathHashIndex or
// FullDirectoryIndex entry can point at file data.
type EntryLocationKind uint8

const (
	// LocationEncodedOffset points into the primary index's bit-packed
	// encoded-entry blob.
	LocationEncodedOffset EntryLocationKind = iota
	// LocationListIndex points into the primary index's non-encodable
	// entry list.
	LocationListIndex
	// LocationInvalid marks a delete record; there is no entry to read.
	LocationInvalid
)

// EntryLocation points at one file's entry data: an offset into the encoded
// blob, an index into the list of non-encodable entries, or invalid
// (deleted). Locations refer to data by integer offset rather than by
// pointer, so indices hold no self-referential structure.
type EntryLocation struct {
	Kind  EntryLocationKind
	Value uint32
}

// On the wire a location is a single i32: a non-negative value is an offset
// into the encoded-entry blob, a negative value v is list index -(v)-1, and
// the extremes are reserved to mean invalid (delete record).
const (
	locationInvalidMax = int32(0x7FFFFFFF)
	locationInvalidMin = int32(-0x80000000)
)

func (l EntryLocation) write(w io.Writer) error {
	var v int32
	switch l.Kind {
	case LocationEncodedOffset:
		v = int32(l.Value)
	case LocationListIndex:
		v = -int32(l.Value) - 1
	default:
		v = locationInvalidMax
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readEntryLocation(r io.Reader) (EntryLocation, error) {
	var v int32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return EntryLocation{}, err
	}
	switch {
	case v == locationInvalidMax || v == locationInvalidMin:
		return EntryLocation{Kind: LocationInvalid}, nil
	case v >= 0:
		return EntryLocation{Kind: LocationEncodedOffset, Value: uint32(v)}, nil
	default:
		return EntryLocation{Kind: LocationListIndex, Value: uint32(-(v + 1))}, nil
	}
}

// PrimaryIndex is the small top-level metadata block the footer points at.
type PrimaryIndex struct {
	MountPoint     string
	PathHashSeed   uint64
	EncodedEntries []byte
	Files          []Entry // non-encodable entries, in ListIndex order

	// Paths holds the mount-relative path for each entry in Files, and is
	// only meaningful (and only present on the wire) for versions before
	// hasPathHashAndDirectoryIndex: those archives have no FDI to recover
	// names from, so the older primary index layout pairs every entry with
	// its path directly.
	Paths []string

	HasPathHashIndex bool
	PathHashOffset   uint64
	PathHashSize     uint64
	PathHashSHA1     [20]byte

	HasFullDirectoryIndex bool
	FullDirectoryOffset   uint64
	FullDirectorySize     uint64
	FullDirectorySHA1     [20]byte

	// explicitEntryCount mirrors the wire field read by parsePrimaryIndex;
	// a PrimaryIndex built for writing sets it via SetEntryCount().
	explicitEntryCount int
}

// EntryCount reports the total file count (encoded + non-encodable) this
// index describes, and must be set before write on a PrimaryIndex being
// built rather than parsed.
func (p *PrimaryIndex) EntryCount() int { return p.explicitEntryCount }

// SetEntryCount records the total file count for the write path.
func (p *PrimaryIndex) SetEntryCount(n int) { p.explicitEntryCount = n }

// normalizeMountPoint appends a trailing slash if absent and rejects
// strings over 65535 bytes.
func normalizeMountPoint(m string) (string, error) {
	if len(m) > 65535 {
		return "", ErrMountPointTooLong
	}
	if !strings.HasSuffix(m, "/") {
		m += "/"
	}
	return m, nil
}

// writeLPString serializes s the way the engine's FString lands on disk:
// i32 length including a terminating NUL, then the bytes, then the NUL.
// Output is always UTF-8; the negative-length UTF-16 form is accepted on
// read but never produced.
func writeLPString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s)+1)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func readLPString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		// Negative length: -n UTF-16LE code units, NUL included.
		units := make([]uint16, -n)
		if err := binary.Read(r, binary.LittleEndian, units); err != nil {
			return "", err
		}
		if len(units) > 0 && units[len(units)-1] == 0 {
			units = units[:len(units)-1]
		}
		return string(utf16.Decode(units)), nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

// write serializes the primary index: mount point, entry count, seed,
// PHI/FDI descriptors, encoded-entries blob, then the non-encodable entry
// list. Versions before the path-hash index use the older layout instead,
// which is just mount point, count, and per-entry (path, record) pairs.
func (p *PrimaryIndex) write(w io.Writer, v Version, methodIndexOf func(string) (int, error)) error {
	if err := writeLPString(w, p.MountPoint); err != nil {
		return fmt.Errorf("write mount point: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(p.EntryCount())); err != nil {
		return fmt.Errorf("write entry count: %w", err)
	}

	if !v.hasPathHashAndDirectoryIndex() {
		for i, e := range p.Files {
			if err := writeLPString(w, p.Paths[i]); err != nil {
				return fmt.Errorf("write entry %d path: %w", i, err)
			}
			methodIndex, err := methodIndexOf(e.CompressionTag)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			if err := e.writeIndexRecord(w, v, methodIndex); err != nil {
				return fmt.Errorf("write entry %d: %w", i, err)
			}
		}
		return nil
	}

	if err := binary.Write(w, binary.LittleEndian, p.PathHashSeed); err != nil {
		return fmt.Errorf("write path hash seed: %w", err)
	}

	if err := writeFlag32(w, p.HasPathHashIndex); err != nil {
		return err
	}
	if p.HasPathHashIndex {
		if err := writeIndexDescriptor(w, p.PathHashOffset, p.PathHashSize, p.PathHashSHA1); err != nil {
			return fmt.Errorf("write path hash index descriptor: %w", err)
		}
	}
	if err := writeFlag32(w, p.HasFullDirectoryIndex); err != nil {
		return err
	}
	if p.HasFullDirectoryIndex {
		if err := writeIndexDescriptor(w, p.FullDirectoryOffset, p.FullDirectorySize, p.FullDirectorySHA1); err != nil {
			return fmt.Errorf("write full directory index descriptor: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(p.EncodedEntries))); err != nil {
		return fmt.Errorf("write encoded entries length: %w", err)
	}
	if _, err := w.Write(p.EncodedEntries); err != nil {
		return fmt.Errorf("write encoded entries: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(p.Files))); err != nil {
		return fmt.Errorf("write non-encodable count: %w", err)
	}
	for i, e := range p.Files {
		methodIndex, err := methodIndexOf(e.CompressionTag)
		if err != nil {
			return fmt.Errorf("non-encodable entry %d: %w", i, err)
		}
		if err := e.writeIndexRecord(w, v, methodIndex); err != nil {
			return fmt.Errorf("write non-encodable entry %d: %w", i, err)
		}
	}

	return nil
}

// The has-index flags in the primary index are full u32 words, not single
// bytes like the footer's encrypted flag.
func writeFlag32(w io.Writer, b bool) error {
	v := uint32(0)
	if b {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readFlag32(r io.Reader) (bool, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
}

func writeIndexDescriptor(w io.Writer, offset, size uint64, sha1 [20]byte) error {
	if err := binary.Write(w, binary.LittleEndian, offset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, size); err != nil {
		return err
	}
	_, err := w.Write(sha1[:])
	return err
}

func readIndexDescriptor(r io.Reader) (offset, size uint64, sha1 [20]byte, err error) {
	if err = binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return
	}
	if err = binary.Read(r, binary.LittleEndian, &size); err != nil {
		return
	}
	_, err = io.ReadFull(r, sha1[:])
	return
}

// parsePrimaryIndex is the exact inverse of PrimaryIndex.write.
func parsePrimaryIndex(r io.Reader, v Version, resolveTag func(int) (string, error)) (*PrimaryIndex, error) {
	p := &PrimaryIndex{}

	mount, err := readLPString(r)
	if err != nil {
		return nil, fmt.Errorf("read mount point: %w", err)
	}
	p.MountPoint = mount

	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read entry count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative entry count %d", ErrCorruptPakIndex, count)
	}
	p.explicitEntryCount = int(count)

	if !v.hasPathHashAndDirectoryIndex() {
		p.Files = make([]Entry, count)
		p.Paths = make([]string, count)
		for i := range p.Files {
			name, err := readLPString(r)
			if err != nil {
				return nil, fmt.Errorf("read entry %d path: %w", i, err)
			}
			p.Paths[i] = name
			e, err := readOnDisk(r, v, -1, resolveTag)
			if err != nil {
				return nil, fmt.Errorf("read entry %d: %w", i, err)
			}
			p.Files[i] = *e
		}
		return p, nil
	}

	if err := binary.Read(r, binary.LittleEndian, &p.PathHashSeed); err != nil {
		return nil, fmt.Errorf("read path hash seed: %w", err)
	}

	has, err := readFlag32(r)
	if err != nil {
		return nil, fmt.Errorf("read has-path-hash-index flag: %w", err)
	}
	p.HasPathHashIndex = has
	if has {
		off, size, sha1, err := readIndexDescriptor(r)
		if err != nil {
			return nil, fmt.Errorf("read path hash index descriptor: %w", err)
		}
		p.PathHashOffset, p.PathHashSize, p.PathHashSHA1 = off, size, sha1
	}

	has, err = readFlag32(r)
	if err != nil {
		return nil, fmt.Errorf("read has-full-directory-index flag: %w", err)
	}
	p.HasFullDirectoryIndex = has
	if has {
		off, size, sha1, err := readIndexDescriptor(r)
		if err != nil {
			return nil, fmt.Errorf("read full directory index descriptor: %w", err)
		}
		p.FullDirectoryOffset, p.FullDirectorySize, p.FullDirectorySHA1 = off, size, sha1
	}

	var encLen int32
	if err := binary.Read(r, binary.LittleEndian, &encLen); err != nil {
		return nil, fmt.Errorf("read encoded entries length: %w", err)
	}
	if encLen < 0 {
		return nil, fmt.Errorf("%w: negative encoded entries length %d", ErrCorruptPakIndex, encLen)
	}
	p.EncodedEntries = make([]byte, encLen)
	if _, err := io.ReadFull(r, p.EncodedEntries); err != nil {
		return nil, fmt.Errorf("read encoded entries: %w", err)
	}

	var fileCount int32
	if err := binary.Read(r, binary.LittleEndian, &fileCount); err != nil {
		return nil, fmt.Errorf("read non-encodable count: %w", err)
	}
	if fileCount < 0 {
		return nil, fmt.Errorf("%w: negative non-encodable count %d", ErrCorruptPakIndex, fileCount)
	}
	p.Files = make([]Entry, fileCount)
	for i := range p.Files {
		e, err := readOnDisk(r, v, -1, resolveTag)
		if err != nil {
			return nil, fmt.Errorf("read non-encodable entry %d: %w", i, err)
		}
		p.Files[i] = *e
	}

	return p, nil
}

// --- Path-hash index ---

// pathHashIndexBuilder accumulates (hash, location) pairs as the writer
// walks its sorted file list, then serializes the section in one pass.
type pathHashIndexBuilder struct {
	hashes []uint64
	locs   []EntryLocation
}

func newPathHashIndexBuilder(n int) *pathHashIndexBuilder {
	return &pathHashIndexBuilder{hashes: make([]uint64, 0, n), locs: make([]EntryLocation, 0, n)}
}

func (b *pathHashIndexBuilder) add(hash uint64, loc EntryLocation) {
	b.hashes = append(b.hashes, hash)
	b.locs = append(b.locs, loc)
}

func (b *pathHashIndexBuilder) build() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, int32(len(b.hashes))); err != nil {
		return nil, err
	}
	for i := range b.hashes {
		if err := binary.Write(&buf, binary.LittleEndian, b.hashes[i]); err != nil {
			return nil, err
		}
		if err := b.locs[i].write(&buf); err != nil {
			return nil, err
		}
	}
	// Unused trailing word; the engine writes and expects it.
	if err := binary.Write(&buf, binary.LittleEndian, uint32(0)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PathHashIndex is the parsed form: a map from hash to location for O(1)
// lookup. The on-disk order of the pairs is not kept.
type PathHashIndex struct {
	byHash map[uint64]EntryLocation
}

func parsePathHashIndex(r io.Reader) (*PathHashIndex, error) {
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read path hash index count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative path hash index count %d", ErrCorruptPakIndex, count)
	}
	idx := &PathHashIndex{byHash: make(map[uint64]EntryLocation, count)}
	for i := int32(0); i < count; i++ {
		var hash uint64
		if err := binary.Read(r, binary.LittleEndian, &hash); err != nil {
			return nil, fmt.Errorf("read path hash %d: %w", i, err)
		}
		loc, err := readEntryLocation(r)
		if err != nil {
			return nil, fmt.Errorf("read path hash location %d: %w", i, err)
		}
		idx.byHash[hash] = loc
	}
	return idx, nil
}

func (p *PathHashIndex) lookup(hash uint64) (EntryLocation, bool) {
	loc, ok := p.byHash[hash]
	return loc, ok
}

// --- Full directory index ---

// fullDirectoryIndexBuilder accumulates path -> location pairs, splitting
// each into its mount-relative directory and file name.
type fullDirectoryIndexBuilder struct {
	dirs map[string]map[string]EntryLocation
}

func newFullDirectoryIndexBuilder() *fullDirectoryIndexBuilder {
	return &fullDirectoryIndexBuilder{dirs: make(map[string]map[string]EntryLocation)}
}

func splitDirAndFile(p string) (dir, file string) {
	d, f := path.Split(p)
	if d == "" {
		d = "/"
	} else if !strings.HasSuffix(d, "/") {
		d += "/"
	}
	return d, f
}

// add records relPath's location under its directory, registering every
// ancestor directory along the way; directories with no files of their own
// still get an (empty) entry, matching what the engine emits.
func (b *fullDirectoryIndexBuilder) add(relPath string, loc EntryLocation) {
	dir, file := splitDirAndFile(relPath)
	for d := dir; ; {
		if _, ok := b.dirs[d]; !ok {
			b.dirs[d] = make(map[string]EntryLocation)
		}
		if d == "/" {
			break
		}
		parent, _ := splitDirAndFile(strings.TrimSuffix(d, "/"))
		d = parent
	}
	b.dirs[dir][file] = loc
}

// build serializes the directory table in sorted order, so that two builds
// from the same accumulated set always produce byte-identical output.
func (b *fullDirectoryIndexBuilder) build() ([]byte, error) {
	var buf bytes.Buffer
	dirs := make([]string, 0, len(b.dirs))
	for d := range b.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	if err := binary.Write(&buf, binary.LittleEndian, int32(len(dirs))); err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := writeLPString(&buf, dir); err != nil {
			return nil, err
		}
		files := b.dirs[dir]
		names := make([]string, 0, len(files))
		for n := range files {
			names = append(names, n)
		}
		sort.Strings(names)

		if err := binary.Write(&buf, binary.LittleEndian, int32(len(names))); err != nil {
			return nil, err
		}
		for _, name := range names {
			if err := writeLPString(&buf, name); err != nil {
				return nil, err
			}
			if err := files[name].write(&buf); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// FullDirectoryIndex maps a mount-relative directory (ending in "/", root
// is "/") to a map of file name -> location.
type FullDirectoryIndex struct {
	Dirs map[string]map[string]EntryLocation
}

func parseFullDirectoryIndex(r io.Reader) (*FullDirectoryIndex, error) {
	var dirCount int32
	if err := binary.Read(r, binary.LittleEndian, &dirCount); err != nil {
		return nil, fmt.Errorf("read directory count: %w", err)
	}
	if dirCount < 0 {
		return nil, fmt.Errorf("%w: negative directory count %d", ErrCorruptPakIndex, dirCount)
	}
	idx := &FullDirectoryIndex{Dirs: make(map[string]map[string]EntryLocation, dirCount)}
	for i := int32(0); i < dirCount; i++ {
		dir, err := readLPString(r)
		if err != nil {
			return nil, fmt.Errorf("read directory %d name: %w", i, err)
		}
		var fileCount int32
		if err := binary.Read(r, binary.LittleEndian, &fileCount); err != nil {
			return nil, fmt.Errorf("read directory %d file count: %w", i, err)
		}
		if fileCount < 0 {
			return nil, fmt.Errorf("%w: negative file count %d", ErrCorruptPakIndex, fileCount)
		}
		files := make(map[string]EntryLocation, fileCount)
		for j := int32(0); j < fileCount; j++ {
			name, err := readLPString(r)
			if err != nil {
				return nil, fmt.Errorf("read directory %d file %d name: %w", i, j, err)
			}
			loc, err := readEntryLocation(r)
			if err != nil {
				return nil, fmt.Errorf("read directory %d file %d location: %w", i, j, err)
			}
			files[name] = loc
		}
		idx.Dirs[dir] = files
	}
	return idx, nil
}

// --- Seal: pad -> hash -> encrypt (and its inverse) ---

// sealIndexSection zero-pads buf to a 16-byte boundary when encrypting,
// computes its SHA-1 over the (possibly padded) bytes, and then encrypts in
// place. The engine validates the hash of the full decrypted buffer,
// padding included; hashing the unpadded plaintext would fail validation.
func sealIndexSection(buf []byte, encrypt bool, cipher BlockCipher, key [32]byte) (sealed []byte, hash [20]byte, err error) {
	if encrypt {
		buf = padTo16(buf)
	}
	hash = sealHash(buf)
	if encrypt {
		if err := ecbEncrypt(cipher, key, buf); err != nil {
			return nil, hash, err
		}
	}
	return buf, hash, nil
}

// unsealIndexSection decrypts buf (if encrypted) and returns it alongside
// the SHA-1 of the full (still-padded) buffer for the caller to compare
// against the recorded hash.
func unsealIndexSection(buf []byte, encrypted bool, cipher BlockCipher, key [32]byte) (plain []byte, hash [20]byte, err error) {
	if encrypted {
		if cipher == nil {
			return nil, hash, ErrKeyRequired
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		if err := ecbDecrypt(cipher, key, out); err != nil {
			return nil, hash, fmt.Errorf("%w: %v", ErrIndexDecryptionFailed, err)
		}
		buf = out
	}
	hash = sealHash(buf)
	return buf, hash, nil
}

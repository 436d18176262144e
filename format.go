// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the four-byte little-endian footer signature every supported
// archive version carries in its footer (after the key GUID and the
// encrypted-index flag on versions that have them).
const Magic uint32 = 0x5A6F12E1

// compressionNameWidth is the fixed width of each ASCII slot in the
// footer's compression-method name table.
const compressionNameWidth = 32

// Footer is the trailing record of an archive. It is the sole entry point
// for reading: every field needed to locate and validate the index lives
// here. Field presence is a pure function of Version; see footerSize.
type Footer struct {
	KeyGUID         KeyGUID // zero value when hasEncryptionKeyGUID() is false
	EncryptedIndex  bool
	Version         Version
	IndexOffset     uint64
	IndexSize       uint64
	IndexSHA1       [20]byte
	Frozen          bool
	CompressionTags []string // method index i+1 -> CompressionTags[i]; "" marks an empty slot
}

// readFooter reads and parses exactly Footer size bytes for the given
// version from r, validating the magic and rejecting a footer whose
// declared version differs from the guessed version v.
func readFooter(r io.Reader, v Version) (*Footer, error) {
	f := &Footer{Version: v}

	if v.hasEncryptionKeyGUID() {
		if _, err := io.ReadFull(r, f.KeyGUID[:]); err != nil {
			return nil, fmt.Errorf("read key guid: %w", err)
		}
	}

	if v.allowsIndexEncryption() {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("read encrypted-index flag: %w", err)
		}
		f.EncryptedIndex = b[0] != 0
	}

	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if Version(version) != v {
		return nil, fmt.Errorf("%w: footer says %d, layout guess was %d", ErrUnsupportedVersion, version, v)
	}
	if err := binary.Read(r, binary.LittleEndian, &f.IndexOffset); err != nil {
		return nil, fmt.Errorf("read index offset: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &f.IndexSize); err != nil {
		return nil, fmt.Errorf("read index size: %w", err)
	}
	if _, err := io.ReadFull(r, f.IndexSHA1[:]); err != nil {
		return nil, fmt.Errorf("read index sha1: %w", err)
	}

	if v.isFrozen() {
		var b [128]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("read frozen-index reserve: %w", err)
		}
		f.Frozen = b[0] != 0
	}

	if v.hasCompressionNameTable() {
		slots := v.compressionMethodSlots()
		f.CompressionTags = make([]string, slots)
		for i := 0; i < slots; i++ {
			var name [compressionNameWidth]byte
			if _, err := io.ReadFull(r, name[:]); err != nil {
				return nil, fmt.Errorf("read compression name %d: %w", i, err)
			}
			f.CompressionTags[i] = trimZeroASCII(name[:])
		}
	}

	return f, nil
}

// write serializes the footer per its version's layout.
func (f *Footer) write(w io.Writer) error {
	v := f.Version

	if v.hasEncryptionKeyGUID() {
		if _, err := w.Write(f.KeyGUID[:]); err != nil {
			return fmt.Errorf("write key guid: %w", err)
		}
	}
	if v.allowsIndexEncryption() {
		b := byte(0)
		if f.EncryptedIndex {
			b = 1
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return fmt.Errorf("write encrypted-index flag: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(v)); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.IndexOffset); err != nil {
		return fmt.Errorf("write index offset: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.IndexSize); err != nil {
		return fmt.Errorf("write index size: %w", err)
	}
	if _, err := w.Write(f.IndexSHA1[:]); err != nil {
		return fmt.Errorf("write index sha1: %w", err)
	}
	if v.isFrozen() {
		var b [128]byte
		if f.Frozen {
			b[0] = 1
		}
		if _, err := w.Write(b[:]); err != nil {
			return fmt.Errorf("write frozen-index reserve: %w", err)
		}
	}
	if v.hasCompressionNameTable() {
		slots := v.compressionMethodSlots()
		for i := 0; i < slots; i++ {
			var name [compressionNameWidth]byte
			if i < len(f.CompressionTags) {
				copy(name[:], f.CompressionTags[i])
			}
			if _, err := w.Write(name[:]); err != nil {
				return fmt.Errorf("write compression name %d: %w", i, err)
			}
		}
	}
	return nil
}

// discoverFooter reads the trailing bytes of the archive and tries each
// known version from MaxVersion down to MinVersion until the magic matches
// and the footer's declared version agrees with the guess. This is the sole
// entry point for opening an archive: nothing else in the file is
// self-describing.
func discoverFooter(r io.ReaderAt, size int64) (*Footer, Version, error) {
	for v := MaxVersion; v >= MinVersion; v-- {
		fsize := int64(v.footerSize())
		if fsize > size {
			continue
		}
		buf := make([]byte, fsize)
		if _, err := r.ReadAt(buf, size-fsize); err != nil {
			continue
		}
		footer, err := readFooter(bytes.NewReader(buf), v)
		if err != nil {
			continue
		}
		return footer, v, nil
	}
	return nil, 0, ErrUnsupportedVersion
}

// trimZeroASCII trims trailing NUL padding from a fixed-width ASCII slot.
func trimZeroASCII(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		i = len(b)
	}
	return string(b[:i])
}

// legacyCompressionTags is the implicit slot table versions before the
// footer name table (< 8) resolve their method field against: 1 = Zlib,
// 2 = Gzip, 3 = Oodle.
var legacyCompressionTags = []string{CompressionZlib, CompressionGzip, CompressionOodle}

func (f *Footer) methodTable() []string {
	if !f.Version.hasCompressionNameTable() {
		return legacyCompressionTags
	}
	return f.CompressionTags
}

// compressionMethodIndex maps a method tag to its 1-based footer index,
// returning 0 (the reserved "none" index) if the tag is empty.
func (f *Footer) compressionMethodIndex(tag string) (int, error) {
	if tag == "" {
		return 0, nil
	}
	for i, t := range f.methodTable() {
		if t == tag {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownCompressionMethod, tag)
}

// compressionMethodTag maps a 1-based footer index back to its tag. Index 0
// always means "no compression".
func (f *Footer) compressionMethodTag(index int) (string, error) {
	if index == 0 {
		return "", nil
	}
	table := f.methodTable()
	i := index - 1
	if i < 0 || i >= len(table) || table[i] == "" {
		return "", fmt.Errorf("%w: index %d", ErrUnknownCompressionMethod, index)
	}
	return table[i], nil
}

// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import (
	"encoding/binary"
	"fmt"
	"io"
)

// block is one compression unit within a compressed entry's payload. Start
// and End are on-disk byte offsets: absolute for versions before
// VersionRelativeChunkOffsets, relative to the entry's own on-disk header
// for versions at or after it.
type block struct {
	Start int64
	End   int64
}

// Entry describes one archived file's placement and how to read it back.
// The zero value is not meaningful; always obtain an Entry from the reader,
// the writer's bookkeeping, or one of the codecs below.
type Entry struct {
	Offset           int64 // absolute on-disk position of the entry header
	CompressedSize   int64
	UncompressedSize int64
	CompressionTag   string // "" means stored, no compression
	Encrypted        bool
	PayloadSHA1      [20]byte // present on-disk only; zero in index/encoded forms
	Blocks           []block
	BlockSize        int
}

func (e *Entry) isCompressed() bool { return e.CompressionTag != "" }

// methodFieldSize returns the width of the compression-method field in the
// on-disk/index header: absent before version 3, a u32 1-based slot into
// the implicit Zlib/Gzip/Oodle list from 3 up to (not including) 8, and a
// single byte index into the footer name table from 8 on.
func methodFieldSize(v Version) int {
	switch {
	case !v.hasCompressionEncryption():
		return 0
	case !v.hasCompressionNameTable():
		return 4
	default:
		return 1
	}
}

// headerSize returns the byte length of this entry's on-disk header (not
// counting the payload), used to derive an encodable single-block entry's
// implicit block range.
func (e *Entry) headerSize(v Version) int {
	size := 8 + 8 + 8 // offset, compressed size, uncompressed size
	size += methodFieldSize(v)
	if v.hasTimestamp() {
		size += 8
	}
	size += 20 // payload sha1
	if e.isCompressed() {
		size += 4 + len(e.Blocks)*16 // count + (start,end) pairs
	}
	if v.hasCompressionEncryption() {
		size += 1 + 4 // encrypted flag, compression block size
	}
	return size
}

// writeOnDisk serializes the full on-disk header written immediately before
// the entry's payload. The offset field is always written as 0 here; the
// engine ignores it in this position. methodIndex is the entry's
// compression method resolved against the archive's Footer name table.
func (e *Entry) writeOnDisk(w io.Writer, v Version, methodIndex int) error {
	return e.writeHeader(w, v, 0, true, methodIndex)
}

// writeIndexRecord serializes the index-resident form: identical to the
// on-disk form except the SHA-1 field is zero-filled, and offset carries
// the real absolute offset instead of 0.
func (e *Entry) writeIndexRecord(w io.Writer, v Version, methodIndex int) error {
	return e.writeHeader(w, v, e.Offset, false, methodIndex)
}

func (e *Entry) writeHeader(w io.Writer, v Version, offsetField int64, includeHash bool, methodIndex int) error {
	if err := binary.Write(w, binary.LittleEndian, offsetField); err != nil {
		return fmt.Errorf("write entry offset: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, e.CompressedSize); err != nil {
		return fmt.Errorf("write compressed size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, e.UncompressedSize); err != nil {
		return fmt.Errorf("write uncompressed size: %w", err)
	}

	switch methodFieldSize(v) {
	case 1:
		if err := binary.Write(w, binary.LittleEndian, byte(methodIndex)); err != nil {
			return fmt.Errorf("write compression method: %w", err)
		}
	case 4:
		if err := binary.Write(w, binary.LittleEndian, uint32(methodIndex)); err != nil {
			return fmt.Errorf("write compression method: %w", err)
		}
	}

	if v.hasTimestamp() {
		if err := binary.Write(w, binary.LittleEndian, int64(0)); err != nil {
			return fmt.Errorf("write timestamp: %w", err)
		}
	}

	var hash [20]byte
	if includeHash {
		hash = e.PayloadSHA1
	}
	if _, err := w.Write(hash[:]); err != nil {
		return fmt.Errorf("write payload sha1: %w", err)
	}

	if e.isCompressed() {
		if err := binary.Write(w, binary.LittleEndian, int32(len(e.Blocks))); err != nil {
			return fmt.Errorf("write block count: %w", err)
		}
		for _, b := range e.Blocks {
			if err := binary.Write(w, binary.LittleEndian, b.Start); err != nil {
				return fmt.Errorf("write block start: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, b.End); err != nil {
				return fmt.Errorf("write block end: %w", err)
			}
		}
	}

	if v.hasCompressionEncryption() {
		enc := byte(0)
		if e.Encrypted {
			enc = 1
		}
		if _, err := w.Write([]byte{enc}); err != nil {
			return fmt.Errorf("write encrypted flag: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, int32(e.BlockSize)); err != nil {
			return fmt.Errorf("write compression block size: %w", err)
		}
	}

	return nil
}

// readOnDisk is the exact inverse of writeOnDisk/writeIndexRecord. For an
// on-disk header the wire offset field is always 0 and meaningless, so the
// caller supplies the position it seeked to; for an index-resident record
// the wire field carries the real absolute offset and the caller passes a
// negative absoluteOffset to use it. resolveTag maps the header's raw
// method field back to a tag via the archive's Footer name table.
func readOnDisk(r io.Reader, v Version, absoluteOffset int64, resolveTag func(int) (string, error)) (*Entry, error) {
	e := &Entry{Offset: absoluteOffset}

	var wireOffset int64
	if err := binary.Read(r, binary.LittleEndian, &wireOffset); err != nil {
		return nil, fmt.Errorf("read entry offset: %w", err)
	}
	if absoluteOffset < 0 {
		e.Offset = wireOffset
	}
	if err := binary.Read(r, binary.LittleEndian, &e.CompressedSize); err != nil {
		return nil, fmt.Errorf("read compressed size: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &e.UncompressedSize); err != nil {
		return nil, fmt.Errorf("read uncompressed size: %w", err)
	}

	methodIndex := 0
	switch methodFieldSize(v) {
	case 1:
		var b byte
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, fmt.Errorf("read compression method: %w", err)
		}
		methodIndex = int(b)
	case 4:
		var u uint32
		if err := binary.Read(r, binary.LittleEndian, &u); err != nil {
			return nil, fmt.Errorf("read compression method: %w", err)
		}
		methodIndex = int(u)
	}
	tag, err := resolveTag(methodIndex)
	if err != nil {
		return nil, err
	}
	e.CompressionTag = tag

	if v.hasTimestamp() {
		var ts int64
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, fmt.Errorf("read timestamp: %w", err)
		}
	}

	if _, err := io.ReadFull(r, e.PayloadSHA1[:]); err != nil {
		return nil, fmt.Errorf("read payload sha1: %w", err)
	}

	if e.isCompressed() {
		var count int32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("read block count: %w", err)
		}
		e.Blocks = make([]block, count)
		for i := range e.Blocks {
			if err := binary.Read(r, binary.LittleEndian, &e.Blocks[i].Start); err != nil {
				return nil, fmt.Errorf("read block %d start: %w", i, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &e.Blocks[i].End); err != nil {
				return nil, fmt.Errorf("read block %d end: %w", i, err)
			}
		}
	}

	if v.hasCompressionEncryption() {
		var enc [1]byte
		if _, err := io.ReadFull(r, enc[:]); err != nil {
			return nil, fmt.Errorf("read encrypted flag: %w", err)
		}
		e.Encrypted = enc[0] != 0

		var blockSize int32
		if err := binary.Read(r, binary.LittleEndian, &blockSize); err != nil {
			return nil, fmt.Errorf("read compression block size: %w", err)
		}
		e.BlockSize = int(blockSize)
	}

	return e, nil
}

// blockBase returns the offset every block.Start/End is measured from: 0
// for versions with relative chunk offsets, the entry's own absolute offset
// otherwise. Picking the wrong base is the classic cross-version bug this
// format invites.
func (e *Entry) blockBase(v Version) int64 {
	if v.relativeChunkOffsets() {
		return 0
	}
	return e.Offset
}

// absoluteBlocks returns this entry's payload blocks translated to
// absolute file offsets, synthesizing a single implicit block for
// uncompressed entries (which carry no block table at all).
func (e *Entry) absoluteBlocks(v Version) []block {
	if !e.isCompressed() {
		start := e.Offset + int64(e.headerSize(v))
		return []block{{Start: start, End: start + e.UncompressedSize}}
	}
	if !v.relativeChunkOffsets() {
		return e.Blocks
	}
	out := make([]block, len(e.Blocks))
	for i, b := range e.Blocks {
		out[i] = block{Start: e.Offset + b.Start, End: e.Offset + b.End}
	}
	return out
}

// --- Encoded (bit-packed primary-index) form ---

const encodedBlockSizeSentinel = 0x3F // bits 5..0 == 0x3F means "literal block size follows"

// encodable reports whether e can be represented in the primary index's
// bit-packed blob, per the encodability rule in the design doc: method
// index < 64, block count < 65536, first block starts exactly headerSize
// bytes past the effective base, consecutive blocks are contiguous
// (16-byte aligned when encrypted), and a lone block's raw (unpadded) end
// equals its start plus the compressed size.
func (e *Entry) encodable(v Version, methodIndex int) bool {
	if methodIndex >= 64 {
		return false
	}
	if len(e.Blocks) >= 65536 {
		return false
	}
	if !e.isCompressed() {
		return true
	}
	base := e.blockBase(v)
	header := int64(e.headerSize(v))
	if e.Blocks[0].Start != base+header {
		return false
	}
	for i := 1; i < len(e.Blocks); i++ {
		length := e.Blocks[i-1].End - e.Blocks[i-1].Start
		if e.Encrypted {
			length = align64(length)
		}
		if e.Blocks[i].Start != e.Blocks[i-1].Start+length {
			return false
		}
	}
	if len(e.Blocks) == 1 {
		// A lone block's End is always its raw (unpadded) end, whether
		// encrypted or not: alignment only inserts a gap before a following
		// block, and there is none here.
		if e.Blocks[0].End != e.Blocks[0].Start+e.CompressedSize {
			return false
		}
	}
	return true
}

func align64(n int64) int64 { return int64(align16(int(n))) }

// encode packs e into the primary index's bit-packed wire form. The caller
// must already know e is encodable (methodIndex resolved against the
// footer's compression-name table) and pass the version so the right
// offset width and base are used.
func (e *Entry) encode(w io.Writer, v Version, methodIndex int) error {
	blockSizeExp := uint32(0)
	useSentinel := false
	if e.BlockSize%2048 == 0 && (e.BlockSize>>11) < encodedBlockSizeSentinel {
		blockSizeExp = uint32(e.BlockSize >> 11)
	} else {
		useSentinel = true
		blockSizeExp = encodedBlockSizeSentinel
	}

	offsetFits := e.Offset >= 0 && e.Offset <= 0xFFFFFFFF
	uncompFits := e.UncompressedSize >= 0 && e.UncompressedSize <= 0xFFFFFFFF
	compFits := e.CompressedSize >= 0 && e.CompressedSize <= 0xFFFFFFFF

	header := uint32(0)
	if offsetFits {
		header |= 1 << 31
	}
	if uncompFits {
		header |= 1 << 30
	}
	if compFits {
		header |= 1 << 29
	}
	header |= uint32(methodIndex&0x3F) << 23
	if e.Encrypted {
		header |= 1 << 22
	}
	header |= uint32(len(e.Blocks)&0xFFFF) << 6
	header |= blockSizeExp & 0x3F

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write encoded header: %w", err)
	}
	if useSentinel {
		if err := binary.Write(w, binary.LittleEndian, uint32(e.BlockSize)); err != nil {
			return fmt.Errorf("write literal block size: %w", err)
		}
	}

	if err := writeSizeField(w, e.Offset, offsetFits); err != nil {
		return fmt.Errorf("write encoded offset: %w", err)
	}
	if err := writeSizeField(w, e.UncompressedSize, uncompFits); err != nil {
		return fmt.Errorf("write encoded uncompressed size: %w", err)
	}

	if methodIndex != 0 {
		if err := writeSizeField(w, e.CompressedSize, compFits); err != nil {
			return fmt.Errorf("write encoded compressed size: %w", err)
		}
		if len(e.Blocks) > 1 || (len(e.Blocks) == 1 && e.Encrypted) {
			for i, b := range e.Blocks {
				length := b.End - b.Start
				if err := binary.Write(w, binary.LittleEndian, uint32(length)); err != nil {
					return fmt.Errorf("write block %d length: %w", i, err)
				}
			}
		}
	}

	return nil
}

func writeSizeField(w io.Writer, v int64, fits bool) error {
	if fits {
		return binary.Write(w, binary.LittleEndian, uint32(v))
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readSizeField(r io.Reader, fits bool) (int64, error) {
	if fits {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return int64(v), nil
	}
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// decodeEncoded is the exact inverse of encode. resolveTag maps the packed
// method index back to a compression tag via the footer's name table.
func decodeEncoded(r io.Reader, v Version, resolveTag func(int) (string, error)) (*Entry, error) {
	var header uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read encoded header: %w", err)
	}

	offsetFits := header&(1<<31) != 0
	uncompFits := header&(1<<30) != 0
	compFits := header&(1<<29) != 0
	methodIndex := int((header >> 23) & 0x3F)
	encrypted := header&(1<<22) != 0
	blockCount := int((header >> 6) & 0xFFFF)
	blockSizeExp := header & 0x3F

	var blockSize int
	if blockSizeExp == encodedBlockSizeSentinel {
		var literal uint32
		if err := binary.Read(r, binary.LittleEndian, &literal); err != nil {
			return nil, fmt.Errorf("read literal block size: %w", err)
		}
		blockSize = int(literal)
	} else {
		blockSize = int(blockSizeExp) << 11
	}

	offset, err := readSizeField(r, offsetFits)
	if err != nil {
		return nil, fmt.Errorf("read encoded offset: %w", err)
	}
	uncompressedSize, err := readSizeField(r, uncompFits)
	if err != nil {
		return nil, fmt.Errorf("read encoded uncompressed size: %w", err)
	}

	tag, err := resolveTag(methodIndex)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		Offset:           offset,
		UncompressedSize: uncompressedSize,
		CompressionTag:   tag,
		Encrypted:        encrypted,
		BlockSize:        blockSize,
	}

	if methodIndex == 0 {
		e.CompressedSize = uncompressedSize
		return e, nil
	}

	compressedSize, err := readSizeField(r, compFits)
	if err != nil {
		return nil, fmt.Errorf("read encoded compressed size: %w", err)
	}
	e.CompressedSize = compressedSize

	// headerSize counts the on-disk block table, so Blocks must be sized
	// before the header length can be known. Every compressed entry carries
	// at least one block on disk even when the encoded form elides it.
	tableBlocks := blockCount
	if tableBlocks == 0 {
		tableBlocks = 1
	}
	e.Blocks = make([]block, tableBlocks)

	base := e.blockBase(v)
	headerBytes := int64(e.headerSize(v))

	switch {
	case blockCount == 0, blockCount == 1 && !encrypted:
		start := base + headerBytes
		e.Blocks = []block{{Start: start, End: start + compressedSize}}
	default:
		lengths := make([]int64, blockCount)
		for i := range lengths {
			var l uint32
			if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
				return nil, fmt.Errorf("read block %d length: %w", i, err)
			}
			lengths[i] = int64(l)
		}
		cursor := base + headerBytes
		for i, l := range lengths {
			e.Blocks[i] = block{Start: cursor, End: cursor + l}
			if encrypted {
				l = align64(l)
			}
			cursor += l
		}
	}

	return e, nil
}

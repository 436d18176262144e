// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

// Version identifies a .pak archive format revision. Each revision enables
// a feature cumulatively on top of the one before it; see the has* methods
// below for exactly which version introduces which behavior.
type Version uint32

const (
	VersionUnknown               Version = 0  // padding value, never valid on disk
	VersionInitial               Version = 1  // timestamps present, no compression/encryption fields
	VersionNoTimestamps          Version = 2  // timestamps removed from entry records
	VersionCompressionEncryption Version = 3  // per-entry compression + encryption fields
	VersionIndexEncryption       Version = 4  // index encryption allowed
	VersionRelativeChunkOffsets  Version = 5  // block offsets relative to the entry, not absolute
	VersionDeleteRecords         Version = 6  // delete records supported
	VersionEncryptionKeyGUID     Version = 7  // footer carries the encryption-key GUID
	VersionFNameBasedCompression Version = 8  // compression-method name table in the footer
	VersionFrozenIndex           Version = 9  // frozen index byte; read-only, no writer support
	VersionPathHashIndex         Version = 10 // primary index gains PHI + FDI sections
	VersionFnv64BugFix           Version = 11 // corrected FNV-1a offset/prime assignment
)

// MinVersion and MaxVersion bound the versions this package understands.
const (
	MinVersion = VersionInitial
	MaxVersion = VersionFnv64BugFix
)

func (v Version) valid() bool { return v >= MinVersion && v <= MaxVersion }

// hasTimestamp reports whether the on-disk entry header carries a timestamp
// field. Only version 1 does; it was dropped in version 2.
func (v Version) hasTimestamp() bool { return v == VersionInitial }

// hasCompressionEncryption reports whether entries carry compression-method
// and encryption-flag fields at all (versions < 3 are always uncompressed
// and unencrypted).
func (v Version) hasCompressionEncryption() bool { return v >= VersionCompressionEncryption }

// allowsIndexEncryption reports whether the footer's encrypted-index flag
// is meaningful for this version.
func (v Version) allowsIndexEncryption() bool { return v >= VersionIndexEncryption }

// relativeChunkOffsets reports whether an entry's block table stores offsets
// relative to the entry's own on-disk position (true) or as absolute
// archive offsets (false, versions < 5).
func (v Version) relativeChunkOffsets() bool { return v >= VersionRelativeChunkOffsets }

// supportsDeleteRecords reports whether an invalid entry location may
// represent a tombstone (delete record) rather than index corruption.
func (v Version) supportsDeleteRecords() bool { return v >= VersionDeleteRecords }

// hasEncryptionKeyGUID reports whether the footer carries a 16-byte
// encryption-key GUID ahead of the encrypted-index flag.
func (v Version) hasEncryptionKeyGUID() bool { return v >= VersionEncryptionKeyGUID }

// hasCompressionNameTable reports whether the footer carries a
// compression-method name table (and entries reference it by a single-byte
// index instead of a u32 slot into the implicit Zlib/Gzip/Oodle list).
func (v Version) hasCompressionNameTable() bool { return v >= VersionFNameBasedCompression }

// compressionMethodSlots returns how many 32-byte ASCII slots the
// compression-method name table holds for this version: 4 at v8, 5 from v9 on.
func (v Version) compressionMethodSlots() int {
	if v >= VersionFrozenIndex {
		return 5
	}
	return 4
}

// isFrozen reports whether this version's index is documented read-only
// (version 9 only); the writer refuses to emit it.
func (v Version) isFrozen() bool { return v == VersionFrozenIndex }

// hasPathHashAndDirectoryIndex reports whether the primary index carries
// the optional path-hash index and full-directory index sections.
func (v Version) hasPathHashAndDirectoryIndex() bool { return v >= VersionPathHashIndex }

// fnv64BugFixed reports whether path hashing uses the corrected FNV-1a
// offset/prime assignment (true) or the legacy swapped variant (false).
func (v Version) fnv64BugFixed() bool { return v >= VersionFnv64BugFix }

// supportsWrite reports whether this package can produce an archive at the
// given version. Version 9's frozen index is read-only by design.
func (v Version) supportsWrite() bool { return v.valid() && !v.isFrozen() }

// footerSize returns the exact trailing byte count for this version's
// footer, per the layout in format.go.
func (v Version) footerSize() int {
	size := 4 + 4 + 8 + 8 + 20 // magic, version, index offset, index size, index sha1
	if v.hasEncryptionKeyGUID() {
		size += 16
	}
	if v.allowsIndexEncryption() {
		size += 1
	}
	if v.isFrozen() {
		size += 128
	}
	if v.hasCompressionNameTable() {
		size += 32 * v.compressionMethodSlots()
	}
	return size
}

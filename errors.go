// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import "errors"

// Format errors.
var (
	// ErrBadMagic is returned when the footer magic does not match 0x5A6F12E1.
	ErrBadMagic = errors.New("pak: bad magic")

	// ErrUnsupportedVersion is returned when the footer names a version this
	// package does not know how to decode.
	ErrUnsupportedVersion = errors.New("pak: unsupported version")

	// ErrCorruptPakIndex is returned when the index cannot be parsed after
	// the reader's single retry.
	ErrCorruptPakIndex = errors.New("pak: corrupt index")

	// ErrMountPointTooLong is returned when a mount point exceeds 65535 bytes.
	ErrMountPointTooLong = errors.New("pak: mount point too long")
)

// Integrity errors.
var (
	// ErrIndexHashMismatch is returned when a decrypted index section's
	// SHA-1 does not match the hash recorded alongside it.
	ErrIndexHashMismatch = errors.New("pak: index hash mismatch")

	// ErrSizeMismatch is returned when a read entry's assembled length does
	// not equal the uncompressed size recorded in its header.
	ErrSizeMismatch = errors.New("pak: uncompressed size mismatch")

	// ErrPayloadHashMismatch is returned in check mode when a file's
	// payload SHA-1 does not match the on-disk header.
	ErrPayloadHashMismatch = errors.New("pak: payload hash mismatch")
)

// Crypto errors.
var (
	// ErrIndexDecryptionFailed is returned when an encrypted index cannot be
	// read without the correct key, or no key was supplied.
	ErrIndexDecryptionFailed = errors.New("pak: index decryption failed")

	// ErrBlockDecryptionFailed is returned when a file block fails to
	// decrypt cleanly (non-16-byte-aligned residue or missing key).
	ErrBlockDecryptionFailed = errors.New("pak: block decryption failed")

	// ErrKeyRequired is returned when an operation needs a key but none was
	// provided.
	ErrKeyRequired = errors.New("pak: encryption key required")

	// ErrUnknownKeyGUID names the case where the footer's encryption-key
	// GUID matches no key the caller holds. The reader takes a single key
	// and does not compare GUIDs, so no function in this package returns it.
	ErrUnknownKeyGUID = errors.New("pak: unknown encryption key GUID")
)

// Compression errors.
var (
	// ErrUnknownCompressionMethod is returned when an entry references a
	// compression method index this package has no registered codec for.
	ErrUnknownCompressionMethod = errors.New("pak: unknown compression method")

	// ErrBlockDecompressionFailed is returned when a compressed block fails
	// to decompress.
	ErrBlockDecompressionFailed = errors.New("pak: block decompression failed")
)

// Usage errors.
var (
	// ErrFileNotFound is returned when a path is not present in the index.
	ErrFileNotFound = errors.New("pak: file not found")

	// ErrWriterFinalized is returned when a writer method is called after
	// WriteIndex has run.
	ErrWriterFinalized = errors.New("pak: writer already finalized")

	// ErrFeatureUnsupported is returned when a requested feature (encryption,
	// per-block compression, more compression methods than the footer has
	// slots, writing a frozen index, ...) is not available at the selected
	// format version, when no version was selected, and when Oodle output is
	// requested.
	ErrFeatureUnsupported = errors.New("pak: feature unsupported at selected version")

	// ErrPathTraversal is returned for an entry path containing ".." when
	// unpacking to disk.
	ErrPathTraversal = errors.New("pak: path traversal in entry path")
)

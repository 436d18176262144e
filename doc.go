// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

/*
Package pak reads and writes Unreal Engine .pak archives.

A .pak archive is a content bundle with a trailing footer, a primary index,
and, from format version 10 on, a path-hash index for O(1) lookup and a
full directory index for enumeration. This package interoperates
bit-for-bit with archives produced by stock engine tooling for format
versions 2 through 11, including index encryption, per-block payload
encryption, and per-block compression (Zlib, Gzip, Zstd, Oodle).

# Reading an archive

	r, err := pak.OpenFile("game.pak")
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	files, _ := r.Files()
	for _, p := range files {
		var buf bytes.Buffer
		if err := r.Get(p, &buf, false); err != nil {
			log.Fatal(err)
		}
	}

Encrypted archives need the AES-256 key:

	r, err := pak.OpenFile("game.pak", pak.WithReaderKey(key))

# Writing an archive

	w, err := pak.NewWriter(out,
		pak.WithWriterVersion(pak.VersionFnv64BugFix),
		pak.WithCompression(pak.CompressionZlib))
	if err != nil {
		log.Fatal(err)
	}
	w.WriteFile("Content/map.umap", data)
	if err := w.WriteIndex(); err != nil {
		log.Fatal(err)
	}

WriteIndex finalizes the archive; the writer accepts no further calls after
it returns.
*/
package pak

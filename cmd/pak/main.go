// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

// Command pak inspects, extracts, and builds Unreal Engine .pak archives.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli"

	"github.com/paklib/pak"
)

func main() {
	app := cli.NewApp()
	app.Name = "pak"
	app.Usage = "read and write Unreal Engine .pak archives"
	app.Commands = []cli.Command{
		infoCommand,
		listCommand,
		hashListCommand,
		unpackCommand,
		packCommand,
		getCommand,
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pak: %v\n", err)
		os.Exit(1)
	}
}

var keyFlag = cli.StringFlag{
	Name:  "aes-key",
	Usage: "AES-256 key as base64 or hex",
}

// parseKey accepts the key either base64- or hex-encoded; the engine's own
// tooling hands keys around in both forms.
func parseKey(s string) ([32]byte, error) {
	var key [32]byte
	if s == "" {
		return key, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 32 {
		// A 64-digit hex key is also valid base64 (48 bytes), so hex is
		// tried whenever base64 does not yield a 32-byte key.
		if h, herr := hex.DecodeString(strings.TrimPrefix(s, "0x")); herr == nil {
			raw = h
		} else if err != nil {
			return key, fmt.Errorf("key is neither base64 nor hex: %v", herr)
		}
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func openArchive(c *cli.Context, path string) (*pak.Reader, error) {
	var opts []pak.ReaderOption
	if s := c.String("aes-key"); s != "" {
		key, err := parseKey(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pak.WithReaderKey(key))
	}
	return pak.OpenFile(path, opts...)
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "print archive version, mount point, and entry count",
	ArgsUsage: "<archive.pak>",
	Flags:     []cli.Flag{keyFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("usage: pak info <archive.pak>")
		}
		r, err := openArchive(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer r.Close()
		fmt.Printf("version: %d\n", r.Version())
		fmt.Printf("mount point: %s\n", r.MountPoint())
		files, err := r.Files()
		if err != nil {
			return err
		}
		fmt.Printf("entries: %d\n", len(files))
		return nil
	},
}

var listCommand = cli.Command{
	Name:      "list",
	Usage:     "list every file path in the archive",
	ArgsUsage: "<archive.pak>",
	Flags:     []cli.Flag{keyFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("usage: pak list <archive.pak>")
		}
		r, err := openArchive(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer r.Close()
		files, err := r.Files()
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

var hashListCommand = cli.Command{
	Name:      "hash-list",
	Usage:     "print the FNV-1a path hash for each file in the archive",
	ArgsUsage: "<archive.pak>",
	Flags: []cli.Flag{
		keyFlag,
		cli.BoolFlag{
			Name:  "legacy",
			Usage: "also print the pre-bugfix hash variant",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("usage: pak hash-list <archive.pak>")
		}
		r, err := openArchive(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer r.Close()
		files, err := r.Files()
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%016x %s\n", r.PathHash(f), f)
			if c.Bool("legacy") {
				fmt.Printf("%016x %s (legacy)\n", r.PathHashLegacy(f), f)
			}
		}
		return nil
	},
}

var unpackCommand = cli.Command{
	Name:      "unpack",
	Usage:     "extract every file into the output directory",
	ArgsUsage: "<archive.pak> <out-dir>",
	Flags: []cli.Flag{
		keyFlag,
		cli.BoolFlag{
			Name:  "check",
			Usage: "verify each payload SHA-1 against the on-disk header",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("usage: pak unpack <archive.pak> <out-dir>")
		}
		r, err := openArchive(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer r.Close()
		outDir := c.Args().Get(1)

		files, err := r.Files()
		if err != nil {
			return err
		}
		failed := 0
		for _, f := range files {
			// A traversal attempt is fatal for the entry, not the run.
			if strings.Contains(f, "..") {
				slog.Warn("pak: skipping entry", "path", f, "error", pak.ErrPathTraversal)
				failed++
				continue
			}
			dest := filepath.Join(outDir, filepath.FromSlash(f))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.Create(dest)
			if err != nil {
				return err
			}
			err = r.Get(f, out, c.Bool("check"))
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				slog.Warn("pak: extract failed", "path", f, "error", err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d entries failed", failed, len(files))
		}
		return nil
	},
}

var packCommand = cli.Command{
	Name:      "pack",
	Usage:     "build an archive from a directory tree",
	ArgsUsage: "<in-dir> <archive.pak>",
	Flags: []cli.Flag{
		keyFlag,
		cli.UintFlag{
			Name:  "version",
			Usage: "pak format version (2-11, except 9)",
			Value: uint(pak.MaxVersion),
		},
		cli.StringFlag{
			Name:  "compression",
			Usage: "compression method (Zlib|Gzip|Zstd|Oodle)",
		},
		cli.StringFlag{
			Name:  "mount-point",
			Usage: "mount point recorded in the index",
			Value: "../../../",
		},
		cli.Uint64Flag{
			Name:  "path-hash-seed",
			Usage: "override the seed derived from the archive filename",
		},
		cli.BoolFlag{
			Name:  "encrypt-index",
			Usage: "encrypt the index sections (requires --aes-key)",
		},
		cli.BoolFlag{
			Name:  "encrypt-data",
			Usage: "encrypt file payloads per block (requires --aes-key)",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("usage: pak pack <in-dir> <archive.pak>")
		}
		inDir, outPath := c.Args().Get(0), c.Args().Get(1)

		opts := []pak.Option{
			pak.WithWriterVersion(pak.Version(c.Uint("version"))),
			pak.WithMountPoint(c.String("mount-point")),
		}
		if tag := c.String("compression"); tag != "" {
			opts = append(opts, pak.WithCompression(tag))
		}
		if s := c.String("aes-key"); s != "" {
			key, err := parseKey(s)
			if err != nil {
				return err
			}
			opts = append(opts, pak.WithKey(key))
		}
		opts = append(opts,
			pak.WithEncryptIndex(c.Bool("encrypt-index")),
			pak.WithEncryptData(c.Bool("encrypt-data")),
		)
		if c.IsSet("path-hash-seed") {
			opts = append(opts, pak.WithPathHashSeed(c.Uint64("path-hash-seed")))
		} else {
			opts = append(opts, pak.WithPathHashSeed(pak.DerivePathHashSeed(filepath.Base(outPath))))
		}

		out, err := os.Create(outPath)
		if err != nil {
			return err
		}

		w, err := pak.NewWriter(out, opts...)
		if err != nil {
			out.Close()
			return err
		}

		var paths []string
		err = filepath.WalkDir(inDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			paths = append(paths, p)
			return nil
		})
		if err != nil {
			out.Close()
			return err
		}
		sort.Strings(paths)

		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				out.Close()
				return err
			}
			rel, err := filepath.Rel(inDir, p)
			if err != nil {
				out.Close()
				return err
			}
			if err := w.WriteFile(filepath.ToSlash(rel), data); err != nil {
				out.Close()
				return fmt.Errorf("pack %s: %w", rel, err)
			}
		}
		if err := w.WriteIndex(); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	},
}

var getCommand = cli.Command{
	Name:      "get",
	Usage:     "write one file's contents to stdout",
	ArgsUsage: "<archive.pak> <path>",
	Flags: []cli.Flag{
		keyFlag,
		cli.BoolFlag{
			Name:  "check",
			Usage: "verify the payload SHA-1 against the on-disk header",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("usage: pak get <archive.pak> <path>")
		}
		r, err := openArchive(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer r.Close()

		var buf bytes.Buffer
		if err := r.Get(c.Args().Get(1), &buf, c.Bool("check")); err != nil {
			return err
		}
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	},
}

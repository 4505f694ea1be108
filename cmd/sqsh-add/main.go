// Command sqsh-add builds a fresh SquashFS image from a directory on
// disk.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/go-squashfs/squashfs"
	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/tree"
)

type options struct {
	Dir                   string `long:"dir" description:"source directory to pack" required:"true"`
	Mode                  uint32 `long:"mode" description:"force these permission bits on every file and symlink, 0 to keep each one's own mode; directories are always 0755"`
	UID                   int64  `long:"uid" description:"force this uid on every file and symlink; -1 records uid 0; directories always get uid 0" default:"-1"`
	GID                   int64  `long:"gid" description:"force this gid on every file and symlink; -1 records gid 0; directories always get gid 0" default:"-1"`
	MTime                 int64  `long:"mtime" description:"unix seconds to stamp every entry with, 0 to preserve each file's own mtime"`
	PadLen                int64  `long:"pad-len" description:"pad the image to a multiple of this many bytes" default:"4096"`
	NoCompressionOptions  bool   `long:"no-compression-options" description:"omit the compressor options metadata block"`
	Compressor            string `long:"compressor" description:"gzip, xz, lzo, lz4, zstd" default:"gzip"`
	Kind                  string `long:"kind" description:"dialect to write: le, be, avm_be" default:"le"`
	NoFragments           bool   `long:"no-fragments" description:"disable fragment packing of file tails"`
	Exportable            bool   `long:"exportable" description:"build an export table (NFS-style inode number lookups)"`

	Positional struct {
		Image string `positional-arg-name:"image" required:"true"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "sqsh-add:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	k, err := kind.FromTarget(opts.Kind)
	if err != nil {
		return err
	}
	action, err := compression.ByID(compressorID(opts.Compressor))
	if err != nil {
		return err
	}
	k = kind.New(k, action)

	root, err := buildTree(opts)
	if err != nil {
		return err
	}

	out, err := os.Create(opts.Positional.Image)
	if err != nil {
		return err
	}
	defer out.Close()

	wopts := squashfs.DefaultWriterOptions()
	wopts.Kind = k
	wopts.NoFragments = opts.NoFragments
	wopts.Exportable = opts.Exportable
	wopts.PadTo = opts.PadLen
	wopts.NoCompressionOptions = opts.NoCompressionOptions

	_, err = squashfs.Pack(out, root, wopts)
	return err
}

func compressorID(name string) compression.ID {
	switch name {
	case "xz":
		return compression.Xz
	case "lzo":
		return compression.Lzo
	case "lz4":
		return compression.Lz4
	case "zstd":
		return compression.Zstd
	default:
		return compression.Gzip
	}
}

func buildTree(opts options) (*tree.Node, error) {
	root := tree.NewRoot()
	err := filepath.WalkDir(opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(opts.Dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		mode := info.Mode()
		if opts.Mode != 0 {
			mode = os.FileMode(opts.Mode)
		}
		mtime := info.ModTime()
		if opts.MTime != 0 {
			mtime = time.Unix(opts.MTime, 0)
		}
		uid, gid := resolveOwnership(info, opts)

		switch {
		case d.IsDir():
			_, err := root.PushDirAll(rel, mtime)
			return err
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return root.Insert(rel, &tree.Node{Kind: tree.Symlink, Mode: mode, UID: uid, GID: gid, ModTime: mtime, LinkTarget: target})
		default:
			return root.Insert(rel, &tree.Node{
				Kind: tree.File, Mode: mode, UID: uid, GID: gid, ModTime: mtime,
				Reader: fileReader(path),
			})
		}
	})
	return root, err
}

func fileReader(path string) func() (tree.ReadAtCloser, int64, error) {
	return func() (tree.ReadAtCloser, int64, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, fi.Size(), nil
	}
}

func resolveOwnership(info os.FileInfo, opts options) (uid, gid uint32) {
	if opts.UID >= 0 {
		uid = uint32(opts.UID)
	}
	if opts.GID >= 0 {
		gid = uint32(opts.GID)
	}
	return
}

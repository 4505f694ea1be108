// Command sqsh-replace rewrites a single file's contents inside an
// existing SquashFS image, reusing every other entry's data
// unchanged.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/go-squashfs/squashfs"
	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/tree"
)

type options struct {
	Offset     int64  `long:"offset" description:"byte offset the superblock starts at" default:"0"`
	AutoOffset bool   `long:"auto-offset" description:"scan forward for the superblock instead of trusting --offset"`
	Path       string `long:"path" description:"path inside the image to replace" required:"true"`
	With       string `long:"with" description:"local file whose contents replace --path" required:"true"`
	Kind       string `long:"kind" description:"dialect to parse/write: le, be, avm_be" default:"le"`

	Positional struct {
		Image  string `positional-arg-name:"image" required:"true"`
		Output string `positional-arg-name:"output" required:"true"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "sqsh-replace:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	in, err := os.Open(opts.Positional.Image)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}

	k, err := kind.FromTarget(opts.Kind)
	if err != nil {
		return err
	}
	r, err := squashfs.Open(in, fi.Size(), squashfs.OpenOptions{Offset: opts.Offset, AutoOffset: opts.AutoOffset, Kind: &k})
	if err != nil {
		return err
	}

	target := r.Lookup(opts.Path)
	if target == nil {
		return fmt.Errorf("%q not found in image", opts.Path)
	}
	if target.Kind != tree.File {
		return &tree.ErrNotAFile{Path: opts.Path}
	}

	replacement, err := os.Stat(opts.With)
	if err != nil {
		return err
	}
	path := opts.With
	target.ModTime = time.Now()
	target.Reader = func() (tree.ReadAtCloser, int64, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, err
		}
		return f, replacement.Size(), nil
	}

	out, err := os.Create(opts.Positional.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	action, err := compression.ByID(r.Superblock().Compression)
	if err != nil {
		return err
	}
	wopts := squashfs.DefaultWriterOptions()
	wopts.Kind = kind.New(k, action)
	wopts.BlockSize = r.Superblock().BlockSize
	_, err = squashfs.Pack(out, r.Root(), wopts)
	return err
}

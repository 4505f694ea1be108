// Command sqsh-ls lists and extracts the contents of a SquashFS
// image.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/go-squashfs/squashfs"
	"github.com/go-squashfs/squashfs/internal/sqshlog"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/tree"
)

type options struct {
	Offset     int64  `long:"offset" description:"byte offset the superblock starts at" default:"0"`
	AutoOffset bool   `long:"auto-offset" description:"scan forward for the superblock instead of trusting --offset"`
	List       bool   `long:"list" short:"l" description:"list entries (listing is already the default without --dest or --info)"`
	Dest       string `long:"dest" short:"d" description:"extract into this directory instead of listing"`
	Info       bool   `long:"info" short:"i" description:"print superblock details and exit"`
	PathFilter string `long:"path-filter" description:"only list entries whose path starts with this prefix (not applied to --dest extraction)"`
	Force      bool   `long:"force" short:"f" description:"overwrite existing files when extracting"`
	Stat       bool   `long:"stat" description:"include mode/uid/gid columns when listing"`
	Kind       string `long:"kind" description:"dialect to parse with: le, be, avm_be" default:"le"`
	Quiet      bool   `long:"quiet" short:"q" description:"suppress progress output"`

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
		fmt.Fprintln(os.Stderr, "sqsh-ls:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	f, err := os.Open(opts.Positional.Image)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	k, err := kind.FromTarget(opts.Kind)
	if err != nil {
		return err
	}

	r, err := squashfs.Open(f, fi.Size(), squashfs.OpenOptions{
		Offset:     opts.Offset,
		AutoOffset: opts.AutoOffset,
		Kind:       &k,
	})
	if err != nil {
		return err
	}

	if opts.Info {
		printInfo(r)
		return nil
	}
	if opts.Dest != "" {
		if !opts.Quiet {
			sqshlog.Noticef("extracting %s to %s", opts.Positional.Image, opts.Dest)
		}
		return r.ExtractAll(opts.Dest, 4)
	}
	return r.Root().Walk(func(p string, n *tree.Node) error {
		if opts.PathFilter != "" && !strings.HasPrefix(p, opts.PathFilter) {
			return nil
		}
		printEntry(p, n, opts.Stat)
		return nil
	})
}

func printInfo(r *squashfs.Reader) {
	sb := r.Superblock()
	fmt.Printf("compression: %s\n", sb.Compression)
	fmt.Printf("block size: %d\n", sb.BlockSize)
	fmt.Printf("inodes: %d\n", sb.InodeCount)
	fmt.Printf("fragments: %d\n", sb.FragmentCount)
	fmt.Printf("version: %d.%d\n", sb.VersionMajor, sb.VersionMinor)
}

func printEntry(p string, n *tree.Node, stat bool) {
	name := p
	if name == "" {
		name = "."
	}
	if !stat {
		fmt.Println(name)
		return
	}
	fmt.Printf("%s\t%d\t%d\t%s\n", n.Mode, n.UID, n.GID, name)
}

// resume encodes JSON documents as resumable state and inspects stored
// states and snapshots.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/resumable/manifest"
	"github.com/chazu/resumable/store"
	"github.com/chazu/resumable/wire"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	encode := flag.Bool("encode", false, "Encode the given JSON files as roots of one state")
	html := flag.Bool("html", false, "With -encode, print the state as an embeddable script element")
	save := flag.Bool("save", false, "With -encode, store the snapshot and print its id")
	inspect := flag.String("inspect", "", "Decode a state text file (- for stdin) and print its roots")
	load := flag.String("load", "", "Fetch a stored snapshot by id and print its roots")
	list := flag.Bool("list", false, "List stored snapshot ids")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: resume [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Encodes JSON documents as resumable state and decodes it again.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  resume -encode cart.json user.json   # Print the state text\n")
		fmt.Fprintf(os.Stderr, "  resume -encode -html cart.json       # Print a <script> embedding\n")
		fmt.Fprintf(os.Stderr, "  resume -encode -save cart.json       # Store the snapshot, print its id\n")
		fmt.Fprintf(os.Stderr, "  resume -inspect state.txt            # Print decoded roots as JSON\n")
		fmt.Fprintf(os.Stderr, "  resume -load <id>                    # Inspect a stored snapshot\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	m, err := loadManifest()
	if err != nil {
		fatal(err)
	}
	ctx := context.Background()

	switch {
	case *encode:
		if flag.NArg() == 0 {
			fatal(fmt.Errorf("-encode needs at least one file"))
		}
		res, err := encodeFiles(ctx, flag.Args(), m.SerializerOptions()...)
		if err != nil {
			fatal(err)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Encoded %d roots, %d forward references\n", res.Roots, res.ForwardRefs)
		}
		if *save {
			snap := wire.NewSnapshot(res)
			withStore(ctx, m, func(s store.Store) error { return s.Put(ctx, snap) })
			fmt.Println(snap.ID)
			return
		}
		if *html {
			fmt.Println(wire.EmbedScript(res.State))
			return
		}
		fmt.Println(res.State)

	case *inspect != "":
		text, err := readInput(*inspect)
		if err != nil {
			fatal(err)
		}
		out, err := inspectState(text, *verbose)
		if err != nil {
			fatal(err)
		}
		fmt.Println(out)

	case *load != "":
		var snap *wire.Snapshot
		withStore(ctx, m, func(s store.Store) error {
			var err error
			snap, err = s.Get(ctx, *load)
			return err
		})
		out, err := inspectSnapshot(snap, m, *verbose)
		if err != nil {
			fatal(err)
		}
		fmt.Println(out)

	case *list:
		withStore(ctx, m, func(s store.Store) error {
			ids, err := s.List(ctx)
			for _, id := range ids {
				fmt.Println(id)
			}
			return err
		})

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// loadManifest finds resumable.toml above the working directory, falling
// back to defaults.
func loadManifest() (*manifest.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(wd)
	}
	return m, nil
}

func withStore(ctx context.Context, m *manifest.Manifest, fn func(store.Store) error) {
	s, err := store.Open(ctx, m)
	if err != nil {
		fatal(err)
	}
	defer s.Close()
	if err := fn(s); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

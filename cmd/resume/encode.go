package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/resumable/manifest"
	"github.com/chazu/resumable/serial"
	"github.com/chazu/resumable/wire"
)

// encodeFiles parses every file concurrently and serializes the documents
// as roots in argument order.
func encodeFiles(ctx context.Context, paths []string, opts ...serial.Option) (*serial.Result, error) {
	roots := make([]any, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			v, err := serial.FromJSON(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			roots[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return serial.Serialize(ctx, roots, opts...)
}

func readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// inspectState decodes text and renders its roots as indented JSON. With
// stats, the decoder counters follow.
func inspectState(text string, stats bool, opts ...serial.ContainerOption) (string, error) {
	c, err := serial.NewContainer(text, opts...)
	if err != nil {
		return "", err
	}
	return render(c, stats)
}

func inspectSnapshot(snap *wire.Snapshot, m *manifest.Manifest, stats bool) (string, error) {
	c, err := snap.Open(serial.WithSymbolRegistry(m.Registry()))
	if err != nil {
		return "", err
	}
	return render(c, stats)
}

func render(c *serial.Container, stats bool) (string, error) {
	roots, err := c.State().All()
	if err != nil {
		return "", err
	}
	plain := make([]any, len(roots))
	for i, r := range roots {
		if plain[i], err = serial.Plain(r); err != nil {
			return "", fmt.Errorf("root %d: %w", i, err)
		}
	}
	out, err := json.MarshalIndent(plain, "", "  ")
	if err != nil {
		return "", err
	}
	if !stats {
		return string(out), nil
	}
	s := c.Stats()
	return fmt.Sprintf("%s\n%d roots materialized, %d allocated, %d inflated",
		out, s.Materialized, s.Allocated, s.Inflated), nil
}

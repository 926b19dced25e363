package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/shard"
)

func runBuildIndex(ctx context.Context, a *app, args []string) error {
	defaults := annindex.DefaultBuildOptions()

	fs := flag.NewFlagSet("build-index", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	m := fs.Int("m", defaults.M, "graph out-degree (minimum 4)")
	efSearch := fs.Int("ef-search", defaults.EfSearch, "default search beam width (minimum 16)")
	efConstruction := fs.Int("ef-construction", defaults.EfConstruction, "construction parameter recorded in the package")
	output := fs.String("o", "", "output shard path (default: <input>.ann.bin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("build-index: exactly one package file is required")
	}
	input := fs.Arg(0)

	pkg, err := shard.ReadFile(input)
	if err != nil {
		return err
	}

	opts := annindex.BuildOptions{M: *m, EfSearch: *efSearch, EfConstruction: *efConstruction}
	if err := shard.AttachIndex(ctx, pkg, opts); err != nil {
		return err
	}
	if err := shard.Verify(pkg); err != nil {
		return fmt.Errorf("build-index: built artifact failed verification: %w", err)
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(input, filepath.Ext(input)) + ".ann.bin"
	}
	if err := shard.WriteFile(out, pkg); err != nil {
		return err
	}

	x := pkg.ANNIndex
	fmt.Fprintf(a.stdout, "wrote %s: %d nodes, dim %d, m %d, artifact %d bytes, sha256 %s\n",
		out, len(x.IDMap), x.EmbeddingDimensions, x.Params.M, x.ArtifactSize, x.ArtifactChecksum)
	return nil
}

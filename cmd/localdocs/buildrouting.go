package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/localdocs/routing"
	"github.com/hupe1980/localdocs/shard"
)

func runBuildRouting(ctx context.Context, a *app, args []string) error {
	defaults := routing.DefaultBuildOptions()

	fs := flag.NewFlagSet("build-routing", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	sectionPages := fs.Int("section-pages", defaults.SectionPages, "pages per section")
	minChunks := fs.Int("min-chunks", defaults.MinChunksPerSection, "minimum chunks for a section to be kept")
	summaryChunks := fs.Int("summary-chunks", defaults.SummaryChunks, "chunk texts joined into a section preview")
	summaryChars := fs.Int("summary-chars", defaults.SummaryChars, "maximum preview length (minimum 120)")
	labels := fs.String("labels", "", "comma-separated semantic labels assigned to sections with the embedder")
	output := fs.String("o", routing.DefaultFileName, "output routing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("build-routing: at least one shard file or directory is required")
	}

	files, err := expandPaths(fs.Args())
	if err != nil {
		return err
	}
	outAbs, _ := filepath.Abs(*output)

	b := routing.NewBuilder(routing.BuildOptions{
		SectionPages:        *sectionPages,
		MinChunksPerSection: *minChunks,
		SummaryChunks:       *summaryChunks,
		SummaryChars:        *summaryChars,
	})
	for _, f := range files {
		if abs, _ := filepath.Abs(f); abs == outAbs {
			continue
		}
		pkg, err := shard.ReadFile(f)
		if err != nil {
			a.logger.Warn("skipping unreadable shard", "path", f, "error", err)
			b.Skip(f, err)
			continue
		}
		if _, err := b.Add(f, pkg); err != nil {
			a.logger.Warn("skipping shard", "path", f, "error", err)
		}
	}

	idx := b.Index()
	if fs.NArg() == 1 {
		idx.SourceDirectory = fs.Arg(0)
	}

	labeled := 0
	if names := splitList(*labels); len(names) > 0 {
		e, err := a.newEmbedder()
		if err != nil {
			return err
		}
		if labeled, err = routing.AssignLabels(ctx, idx, e, names, routing.DefaultLabelBatchSize); err != nil {
			return err
		}
	}

	if err := routing.WriteFile(*output, idx); err != nil {
		return err
	}

	sections := 0
	for _, book := range idx.Books {
		sections += len(book.Sections)
	}
	fmt.Fprintf(a.stdout, "wrote %s: %d documents, %d sections, %d labeled, %d skipped\n",
		*output, idx.BooksCount, sections, labeled, len(idx.Skipped))
	return nil
}

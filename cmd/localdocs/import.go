package main

import (
	"context"
	"errors"
	"flag"

	"github.com/hupe1980/localdocs/shard"
)

func runImport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	session := fs.String("session", "", "assign documents to this session instead of the exported one")
	quantize := fs.Bool("quantize", false, "store chunk embeddings as int8 codes")
	disabled := fs.Bool("disabled", false, "import documents without enabling them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("import: at least one shard file or directory is required")
	}

	var opts []shard.ImportOption
	if *session != "" {
		opts = append(opts, shard.WithSessionID(*session))
	}
	if *quantize {
		opts = append(opts, shard.WithQuantizedEmbeddings())
	}
	if *disabled {
		opts = append(opts, shard.WithDisabled())
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if a.cfg.Store.Driver == "memory" {
		a.logger.Warn("store driver is memory, imported documents are not persisted")
	}
	_, err = a.importPaths(ctx, db, fs.Args(), opts...)
	return err
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/localdocs"
	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/blobstore/minio"
	"github.com/hupe1980/localdocs/blobstore/s3"
	"github.com/hupe1980/localdocs/internal/config"
	"github.com/hupe1980/localdocs/shard"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/store/memstore"
	"github.com/hupe1980/localdocs/store/postgres"
)

type app struct {
	cfg    *config.Config
	logger *localdocs.Logger
	stdout io.Writer
	stderr io.Writer
}

func newApp(configPath string, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := localdocs.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	var logger *localdocs.Logger
	if cfg.Log.Format == "json" {
		logger = localdocs.NewJSONLogger(stderr, level)
	} else {
		logger = localdocs.NewTextLogger(stderr, level)
	}
	return &app{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}, nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store.Driver {
	case "postgres":
		return postgres.Open(ctx, a.cfg.Store.DSN)
	default:
		return memstore.New(), nil
	}
}

func (a *app) openBlobs(ctx context.Context) (blobstore.BlobStore, error) {
	c := a.cfg.Blobs
	switch c.Driver {
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "s3":
		opts := []s3.Option{s3.WithPrefix(c.Prefix)}
		if c.Region != "" {
			opts = append(opts, s3.WithRegion(c.Region))
		}
		if c.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(c.Endpoint))
		}
		return s3.New(ctx, c.Bucket, opts...)
	case "minio":
		st, err := minio.New(minio.Config{
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Secure:    c.Secure,
			Region:    c.Region,
			Bucket:    c.Bucket,
			Prefix:    c.Prefix,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return blobstore.NewLocalStore(c.Root), nil
	}
}

// openDB opens the configured store and blob store and wires a DB over them.
func (a *app) openDB(ctx context.Context, optFns ...localdocs.Option) (*localdocs.DB, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	optFns = append([]localdocs.Option{
		localdocs.WithLogger(a.logger),
		localdocs.WithTuning(a.cfg.Retrieval.Tuning()),
		localdocs.WithResourceLimits(a.cfg.Resources.Controller()),
	}, optFns...)
	return localdocs.Open(st, blobs, optFns...)
}

// importPaths imports every shard under paths. Directories are searched for
// *.bin and *.json files, non-recursively.
func (a *app) importPaths(ctx context.Context, db *localdocs.DB, paths []string, optFns ...shard.ImportOption) (int, error) {
	files, err := expandPaths(paths)
	if err != nil {
		return 0, err
	}
	for _, path := range files {
		pkg, err := shard.ReadFile(path)
		if err != nil {
			return 0, err
		}
		res, err := db.Import(ctx, pkg, optFns...)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(a.stderr, "imported %s: document %s, %d chunks, indexed=%t\n", filepath.Base(path), res.DocumentID, res.Chunks, res.Indexed)
	}
	return len(files), nil
}

func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".bin", ".json":
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package localdocs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/shard"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/store/memstore"
	"github.com/hupe1980/localdocs/testutil"
	"github.com/hupe1980/localdocs/worker"
)

func testPackage(t *testing.T, docID string, n, dim int, seed int64, indexed bool) *shard.Package {
	t.Helper()
	rng := testutil.NewRNG(seed)
	pkg := &shard.Package{
		FormatVersion:    "1.0",
		ExportMetadata:   &shard.ExportMetadata{SessionID: "s1"},
		DocumentMetadata: shard.DocumentMetadata{ID: docID, FileName: docID + ".pdf"},
	}
	for i, v := range rng.UnitVectors(n, dim) {
		pkg.Chunks = append(pkg.Chunks, shard.Chunk{
			ID:        fmt.Sprintf("%s_%d", docID, i),
			Text:      fmt.Sprintf("%s chunk %d", docID, i),
			Embedding: v,
			Metadata:  shard.ChunkMetadata{Page: 1, ChunkIndex: i},
		})
	}
	if indexed {
		opts := annindex.DefaultBuildOptions()
		opts.M = 64
		require.NoError(t, shard.AttachIndex(context.Background(), pkg, opts))
	}
	return pkg
}

func openDB(t *testing.T, optFns ...Option) (*DB, *blobstore.MemoryStore) {
	t.Helper()
	blobs := blobstore.NewMemoryStore()
	db, err := Open(memstore.New(), blobs, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, blobs
}

func searchOptions(mode retrieval.Mode, threshold float32) retrieval.SearchOptions {
	opts := retrieval.DefaultSearchOptions()
	opts.RetrievalMode = mode
	opts.SimilarityThreshold = threshold
	return opts
}

func TestImportAndSearchBothModes(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	db, blobs := openDB(t, WithMetricsCollector(metrics))

	indexed := testPackage(t, "alpha", 40, 16, 1, true)
	plain := testPackage(t, "beta", 30, 16, 2, false)

	res, err := db.Import(ctx, indexed)
	require.NoError(t, err)
	assert.True(t, res.Indexed)
	res, err = db.Import(ctx, plain)
	require.NoError(t, err)
	assert.False(t, res.Indexed)
	assert.Equal(t, 1, blobs.Len())

	query := indexed.Chunks[7].Embedding
	exact, err := db.Search(ctx, query, "s1", searchOptions(retrieval.ModeLegacyHybrid, 0.1))
	require.NoError(t, err)
	ann, err := db.Search(ctx, query, "s1", searchOptions(retrieval.ModeANNRerank, 0.1))
	require.NoError(t, err)

	require.NotEmpty(t, exact)
	assert.Equal(t, "alpha_7", exact[0].Chunk.ID)
	assert.InDelta(t, 1.0, exact[0].Similarity, 1e-5)
	assert.Equal(t, "alpha", exact[0].Document.ID)
	assert.Equal(t, "alpha.pdf", exact[0].Document.FileName)

	require.Equal(t, len(exact), len(ann))
	for i := range exact {
		assert.Equal(t, exact[i].Chunk.ID, ann[i].Chunk.ID)
		assert.InDelta(t, exact[i].Similarity, ann[i].Similarity, 1e-6)
	}

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Zero(t, stats.SearchErrors)
	assert.Equal(t, int64(1), stats.IndexMisses)
	assert.Equal(t, int64(1), stats.Fallbacks[retrieval.FallbackIndexUnavailable])

	hits, misses := db.IndexCacheStats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestSearchErrorsAreTranslated(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t)
	_, err := db.Import(ctx, testPackage(t, "doc", 4, 8, 3, false))
	require.NoError(t, err)

	_, err = db.Search(ctx, []float32{1, 0}, "s1", retrieval.DefaultSearchOptions())
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 8, dm.Actual)

	var inner *distance.ErrDimensionMismatch
	assert.ErrorAs(t, err, &inner)

	_, err = db.Search(ctx, nil, "s1", retrieval.DefaultSearchOptions())
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestDeleteDocumentRemovesArtifacts(t *testing.T) {
	ctx := context.Background()
	db, blobs := openDB(t)

	pkg := testPackage(t, "gone", 10, 8, 4, true)
	_, err := db.Import(ctx, pkg)
	require.NoError(t, err)
	require.Equal(t, 1, blobs.Len())

	require.NoError(t, db.DeleteDocument(ctx, "gone"))
	assert.Equal(t, 0, blobs.Len())

	results, err := db.Search(ctx, pkg.Chunks[0].Embedding, "s1", retrieval.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSetDocumentEnabled(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t)

	pkg := testPackage(t, "doc", 5, 8, 5, false)
	_, err := db.Import(ctx, pkg)
	require.NoError(t, err)

	query := pkg.Chunks[0].Embedding
	results, err := db.Search(ctx, query, "s1", retrieval.DefaultSearchOptions())
	require.NoError(t, err)
	require.NotEmpty(t, results)

	require.NoError(t, db.SetDocumentEnabled(ctx, "doc", false))
	results, err = db.Search(ctx, query, "s1", retrieval.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, results)

	opts := retrieval.DefaultSearchOptions()
	opts.DocumentIDs = []string{"doc"}
	results, err = db.Search(ctx, query, "s1", opts)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	db, err := Open(memstore.New(), nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Search(ctx, []float32{1}, "s", retrieval.DefaultSearchOptions())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Import(ctx, testPackage(t, "doc", 2, 4, 6, false))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.SetDocumentEnabled(ctx, "doc", true), ErrClosed)
	assert.ErrorIs(t, db.DeleteDocument(ctx, "doc"), ErrClosed)
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(nil, nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	bad := retrieval.DefaultTuning()
	bad.CutoffRatio = 2
	_, err = Open(memstore.New(), nil, WithTuning(bad))
	assert.Error(t, err)
}

func TestResourceLimitsBoundImports(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t, WithResourceLimits(ResourceLimits{MaxBackgroundWorkers: 1, MemoryLimitBytes: 1 << 20}))

	_, err := db.Import(ctx, testPackage(t, "a", 5, 8, 7, true))
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, db.rc.AcquireBackground(ctx))
	_, err = db.Import(canceled, testPackage(t, "b", 5, 8, 8, true))
	db.rc.ReleaseBackground()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	err := translateError(fmt.Errorf("wrapped: %w", worker.ErrWorkerClosed))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, worker.ErrWorkerClosed)

	err = translateError(store.ErrUnavailable)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	plain := errors.New("plain")
	assert.Equal(t, plain, translateError(plain))
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, slog.LevelDebug).WithSession("s1")

	l.LogSearch(context.Background(), "s1", "ann_rerank_v1", 3, nil)
	assert.Contains(t, buf.String(), `"msg":"search completed"`)
	assert.Contains(t, buf.String(), `"results":3`)

	buf.Reset()
	l.LogImport(context.Background(), shard.ImportResult{DocumentID: "d", IndexErr: errors.New("bad artifact")}, nil)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "bad artifact")

	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
	_, err = ParseLevel("loud")
	assert.Error(t, err)

	NoopLogger().Info("discarded")
}

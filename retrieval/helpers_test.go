package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/indexcache"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/store/memstore"
)

const testSession = "session-1"

type fixture struct {
	store *memstore.Store
	blobs *blobstore.MemoryStore
	cache *indexcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	blobs := blobstore.NewMemoryStore()
	return &fixture{
		store: st,
		blobs: blobs,
		cache: indexcache.New(st, blobs),
	}
}

func (f *fixture) addDocument(t *testing.T, docID string, enabled bool, vectors [][]float32) []string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.PutDocument(ctx, store.Document{
		ID:        docID,
		SessionID: testSession,
		Title:     "Title " + docID,
		FileName:  docID + ".pdf",
		Enabled:   enabled,
	}))

	ids := make([]string, len(vectors))
	chunks := make([]store.Chunk, len(vectors))
	for i, v := range vectors {
		ids[i] = fmt.Sprintf("%s-chunk-%03d", docID, i)
		chunks[i] = store.Chunk{
			ID:            ids[i],
			DocumentID:    docID,
			SessionID:     testSession,
			Content:       fmt.Sprintf("content %d of %s", i, docID),
			Embedding:     v,
			EmbeddingNorm: distance.Norm(v),
			Page:          i/10 + 1,
		}
	}
	require.NoError(t, f.store.PutChunks(ctx, chunks))
	return ids
}

// addIndex stores artifact as the ready index of docID.
func (f *fixture) addIndex(t *testing.T, docID string, artifact []byte, idMap []string) {
	t.Helper()
	ctx := context.Background()

	sum := sha256.Sum256(artifact)
	checksum := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("ann/%s/%s.bin", docID, checksum)
	require.NoError(t, f.blobs.Put(ctx, key, artifact))
	require.NoError(t, f.store.PutIndexRecord(ctx, store.IndexRecord{
		ID:          docID + "-idx",
		DocumentID:  docID,
		State:       store.IndexStateReady,
		UpdatedAt:   time.Now(),
		ArtifactKey: key,
		IDMap:       idMap,
	}))
}

func buildGraph(t *testing.T, vectors [][]float32, m int) []byte {
	t.Helper()
	opts := annindex.DefaultBuildOptions()
	opts.M = m
	g, err := annindex.Build(context.Background(), vectors, opts)
	require.NoError(t, err)
	return g.Bytes()
}

func (f *fixture) engine(t *testing.T, optFns ...Option) *Engine {
	t.Helper()
	e, err := New(f.store, append([]Option{WithIndexLoader(f.cache)}, optFns...)...)
	require.NoError(t, err)
	return e
}

func searchOpts(mode Mode, maxResults int, threshold float32) SearchOptions {
	o := DefaultSearchOptions()
	o.RetrievalMode = mode
	o.MaxResults = maxResults
	o.SimilarityThreshold = threshold
	return o
}

func chunkIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	return ids
}

type recorder struct {
	mu        sync.Mutex
	searches  int
	fallbacks map[string]int
	lastErr   error
}

func newRecorder() *recorder { return &recorder{fallbacks: map[string]int{}} }

func (r *recorder) RecordSearch(_ string, _ time.Duration, _ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches++
	r.lastErr = err
}

func (r *recorder) RecordFallback(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[reason]++
}

// faultyReader wraps a reader to inject failures.
type faultyReader struct {
	store.Reader

	rescoreErr error
	onRescore  func()
	dropChunks map[string]bool
}

func (f *faultyReader) EmbeddingsByChunkIDs(ctx context.Context, ids []string) ([]store.EmbeddingRow, error) {
	if f.onRescore != nil {
		f.onRescore()
	}
	if f.rescoreErr != nil {
		return nil, f.rescoreErr
	}
	return f.Reader.EmbeddingsByChunkIDs(ctx, ids)
}

func (f *faultyReader) Chunks(ctx context.Context, ids []string) ([]store.Chunk, error) {
	chunks, err := f.Reader.Chunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if !f.dropChunks[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

package shard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/indexcache"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/store/memstore"
	"github.com/hupe1980/localdocs/testutil"
)

func newPackage(n, dim int) *Package {
	rng := testutil.NewRNG(7)
	vectors := rng.UnitVectors(n, dim)

	pkg := &Package{
		FormatVersion: "1.0",
		ExportMetadata: &ExportMetadata{
			SourceSystem: SourceSystem,
			DocumentID:   "doc-1",
			SessionID:    "session-1",
		},
		DocumentMetadata: DocumentMetadata{
			ID:             "doc-1",
			FileName:       "handbook.pdf",
			FileSize:       2048,
			PageCount:      3,
			ProcessedAt:    "2025-03-01T10:00:00.123456Z",
			CreatedAt:      "2025-02-28T09:30:00.5",
			ChunkCount:     n,
			EmbeddingModel: "text-embedding-3-small",
		},
	}
	for i, v := range vectors {
		pkg.Chunks = append(pkg.Chunks, Chunk{
			ID:        fmt.Sprintf("doc-1_%d", i),
			Text:      fmt.Sprintf("chunk %d", i),
			Embedding: v,
			Metadata: ChunkMetadata{
				Page:       i%3 + 1,
				ChunkIndex: i,
				DocumentID: "doc-1",
				Source:     "handbook.pdf",
			},
			EmbeddingDimensions: dim,
		})
	}
	return pkg
}

func indexedPackage(t *testing.T, n, dim int) *Package {
	t.Helper()
	pkg := newPackage(n, dim)
	require.NoError(t, AttachIndex(context.Background(), pkg, annindex.DefaultBuildOptions()))
	return pkg
}

func TestWriteReadRoundTrip(t *testing.T) {
	pkg := indexedPackage(t, 10, 8)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, pkg))
	assert.Equal(t, []byte{0x1f, 0x8b}, buf.Bytes()[:2])

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, pkg, got)
	require.NoError(t, Verify(got))
}

func TestReadPlainJSON(t *testing.T) {
	data := `{"format_version":"1.0","document_metadata":{"id":"d","filename":"a.pdf"},"chunks":[{"id":"c","text":"t","embedding":[1,0],"metadata":{"page":1,"chunk_index":0}}]}`
	pkg, err := Read(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "d", pkg.DocumentMetadata.ID)
	require.Len(t, pkg.Chunks, 1)
	assert.Equal(t, []float32{1, 0}, pkg.Chunks[0].Embedding)
	assert.Nil(t, pkg.ANNIndex)
}

func TestReadRejectsNonPackages(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"array", `[1,2,3]`},
		{"no version", `{"chunks":[]}`},
		{"no chunks", `{"format_version":"1.1"}`},
		{"garbage", `{"format_version":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrNotPackage)
		})
	}

	_, err := Read(bytes.NewReader([]byte{0x1f, 0x8b, 0x00}))
	assert.ErrorIs(t, err, ErrNotPackage)
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard_1a2.bin")
	pkg := newPackage(3, 4)

	require.NoError(t, WriteFile(path, pkg))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pkg.Chunks, got.Chunks)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestAttachIndex(t *testing.T) {
	pkg := indexedPackage(t, 12, 6)

	x := pkg.ANNIndex
	require.NotNil(t, x)
	assert.Equal(t, FormatVersion, pkg.FormatVersion)
	assert.Equal(t, "hnsw", x.Algorithm)
	assert.Equal(t, "cosine", x.Distance)
	assert.Equal(t, 6, x.EmbeddingDimensions)
	assert.Equal(t, 24, x.Params.M)
	assert.Equal(t, 80, x.Params.EfSearch)
	assert.Equal(t, 128, x.Params.EfConstruction)
	assert.Len(t, x.IDMap, 12)
	assert.Equal(t, "doc-1_0", x.IDMap[0])
	assert.Len(t, x.ArtifactChecksum, 64)
	assert.Len(t, x.IDMapChecksum, 64)

	artifact, err := x.Artifact()
	require.NoError(t, err)
	assert.Equal(t, x.ArtifactSize, int64(len(artifact)))

	g, err := VerifyIndex(pkg)
	require.NoError(t, err)
	assert.Equal(t, 12, g.Len())
}

func TestIDMapBytes(t *testing.T) {
	b, err := idMapBytes([]string{"a", "b<c", "ü"})
	require.NoError(t, err)
	assert.Equal(t, `["a", "b<c", "ü"]`, string(b))

	b, err = idMapBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(b))
}

func TestVerifyChunks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Package)
	}{
		{"no chunks", func(p *Package) { p.Chunks = p.Chunks[:0] }},
		{"missing id", func(p *Package) { p.Chunks[1].ID = "" }},
		{"duplicate id", func(p *Package) { p.Chunks[2].ID = p.Chunks[0].ID }},
		{"missing embedding", func(p *Package) { p.Chunks[1].Embedding = nil }},
		{"ragged dimension", func(p *Package) { p.Chunks[2].Embedding = p.Chunks[2].Embedding[:3] }},
		{"declared dimension", func(p *Package) { p.Chunks[0].EmbeddingDimensions = 99 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := newPackage(4, 4)
			tt.mutate(pkg)
			assert.ErrorIs(t, Verify(pkg), ErrInvalidChunk)
		})
	}
}

func TestVerifyIndexFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(x *ANNIndex)
		want   error
	}{
		{"no artifact", func(x *ANNIndex) { x.ArtifactBase64 = "" }, ErrMissingIndex},
		{"no id map", func(x *ANNIndex) { x.IDMap = nil }, ErrMissingIndex},
		{"bad checksum", func(x *ANNIndex) { x.ArtifactChecksum = strings.Repeat("0", 64) }, ErrChecksumMismatch},
		{"bad size", func(x *ANNIndex) { x.ArtifactSize++ }, ErrChecksumMismatch},
		{"short id map", func(x *ANNIndex) { x.IDMap = x.IDMap[:3] }, annindex.ErrIDMapMismatch},
		{"unknown id", func(x *ANNIndex) { x.IDMap[2] = "elsewhere" }, annindex.ErrIDMapMismatch},
		{"dimension", func(x *ANNIndex) { x.EmbeddingDimensions = 5 }, annindex.ErrCorruptHeader},
		{"l2 distance", func(x *ANNIndex) { x.Distance = "l2" }, ErrUnsupportedMetric},
		{"unknown distance", func(x *ANNIndex) { x.Distance = "hamming" }, ErrUnsupportedMetric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := indexedPackage(t, 6, 4)
			tt.mutate(pkg.ANNIndex)
			_, err := VerifyIndex(pkg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("corrupt magic", func(t *testing.T) {
		pkg := indexedPackage(t, 6, 4)
		artifact, err := pkg.ANNIndex.Artifact()
		require.NoError(t, err)
		artifact[0] = 'X'
		pkg.ANNIndex.ArtifactBase64 = base64.StdEncoding.EncodeToString(artifact)
		pkg.ANNIndex.ArtifactChecksum = sha256Hex(artifact)

		_, err = VerifyIndex(pkg)
		assert.ErrorIs(t, err, annindex.ErrCorruptHeader)
	})
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	blobs := blobstore.NewMemoryStore()
	pkg := indexedPackage(t, 20, 8)
	now := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	res, err := Import(ctx, pkg, st, blobs, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, 20, res.Chunks)
	assert.True(t, res.Indexed)
	assert.NoError(t, res.IndexErr)

	ids, err := st.EnabledDocumentIDs(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)

	docs, err := st.Documents(ctx, []string{"doc-1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "handbook", docs[0].Title)
	assert.Equal(t, "handbook.pdf", docs[0].FileName)
	assert.Equal(t, 20, docs[0].ChunkCount)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC), docs[0].ProcessedAt)
	assert.Equal(t, time.Date(2025, 2, 28, 9, 30, 0, 500000000, time.UTC), docs[0].CreatedAt)

	chunks, err := st.Chunks(ctx, []string{"doc-1_3"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "chunk 3", chunks[0].Content)
	assert.Equal(t, "session-1", chunks[0].SessionID)
	assert.InDelta(t, 1.0, chunks[0].EmbeddingNorm, 1e-5)
	assert.Equal(t, 3, chunks[0].Metadata.ChunkIndex)

	recs, err := st.ReadyIndexes(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, ArtifactKey("doc-1", pkg.ANNIndex.ArtifactChecksum), rec.ArtifactKey)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Equal(t, 8, rec.Dimension)
	assert.Equal(t, 80, rec.EfSearch)
	assert.Equal(t, pkg.ANNIndex.IDMap, rec.IDMap)

	cache := indexcache.New(st, blobs)
	defer cache.Close()
	idx, err := cache.Load(ctx, "doc-1")
	require.NoError(t, err)

	cands, err := idx.Search(pkg.Chunks[5].Embedding, 1, 64)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "doc-1_5", cands[0].ChunkID)
}

func TestImportSkipsCorruptIndex(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	blobs := blobstore.NewMemoryStore()

	pkg := indexedPackage(t, 5, 4)
	pkg.ANNIndex.ArtifactChecksum = strings.Repeat("a", 64)

	res, err := Import(ctx, pkg, st, blobs, WithSessionID("other"))
	require.NoError(t, err)
	assert.False(t, res.Indexed)
	assert.ErrorIs(t, res.IndexErr, ErrChecksumMismatch)
	assert.Equal(t, "other", res.SessionID)
	assert.Equal(t, 0, blobs.Len())

	recs, err := st.ReadyIndexes(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	ids, err := st.EnabledDocumentIDs(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)
}

func TestImportSkipsNonCosineIndex(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	blobs := blobstore.NewMemoryStore()

	pkg := indexedPackage(t, 5, 4)
	pkg.ANNIndex.Distance = "l2"

	res, err := Import(ctx, pkg, st, blobs)
	require.NoError(t, err)
	assert.False(t, res.Indexed)
	assert.ErrorIs(t, res.IndexErr, ErrUnsupportedMetric)
	assert.Equal(t, 0, blobs.Len())

	recs, err := st.ReadyIndexes(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestImportWithoutIndex(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := newPackage(3, 4)
	pkg.DocumentMetadata.ID = ""
	pkg.ExportMetadata = nil

	res, err := Import(ctx, pkg, st, nil, WithQuantizedEmbeddings(), WithDisabled())
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID)
	assert.False(t, res.Indexed)

	chunks, err := st.Chunks(ctx, []string{"doc-1_0"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, res.DocumentID, chunks[0].DocumentID)
	assert.Nil(t, chunks[0].Embedding)
	assert.Len(t, chunks[0].QuantizedEmbedding, 4)
	assert.Greater(t, chunks[0].QuantizationScale, float32(0))

	row := chunks[0].Row()
	v := row.Vector()
	for i := range v {
		assert.InDelta(t, pkg.Chunks[0].Embedding[i], v[i], 0.01)
	}

	ids, err := st.EnabledDocumentIDs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestImportInvalidPackage(t *testing.T) {
	pkg := newPackage(2, 4)
	pkg.Chunks[0].Embedding = nil

	st := memstore.New()
	_, err := Import(context.Background(), pkg, st, nil)
	assert.ErrorIs(t, err, ErrInvalidChunk)
	assert.Equal(t, 0, st.Len())
}

type failingIndexWriter struct {
	*memstore.Store
}

func (failingIndexWriter) PutIndexRecord(context.Context, store.IndexRecord) error {
	return errors.New("disk full")
}

func TestImportRemovesArtifactOnRecordFailure(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	pkg := indexedPackage(t, 4, 4)

	_, err := Import(context.Background(), pkg, failingIndexWriter{memstore.New()}, blobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, blobs.Len())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), parseTime("2024-01-02T03:04:05Z"))
	assert.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), parseTime("2024-01-02T03:04:05+02:00"))
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), parseTime("2024-01-02T03:04:05"))
}

func TestTitleOf(t *testing.T) {
	assert.Equal(t, "report.v2", titleOf("report.v2.pdf", "id"))
	assert.Equal(t, "id", titleOf("", "id"))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

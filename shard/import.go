package shard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/quantization"
	"github.com/hupe1980/localdocs/store"
)

// ArtifactPrefix returns the blob name prefix of a document's artifacts.
func ArtifactPrefix(documentID string) string {
	return "ann/" + documentID + "/"
}

// ArtifactKey returns the blob name of a document's artifact.
func ArtifactKey(documentID, checksum string) string {
	return ArtifactPrefix(documentID) + checksum + ".bin"
}

type importOptions struct {
	sessionID string
	logger    *slog.Logger
	quantize  bool
	disabled  bool
	now       func() time.Time
}

// ImportOption configures Import.
type ImportOption func(*importOptions)

// WithSessionID assigns the imported document to a session instead of the
// one recorded in the package.
func WithSessionID(id string) ImportOption {
	return func(o *importOptions) { o.sessionID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ImportOption {
	return func(o *importOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQuantizedEmbeddings stores chunk embeddings as int8 codes.
func WithQuantizedEmbeddings() ImportOption {
	return func(o *importOptions) { o.quantize = true }
}

// WithDisabled imports the document without enabling it for search.
func WithDisabled() ImportOption {
	return func(o *importOptions) { o.disabled = true }
}

// WithClock overrides the time source used for index records.
func WithClock(now func() time.Time) ImportOption {
	return func(o *importOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// ImportResult summarizes an import.
type ImportResult struct {
	DocumentID string
	SessionID  string
	Chunks     int

	// Indexed reports whether an artifact and ready index record were stored.
	Indexed bool

	// IndexErr is set when the package carried an artifact that failed
	// verification. The document is still searchable by exact scan.
	IndexErr error
}

// Import writes the document and chunks of pkg through w and, if the package
// carries a valid ANN artifact, stores it in blobs with a ready index record.
func Import(ctx context.Context, pkg *Package, w store.Writer, blobs blobstore.BlobStore, optFns ...ImportOption) (ImportResult, error) {
	o := importOptions{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if err := verifyChunks(pkg); err != nil {
		return ImportResult{}, err
	}

	docID := pkg.DocumentID()
	sessionID := o.sessionID
	if sessionID == "" && pkg.ExportMetadata != nil {
		sessionID = pkg.ExportMetadata.SessionID
	}
	if docID == "" {
		docID = uuid.NewString()
	}

	res := ImportResult{DocumentID: docID, SessionID: sessionID, Chunks: len(pkg.Chunks)}

	meta := pkg.DocumentMetadata
	doc := store.Document{
		ID:             docID,
		SessionID:      sessionID,
		Title:          titleOf(meta.FileName, docID),
		FileName:       meta.FileName,
		Enabled:        !o.disabled,
		FileSize:       meta.FileSize,
		PageCount:      meta.PageCount,
		ChunkCount:     len(pkg.Chunks),
		EmbeddingModel: meta.EmbeddingModel,
		CreatedAt:      parseTime(meta.CreatedAt),
		ProcessedAt:    parseTime(meta.ProcessedAt),
	}
	if err := w.PutDocument(ctx, doc); err != nil {
		return res, fmt.Errorf("shard: put document %s: %w", docID, err)
	}

	chunks := make([]store.Chunk, len(pkg.Chunks))
	for i, c := range pkg.Chunks {
		chunks[i] = toChunk(c, docID, sessionID, o.quantize)
	}
	if err := w.PutChunks(ctx, chunks); err != nil {
		return res, fmt.Errorf("shard: put chunks of %s: %w", docID, err)
	}

	if pkg.ANNIndex == nil {
		return res, nil
	}
	if blobs == nil {
		o.logger.Warn("no blob store configured, skipping ann index", "document", docID)
		return res, nil
	}

	g, err := VerifyIndex(pkg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		o.logger.Warn("skipping invalid ann index", "document", docID, "error", err)
		res.IndexErr = err
		return res, nil
	}

	x := pkg.ANNIndex
	key := ArtifactKey(docID, strings.ToLower(x.ArtifactChecksum))
	if err := blobs.Put(ctx, key, g.Bytes()); err != nil {
		return res, fmt.Errorf("shard: store artifact %s: %w", key, err)
	}

	rec := store.IndexRecord{
		ID:               uuid.NewString(),
		DocumentID:       docID,
		State:            store.IndexStateReady,
		UpdatedAt:        o.now().UTC(),
		ArtifactKey:      key,
		ArtifactChecksum: x.ArtifactChecksum,
		ArtifactSize:     x.ArtifactSize,
		IDMap:            x.IDMap,
		Dimension:        int(g.Dim),
		M:                int(g.M),
		EfSearch:         int(g.EfSearch),
	}
	if err := w.PutIndexRecord(ctx, rec); err != nil {
		if delErr := blobs.Delete(ctx, key); delErr != nil && !errors.Is(delErr, blobstore.ErrNotFound) {
			o.logger.Warn("remove orphaned artifact", "key", key, "error", delErr)
		}
		return res, fmt.Errorf("shard: put index record of %s: %w", docID, err)
	}

	res.Indexed = true
	return res, nil
}

func toChunk(c Chunk, docID, sessionID string, quantize bool) store.Chunk {
	out := store.Chunk{
		ID:         c.ID,
		DocumentID: docID,
		SessionID:  sessionID,
		Content:    c.Text,
		Page:       c.Metadata.Page,
		Metadata: store.ChunkMetadata{
			PageNumber: c.Metadata.Page,
			ChunkIndex: c.Metadata.ChunkIndex,
			Source:     c.Metadata.Source,
		},
	}
	if quantize {
		scale := quantization.ScaleFor(c.Embedding, quantization.Int8Max)
		out.QuantizedEmbedding = quantization.QuantizeInt8(make([]int8, len(c.Embedding)), c.Embedding, scale)
		out.QuantizationScale = scale
		return out
	}
	out.Embedding = c.Embedding
	out.EmbeddingNorm = distance.Norm(c.Embedding)
	return out
}

func titleOf(fileName, fallback string) string {
	if fileName == "" {
		return fallback
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// parseTime accepts the ISO-8601 variants written by the ingestion tooling.
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05.999999999Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Package store defines the persisted document, chunk and index records the
// retrieval engine reads, and the contract a backing repository implements.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/localdocs/quantization"
)

var (
	// ErrUnavailable is returned when the store is not initialized or closed.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
)

// Index lifecycle states.
const (
	IndexStateBuilding = "building"
	IndexStateReady    = "ready"
	IndexStateFailed   = "failed"
)

// Document is an ingested source document.
type Document struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Title          string    `json:"title"`
	FileName       string    `json:"fileName"`
	Enabled        bool      `json:"enabled"`
	FileSize       int64     `json:"fileSize,omitempty"`
	PageCount      int       `json:"pageCount,omitempty"`
	ChunkCount     int       `json:"chunkCount,omitempty"`
	EmbeddingModel string    `json:"embeddingModel,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ProcessedAt    time.Time `json:"processedAt"`
}

// ChunkMetadata carries citation provenance.
type ChunkMetadata struct {
	PageNumber  int    `json:"pageNumber,omitempty"`
	PageNumbers []int  `json:"pageNumbers,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	Source      string `json:"source,omitempty"`
}

// Chunk is one retrievable unit of document text. Exactly one of Embedding
// or QuantizedEmbedding is set.
type Chunk struct {
	ID                 string        `json:"id"`
	DocumentID         string        `json:"documentId"`
	SessionID          string        `json:"sessionId"`
	Content            string        `json:"content"`
	Embedding          []float32     `json:"embedding,omitempty"`
	EmbeddingNorm      float32       `json:"embeddingNorm,omitempty"`
	QuantizedEmbedding []int8        `json:"quantizedEmbedding,omitempty"`
	QuantizationScale  float32       `json:"quantizationScale,omitempty"`
	Page               int           `json:"page,omitempty"`
	Metadata           ChunkMetadata `json:"metadata"`
}

// Row returns the scoring view of the chunk.
func (c *Chunk) Row() EmbeddingRow {
	return EmbeddingRow{
		ChunkID:    c.ID,
		DocumentID: c.DocumentID,
		Embedding:  c.Embedding,
		Norm:       c.EmbeddingNorm,
		Quantized:  c.QuantizedEmbedding,
		Scale:      c.QuantizationScale,
	}
}

// EmbeddingRow is the part of a chunk needed for scoring.
type EmbeddingRow struct {
	ChunkID    string
	DocumentID string
	Embedding  []float32
	Norm       float32
	Quantized  []int8
	Scale      float32
}

// Vector returns the full-precision embedding, dequantizing when only the
// compressed form is stored.
func (r EmbeddingRow) Vector() []float32 {
	if len(r.Embedding) > 0 || len(r.Quantized) == 0 {
		return r.Embedding
	}
	return quantization.DequantizeInt8(r.Quantized, r.Scale)
}

// VectorNorm returns the stored norm when it describes the full-precision
// embedding, otherwise 0 so callers recompute it.
func (r EmbeddingRow) VectorNorm() float32 {
	if len(r.Embedding) > 0 {
		return r.Norm
	}
	return 0
}

// IndexRecord describes one generation of a document's ANN artifact.
type IndexRecord struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"documentId"`
	State            string    `json:"state"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ArtifactKey      string    `json:"artifactKey"`
	ArtifactChecksum string    `json:"artifactChecksum,omitempty"`
	ArtifactSize     int64     `json:"artifactSize,omitempty"`
	IDMap            []string  `json:"idMap"`
	Dimension        int       `json:"dimension"`
	M                int       `json:"m,omitempty"`
	EfSearch         int       `json:"efSearch,omitempty"`
}

// Reader is the read side used by the retrieval engine. The engine never
// writes through it.
type Reader interface {
	// EnabledDocumentIDs returns the IDs of enabled documents in a session.
	EnabledDocumentIDs(ctx context.Context, sessionID string) ([]string, error)

	// ScanEmbeddings streams every chunk of the given documents, in document
	// order, to fn. Returning an error from fn stops the scan.
	ScanEmbeddings(ctx context.Context, documentIDs []string, fn func(EmbeddingRow) error) error

	// EmbeddingsByChunkIDs returns the rows for the given chunk IDs. Unknown
	// IDs are skipped.
	EmbeddingsByChunkIDs(ctx context.Context, chunkIDs []string) ([]EmbeddingRow, error)

	// ReadyIndexes returns the index records of a document in state ready.
	// Their IDMap slices may be shared with the store and must not be
	// modified.
	ReadyIndexes(ctx context.Context, documentID string) ([]IndexRecord, error)

	// Chunks returns full chunk records. Unknown IDs are skipped.
	Chunks(ctx context.Context, ids []string) ([]Chunk, error)

	// Documents returns document records. Unknown IDs are skipped.
	Documents(ctx context.Context, ids []string) ([]Document, error)
}

// Writer is the ingestion side.
type Writer interface {
	PutDocument(ctx context.Context, doc Document) error
	PutChunks(ctx context.Context, chunks []Chunk) error
	PutIndexRecord(ctx context.Context, rec IndexRecord) error
	SetDocumentEnabled(ctx context.Context, documentID string, enabled bool) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Store is a complete repository.
type Store interface {
	Reader
	Writer
	Close() error
}

// Pinger is implemented by stores that can report their availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

package shard

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/hupe1980/localdocs/codec"
)

// FormatVersion is the package version written by this package.
const FormatVersion = "1.1"

// SourceSystem is recorded in export metadata of written packages.
const SourceSystem = "LocalDocs AI"

var (
	// ErrNotPackage is returned for input that is not a document package.
	ErrNotPackage = errors.New("shard: not a document package")

	// ErrInvalidChunk is returned for a chunk without id or usable embedding.
	ErrInvalidChunk = errors.New("shard: invalid chunk")

	// ErrMissingIndex is returned when a package carries no inline ANN
	// artifact.
	ErrMissingIndex = errors.New("shard: package has no inline ann index")

	// ErrChecksumMismatch is returned when an artifact does not match its
	// recorded checksum or size.
	ErrChecksumMismatch = errors.New("shard: artifact checksum mismatch")

	// ErrUnsupportedMetric is returned for an artifact built for a distance
	// other than cosine.
	ErrUnsupportedMetric = errors.New("shard: unsupported ann distance")
)

// Package is a self-contained document export: metadata, chunks with
// embeddings, and optionally a prebuilt ANN artifact.
type Package struct {
	FormatVersion    string           `json:"format_version"`
	ExportMetadata   *ExportMetadata  `json:"export_metadata,omitempty"`
	DocumentMetadata DocumentMetadata `json:"document_metadata"`
	Chunks           []Chunk          `json:"chunks"`
	ANNIndex         *ANNIndex        `json:"ann_index,omitempty"`
}

// ExportMetadata describes where and when a package was produced.
type ExportMetadata struct {
	ExportedAt   string `json:"exported_at,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`
	DocumentID   string `json:"document_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// DocumentMetadata describes the source document.
type DocumentMetadata struct {
	ID             string         `json:"id"`
	FileName       string         `json:"filename"`
	FileSize       int64          `json:"file_size,omitempty"`
	PageCount      int            `json:"page_count,omitempty"`
	ProcessedAt    string         `json:"processed_at,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	ChunkCount     int            `json:"chunk_count,omitempty"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	ChunkSettings  *ChunkSettings `json:"chunk_settings,omitempty"`
}

// ChunkSettings records how the text was split.
type ChunkSettings struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// Chunk is one packaged text chunk.
type Chunk struct {
	ID                  string        `json:"id"`
	Text                string        `json:"text"`
	Embedding           []float32     `json:"embedding"`
	Metadata            ChunkMetadata `json:"metadata"`
	EmbeddingDimensions int           `json:"embedding_dimensions,omitempty"`
}

// ChunkMetadata is the citation data of a chunk.
type ChunkMetadata struct {
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	DocumentID string `json:"document_id,omitempty"`
	Source     string `json:"source,omitempty"`
}

// ANNIndex describes a prebuilt graph artifact.
type ANNIndex struct {
	Algorithm           string    `json:"algorithm"`
	EmbeddingDimensions int       `json:"embedding_dimensions"`
	Distance            string    `json:"distance"`
	Params              ANNParams `json:"params"`
	ArtifactName        string    `json:"artifact_name,omitempty"`
	ArtifactChecksum    string    `json:"artifact_checksum"`
	ArtifactSize        int64     `json:"artifact_size"`
	IDMapName           string    `json:"id_map_name,omitempty"`
	IDMapChecksum       string    `json:"id_map_checksum,omitempty"`
	IDMapSize           int       `json:"id_map_size,omitempty"`
	ArtifactBase64      string    `json:"artifact_base64,omitempty"`
	IDMap               []string  `json:"id_map,omitempty"`
}

// ANNParams are the graph build parameters.
type ANNParams struct {
	M              int `json:"m"`
	EfConstruction int `json:"ef_construction"`
	EfSearch       int `json:"ef_search"`
}

// Artifact returns the decoded inline artifact.
func (x *ANNIndex) Artifact() ([]byte, error) {
	if x == nil || x.ArtifactBase64 == "" || x.IDMap == nil {
		return nil, ErrMissingIndex
	}
	b, err := base64.StdEncoding.DecodeString(x.ArtifactBase64)
	if err != nil {
		return nil, fmt.Errorf("shard: decode artifact: %w", err)
	}
	return b, nil
}

// DocumentID returns the document ID recorded in the package: the document
// metadata ID, else the export metadata ID. It is empty when neither is set.
func (p *Package) DocumentID() string {
	if p.DocumentMetadata.ID != "" {
		return p.DocumentMetadata.ID
	}
	if p.ExportMetadata != nil {
		return p.ExportMetadata.DocumentID
	}
	return ""
}

// Dimension returns the embedding dimension of the first chunk, or 0.
func (p *Package) Dimension() int {
	if len(p.Chunks) == 0 {
		return 0
	}
	return len(p.Chunks[0].Embedding)
}

var gzipMagic = []byte{0x1f, 0x8b}

// Read decodes a package. Gzip-compressed shards and plain JSON exports are
// both accepted.
func Read(r io.Reader) (*Package, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var src io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotPackage, err)
		}
		defer zr.Close()
		src = zr
	}

	var pkg Package
	if err := codec.Decode(codec.Default, src, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPackage, err)
	}
	if pkg.FormatVersion == "" || pkg.Chunks == nil {
		return nil, fmt.Errorf("%w: format_version and chunks are required", ErrNotPackage)
	}
	return &pkg, nil
}

// ReadFile reads the package stored at path.
func ReadFile(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pkg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pkg, nil
}

// Write encodes pkg as compact JSON and gzips it at best compression.
func Write(w io.Writer, pkg *Package) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	if err := codec.Encode(codec.Default, zw, pkg); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// WriteFile writes pkg to path.
func WriteFile(path string, pkg *Package) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, pkg)
}

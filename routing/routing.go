package routing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/hupe1980/localdocs/codec"
)

// FormatVersion is the routing file version.
const FormatVersion = "route-1.0"

// DefaultFileName is the conventional name of a routing file.
const DefaultFileName = "routing_index_all.bin"

var (
	// ErrNotRoutingIndex is returned for input that is not a routing file.
	ErrNotRoutingIndex = errors.New("routing: not a routing index")

	// ErrNoEmbeddings is returned when a package has no usable chunk
	// embedding to build a document vector from.
	ErrNoEmbeddings = errors.New("routing: no usable embeddings")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Index is a routing file.
type Index struct {
	FormatVersion   string   `json:"format_version"`
	GeneratedAt     string   `json:"generated_at"`
	SourceDirectory string   `json:"source_directory,omitempty"`
	SectionPages    int      `json:"section_pages"`
	BooksCount      int      `json:"books_count"`
	Books           []Book   `json:"books"`
	Skipped         []string `json:"skipped"`
}

// Book is the routing entry of one document.
type Book struct {
	BookID              string    `json:"book_id"`
	BookName            string    `json:"book_name"`
	SourceBin           string    `json:"source_bin"`
	EmbeddingDimensions int       `json:"embedding_dimensions"`
	ChunkCount          int       `json:"chunk_count"`
	PageCount           int       `json:"page_count"`
	BookVector          []float32 `json:"book_vector"`
	Sections            []Section `json:"sections"`
}

// Section is the centroid of the chunks on a contiguous page range.
type Section struct {
	SectionID      string    `json:"section_id"`
	Title          string    `json:"title"`
	PageStart      int       `json:"page_start"`
	PageEnd        int       `json:"page_end"`
	ChunkCount     int       `json:"chunk_count"`
	ChunkIDs       []string  `json:"chunk_ids"`
	Vector         []float32 `json:"vector"`
	SummaryPreview string    `json:"summary_preview,omitempty"`
	SemanticLabel  string    `json:"semantic_label,omitempty"`
	SemanticScore  float32   `json:"semantic_score,omitempty"`
}

// Read decodes a routing index. Both gzip-compressed and plain JSON input
// are accepted.
func Read(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var src io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotRoutingIndex, err)
		}
		defer zr.Close()
		src = zr
	}

	var idx Index
	if err := codec.Decode(codec.Default, src, &idx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRoutingIndex, err)
	}
	if idx.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format_version %q", ErrNotRoutingIndex, idx.FormatVersion)
	}
	return &idx, nil
}

// ReadFile reads the routing index at path.
func ReadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Write encodes idx as gzip JSON at the best compression level.
func Write(w io.Writer, idx *Index) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	if err := codec.Encode(codec.Default, zw, idx); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// WriteFile writes idx to path.
func WriteFile(path string, idx *Index) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, idx)
}

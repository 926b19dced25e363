package routing

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/shard"
)

// BuildOptions configures how documents are split into sections.
type BuildOptions struct {
	// SectionPages is the page span of one section. Values below 1 are
	// raised to 1.
	SectionPages int

	// MinChunksPerSection drops sections with fewer chunks. Values below 1
	// are raised to 1.
	MinChunksPerSection int

	// SummaryChunks is the number of leading chunk texts joined into a
	// section's summary preview. Zero disables previews.
	SummaryChunks int

	// SummaryChars bounds the preview length in characters. Values below
	// 120 are raised to 120.
	SummaryChars int
}

// DefaultBuildOptions returns 20-page sections with two-chunk previews of up
// to 700 characters.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		SectionPages:        20,
		MinChunksPerSection: 1,
		SummaryChunks:       2,
		SummaryChars:        700,
	}
}

func (o BuildOptions) normalize() BuildOptions {
	o.SectionPages = max(o.SectionPages, 1)
	o.MinChunksPerSection = max(o.MinChunksPerSection, 1)
	o.SummaryChunks = max(o.SummaryChunks, 0)
	o.SummaryChars = max(o.SummaryChars, 120)
	return o
}

const chunkPreviewChars = 400

type centroid struct {
	sum   []float64
	count int
}

func (c *centroid) add(v []float32) {
	if c.sum == nil {
		c.sum = make([]float64, len(v))
	}
	for i, x := range v {
		c.sum[i] += float64(x)
	}
	c.count++
}

// vector returns the L2-normalized mean, or false for a degenerate mean.
func (c *centroid) vector() ([]float32, bool) {
	mean := make([]float32, len(c.sum))
	for i, s := range c.sum {
		mean[i] = float32(s / float64(c.count))
	}
	if !distance.NormalizeL2InPlace(mean) {
		return nil, false
	}
	return mean, true
}

type sectionStats struct {
	centroid
	chunkIDs []string
	previews []string
}

// BuildBook computes the routing entry of one package. source names the file
// the package came from and stands in for a missing document ID or file name.
//
// Chunks whose embedding is empty, of a different dimension than the first
// usable one, or of zero norm are ignored. A chunk without a positive page
// number counts as page 1.
func BuildBook(source string, pkg *shard.Package, opts BuildOptions) (Book, error) {
	opts = opts.normalize()

	var (
		book     centroid
		dim      int
		maxPage  = 1
		sections = make(map[int]*sectionStats)
	)
	for _, ch := range pkg.Chunks {
		if len(ch.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(ch.Embedding)
		} else if len(ch.Embedding) != dim {
			continue
		}
		v, ok := distance.NormalizeL2Copy(ch.Embedding)
		if !ok {
			continue
		}
		book.add(v)

		page := ch.Metadata.Page
		if page <= 0 {
			page = 1
		}
		maxPage = max(maxPage, page)

		idx := (page - 1) / opts.SectionPages
		sec := sections[idx]
		if sec == nil {
			sec = &sectionStats{}
			sections[idx] = sec
		}
		sec.add(v)
		if ch.ID != "" {
			sec.chunkIDs = append(sec.chunkIDs, ch.ID)
		}
		if len(sec.previews) < opts.SummaryChunks {
			if text := compactText(ch.Text, chunkPreviewChars); text != "" {
				sec.previews = append(sec.previews, text)
			}
		}
	}

	if book.count == 0 {
		return Book{}, ErrNoEmbeddings
	}
	bookVec, ok := book.vector()
	if !ok {
		return Book{}, fmt.Errorf("%w: document vector has zero norm", ErrNoEmbeddings)
	}

	b := Book{
		BookID:              pkg.DocumentID(),
		BookName:            pkg.DocumentMetadata.FileName,
		SourceBin:           filepath.Base(source),
		EmbeddingDimensions: dim,
		ChunkCount:          book.count,
		PageCount:           pkg.DocumentMetadata.PageCount,
		BookVector:          bookVec,
		Sections:            []Section{},
	}
	if b.BookID == "" {
		b.BookID = strings.TrimSuffix(b.SourceBin, filepath.Ext(b.SourceBin))
	}
	if b.BookName == "" {
		b.BookName = b.SourceBin
	}
	if b.PageCount <= 0 {
		b.PageCount = maxPage
	}

	order := make([]int, 0, len(sections))
	for idx := range sections {
		order = append(order, idx)
	}
	sort.Ints(order)

	for _, idx := range order {
		sec := sections[idx]
		if sec.count < opts.MinChunksPerSection {
			continue
		}
		vec, ok := sec.vector()
		if !ok {
			continue
		}
		start := idx*opts.SectionPages + 1
		end := (idx + 1) * opts.SectionPages
		b.Sections = append(b.Sections, Section{
			SectionID:      fmt.Sprintf("%s_sec_%04d", b.BookID, idx),
			Title:          fmt.Sprintf("Pages %d-%d", start, end),
			PageStart:      start,
			PageEnd:        end,
			ChunkCount:     sec.count,
			ChunkIDs:       sec.chunkIDs,
			Vector:         vec,
			SummaryPreview: truncate(strings.Join(sec.previews, " "), opts.SummaryChars),
		})
	}
	return b, nil
}

// Builder accumulates books into an Index.
type Builder struct {
	opts    BuildOptions
	books   []Book
	skipped []string
	now     func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(opts BuildOptions) *Builder {
	return &Builder{opts: opts.normalize(), now: time.Now}
}

// Add builds the entry of pkg. A package without usable embeddings is
// recorded as skipped and its error returned.
func (b *Builder) Add(source string, pkg *shard.Package) (Book, error) {
	book, err := BuildBook(source, pkg, b.opts)
	if err != nil {
		b.Skip(source, err)
		return Book{}, err
	}
	b.books = append(b.books, book)
	return book, nil
}

// Skip records a source that could not be used.
func (b *Builder) Skip(source string, reason error) {
	b.skipped = append(b.skipped, fmt.Sprintf("%s (%v)", filepath.Base(source), reason))
}

// Index returns the routing index of everything added so far.
func (b *Builder) Index() *Index {
	return &Index{
		FormatVersion: FormatVersion,
		GeneratedAt:   b.now().UTC().Format(time.RFC3339Nano),
		SectionPages:  b.opts.SectionPages,
		BooksCount:    len(b.books),
		Books:         append([]Book{}, b.books...),
		Skipped:       append([]string{}, b.skipped...),
	}
}

func compactText(s string, limit int) string {
	return truncate(strings.Join(strings.Fields(s), " "), limit)
}

func truncate(s string, limit int) string {
	if r := []rune(s); len(r) > limit {
		return string(r[:limit])
	}
	return s
}

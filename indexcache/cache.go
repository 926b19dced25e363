package indexcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/internal/resource"
	"github.com/hupe1980/localdocs/store"
)

var (
	// ErrNoIndex is returned when a document has no ready index record.
	ErrNoIndex = errors.New("indexcache: no ready index")

	// ErrChecksumMismatch is returned when an artifact does not hash to the
	// checksum recorded for it.
	ErrChecksumMismatch = errors.New("indexcache: artifact checksum mismatch")

	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New("indexcache: closed")
)

// Source lists the index generations of a document.
type Source interface {
	ReadyIndexes(ctx context.Context, documentID string) ([]store.IndexRecord, error)
}

// Recorder observes cache lookups.
type Recorder interface {
	RecordIndexLoad(hit bool, err error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResourceController accounts memoized indexes against a memory budget
// and throttles artifact reads.
func WithResourceController(rc *resource.Controller) Option {
	return func(c *Cache) { c.rc = rc }
}

// WithRecorder reports every Load outcome.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

type entry struct {
	index *annindex.Index
	// blob backs index when the graph was decoded in place.
	blob blobstore.Blob
	size int64
}

// Cache memoizes parsed ANN indexes keyed by index generation. A document
// that receives a new generation gets a new entry; old entries stay until
// Close.
type Cache struct {
	src      Source
	blobs    blobstore.BlobStore
	logger   *slog.Logger
	rc       *resource.Controller
	recorder Recorder

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache reading records from src and artifacts from blobs.
func New(src Source, blobs blobstore.BlobStore, optFns ...Option) *Cache {
	c := &Cache{
		src:     src,
		blobs:   blobs,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		entries: make(map[string]*entry),
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// Newest returns the most recently updated ready record. Equal timestamps
// resolve to the greatest record ID.
func Newest(records []store.IndexRecord) (store.IndexRecord, bool) {
	ready := make([]store.IndexRecord, 0, len(records))
	for _, r := range records {
		if r.State == store.IndexStateReady {
			ready = append(ready, r)
		}
	}
	if len(ready) == 0 {
		return store.IndexRecord{}, false
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if !ready[i].UpdatedAt.Equal(ready[j].UpdatedAt) {
			return ready[i].UpdatedAt.Before(ready[j].UpdatedAt)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready[len(ready)-1], true
}

func cacheKey(r store.IndexRecord) string {
	if r.ID != "" {
		return r.ID
	}
	return r.DocumentID + "\x00" + r.ArtifactKey
}

// Load returns the parsed index of the newest ready generation of a
// document. Any error means the document has no usable index.
func (c *Cache) Load(ctx context.Context, documentID string) (idx *annindex.Index, err error) {
	hit := false
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordIndexLoad(hit, err)
		}
	}()

	if c.isClosed() {
		return nil, ErrClosed
	}

	records, err := c.src.ReadyIndexes(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("indexcache: list indexes of %s: %w", documentID, err)
	}
	rec, ok := Newest(records)
	if !ok {
		return nil, ErrNoIndex
	}
	key := cacheKey(rec)

	if e := c.lookup(key); e != nil {
		hit = true
		c.hits.Add(1)
		return e.index, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if e := c.lookup(key); e != nil {
			return e.index, nil
		}
		c.misses.Add(1)
		return c.load(ctx, key, rec)
	})
	if err != nil {
		return nil, err
	}
	return v.(*annindex.Index), nil
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Cache) lookup(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

func (c *Cache) load(ctx context.Context, key string, rec store.IndexRecord) (*annindex.Index, error) {
	if rec.ArtifactKey == "" {
		return nil, fmt.Errorf("%w: record %s has no artifact", ErrNoIndex, key)
	}

	b, err := c.blobs.Open(ctx, rec.ArtifactKey)
	if err != nil {
		return nil, fmt.Errorf("indexcache: open %s: %w", rec.ArtifactKey, err)
	}

	size := b.Size()
	if rec.ArtifactSize > 0 && size != rec.ArtifactSize {
		_ = b.Close()
		return nil, fmt.Errorf("%w: artifact %s has %d bytes, record says %d", annindex.ErrSizeMismatch, rec.ArtifactKey, size, rec.ArtifactSize)
	}

	if err := c.rc.AcquireIO(ctx, int(size)); err != nil {
		_ = b.Close()
		return nil, err
	}

	footprint := size + idMapBytes(rec.IDMap)
	memoize := c.rc.AcquireMemory(footprint) == nil

	idx, keepBlob, err := decode(ctx, b, rec, memoize)
	if !keepBlob {
		_ = b.Close()
	}
	if err != nil {
		if memoize {
			c.rc.ReleaseMemory(footprint)
		}
		return nil, err
	}

	if !memoize {
		c.logger.Debug("index cache budget exhausted, serving uncached", "document", rec.DocumentID, "bytes", footprint)
		return idx, nil
	}

	e := &entry{index: idx, size: footprint}
	if keepBlob {
		e.blob = b
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(e)
		return nil, ErrClosed
	}
	c.entries[key] = e
	c.mu.Unlock()

	c.logger.Debug("index loaded", "document", rec.DocumentID, "index", key, "nodes", idx.Graph.Len())
	return idx, nil
}

// decode parses the artifact in place when the blob is mappable and the
// result will be memoized; otherwise it copies the bytes so the blob can be
// closed immediately.
func decode(ctx context.Context, b blobstore.Blob, rec store.IndexRecord, inPlace bool) (*annindex.Index, bool, error) {
	var (
		buf      []byte
		keepBlob bool
		err      error
	)
	if m, ok := b.(blobstore.Mappable); ok && inPlace {
		buf, err = m.Bytes()
		keepBlob = err == nil
	} else {
		buf, err = blobstore.ReadAll(ctx, b)
	}
	if err != nil {
		return nil, false, fmt.Errorf("indexcache: read %s: %w", rec.ArtifactKey, err)
	}

	if err := verifyChecksum(buf, rec.ArtifactChecksum); err != nil {
		return nil, false, fmt.Errorf("%s: %w", rec.ArtifactKey, err)
	}

	g, err := annindex.Decode(buf)
	if err != nil {
		return nil, false, err
	}
	if rec.Dimension > 0 && int(g.Dim) != rec.Dimension {
		return nil, false, fmt.Errorf("%w: artifact dimension %d, record says %d", annindex.ErrCorruptHeader, g.Dim, rec.Dimension)
	}

	idx, err := annindex.NewIndex(g, rec.IDMap)
	if err != nil {
		return nil, false, err
	}
	return idx, keepBlob, nil
}

func verifyChecksum(buf []byte, want string) error {
	if want == "" {
		return nil
	}
	sum := sha256.Sum256(buf)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, want)
	}
	return nil
}

func idMapBytes(ids []string) int64 {
	var n int64
	for _, id := range ids {
		n += int64(len(id)) + 16
	}
	return n
}

func (c *Cache) release(e *entry) {
	if e.blob != nil {
		_ = e.blob.Close()
	}
	c.rc.ReleaseMemory(e.size)
}

// Len returns the number of memoized generations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the number of cache hits and misses since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close drops every entry and releases mapped artifacts. Indexes returned
// earlier must not be used afterwards; later Loads fail with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.closed = true
	c.mu.Unlock()

	for _, e := range entries {
		c.release(e)
	}
	return nil
}

// Package memstore is an in-memory store.Store.
//
// Chunks are kept in insertion order and addressed by a dense ordinal; each
// document and each session owns a roaring bitmap posting list of ordinals,
// so scans walk a document's chunks in a stable order without sorting.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/localdocs/store"
)

type docEntry struct {
	doc    store.Document
	ord    uint32
	chunks *roaring.Bitmap
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	closed bool

	docs     map[string]*docEntry
	docIDs   []string // by document ordinal; "" once deleted
	sessions map[string]*roaring.Bitmap

	chunks   []*store.Chunk // by chunk ordinal; nil once deleted
	chunkOrd map[string]uint32

	indexes map[string][]store.IndexRecord
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:     make(map[string]*docEntry),
		sessions: make(map[string]*roaring.Bitmap),
		chunkOrd: make(map[string]uint32),
		indexes:  make(map[string][]store.IndexRecord),
	}
}

// Ping implements store.Pinger.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrUnavailable
	}
	return nil
}

// Close marks the store unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PutDocument inserts or replaces a document.
func (s *Store) PutDocument(_ context.Context, doc store.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("memstore: document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}

	e, ok := s.docs[doc.ID]
	if !ok {
		e = &docEntry{ord: uint32(len(s.docIDs)), chunks: roaring.New()} // nolint gosec
		s.docs[doc.ID] = e
		s.docIDs = append(s.docIDs, doc.ID)
	} else if e.doc.SessionID != doc.SessionID {
		if bm := s.sessions[e.doc.SessionID]; bm != nil {
			bm.Remove(e.ord)
		}
	}
	e.doc = doc

	bm := s.sessions[doc.SessionID]
	if bm == nil {
		bm = roaring.New()
		s.sessions[doc.SessionID] = bm
	}
	bm.Add(e.ord)
	return nil
}

// PutChunks inserts or replaces chunks. Every chunk must belong to a known document.
func (s *Store) PutChunks(_ context.Context, chunks []store.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}

	for i := range chunks {
		c := chunks[i]
		if c.ID == "" {
			return fmt.Errorf("memstore: chunk id is required")
		}
		e, ok := s.docs[c.DocumentID]
		if !ok {
			return fmt.Errorf("memstore: chunk %s: document %s: %w", c.ID, c.DocumentID, store.ErrNotFound)
		}

		if ord, ok := s.chunkOrd[c.ID]; ok {
			if prev := s.chunks[ord]; prev.DocumentID != c.DocumentID {
				if pe := s.docs[prev.DocumentID]; pe != nil {
					pe.chunks.Remove(ord)
				}
			}
			s.chunks[ord] = &c
			e.chunks.Add(ord)
			continue
		}

		ord := uint32(len(s.chunks)) // nolint gosec
		s.chunks = append(s.chunks, &c)
		s.chunkOrd[c.ID] = ord
		e.chunks.Add(ord)
	}
	return nil
}

// PutIndexRecord inserts or replaces an index record by ID.
func (s *Store) PutIndexRecord(_ context.Context, rec store.IndexRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	if _, ok := s.docs[rec.DocumentID]; !ok {
		return fmt.Errorf("memstore: index %s: document %s: %w", rec.ID, rec.DocumentID, store.ErrNotFound)
	}
	rec.IDMap = slices.Clip(slices.Clone(rec.IDMap))

	recs := s.indexes[rec.DocumentID]
	for i := range recs {
		if recs[i].ID == rec.ID {
			recs[i] = rec
			return nil
		}
	}
	s.indexes[rec.DocumentID] = append(recs, rec)
	return nil
}

// SetDocumentEnabled toggles whether a document takes part in session searches.
func (s *Store) SetDocumentEnabled(_ context.Context, documentID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	e, ok := s.docs[documentID]
	if !ok {
		return fmt.Errorf("memstore: document %s: %w", documentID, store.ErrNotFound)
	}
	e.doc.Enabled = enabled
	return nil
}

// DeleteDocument removes a document with its chunks and index records.
func (s *Store) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	e, ok := s.docs[documentID]
	if !ok {
		return nil
	}

	it := e.chunks.Iterator()
	for it.HasNext() {
		ord := it.Next()
		if c := s.chunks[ord]; c != nil {
			delete(s.chunkOrd, c.ID)
			s.chunks[ord] = nil
		}
	}
	if bm := s.sessions[e.doc.SessionID]; bm != nil {
		bm.Remove(e.ord)
	}
	s.docIDs[e.ord] = ""
	delete(s.docs, documentID)
	delete(s.indexes, documentID)
	return nil
}

// EnabledDocumentIDs implements store.Reader. IDs are in insertion order.
func (s *Store) EnabledDocumentIDs(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}

	bm := s.sessions[sessionID]
	if bm == nil {
		return nil, nil
	}
	ids := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := s.docIDs[it.Next()]
		if e := s.docs[id]; e != nil && e.doc.Enabled {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ScanEmbeddings implements store.Reader. Rows of one document are copied
// under the lock and handed to fn after it is released.
func (s *Store) ScanEmbeddings(ctx context.Context, documentIDs []string, fn func(store.EmbeddingRow) error) error {
	var rows []store.EmbeddingRow
	for _, id := range documentIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		rows, err = s.documentRows(id, rows[:0])
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) documentRows(documentID string, dst []store.EmbeddingRow) ([]store.EmbeddingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}

	e := s.docs[documentID]
	if e == nil {
		return dst, nil
	}
	it := e.chunks.Iterator()
	for it.HasNext() {
		if c := s.chunks[it.Next()]; c != nil {
			dst = append(dst, c.Row())
		}
	}
	return dst, nil
}

// EmbeddingsByChunkIDs implements store.Reader.
func (s *Store) EmbeddingsByChunkIDs(_ context.Context, chunkIDs []string) ([]store.EmbeddingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}

	rows := make([]store.EmbeddingRow, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if ord, ok := s.chunkOrd[id]; ok {
			rows = append(rows, s.chunks[ord].Row())
		}
	}
	return rows, nil
}

// ReadyIndexes implements store.Reader. ID maps are copied once on put and
// shared by every read.
func (s *Store) ReadyIndexes(_ context.Context, documentID string) ([]store.IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}

	var out []store.IndexRecord
	for _, rec := range s.indexes[documentID] {
		if rec.State == store.IndexStateReady {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Chunks implements store.Reader.
func (s *Store) Chunks(_ context.Context, ids []string) ([]store.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}

	out := make([]store.Chunk, 0, len(ids))
	for _, id := range ids {
		if ord, ok := s.chunkOrd[id]; ok {
			out = append(out, *s.chunks[ord])
		}
	}
	return out, nil
}

// Documents implements store.Reader.
func (s *Store) Documents(_ context.Context, ids []string) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrUnavailable
	}

	out := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.docs[id]; ok {
			out = append(out, e.doc)
		}
	}
	return out, nil
}

// Len returns the number of live chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunkOrd)
}

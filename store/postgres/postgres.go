// Package postgres is a store.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hupe1980/localdocs/store"
)

// Schema creates the tables used by Store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	file_name       TEXT NOT NULL DEFAULT '',
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	file_size       BIGINT NOT NULL DEFAULT 0,
	page_count      INTEGER NOT NULL DEFAULT 0,
	chunk_count     INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	ord             BIGSERIAL
);
CREATE INDEX IF NOT EXISTS documents_session_idx ON documents (session_id, ord);

CREATE TABLE IF NOT EXISTS chunks (
	id                 TEXT PRIMARY KEY,
	document_id        TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	session_id         TEXT NOT NULL DEFAULT '',
	content            TEXT NOT NULL DEFAULT '',
	embedding          REAL[],
	embedding_norm     REAL NOT NULL DEFAULT 0,
	quantized          BYTEA,
	quantization_scale REAL NOT NULL DEFAULT 0,
	page               INTEGER NOT NULL DEFAULT 0,
	chunk_index        INTEGER NOT NULL DEFAULT 0,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	ord                BIGSERIAL
);
CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id, ord);

CREATE TABLE IF NOT EXISTS ann_indexes (
	id                TEXT PRIMARY KEY,
	document_id       TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	state             TEXT NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	artifact_key      TEXT NOT NULL,
	artifact_checksum TEXT NOT NULL DEFAULT '',
	artifact_size     BIGINT NOT NULL DEFAULT 0,
	id_map            TEXT[] NOT NULL,
	dimension         INTEGER NOT NULL,
	m                 INTEGER NOT NULL DEFAULT 0,
	ef_search         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS ann_indexes_document_idx ON ann_indexes (document_id, state);
`

// Store handles all relational operations.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens a connection pool, verifies it and applies Schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := New(db)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping implements store.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return store.ErrUnavailable
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Documents ---

// PutDocument upserts a document.
func (s *Store) PutDocument(ctx context.Context, d store.Document) error {
	query := `
		INSERT INTO documents (id, session_id, title, file_name, enabled, file_size, page_count,
		                       chunk_count, embedding_model, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			title = EXCLUDED.title,
			file_name = EXCLUDED.file_name,
			enabled = EXCLUDED.enabled,
			file_size = EXCLUDED.file_size,
			page_count = EXCLUDED.page_count,
			chunk_count = EXCLUDED.chunk_count,
			embedding_model = EXCLUDED.embedding_model,
			processed_at = EXCLUDED.processed_at`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.SessionID, d.Title, d.FileName, d.Enabled, d.FileSize, d.PageCount,
		d.ChunkCount, d.EmbeddingModel, orNow(d.CreatedAt), orNow(d.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// SetDocumentEnabled toggles a document.
func (s *Store) SetDocumentEnabled(ctx context.Context, documentID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET enabled = $1 WHERE id = $2`, enabled, documentID)
	if err != nil {
		return fmt.Errorf("set document enabled: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document; chunks and index records cascade.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// EnabledDocumentIDs implements store.Reader.
func (s *Store) EnabledDocumentIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE session_id = $1 AND enabled ORDER BY ord`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("enabled documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Documents implements store.Reader.
func (s *Store) Documents(ctx context.Context, ids []string) ([]store.Document, error) {
	query := `SELECT id, session_id, title, file_name, enabled, file_size, page_count, chunk_count,
	                 embedding_model, created_at, processed_at
	          FROM documents WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]store.Document, len(ids))
	for rows.Next() {
		var d store.Document
		if err := rows.Scan(
			&d.ID, &d.SessionID, &d.Title, &d.FileName, &d.Enabled, &d.FileSize, &d.PageCount,
			&d.ChunkCount, &d.EmbeddingModel, &d.CreatedAt, &d.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inOrder(ids, byID), nil
}

// --- Chunks ---

// PutChunks upserts chunks in one transaction.
func (s *Store) PutChunks(ctx context.Context, chunks []store.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, session_id, content, embedding, embedding_norm,
		                    quantized, quantization_scale, page, chunk_index, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			session_id = EXCLUDED.session_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			embedding_norm = EXCLUDED.embedding_norm,
			quantized = EXCLUDED.quantized,
			quantization_scale = EXCLUDED.quantization_scale,
			page = EXCLUDED.page,
			chunk_index = EXCLUDED.chunk_index,
			metadata = EXCLUDED.metadata`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("chunk %s metadata: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.SessionID, c.Content, nullableFloats(c.Embedding), c.EmbeddingNorm,
			encodeInt8(c.QuantizedEmbedding), c.QuantizationScale, c.Page, c.Metadata.ChunkIndex, meta,
		); err != nil {
			return fmt.Errorf("put chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ScanEmbeddings implements store.Reader. Rows are streamed from the cursor
// one document at a time and never materialized as a whole.
func (s *Store) ScanEmbeddings(ctx context.Context, documentIDs []string, fn func(store.EmbeddingRow) error) error {
	query := `SELECT id, document_id, embedding, embedding_norm, quantized, quantization_scale
	          FROM chunks WHERE document_id = $1 ORDER BY ord`

	for _, docID := range documentIDs {
		if err := s.scanDocument(ctx, query, docID, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) scanDocument(ctx context.Context, query, documentID string, fn func(store.EmbeddingRow) error) error {
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return fmt.Errorf("scan embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EmbeddingsByChunkIDs implements store.Reader.
func (s *Store) EmbeddingsByChunkIDs(ctx context.Context, chunkIDs []string) ([]store.EmbeddingRow, error) {
	query := `SELECT id, document_id, embedding, embedding_norm, quantized, quantization_scale
	          FROM chunks WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(chunkIDs))
	if err != nil {
		return nil, fmt.Errorf("embeddings by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]store.EmbeddingRow, len(chunkIDs))
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		byID[r.ChunkID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inOrder(chunkIDs, byID), nil
}

// Chunks implements store.Reader.
func (s *Store) Chunks(ctx context.Context, ids []string) ([]store.Chunk, error) {
	query := `SELECT id, document_id, session_id, content, embedding, embedding_norm, quantized,
	                 quantization_scale, page, metadata
	          FROM chunks WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]store.Chunk, len(ids))
	for rows.Next() {
		var (
			c     store.Chunk
			emb   pq.Float32Array
			quant []byte
			meta  []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SessionID, &c.Content, &emb, &c.EmbeddingNorm,
			&quant, &c.QuantizationScale, &c.Page, &meta); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = []float32(emb)
		c.QuantizedEmbedding = decodeInt8(quant)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("chunk %s metadata: %w", c.ID, err)
			}
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inOrder(ids, byID), nil
}

// --- ANN indexes ---

// PutIndexRecord upserts an index record.
func (s *Store) PutIndexRecord(ctx context.Context, r store.IndexRecord) error {
	query := `
		INSERT INTO ann_indexes (id, document_id, state, updated_at, artifact_key, artifact_checksum,
		                         artifact_size, id_map, dimension, m, ef_search)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at,
			artifact_key = EXCLUDED.artifact_key,
			artifact_checksum = EXCLUDED.artifact_checksum,
			artifact_size = EXCLUDED.artifact_size,
			id_map = EXCLUDED.id_map,
			dimension = EXCLUDED.dimension,
			m = EXCLUDED.m,
			ef_search = EXCLUDED.ef_search`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.DocumentID, r.State, orNow(r.UpdatedAt), r.ArtifactKey, r.ArtifactChecksum,
		r.ArtifactSize, pq.Array(r.IDMap), r.Dimension, r.M, r.EfSearch,
	)
	if err != nil {
		return fmt.Errorf("put index record: %w", err)
	}
	return nil
}

// ReadyIndexes implements store.Reader.
func (s *Store) ReadyIndexes(ctx context.Context, documentID string) ([]store.IndexRecord, error) {
	query := `SELECT id, document_id, state, updated_at, artifact_key, artifact_checksum, artifact_size,
	                 id_map, dimension, m, ef_search
	          FROM ann_indexes WHERE document_id = $1 AND state = $2 ORDER BY updated_at, id`

	rows, err := s.db.QueryContext(ctx, query, documentID, store.IndexStateReady)
	if err != nil {
		return nil, fmt.Errorf("ready indexes: %w", err)
	}
	defer rows.Close()

	var out []store.IndexRecord
	for rows.Next() {
		var r store.IndexRecord
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.State, &r.UpdatedAt, &r.ArtifactKey,
			&r.ArtifactChecksum, &r.ArtifactSize, pq.Array(&r.IDMap), &r.Dimension, &r.M, &r.EfSearch); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (store.EmbeddingRow, error) {
	var (
		r     store.EmbeddingRow
		emb   pq.Float32Array
		quant []byte
	)
	if err := sc.Scan(&r.ChunkID, &r.DocumentID, &emb, &r.Norm, &quant, &r.Scale); err != nil {
		return r, fmt.Errorf("scan embedding: %w", err)
	}
	r.Embedding = []float32(emb)
	r.Quantized = decodeInt8(quant)
	return r, nil
}

func inOrder[T any](ids []string, byID map[string]T) []T {
	out := make([]T, 0, len(byID))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
			delete(byID, id)
		}
	}
	return out
}

func nullableFloats(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pq.Float32Array(v)
}

func encodeInt8(q []int8) []byte {
	if len(q) == 0 {
		return nil
	}
	out := make([]byte, len(q))
	for i, v := range q {
		out[i] = byte(v)
	}
	return out
}

func decodeInt8(b []byte) []int8 {
	if len(b) == 0 {
		return nil
	}
	out := make([]int8, len(b))
	for i, v := range b {
		out[i] = int8(v)
	}
	return out
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// IsUnavailable reports whether err means the database could not be reached.
func IsUnavailable(err error) bool {
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}
	return false
}

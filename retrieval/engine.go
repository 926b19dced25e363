package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/store"
)

var (
	// ErrStoreUnavailable is returned before any work when the store is
	// missing or reports that it is not reachable.
	ErrStoreUnavailable = fmt.Errorf("retrieval: %w", store.ErrUnavailable)

	// ErrInvalidQuery is returned for a malformed query vector or options.
	ErrInvalidQuery = errors.New("retrieval: invalid query")
)

// Fallback reasons passed to Recorder.RecordFallback.
const (
	FallbackIndexUnavailable = "index_unavailable"
	FallbackNoCandidates     = "no_candidates"
	FallbackANNPath          = "ann_path"
)

// IndexLoader returns the usable ANN index of a document. Any error is
// treated as "no usable index".
type IndexLoader interface {
	Load(ctx context.Context, documentID string) (*annindex.Index, error)
}

// Recorder observes searches.
type Recorder interface {
	RecordSearch(mode string, d time.Duration, results int, err error)
	RecordFallback(reason string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTuning replaces DefaultTuning.
func WithTuning(t Tuning) Option {
	return func(e *Engine) { e.tuning = t }
}

// WithIndexLoader enables the ANN path. Without one every document falls
// back to a full scan in ModeANNRerank.
func WithIndexLoader(l IndexLoader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithRecorder reports search outcomes and fallbacks.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

const tracerName = "github.com/hupe1980/localdocs/retrieval"

// Engine answers searches over a store. It holds no per-request state and
// is safe for concurrent use.
type Engine struct {
	reader   store.Reader
	loader   IndexLoader
	tuning   Tuning
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// New creates an Engine reading from r.
func New(r store.Reader, optFns ...Option) (*Engine, error) {
	e := &Engine{
		reader: r,
		tuning: DefaultTuning(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
	}
	for _, fn := range optFns {
		fn(e)
	}
	if err := e.tuning.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Tuning returns the constants the engine ranks with.
func (e *Engine) Tuning() Tuning { return e.tuning }

// Search returns the chunks most similar to query among the target documents
// of sessionID, best first.
//
// Structural problems (no store, malformed query, dimension mismatch with
// stored vectors) and context cancellation are returned as errors. Index
// problems never are: they degrade the affected documents, or the whole
// request, to an exact scan.
func (e *Engine) Search(ctx context.Context, query []float32, sessionID string, opts SearchOptions) (results []Result, err error) {
	start := time.Now()
	mode := opts.RetrievalMode

	ctx, span := e.tracer.Start(ctx, "retrieval.Search", trace.WithAttributes(
		attribute.String("session", sessionID),
		attribute.String("mode", string(mode)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("results", len(results)))
		span.End()
		if e.recorder != nil {
			e.recorder.RecordSearch(string(mode), time.Since(start), len(results), err)
		}
	}()

	if err := e.checkStore(ctx); err != nil {
		return nil, err
	}
	if err := distance.Validate(query, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	opts, err = opts.normalize(e.tuning)
	if err != nil {
		return nil, err
	}
	mode = opts.RetrievalMode

	docIDs, err := e.targetDocuments(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	if len(docIDs) == 0 {
		return []Result{}, nil
	}

	var scored []Scored
	if mode == ModeANNRerank {
		scored, err = e.annPath(ctx, query, docIDs, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Warn("ann path failed, falling back to exact scan", "session", sessionID, "error", err)
			e.fallback(FallbackANNPath)
			scored, err = e.bruteForce(ctx, query, docIDs, opts.SimilarityThreshold)
		}
	} else {
		scored, err = e.bruteForce(ctx, query, docIDs, opts.SimilarityThreshold)
	}
	if err != nil {
		return nil, err
	}

	SortScored(scored)
	scored = AdaptiveCutoff(scored, e.tuning.CutoffRatio)

	return e.hydrate(ctx, scored, opts.MaxResults)
}

func (e *Engine) checkStore(ctx context.Context) error {
	if e.reader == nil {
		return ErrStoreUnavailable
	}
	if p, ok := e.reader.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// targetDocuments returns the explicit document list when given, otherwise
// the enabled documents of the session.
func (e *Engine) targetDocuments(ctx context.Context, sessionID string, opts SearchOptions) ([]string, error) {
	if len(opts.DocumentIDs) > 0 {
		return opts.DocumentIDs, nil
	}
	ids, err := e.reader.EnabledDocumentIDs(ctx, sessionID)
	if err != nil {
		return nil, e.storeError(ctx, err)
	}
	return ids, nil
}

func (e *Engine) storeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func (e *Engine) fallback(reason string) {
	if e.recorder != nil {
		e.recorder.RecordFallback(reason)
	}
}

func (e *Engine) bruteForce(ctx context.Context, query []float32, docIDs []string, threshold float32) ([]Scored, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.BruteForce", trace.WithAttributes(attribute.Int("documents", len(docIDs))))
	defer span.End()

	scored, err := BruteForce(ctx, e.reader, query, docIDs, threshold)
	if err != nil {
		span.RecordError(err)
		return nil, e.storeError(ctx, err)
	}
	span.SetAttributes(attribute.Int("matches", len(scored)))
	return scored, nil
}

// annPath collects graph candidates per document, re-scores them exactly
// and appends an exact scan of every document that produced none.
func (e *Engine) annPath(ctx context.Context, query []float32, docIDs []string, opts SearchOptions) ([]Scored, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.ANN", trace.WithAttributes(attribute.Int("documents", len(docIDs))))
	defer span.End()

	budget := CandidateBudget(opts.MaxResults, opts.ANNCandidateMultiplier, len(docIDs), e.tuning)

	var (
		candidates []annindex.Candidate
		fallback   []string
	)
	for _, docID := range docIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := e.documentCandidates(ctx, docID, query, budget)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Debug("document index unusable, scanning instead", "document", docID, "error", err)
			e.fallback(FallbackIndexUnavailable)
			fallback = append(fallback, docID)
			continue
		}
		if len(found) == 0 {
			e.fallback(FallbackNoCandidates)
			fallback = append(fallback, docID)
			continue
		}
		candidates = append(candidates, found...)
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("fallback_documents", len(fallback)),
	)

	rescored, err := Rescore(ctx, e.reader, query, CandidateIDs(candidates), opts.SimilarityThreshold)
	if err != nil {
		return nil, err
	}
	scanned, err := BruteForce(ctx, e.reader, query, fallback, opts.SimilarityThreshold)
	if err != nil {
		return nil, err
	}
	return append(rescored, scanned...), nil
}

func (e *Engine) documentCandidates(ctx context.Context, docID string, query []float32, budget int) ([]annindex.Candidate, error) {
	if e.loader == nil {
		return nil, errors.New("retrieval: no index loader configured")
	}
	idx, err := e.loader.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, budget, e.tuning.EfFloor)
}

// CandidateIDs deduplicates candidates by chunk ID, keeping each ID at the
// position of its first occurrence, and orders them by the best approximate
// score seen for the ID.
func CandidateIDs(candidates []annindex.Candidate) []string {
	best := make(map[string]float32, len(candidates))
	order := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if s, ok := best[c.ChunkID]; ok {
			best[c.ChunkID] = max(s, c.Score)
			continue
		}
		best[c.ChunkID] = c.Score
		order = append(order, Scored{ChunkID: c.ChunkID})
	}
	for i := range order {
		order[i].Score = best[order[i].ChunkID]
	}
	SortScored(order)

	ids := make([]string, len(order))
	for i, s := range order {
		ids[i] = s.ChunkID
	}
	return ids
}

// hydrate loads chunk and document records for the ranked list, dropping
// pairs whose records are missing, until limit results are collected.
func (e *Engine) hydrate(ctx context.Context, scored []Scored, limit int) ([]Result, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.Hydrate")
	defer span.End()

	results := make([]Result, 0, min(limit, len(scored)))
	for len(scored) > 0 && len(results) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := scored[:min(limit-len(results), len(scored))]
		scored = scored[len(batch):]

		got, err := e.hydrateBatch(ctx, batch)
		if err != nil {
			return nil, e.storeError(ctx, err)
		}
		results = append(results, got...)
	}
	return results, nil
}

func (e *Engine) hydrateBatch(ctx context.Context, batch []Scored) ([]Result, error) {
	chunkIDs := make([]string, len(batch))
	docIDs := make([]string, 0, len(batch))
	for i, s := range batch {
		chunkIDs[i] = s.ChunkID
		docIDs = append(docIDs, s.DocumentID)
	}
	docIDs = dedupStrings(docIDs)

	var (
		chunks []store.Chunk
		docs   []store.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = e.reader.Chunks(gctx, chunkIDs)
		return err
	})
	g.Go(func() error {
		var err error
		docs, err = e.reader.Documents(gctx, docIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chunkByID := make(map[string]store.Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}
	docByID := make(map[string]store.Document, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d
	}

	out := make([]Result, 0, len(batch))
	for _, s := range batch {
		c, ok := chunkByID[s.ChunkID]
		if !ok {
			continue
		}
		d, ok := docByID[c.DocumentID]
		if !ok {
			continue
		}
		out = append(out, Result{
			Chunk:      c,
			Similarity: s.Score,
			Document:   DocumentRef{ID: d.ID, Title: d.Title, FileName: d.FileName},
		})
	}
	return out, nil
}

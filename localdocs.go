package localdocs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/localdocs/blobstore"
	"github.com/hupe1980/localdocs/indexcache"
	"github.com/hupe1980/localdocs/internal/resource"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/shard"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/worker"
)

// DB is a document retrieval database: a store of documents and chunks, a
// blob store of ANN artifacts, the index cache over them and the search
// worker that serializes requests.
type DB struct {
	store  store.Store
	blobs  blobstore.BlobStore
	rc     *resource.Controller
	cache  *indexcache.Cache
	engine *retrieval.Engine
	worker *worker.Worker

	logger  *Logger
	metrics MetricsCollector

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open wires a DB over st and blobs. The DB owns st and closes it on Close.
func Open(st store.Store, blobs blobstore.BlobStore, optFns ...Option) (*DB, error) {
	if st == nil {
		return nil, ErrStoreUnavailable
	}
	if blobs == nil {
		blobs = blobstore.NewMemoryStore()
	}

	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		tuning:           retrieval.DefaultTuning(),
	}
	for _, fn := range optFns {
		fn(&o)
	}

	var rc *resource.Controller
	if o.limits != nil {
		rc = resource.NewController(*o.limits)
	}

	cache := indexcache.New(st, blobs,
		indexcache.WithLogger(o.logger.Logger),
		indexcache.WithResourceController(rc),
		indexcache.WithRecorder(o.metricsCollector),
	)

	engineOpts := []retrieval.Option{
		retrieval.WithLogger(o.logger.Logger),
		retrieval.WithTuning(o.tuning),
		retrieval.WithIndexLoader(cache),
		retrieval.WithRecorder(o.metricsCollector),
	}
	if o.tracerProvider != nil {
		engineOpts = append(engineOpts, retrieval.WithTracerProvider(o.tracerProvider))
	}
	engine, err := retrieval.New(st, engineOpts...)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	workerOpts := []worker.Option{worker.WithLogger(o.logger.Logger)}
	if o.queueSize > 0 {
		workerOpts = append(workerOpts, worker.WithQueueSize(o.queueSize))
	}

	return &DB{
		store:   st,
		blobs:   blobs,
		rc:      rc,
		cache:   cache,
		engine:  engine,
		worker:  worker.New(engine, workerOpts...),
		logger:  o.logger,
		metrics: o.metricsCollector,
	}, nil
}

// Search returns the chunks of sessionID's documents most similar to query.
// Requests are executed one at a time by the DB's worker.
func (db *DB) Search(ctx context.Context, query []float32, sessionID string, opts retrieval.SearchOptions) ([]retrieval.Result, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	results, err := db.worker.Search(ctx, query, sessionID, opts)
	err = translateError(err)
	db.logger.LogSearch(ctx, sessionID, string(opts.RetrievalMode), len(results), err)
	return results, err
}

// Worker returns the request worker, e.g. to serve it over NATS.
func (db *DB) Worker() *worker.Worker { return db.worker }

// Engine returns the retrieval engine. Calls on it bypass the worker.
func (db *DB) Engine() *retrieval.Engine { return db.engine }

// IndexCacheStats returns the index cache hit and miss counts.
func (db *DB) IndexCacheStats() (hits, misses int64) { return db.cache.Stats() }

// Import writes a document package into the DB. Concurrent imports are
// bounded by ResourceLimits.MaxBackgroundWorkers.
func (db *DB) Import(ctx context.Context, pkg *shard.Package, optFns ...shard.ImportOption) (shard.ImportResult, error) {
	if db.closed.Load() {
		return shard.ImportResult{}, ErrClosed
	}
	if err := db.rc.AcquireBackground(ctx); err != nil {
		return shard.ImportResult{}, err
	}
	defer db.rc.ReleaseBackground()

	optFns = append([]shard.ImportOption{shard.WithLogger(db.logger.Logger)}, optFns...)
	res, err := shard.Import(ctx, pkg, db.store, db.blobs, optFns...)
	err = translateError(err)
	db.logger.LogImport(ctx, res, err)
	return res, err
}

// SetDocumentEnabled includes or excludes a document from session searches.
func (db *DB) SetDocumentEnabled(ctx context.Context, documentID string, enabled bool) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return translateError(db.store.SetDocumentEnabled(ctx, documentID, enabled))
}

// DeleteDocument removes a document, its chunks and index records, then
// deletes its ANN artifacts from the blob store.
func (db *DB) DeleteDocument(ctx context.Context, documentID string) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.store.DeleteDocument(ctx, documentID)
	var n int
	if err == nil {
		n, err = db.deleteArtifacts(ctx, documentID)
	}
	err = translateError(err)
	db.logger.LogDelete(ctx, documentID, n, err)
	return err
}

func (db *DB) deleteArtifacts(ctx context.Context, documentID string) (int, error) {
	names, err := db.blobs.List(ctx, shard.ArtifactPrefix(documentID))
	if err != nil {
		return 0, fmt.Errorf("localdocs: list artifacts of %s: %w", documentID, err)
	}
	var errs []error
	for _, name := range names {
		if err := db.blobs.Delete(ctx, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return len(names), errors.Join(errs...)
}

// Close stops the worker, releases cached indexes and closes the store.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		var errs []error
		if err := db.worker.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := db.cache.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := db.store.Close(); err != nil {
			errs = append(errs, err)
		}
		db.closeErr = errors.Join(errs...)
	})
	return db.closeErr
}

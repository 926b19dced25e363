package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/localdocs/retrieval"
)

// ErrWorkerClosed is returned for requests submitted to, or pending in, a
// closed worker.
var ErrWorkerClosed = errors.New("worker: closed")

// Searcher runs searches. *retrieval.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, query []float32, sessionID string, opts retrieval.SearchOptions) ([]retrieval.Result, error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithQueueSize sets how many requests may wait while one is processed.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.queueSize = n
		}
	}
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan Response
}

// Worker processes requests one at a time on a dedicated goroutine.
type Worker struct {
	searcher  Searcher
	logger    *slog.Logger
	queueSize int

	jobs      chan job
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New starts a worker serving s.
func New(s Searcher, optFns ...Option) *Worker {
	w := &Worker{
		searcher:  s,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		queueSize: 64,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, fn := range optFns {
		fn(w)
	}
	w.jobs = make(chan job, w.queueSize)

	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case j := <-w.jobs:
			j.reply <- w.handle(j.ctx, j.req)
		}
	}
}

func (w *Worker) handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker request panicked", "id", req.ID, "panic", r)
			resp = errorResponse(req.ID, fmt.Errorf("worker: internal error: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return errorResponse(req.ID, err)
	}

	switch req.Type {
	case TypeSearch:
		results, err := w.searcher.Search(ctx, req.QueryEmbedding, req.SessionID, req.Options)
		if err != nil {
			w.logger.Debug("search failed", "id", req.ID, "session", req.SessionID, "error", err)
			return errorResponse(req.ID, err)
		}
		return resultResponse(req.ID, results)
	default:
		return errorResponse(req.ID, fmt.Errorf("worker: unknown request type %q", req.Type))
	}
}

// Do submits req and waits for its response. Failures to submit or wait,
// including cancellation of ctx, are reported as ERROR responses.
func (w *Worker) Do(ctx context.Context, req Request) Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	j := job{ctx: ctx, req: req, reply: make(chan Response, 1)}
	select {
	case <-w.done:
		return errorResponse(req.ID, ErrWorkerClosed)
	default:
	}

	select {
	case w.jobs <- j:
	case <-w.done:
		return errorResponse(req.ID, ErrWorkerClosed)
	case <-ctx.Done():
		return errorResponse(req.ID, ctx.Err())
	}

	select {
	case resp := <-j.reply:
		return resp
	case <-w.done:
		return errorResponse(req.ID, ErrWorkerClosed)
	case <-ctx.Done():
		return errorResponse(req.ID, ctx.Err())
	}
}

// Search is Do for a SEARCH request.
func (w *Worker) Search(ctx context.Context, query []float32, sessionID string, opts retrieval.SearchOptions) ([]retrieval.Result, error) {
	resp := w.Do(ctx, NewSearchRequest(query, sessionID, opts))
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Close stops the worker. Pending and later requests fail with
// ErrWorkerClosed.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	<-w.stopped
	return nil
}

package localdocs

import (
	"errors"
	"fmt"

	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/store"
	"github.com/hupe1980/localdocs/worker"
)

var (
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("localdocs: closed")

	// ErrInvalidQuery is returned for empty or non-finite queries and
	// invalid search options.
	ErrInvalidQuery = retrieval.ErrInvalidQuery

	// ErrStoreUnavailable is returned when the document store is not ready.
	ErrStoreUnavailable = retrieval.ErrStoreUnavailable

	// ErrNotFound is returned for unknown documents.
	ErrNotFound = store.ErrNotFound
)

// ErrDimensionMismatch indicates a query whose dimension differs from the
// stored embeddings.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, worker.ErrWorkerClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, store.ErrUnavailable) && !errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	var dm *distance.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}

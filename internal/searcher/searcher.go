package searcher

import "sync"

// Searcher is a reusable execution context for graph search.
// It owns the scratch memory a beam search needs so steady-state queries
// do not allocate.
//
// Searcher is NOT thread-safe. It is intended to be owned by a single goroutine
// during a search operation.
type Searcher struct {
	// Visited tracks visited nodes during graph traversal.
	Visited *VisitedSet

	// Frontier is the best-first queue of nodes still to expand.
	Frontier *PriorityQueue

	// Top is the bounded worst-first list of the best nodes found so far.
	Top *PriorityQueue

	// Results collects the drained top list.
	Results []Item
}

// New creates a Searcher sized for graphs of up to capacity nodes.
func New(capacity int) *Searcher {
	return &Searcher{
		Visited:  NewVisitedSet(capacity),
		Frontier: NewPriorityQueue(true),
		Top:      NewPriorityQueue(false),
		Results:  make([]Item, 0, 64),
	}
}

// Reset clears all state for reuse.
func (s *Searcher) Reset() {
	s.Visited.Reset()
	s.Frontier.Reset()
	s.Top.Reset()
	s.Results = s.Results[:0]
}

var pool = sync.Pool{
	New: func() any { return New(1024) },
}

// Get returns a reset Searcher from the pool able to track capacity nodes.
func Get(capacity int) *Searcher {
	s := pool.Get().(*Searcher)
	s.Visited.EnsureCapacity(capacity)
	return s
}

// Put resets s and returns it to the pool.
func Put(s *Searcher) {
	s.Reset()
	pool.Put(s)
}

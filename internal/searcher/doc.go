// Package searcher provides the pooled scratch state for beam search over
// ANN graphs: a best-first frontier, a bounded top list and a visited set.
package searcher

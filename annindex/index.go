package annindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/internal/math32"
	"github.com/hupe1980/localdocs/internal/searcher"
)

// ErrIDMapMismatch is returned when the ID map does not have exactly one
// entry per graph node.
var ErrIDMapMismatch = errors.New("annindex: id map length does not match node count")

// Candidate is an approximate match produced by graph search.
type Candidate struct {
	ChunkID string
	Score   float32
}

// Index pairs a graph with the chunk IDs of its nodes: node i is IDMap[i].
type Index struct {
	Graph *Graph
	IDMap []string
}

// NewIndex validates that idMap covers every node of g.
func NewIndex(g *Graph, idMap []string) (*Index, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", ErrCorruptHeader)
	}
	if len(idMap) != g.Len() {
		return nil, fmt.Errorf("%w: %d ids for %d nodes", ErrIDMapMismatch, len(idMap), g.Len())
	}
	return &Index{Graph: g, IDMap: idMap}, nil
}

// SizeBytes estimates the memory held by the index.
func (x *Index) SizeBytes() int64 {
	size := int64(len(x.Graph.buf))
	for _, id := range x.IDMap {
		size += int64(len(id)) + 16
	}
	return size
}

// Search runs a best-first beam search from the entry point and returns up
// to k candidates ordered by descending approximate cosine similarity.
//
// The beam width is max(graph efSearch, efFloor, k). Scores are only good
// enough to select candidates; callers re-score with full-precision vectors.
func (x *Index) Search(query []float32, k, efFloor int) ([]Candidate, error) {
	g := x.Graph
	if len(query) != int(g.Dim) {
		return nil, &distance.ErrDimensionMismatch{Expected: int(g.Dim), Actual: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}

	qnorm := distance.Norm(query)
	if qnorm == 0 {
		return nil, distance.ErrZeroVector
	}

	n := g.Len()
	m := int(g.M)
	ef := max(int(g.EfSearch), efFloor, k)

	s := searcher.Get(n)
	defer searcher.Put(s)

	score := func(i int) float32 {
		norm := g.Norm(i)
		if !(norm > 0) {
			return 0
		}
		return g.Scale * math32.DotInt8(query, g.Vector(i)) / (qnorm * norm)
	}

	entry := searcher.Item{Node: g.EntryPoint, Score: score(int(g.EntryPoint))}
	s.Visited.Visit(entry.Node)
	s.Frontier.Push(entry)
	s.Top.PushBounded(entry, ef)

	for s.Frontier.Len() > 0 {
		cur, _ := s.Frontier.Pop()
		if s.Top.Len() >= ef {
			if worst, _ := s.Top.Top(); cur.Score < worst.Score {
				break
			}
		}

		for j := range m {
			nb := g.Neighbor(int(cur.Node), j)
			if nb < 0 || int(nb) >= n {
				continue
			}
			node := uint32(nb)
			if !s.Visited.Visit(node) {
				continue
			}
			it := searcher.Item{Node: node, Score: score(int(node))}
			if s.Top.PushBounded(it, ef) {
				s.Frontier.Push(it)
			}
		}
	}

	s.Results = s.Top.Drain(s.Results[:0])

	top := s.Results[:min(k, len(s.Results))]
	out := make([]Candidate, 0, len(top))
	for _, it := range top {
		id := x.IDMap[it.Node]
		if id == "" {
			continue
		}
		out = append(out, Candidate{ChunkID: id, Score: it.Score})
	}
	return out, nil
}

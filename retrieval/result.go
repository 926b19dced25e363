package retrieval

import (
	"sort"

	"github.com/hupe1980/localdocs/store"
)

// DocumentRef identifies the document a result came from.
type DocumentRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	FileName string `json:"fileName"`
}

// Result is one hydrated search hit.
type Result struct {
	Chunk      store.Chunk `json:"chunk"`
	Similarity float32     `json:"similarity"`
	Document   DocumentRef `json:"document"`
}

// Scored is a chunk with its similarity to the query.
type Scored struct {
	ChunkID    string
	DocumentID string
	Score      float32
}

// SortScored orders by descending score. Equal scores keep their order.
func SortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Score > s[j].Score })
}

// AdaptiveCutoff keeps the entries of a descending list that score at least
// best*ratio. The input is filtered in place.
func AdaptiveCutoff(scored []Scored, ratio float32) []Scored {
	if len(scored) == 0 {
		return scored
	}
	best := scored[0].Score
	floor := min(best*ratio, best)
	out := scored[:0]
	for _, s := range scored {
		if s.Score >= floor {
			out = append(out, s)
		}
	}
	return out
}

package routing

import (
	"sort"

	"github.com/hupe1980/localdocs/distance"
)

// RouteOptions bounds a routing lookup.
type RouteOptions struct {
	// TopBooks is the number of documents returned. Zero means all.
	TopBooks int
	// TopSections is the number of sections returned per document. Zero
	// returns none.
	TopSections int
	// MinScore drops documents scoring below it. Cosine scores lie in
	// [-1, 1], so -1 keeps everything.
	MinScore float32
}

// DefaultRouteOptions returns the three best documents with their three best
// sections each.
func DefaultRouteOptions() RouteOptions {
	return RouteOptions{TopBooks: 3, TopSections: 3, MinScore: -1}
}

// Match is a document ranked against a query.
type Match struct {
	BookID   string         `json:"bookId"`
	BookName string         `json:"bookName"`
	Score    float32        `json:"score"`
	Sections []SectionMatch `json:"sections,omitempty"`
}

// SectionMatch is a section ranked against a query.
type SectionMatch struct {
	SectionID string   `json:"sectionId"`
	Title     string   `json:"title"`
	PageStart int      `json:"pageStart"`
	PageEnd   int      `json:"pageEnd"`
	Score     float32  `json:"score"`
	ChunkIDs  []string `json:"chunkIds"`
}

// Route ranks the documents of x by cosine similarity between the query and
// their document vectors, best first, ties in index order. Documents of
// another dimension are ignored; if no document shares the query dimension
// a *distance.ErrDimensionMismatch is returned.
func (x *Index) Route(query []float32, opts RouteOptions) ([]Match, error) {
	if len(query) == 0 {
		return nil, distance.ErrEmptyVector
	}
	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil, distance.ErrZeroVector
	}

	matches := make([]Match, 0, len(x.Books))
	usable := 0
	for i := range x.Books {
		b := &x.Books[i]
		if len(b.BookVector) != len(q) {
			continue
		}
		usable++

		score := distance.Dot(q, b.BookVector)
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{BookID: b.BookID, BookName: b.BookName, Score: score})
	}
	if usable == 0 && len(x.Books) > 0 {
		return nil, &distance.ErrDimensionMismatch{Expected: len(x.Books[0].BookVector), Actual: len(query)}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if opts.TopBooks > 0 && len(matches) > opts.TopBooks {
		matches = matches[:opts.TopBooks]
	}

	if opts.TopSections > 0 {
		byID := make(map[string]*Book, len(x.Books))
		for i := range x.Books {
			byID[x.Books[i].BookID] = &x.Books[i]
		}
		for i := range matches {
			matches[i].Sections = rankSections(q, byID[matches[i].BookID], opts.TopSections)
		}
	}
	return matches, nil
}

func rankSections(q []float32, b *Book, top int) []SectionMatch {
	var out []SectionMatch
	for _, s := range b.Sections {
		if len(s.Vector) != len(q) {
			continue
		}
		out = append(out, SectionMatch{
			SectionID: s.SectionID,
			Title:     s.Title,
			PageStart: s.PageStart,
			PageEnd:   s.PageEnd,
			Score:     distance.Dot(q, s.Vector),
			ChunkIDs:  s.ChunkIDs,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > top {
		out = out[:top]
	}
	return out
}

// SelectDocuments returns the IDs of the n documents closest to query.
func (x *Index) SelectDocuments(query []float32, n int) ([]string, error) {
	matches, err := x.Route(query, RouteOptions{TopBooks: n, MinScore: -1})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.BookID
	}
	return ids, nil
}

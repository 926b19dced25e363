package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/localdocs/distance"
)

// BatchEmbedder embeds many texts in one call, returning vectors in input
// order. embedder.OpenAI satisfies it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultLabelBatchSize is the number of texts sent per embedding call.
const DefaultLabelBatchSize = 64

// AssignLabels gives every section of x the label whose embedding is most
// similar to the embedding of the section's document name, title and
// summary preview. It returns the number of labeled sections.
func AssignLabels(ctx context.Context, x *Index, e BatchEmbedder, labels []string, batchSize int) (int, error) {
	if len(labels) == 0 {
		return 0, errors.New("routing: no labels")
	}
	if batchSize <= 0 {
		batchSize = DefaultLabelBatchSize
	}

	type ref struct{ book, section int }
	var (
		prompts []string
		refs    []ref
	)
	for bi := range x.Books {
		b := &x.Books[bi]
		for si, s := range b.Sections {
			prompts = append(prompts, fmt.Sprintf("Book: %s\nSection: %s\nContent: %s", b.BookName, s.Title, s.SummaryPreview))
			refs = append(refs, ref{bi, si})
		}
	}
	if len(prompts) == 0 {
		return 0, nil
	}

	labelVecs, err := embedNormalized(ctx, e, labels, batchSize)
	if err != nil {
		return 0, fmt.Errorf("routing: embed labels: %w", err)
	}
	sectionVecs, err := embedNormalized(ctx, e, prompts, batchSize)
	if err != nil {
		return 0, fmt.Errorf("routing: embed sections: %w", err)
	}

	for i, r := range refs {
		best, bestScore := -1, float32(0)
		for li, lv := range labelVecs {
			if len(lv) != len(sectionVecs[i]) {
				continue
			}
			if s := distance.Dot(sectionVecs[i], lv); best < 0 || s > bestScore {
				best, bestScore = li, s
			}
		}
		if best < 0 {
			return 0, &distance.ErrDimensionMismatch{Expected: len(labelVecs[0]), Actual: len(sectionVecs[i])}
		}
		s := &x.Books[r.book].Sections[r.section]
		s.SemanticLabel = labels[best]
		s.SemanticScore = bestScore
	}
	return len(refs), nil
}

func embedNormalized(ctx context.Context, e BatchEmbedder, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("got %d embeddings for %d texts", len(vecs), end-start)
		}
		for _, v := range vecs {
			// Zero vectors stay zero and score 0 against every label.
			distance.NormalizeL2InPlace(v)
			out = append(out, v)
		}
	}
	return out, nil
}

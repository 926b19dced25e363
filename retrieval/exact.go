package retrieval

import (
	"context"

	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/store"
)

const scanCheckInterval = 256

// scoreRow returns the exact cosine similarity of a stored row. Rows without
// any embedding score ok=false.
func scoreRow(query []float32, qnorm float32, row store.EmbeddingRow) (float32, bool, error) {
	vec := row.Vector()
	if len(vec) == 0 {
		return 0, false, nil
	}
	sim, err := distance.CosineWithNorms(query, vec, qnorm, row.VectorNorm())
	if err != nil {
		return 0, false, err
	}
	return sim, true, nil
}

// Rescore loads the full-precision embeddings of ids and keeps those whose
// exact similarity reaches threshold, in the order of ids.
func Rescore(ctx context.Context, r store.Reader, query []float32, ids []string, threshold float32) ([]Scored, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.EmbeddingsByChunkIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.EmbeddingRow, len(rows))
	for _, row := range rows {
		byID[row.ChunkID] = row
	}

	qnorm := distance.Norm(query)
	out := make([]Scored, 0, len(ids))
	for i, id := range ids {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, ok := byID[id]
		if !ok {
			continue
		}
		sim, ok, err := scoreRow(query, qnorm, row)
		if err != nil {
			return nil, err
		}
		if ok && sim >= threshold {
			out = append(out, Scored{ChunkID: row.ChunkID, DocumentID: row.DocumentID, Score: sim})
		}
	}
	return out, nil
}

// BruteForce streams every chunk of documentIDs and keeps those whose exact
// similarity reaches threshold, in scan order.
func BruteForce(ctx context.Context, r store.Reader, query []float32, documentIDs []string, threshold float32) ([]Scored, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	qnorm := distance.Norm(query)
	var (
		out []Scored
		n   int
	)
	err := r.ScanEmbeddings(ctx, documentIDs, func(row store.EmbeddingRow) error {
		n++
		if n%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		sim, ok, err := scoreRow(query, qnorm, row)
		if err != nil {
			return err
		}
		if ok && sim >= threshold {
			out = append(out, Scored{ChunkID: row.ChunkID, DocumentID: row.DocumentID, Score: sim})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

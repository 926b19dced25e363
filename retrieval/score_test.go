package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/localdocs/annindex"
)

func scores(s []Scored) []float32 {
	out := make([]float32, len(s))
	for i, x := range s {
		out[i] = x.Score
	}
	return out
}

func TestAdaptiveCutoff(t *testing.T) {
	mk := func(vals ...float32) []Scored {
		out := make([]Scored, len(vals))
		for i, v := range vals {
			out[i] = Scored{ChunkID: string(rune('a' + i)), Score: v}
		}
		return out
	}

	tests := []struct {
		name  string
		in    []Scored
		ratio float32
		want  []float32
	}{
		{"Empty", nil, 0.85, []float32{}},
		{"Single", mk(0.3), 0.85, []float32{0.3}},
		{"RelativeDrop", mk(0.9, 0.8, 0.77, 0.5), 0.85, []float32{0.9, 0.8, 0.77}},
		{"JustBelowFloorDropped", mk(0.9, 0.8, 0.76, 0.5), 0.85, []float32{0.9, 0.8}},
		{"RatioZeroKeepsAll", mk(0.9, 0.1), 0, []float32{0.9, 0.1}},
		{"RatioOneKeepsTies", mk(0.9, 0.9, 0.89), 1, []float32{0.9, 0.9}},
		{"NegativeBestKept", mk(-0.2, -0.5), 0.85, []float32{-0.2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scores(AdaptiveCutoff(tt.in, tt.ratio)))
		})
	}
}

func TestSortScoredIsStable(t *testing.T) {
	s := []Scored{{ChunkID: "a", Score: 0.5}, {ChunkID: "b", Score: 0.9}, {ChunkID: "c", Score: 0.5}, {ChunkID: "d", Score: 0.9}}
	SortScored(s)

	ids := make([]string, len(s))
	for i, x := range s {
		ids[i] = x.ChunkID
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestCandidateBudget(t *testing.T) {
	tuning := DefaultTuning()

	tests := []struct {
		name                         string
		maxResults, multiplier, docs int
		want                         int
	}{
		{"SingleDocument", 8, 12, 1, 96},
		{"GlobalFloor", 2, 12, 1, 64},
		{"SplitAcrossDocuments", 8, 12, 4, 24},
		{"RoundsUp", 8, 12, 5, 20},
		{"PerDocumentFloor", 8, 12, 10, 16},
		{"NoDocuments", 8, 12, 0, 96},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateBudget(tt.maxResults, tt.multiplier, tt.docs, tuning))
		})
	}
}

func TestCandidateIDs(t *testing.T) {
	ids := CandidateIDs([]annindex.Candidate{
		{ChunkID: "a", Score: 0.2},
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "c", Score: 0.5},
	})
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	assert.NoError(t, err)
	assert.Equal(t, ModeLegacyHybrid, m)

	m, err = ParseMode("ann_rerank_v1")
	assert.NoError(t, err)
	assert.Equal(t, ModeANNRerank, m)

	_, err = ParseMode("bogus")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNormalizeOptions(t *testing.T) {
	o, err := SearchOptions{DocumentIDs: []string{"a", "", "b", "a"}}.normalize(DefaultTuning())
	assert.NoError(t, err)
	assert.Equal(t, DefaultMaxResults, o.MaxResults)
	assert.Equal(t, 12, o.ANNCandidateMultiplier)
	assert.Equal(t, ModeLegacyHybrid, o.RetrievalMode)
	assert.Zero(t, o.SimilarityThreshold)
	assert.Equal(t, []string{"a", "b"}, o.DocumentIDs)
}

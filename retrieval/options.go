package retrieval

import (
	"fmt"
	"math"
)

// Mode selects the retrieval path.
type Mode string

const (
	// ModeLegacyHybrid scores every chunk of every target document exactly.
	ModeLegacyHybrid Mode = "legacy_hybrid"
	// ModeANNRerank selects candidates from per-document graphs and
	// re-scores them exactly, falling back to a full scan per document.
	ModeANNRerank Mode = "ann_rerank_v1"
)

// ParseMode validates a mode name. The empty string selects ModeLegacyHybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLegacyHybrid:
		return ModeLegacyHybrid, nil
	case ModeANNRerank:
		return ModeANNRerank, nil
	default:
		return "", fmt.Errorf("%w: unknown retrieval mode %q", ErrInvalidQuery, s)
	}
}

// Defaults applied to zero-valued options.
const (
	DefaultMaxResults          = 8
	DefaultSimilarityThreshold = 0.7
)

// SearchOptions configures one search. Start from DefaultSearchOptions;
// a zero MaxResults, RetrievalMode or ANNCandidateMultiplier is replaced by
// its default, while a zero threshold is honored.
type SearchOptions struct {
	MaxResults             int      `json:"maxResults"`
	SimilarityThreshold    float32  `json:"similarityThreshold"`
	DocumentIDs            []string `json:"documentIds,omitempty"`
	RetrievalMode          Mode     `json:"retrievalMode"`
	ANNCandidateMultiplier int      `json:"annCandidateMultiplier"`
}

// DefaultSearchOptions returns the protocol defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		MaxResults:             DefaultMaxResults,
		SimilarityThreshold:    DefaultSimilarityThreshold,
		RetrievalMode:          ModeLegacyHybrid,
		ANNCandidateMultiplier: DefaultTuning().DefaultCandidateMultiplier,
	}
}

func (o SearchOptions) normalize(t Tuning) (SearchOptions, error) {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.ANNCandidateMultiplier <= 0 {
		o.ANNCandidateMultiplier = t.DefaultCandidateMultiplier
	}
	mode, err := ParseMode(string(o.RetrievalMode))
	if err != nil {
		return o, err
	}
	o.RetrievalMode = mode

	th := float64(o.SimilarityThreshold)
	if math.IsNaN(th) || th < 0 || th > 1 {
		return o, fmt.Errorf("%w: similarity threshold %v outside [0, 1]", ErrInvalidQuery, o.SimilarityThreshold)
	}

	o.DocumentIDs = dedupStrings(o.DocumentIDs)
	return o, nil
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

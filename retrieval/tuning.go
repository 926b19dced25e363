package retrieval

import (
	"fmt"
	"math"
)

// Tuning holds the ranking constants of the engine.
type Tuning struct {
	// CutoffRatio drops results scoring below best*CutoffRatio.
	CutoffRatio float32
	// DefaultCandidateMultiplier over-fetches ANN candidates per requested
	// result when the request does not set one.
	DefaultCandidateMultiplier int
	// GlobalCandidateFloor is the minimum candidate budget of a request.
	GlobalCandidateFloor int
	// PerDocumentCandidateFloor is the minimum candidate budget per document.
	PerDocumentCandidateFloor int
	// EfFloor is the minimum beam width of a graph search.
	EfFloor int
}

// DefaultTuning returns the production constants.
func DefaultTuning() Tuning {
	return Tuning{
		CutoffRatio:                0.85,
		DefaultCandidateMultiplier: 12,
		GlobalCandidateFloor:       64,
		PerDocumentCandidateFloor:  16,
		EfFloor:                    64,
	}
}

// Validate reports whether t can drive a search.
func (t Tuning) Validate() error {
	r := float64(t.CutoffRatio)
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("retrieval: cutoff ratio %v outside [0, 1]", t.CutoffRatio)
	}
	if t.DefaultCandidateMultiplier <= 0 {
		return fmt.Errorf("retrieval: candidate multiplier must be positive, got %d", t.DefaultCandidateMultiplier)
	}
	if t.GlobalCandidateFloor < 0 || t.PerDocumentCandidateFloor < 0 || t.EfFloor < 0 {
		return fmt.Errorf("retrieval: candidate floors must not be negative")
	}
	return nil
}

// CandidateBudget returns the number of ANN candidates requested from each
// of docCount documents:
//
//	global = max(maxResults*multiplier, GlobalCandidateFloor)
//	perDoc = max(ceil(global/docCount), PerDocumentCandidateFloor)
func CandidateBudget(maxResults, multiplier, docCount int, t Tuning) int {
	global := max(maxResults*multiplier, t.GlobalCandidateFloor)
	if docCount <= 0 {
		docCount = 1
	}
	perDoc := (global + docCount - 1) / docCount
	return max(perDoc, t.PerDocumentCandidateFloor, 1)
}

package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/distance"
)

// Verify checks the chunks of pkg and, when present, its ANN artifact.
func Verify(pkg *Package) error {
	if err := verifyChunks(pkg); err != nil {
		return err
	}
	if pkg.ANNIndex == nil {
		return nil
	}
	_, err := VerifyIndex(pkg)
	return err
}

func verifyChunks(pkg *Package) error {
	if len(pkg.Chunks) == 0 {
		return fmt.Errorf("%w: package has no chunks", ErrInvalidChunk)
	}

	dim := pkg.Dimension()
	seen := make(map[string]struct{}, len(pkg.Chunks))
	for i, c := range pkg.Chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk %d has no id", ErrInvalidChunk, i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate chunk id %s", ErrInvalidChunk, c.ID)
		}
		seen[c.ID] = struct{}{}

		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", ErrInvalidChunk, c.ID)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, want %d", ErrInvalidChunk, c.ID, len(c.Embedding), dim)
		}
		if c.EmbeddingDimensions != 0 && c.EmbeddingDimensions != dim {
			return fmt.Errorf("%w: chunk %s declares dimension %d, has %d", ErrInvalidChunk, c.ID, c.EmbeddingDimensions, dim)
		}
	}
	return nil
}

// VerifyIndex validates the inline artifact of pkg: it must be a cosine graph
// matching its recorded checksum and size, and its decoded header must agree
// with the id map and the chunk dimension.
func VerifyIndex(pkg *Package) (*annindex.Graph, error) {
	x := pkg.ANNIndex
	artifact, err := x.Artifact()
	if err != nil {
		return nil, err
	}

	metric, err := distance.ParseMetric(x.Distance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedMetric, err)
	}
	if metric != distance.MetricCosine {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMetric, metric)
	}

	if int64(len(artifact)) != x.ArtifactSize {
		return nil, fmt.Errorf("%w: size %d, recorded %d", ErrChecksumMismatch, len(artifact), x.ArtifactSize)
	}
	sum := sha256.Sum256(artifact)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), x.ArtifactChecksum) {
		return nil, fmt.Errorf("%w: sha256 %x, recorded %s", ErrChecksumMismatch, sum, x.ArtifactChecksum)
	}

	g, err := annindex.Decode(artifact)
	if err != nil {
		return nil, err
	}
	if len(x.IDMap) != g.Len() {
		return nil, fmt.Errorf("%w: %d ids for %d nodes", annindex.ErrIDMapMismatch, len(x.IDMap), g.Len())
	}
	if int(g.Dim) != x.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: artifact dimension %d, recorded %d", annindex.ErrCorruptHeader, g.Dim, x.EmbeddingDimensions)
	}
	if dim := pkg.Dimension(); dim != 0 && int(g.Dim) != dim {
		return nil, fmt.Errorf("%w: artifact dimension %d, chunks have %d", annindex.ErrCorruptHeader, g.Dim, dim)
	}

	known := make(map[string]struct{}, len(pkg.Chunks))
	for _, c := range pkg.Chunks {
		known[c.ID] = struct{}{}
	}
	for i, id := range x.IDMap {
		if id == "" {
			continue
		}
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("%w: node %d maps to unknown chunk %s", annindex.ErrIDMapMismatch, i, id)
		}
	}
	return g, nil
}

package shard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	gojson "github.com/goccy/go-json"

	"github.com/hupe1980/localdocs/annindex"
	"github.com/hupe1980/localdocs/distance"
)

// AttachIndex builds an ANN artifact over the chunk embeddings of pkg and
// stores it inline, replacing any existing index. The package is upgraded to
// FormatVersion.
func AttachIndex(ctx context.Context, pkg *Package, opts annindex.BuildOptions) error {
	if err := verifyChunks(pkg); err != nil {
		return err
	}

	vectors := make([][]float32, len(pkg.Chunks))
	idMap := make([]string, len(pkg.Chunks))
	for i, c := range pkg.Chunks {
		vectors[i] = c.Embedding
		idMap[i] = c.ID
	}

	g, err := annindex.Build(ctx, vectors, opts)
	if err != nil {
		return fmt.Errorf("shard: build index: %w", err)
	}
	artifact := g.Bytes()

	idMapJSON, err := idMapBytes(idMap)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(artifact)
	idSum := sha256.Sum256(idMapJSON)
	pkg.FormatVersion = FormatVersion
	pkg.ANNIndex = &ANNIndex{
		Algorithm:           "hnsw",
		EmbeddingDimensions: int(g.Dim),
		Distance:            distance.MetricCosine.String(),
		Params: ANNParams{
			M:              int(g.M),
			EfConstruction: opts.EfConstruction,
			EfSearch:       opts.EfSearch,
		},
		ArtifactChecksum: hex.EncodeToString(sum[:]),
		ArtifactSize:     int64(len(artifact)),
		IDMapChecksum:    hex.EncodeToString(idSum[:]),
		IDMapSize:        len(idMapJSON),
		ArtifactBase64:   base64.StdEncoding.EncodeToString(artifact),
		IDMap:            idMap,
	}
	return nil
}

// idMapBytes renders the id map the way the ingestion scripts hash it:
// a JSON array with ", " separators and unescaped non-ASCII text.
func idMapBytes(ids []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			buf.WriteString(", ")
		}
		b, err := gojson.MarshalWithOption(id, gojson.DisableHTMLEscape())
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

package annindex

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localdocs/distance"
	"github.com/hupe1980/localdocs/internal/math32"
	"github.com/hupe1980/localdocs/internal/searcher"
	"github.com/hupe1980/localdocs/quantization"
)

// ErrNoVectors is returned when Build is called without input.
var ErrNoVectors = errors.New("annindex: no vectors to index")

const (
	minM        = 4
	minEfSearch = 16
)

// BuildOptions configures artifact construction.
type BuildOptions struct {
	// M is the fixed out-degree. Values below 4 are raised to 4.
	M int

	// EfSearch is the default beam width stored in the header. Values below
	// 16 are raised to 16.
	EfSearch int

	// EfConstruction is recorded in package metadata only; the graph is an
	// exact k-NN graph.
	EfConstruction int

	// Workers bounds row-parallelism. Zero means GOMAXPROCS.
	Workers int
}

// DefaultBuildOptions returns the options used by the ingestion tooling.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		M:              24,
		EfSearch:       80,
		EfConstruction: 128,
	}
}

// Build constructs an artifact over vectors. Node i corresponds to vectors[i].
//
// Vectors are L2-normalized, linked to their M most cosine-similar peers
// (self excluded, best first, unused slots NoNeighbor) and quantized to int8
// with one shared scale. Stored norms are those of the quantized vectors.
func Build(ctx context.Context, vectors [][]float32, opts BuildOptions) (*Graph, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, distance.ErrEmptyVector
	}

	n := len(vectors)
	normed := make([][]float32, n)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, &distance.ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
		c, ok := distance.NormalizeL2Copy(v)
		if !ok {
			c = make([]float32, dim)
		}
		normed[i] = c
	}

	m := max(opts.M, minM)
	neighbors, err := knnGraph(ctx, normed, m, opts.Workers)
	if err != nil {
		return nil, err
	}

	q := quantization.NewInt8Quantizer(0)
	if err := q.Train(normed); err != nil {
		return nil, err
	}
	scale := q.Scale()

	codes := make([]int8, n*dim)
	norms := make([]float32, n)
	for i, v := range normed {
		c := q.Encode(codes[i*dim:(i+1)*dim], v)
		norms[i] = quantization.Int8Norm(c, scale)
	}

	h := Header{
		Version:    Version,
		Dim:        uint32(dim), // nolint gosec
		NodeCount:  uint32(n),   // nolint gosec
		M:          uint32(m),   // nolint gosec
		EntryPoint: 0,
		EfSearch:   uint32(max(opts.EfSearch, minEfSearch)), // nolint gosec
		Scale:      scale,
	}
	buf, err := Encode(h, codes, norms, neighbors)
	if err != nil {
		return nil, err
	}
	return Decode(buf)
}

// knnGraph computes the exact cosine k-NN adjacency of unit vectors.
func knnGraph(ctx context.Context, vectors [][]float32, m, workers int) ([]int32, error) {
	n := len(vectors)
	out := make([]int32, n*m)
	for i := range out {
		out[i] = NoNeighbor
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	const rowsPerTask = 64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < n; start += rowsPerTask {
		end := min(start+rowsPerTask, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			top := searcher.NewPriorityQueue(false)
			var scratch []searcher.Item
			for i := start; i < end; i++ {
				top.Reset()
				for j := range n {
					if j == i {
						continue
					}
					top.PushBounded(searcher.Item{Node: uint32(j), Score: math32.Dot(vectors[i], vectors[j])}, m) // nolint gosec
				}
				scratch = top.Drain(scratch[:0])
				row := out[i*m : (i+1)*m]
				for k, it := range scratch {
					row[k] = int32(it.Node) // nolint gosec
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

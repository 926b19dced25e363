package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localdocs/codec"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/routing"
	"github.com/hupe1980/localdocs/shard"
	"github.com/hupe1980/localdocs/testutil"
)

const testConfig = `
store:
  driver: memory
blobs:
  driver: memory
log:
  level: error
retrieval:
  mode: ann_rerank_v1
  similarity_threshold: 0.5
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "localdocs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func writePackage(t *testing.T, dir string, n, dim int) (string, [][]float32) {
	t.Helper()
	vectors := testutil.NewRNG(11).UnitVectors(n, dim)
	pkg := &shard.Package{
		FormatVersion: "1.0",
		DocumentMetadata: shard.DocumentMetadata{
			ID:       "doc-cli",
			FileName: "guide.pdf",
		},
	}
	for i, v := range vectors {
		pkg.Chunks = append(pkg.Chunks, shard.Chunk{
			ID:        fmt.Sprintf("doc-cli_%d", i),
			Text:      fmt.Sprintf("section %d of the guide", i),
			Embedding: v,
			Metadata:  shard.ChunkMetadata{Page: i + 1, ChunkIndex: i},
		})
	}
	path := filepath.Join(dir, "guide.json")
	require.NoError(t, shard.WriteFile(path, pkg))
	return path, vectors
}

func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "Usage: localdocs")

	err = run(context.Background(), []string{"frobnicate"}, &stdout, &stderr)
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)
}

func TestBuildIndexThenSearch(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	input, vectors := writePackage(t, dir, 40, 8)
	output := filepath.Join(dir, "guide.ann.bin")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", cfg, "build-index", "-o", output, input}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "wrote "+output+": 40 nodes, dim 8")

	pkg, err := shard.ReadFile(output)
	require.NoError(t, err)
	require.NotNil(t, pkg.ANNIndex)
	assert.Equal(t, shard.FormatVersion, pkg.FormatVersion)
	_, err = shard.VerifyIndex(pkg)
	require.NoError(t, err)

	stdout.Reset()
	stderr.Reset()
	err = run(context.Background(), []string{
		"-config", cfg, "search",
		"-shards", output,
		"-docs", "doc-cli",
		"-vector", formatVector(vectors[3]),
		"-max", "3",
		"-json",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stderr.String(), "imported guide.ann.bin: document doc-cli, 40 chunks, indexed=true")

	var results []retrieval.Result
	require.NoError(t, codec.Decode(codec.Default, &stdout, &results))
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	assert.Equal(t, "doc-cli_3", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-4)
	assert.Equal(t, "guide.pdf", results[0].Document.FileName)
}

func TestSearchTextOutput(t *testing.T) {
	cfg := writeConfig(t)
	input, vectors := writePackage(t, t.TempDir(), 10, 4)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfg, "search",
		"-mode", "legacy_hybrid",
		"-shards", input,
		"-docs", "doc-cli",
		"-vector", formatVector(vectors[0]),
		"-max", "1",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "1. 1.000  guide.pdf p.1  [doc-cli_0]")
	assert.Contains(t, stdout.String(), "section 0 of the guide")
}

func TestSearchNoResults(t *testing.T) {
	cfg := writeConfig(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", cfg, "search", "-docs", "missing", "-vector", "1,0"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "No results found\n", stdout.String())
}

func TestSearchRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no query", []string{"search"}, "a query or -vector is required"},
		{"bad vector", []string{"search", "-vector", "1,x"}, `invalid vector component "x"`},
		{"bad mode", []string{"search", "-mode", "fuzzy", "-vector", "1"}, "unknown retrieval mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), append([]string{"-config", cfg}, tt.args...), &stdout, &stderr)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestImportCommand(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	writePackage(t, dir, 5, 4)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", cfg, "import", "-session", "s1", "-quantize", dir}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "imported guide.json: document doc-cli, 5 chunks, indexed=false")

	err = run(context.Background(), []string{"-config", cfg, "import"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "at least one shard file")
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.JSON", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.bin"), 0o700))
	single := filepath.Join(dir, "notes.txt")

	files, err := expandPaths([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.bin"),
		filepath.Join(dir, "b.JSON"),
		single,
	}, files)

	_, err = expandPaths([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestSplitListAndParseVector(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Nil(t, splitList(""))

	v, err := parseVector("0.5, -1,2e-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 0.2}, v)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n b\t c", 10))
	assert.Equal(t, "héll...", snippet("héllo world", 4))
}

func writeDocument(t *testing.T, dir, id string, vectors ...[]float32) string {
	t.Helper()
	pkg := &shard.Package{
		FormatVersion:    "1.0",
		DocumentMetadata: shard.DocumentMetadata{ID: id, FileName: id + ".pdf"},
	}
	for i, v := range vectors {
		pkg.Chunks = append(pkg.Chunks, shard.Chunk{
			ID:        fmt.Sprintf("%s_%d", id, i),
			Text:      fmt.Sprintf("%s text %d", id, i),
			Embedding: v,
			Metadata:  shard.ChunkMetadata{Page: i*15 + 1, ChunkIndex: i},
		})
	}
	path := filepath.Join(dir, id+".json")
	require.NoError(t, shard.WriteFile(path, pkg))
	return path
}

func TestBuildRoutingCommand(t *testing.T) {
	cfg := writeConfig(t)
	dir := t.TempDir()
	writePackage(t, dir, 40, 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	output := filepath.Join(dir, routing.DefaultFileName)

	for range 2 {
		var stdout, stderr bytes.Buffer
		err := run(context.Background(), []string{"-config", cfg, "build-routing", "-o", output, dir}, &stdout, &stderr)
		require.NoError(t, err, stderr.String())
		assert.Equal(t, "wrote "+output+": 1 documents, 2 sections, 0 labeled, 1 skipped\n", stdout.String())
	}

	idx, err := routing.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, dir, idx.SourceDirectory)
	assert.Equal(t, 20, idx.SectionPages)
	require.Len(t, idx.Books, 1)
	assert.Equal(t, "doc-cli", idx.Books[0].BookID)
	assert.Equal(t, 40, idx.Books[0].PageCount)
	assert.Equal(t, "Pages 21-40", idx.Books[0].Sections[1].Title)
	require.Len(t, idx.Skipped, 1)
	assert.True(t, strings.HasPrefix(idx.Skipped[0], "broken.json ("))

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{"-config", cfg, "build-routing"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "at least one shard")
}

func TestSearchWithRouting(t *testing.T) {
	cfg := writeConfig(t)
	shards := t.TempDir()
	a := writeDocument(t, shards, "doc-a", []float32{1, 0.1, 0, 0}, []float32{1, 0, 0.1, 0})
	b := writeDocument(t, shards, "doc-b", []float32{0.1, 1, 0, 0}, []float32{0, 1, 0, 0.1})
	routes := filepath.Join(t.TempDir(), routing.DefaultFileName)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", cfg, "build-routing", "-o", routes, a, b}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "2 documents")

	search := func(extra ...string) []retrieval.Result {
		t.Helper()
		stdout.Reset()
		stderr.Reset()
		args := append([]string{
			"-config", cfg, "search",
			"-shards", a + "," + b,
			"-vector", "0,1,0,0",
			"-max", "5",
			"-json",
		}, extra...)
		require.NoError(t, run(context.Background(), args, &stdout, &stderr), stderr.String())
		var results []retrieval.Result
		require.NoError(t, codec.Decode(codec.Default, &stdout, &results))
		return results
	}

	results := search("-routing", routes, "-route-books", "1")
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "doc-b", r.Document.ID)
	}

	// Explicit documents win over routing.
	results = search("-routing", routes, "-route-books", "1", "-docs", "doc-a", "-threshold", "0")
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "doc-a", r.Document.ID)
	}

	stdout.Reset()
	err = run(context.Background(), []string{"-config", cfg, "search", "-routing", filepath.Join(shards, "doc-a.json"), "-vector", "1,0,0,0"}, &stdout, &stderr)
	assert.ErrorIs(t, err, routing.ErrNotRoutingIndex)
}

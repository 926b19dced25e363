package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/localdocs/codec"
	"github.com/hupe1980/localdocs/embedder"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/routing"
	"github.com/hupe1980/localdocs/transport/natsrpc"
)

func runSearch(ctx context.Context, a *app, args []string) error {
	defaults, err := a.cfg.Retrieval.SearchOptions()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	mode := fs.String("mode", string(defaults.RetrievalMode), "retrieval mode: legacy_hybrid or ann_rerank_v1")
	maxResults := fs.Int("max", defaults.MaxResults, "maximum number of results")
	threshold := fs.Float64("threshold", float64(defaults.SimilarityThreshold), "minimum cosine similarity in [0, 1]")
	multiplier := fs.Int("multiplier", defaults.ANNCandidateMultiplier, "ANN candidates fetched per requested result")
	session := fs.String("session", "", "session whose enabled documents are searched")
	docs := fs.String("docs", "", "comma-separated document IDs to search instead of the session's")
	vector := fs.String("vector", "", "comma-separated query embedding; skips the embedder")
	shards := fs.String("shards", "", "comma-separated shard files or directories to import first")
	routingFile := fs.String("routing", "", "routing file used to pick documents when -docs is empty")
	routeBooks := fs.Int("route-books", routing.DefaultRouteOptions().TopBooks, "documents picked from the routing file")
	remote := fs.Bool("remote", false, "send the request to a worker over NATS")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := retrieval.ParseMode(*mode)
	if err != nil {
		return err
	}
	opts := retrieval.SearchOptions{
		MaxResults:             *maxResults,
		SimilarityThreshold:    float32(*threshold),
		DocumentIDs:            splitList(*docs),
		RetrievalMode:          m,
		ANNCandidateMultiplier: *multiplier,
	}

	query, err := a.queryEmbedding(ctx, *vector, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	if *routingFile != "" && len(opts.DocumentIDs) == 0 {
		if opts.DocumentIDs, err = routeDocuments(*routingFile, query, *routeBooks); err != nil {
			return err
		}
		a.logger.Debug("routed query", "documents", opts.DocumentIDs)
	}

	var results []retrieval.Result
	if *remote {
		results, err = a.searchRemote(ctx, query, *session, opts)
	} else {
		results, err = a.searchLocal(ctx, query, *session, opts, splitList(*shards))
	}
	if err != nil {
		return err
	}

	if *asJSON {
		return codec.Encode(codec.Default, a.stdout, results)
	}
	printResults(a, results)
	return nil
}

func (a *app) queryEmbedding(ctx context.Context, vector, text string) ([]float32, error) {
	if vector != "" {
		return parseVector(vector)
	}
	if text == "" {
		return nil, errors.New("search: a query or -vector is required")
	}
	e, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func (a *app) newEmbedder() (*embedder.OpenAI, error) {
	return embedder.NewOpenAI(embedder.Config{
		APIKey:     a.cfg.Embedder.APIKey,
		BaseURL:    a.cfg.Embedder.BaseURL,
		Model:      a.cfg.Embedder.Model,
		Dimensions: a.cfg.Embedder.Dimensions,
	})
}

func (a *app) searchLocal(ctx context.Context, query []float32, session string, opts retrieval.SearchOptions, shards []string) ([]retrieval.Result, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if len(shards) > 0 {
		if _, err := a.importPaths(ctx, db, shards); err != nil {
			return nil, err
		}
	}
	return db.Search(ctx, query, session, opts)
}

func (a *app) searchRemote(ctx context.Context, query []float32, session string, opts retrieval.SearchOptions) ([]retrieval.Result, error) {
	nc, err := nats.Connect(a.cfg.NATS.URL, nats.Name("localdocs-search"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	client := natsrpc.NewClient(nc, a.cfg.NATS.Subject,
		natsrpc.WithLogger(a.logger.Logger),
		natsrpc.WithTimeout(a.cfg.NATS.Timeout),
	)
	return client.Search(ctx, query, session, opts)
}

// routeDocuments picks the n documents of the routing file closest to query.
func routeDocuments(path string, query []float32, n int) ([]string, error) {
	idx, err := routing.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ids, err := idx.SelectDocuments(query, max(n, 1))
	if err != nil {
		return nil, fmt.Errorf("route query: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("route query: %s has no documents", path)
	}
	return ids, nil
}

func parseVector(s string) ([]float32, error) {
	parts := splitList(s)
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("search: invalid vector component %q: %w", p, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func printResults(a *app, results []retrieval.Result) {
	if len(results) == 0 {
		fmt.Fprintln(a.stdout, "No results found")
		return
	}
	for i, r := range results {
		fmt.Fprintf(a.stdout, "%d. %.3f  %s", i+1, r.Similarity, r.Document.FileName)
		if r.Chunk.Page > 0 {
			fmt.Fprintf(a.stdout, " p.%d", r.Chunk.Page)
		}
		fmt.Fprintf(a.stdout, "  [%s]\n", r.Chunk.ID)
		fmt.Fprintf(a.stdout, "   %s\n", snippet(r.Chunk.Content, 160))
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

// Package localdocs is an embedded retrieval engine for chunked documents.
//
// Documents are imported from packages produced by the ingestion tooling.
// Each package carries the chunk texts and embeddings and, optionally, a
// prebuilt ANN graph artifact. Searches rank chunks of a session's enabled
// documents by cosine similarity to a query embedding.
//
// # Quick Start
//
//	st := memstore.New()
//	blobs := blobstore.NewLocalStore("./data/blobs")
//	db, _ := localdocs.Open(st, blobs)
//	defer db.Close()
//
//	pkg, _ := shard.ReadFile("shard_4a8.bin")
//	db.Import(ctx, pkg)
//
//	opts := retrieval.DefaultSearchOptions()
//	opts.RetrievalMode = retrieval.ModeANNRerank
//	results, _ := db.Search(ctx, queryEmbedding, sessionID, opts)
//
// # Retrieval Modes
//
// legacy_hybrid scores every chunk of the target documents exactly.
//
// ann_rerank_v1 collects candidates from each document's ANN graph,
// re-scores them against the full-precision embeddings and applies the
// similarity threshold to the exact scores. Documents without a usable
// index, or without any candidate above the threshold, are scanned exactly,
// so both modes return the same results whenever the graph finds the
// relevant chunks.
//
// In both modes results below CutoffRatio times the best score are dropped
// before the result list is truncated to MaxResults.
//
// # Serving
//
// DB.Worker can be served over NATS with transport/natsrpc; the CLI in
// cmd/localdocs wires configuration, stores and the Prometheus collector
// from package observability.
package localdocs

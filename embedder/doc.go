// Package embedder produces query embeddings through an OpenAI-compatible
// embeddings API. The model must match the one the imported documents were
// embedded with.
package embedder

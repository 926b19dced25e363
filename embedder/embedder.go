package embedder

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the embedding model used by the ingestion tooling.
const DefaultModel = "text-embedding-3-small"

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("embedder: api key is not set")

	// ErrEmptyText is returned for empty input.
	ErrEmptyText = errors.New("embedder: cannot embed empty text")
)

// Embedder turns text into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Config configures an OpenAI-compatible embedder.
type Config struct {
	// APIKey defaults to $OPENAI_API_KEY.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a local gateway.
	BaseURL string

	// Model defaults to DefaultModel.
	Model string

	// Dimensions requests shortened embeddings when the model supports it.
	Dimensions int
}

// OpenAI calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAI struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAI creates an embedder.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(oc),
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Model returns the model name.
func (e *OpenAI) Model() string { return e.model }

// Embed embeds one text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Results are in input order.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      texts,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("embedder: unexpected embedding index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	return out, nil
}

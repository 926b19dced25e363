package config

import (
	"time"

	"github.com/hupe1980/localdocs/internal/resource"
	"github.com/hupe1980/localdocs/retrieval"
)

// Config is the CLI configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Blobs     BlobsConfig     `mapstructure:"blobs"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Resources ResourcesConfig `mapstructure:"resources"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// BlobsConfig selects where ANN artifacts live.
type BlobsConfig struct {
	// Driver is "local", "memory", "s3" or "minio".
	Driver    string `mapstructure:"driver"`
	Root      string `mapstructure:"root"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
}

// NATSConfig configures the worker transport.
type NATSConfig struct {
	URL        string        `mapstructure:"url"`
	Subject    string        `mapstructure:"subject"`
	QueueGroup string        `mapstructure:"queue_group"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig holds request defaults and engine tuning.
type RetrievalConfig struct {
	Mode                      string  `mapstructure:"mode"`
	MaxResults                int     `mapstructure:"max_results"`
	SimilarityThreshold       float32 `mapstructure:"similarity_threshold"`
	CutoffRatio               float32 `mapstructure:"cutoff_ratio"`
	CandidateMultiplier       int     `mapstructure:"candidate_multiplier"`
	GlobalCandidateFloor      int     `mapstructure:"global_candidate_floor"`
	PerDocumentCandidateFloor int     `mapstructure:"per_document_candidate_floor"`
	EfFloor                   int     `mapstructure:"ef_floor"`
}

// Tuning returns the engine tuning described by c.
func (c RetrievalConfig) Tuning() retrieval.Tuning {
	return retrieval.Tuning{
		CutoffRatio:                c.CutoffRatio,
		DefaultCandidateMultiplier: c.CandidateMultiplier,
		GlobalCandidateFloor:       c.GlobalCandidateFloor,
		PerDocumentCandidateFloor:  c.PerDocumentCandidateFloor,
		EfFloor:                    c.EfFloor,
	}
}

// SearchOptions returns the request defaults described by c.
func (c RetrievalConfig) SearchOptions() (retrieval.SearchOptions, error) {
	mode, err := retrieval.ParseMode(c.Mode)
	if err != nil {
		return retrieval.SearchOptions{}, err
	}
	opts := retrieval.DefaultSearchOptions()
	opts.RetrievalMode = mode
	opts.MaxResults = c.MaxResults
	opts.SimilarityThreshold = c.SimilarityThreshold
	return opts, nil
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint of `serve`.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// EmbedderConfig configures query embedding.
type EmbedderConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ResourcesConfig bounds memory and IO.
type ResourcesConfig struct {
	MemoryLimitBytes     int64 `mapstructure:"memory_limit_bytes"`
	IOLimitBytesPerSec   int64 `mapstructure:"io_limit_bytes_per_sec"`
	MaxBackgroundWorkers int64 `mapstructure:"max_background_workers"`
}

// Controller returns the resource controller config.
func (c ResourcesConfig) Controller() resource.Config {
	return resource.Config{
		MemoryLimitBytes:     c.MemoryLimitBytes,
		MaxBackgroundWorkers: c.MaxBackgroundWorkers,
		IOLimitBytesPerSec:   c.IOLimitBytesPerSec,
	}
}

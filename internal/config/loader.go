package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LOCALDOCS_STORE_DSN.
const EnvPrefix = "LOCALDOCS"

// Load reads configuration in increasing priority: defaults, the YAML file
// at path (optional when empty), then LOCALDOCS_* environment variables.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.ReadConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks driver names and retrieval settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Blobs.Driver {
	case "local", "memory":
	case "s3", "minio":
		if c.Blobs.Bucket == "" {
			return fmt.Errorf("config: blobs.bucket is required for %s", c.Blobs.Driver)
		}
	default:
		return fmt.Errorf("config: unknown blobs driver %q", c.Blobs.Driver)
	}

	if _, err := c.Retrieval.SearchOptions(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Retrieval.Tuning().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(:([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:default} placeholders. Undefined
// variables without a default are left as is.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(m[1]); ok {
			return val
		}
		if m[2] != "" {
			return m[3]
		}
		return match
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("blobs.driver", "local")
	v.SetDefault("blobs.root", "data/blobs")
	v.SetDefault("blobs.bucket", "")
	v.SetDefault("blobs.prefix", "")
	v.SetDefault("blobs.region", "")
	v.SetDefault("blobs.endpoint", "")
	v.SetDefault("blobs.access_key", "")
	v.SetDefault("blobs.secret_key", "")
	v.SetDefault("blobs.secure", true)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "localdocs.search")
	v.SetDefault("nats.queue_group", "localdocs")
	v.SetDefault("nats.timeout", "30s")

	v.SetDefault("retrieval.mode", "ann_rerank_v1")
	v.SetDefault("retrieval.max_results", 8)
	v.SetDefault("retrieval.similarity_threshold", 0.7)
	v.SetDefault("retrieval.cutoff_ratio", 0.85)
	v.SetDefault("retrieval.candidate_multiplier", 12)
	v.SetDefault("retrieval.global_candidate_floor", 64)
	v.SetDefault("retrieval.per_document_candidate_floor", 16)
	v.SetDefault("retrieval.ef_floor", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("embedder.model", "text-embedding-3-small")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.dimensions", 0)

	v.SetDefault("resources.memory_limit_bytes", 0)
	v.SetDefault("resources.io_limit_bytes_per_sec", 0)
	v.SetDefault("resources.max_background_workers", 1)
}

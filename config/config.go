// Package config provides application configuration with multi-source
// priority: environment variables (KBMEM_*) over ~/.kbmem/config.yaml (or
// ./config.yaml) over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Embedder provider identifiers used in Config.Embedder.
const (
	EmbedderMock   = "mock"
	EmbedderOpenAI = "openai"
	EmbedderONNX   = "onnx"
)

// Config stores application configuration.
type Config struct {
	// DataDir is the store's data directory. Empty means in-memory
	// (nothing survives a restart).
	DataDir string `mapstructure:"data_dir"`

	// Collection names the vector collection inside the store.
	Collection string `mapstructure:"collection"`

	// Embedder selects the embedding backend: "mock", "openai" or "onnx".
	Embedder string `mapstructure:"embedder"`

	// OpenAI embedder settings.
	OpenAIModel      string `mapstructure:"openai_model"`
	OpenAIDimensions int    `mapstructure:"openai_dimensions"`

	// ONNX embedder settings (only used with -tags onnx builds).
	ONNXModelPath     string `mapstructure:"onnx_model_path"`
	ONNXTokenizerPath string `mapstructure:"onnx_tokenizer_path"`

	// TopK is the default search_knowledge result count.
	TopK int `mapstructure:"top_k"`

	// EmbedCacheEntries caps the embedding cache. 0 disables it.
	EmbedCacheEntries int64 `mapstructure:"embed_cache_entries"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".kbmem")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)

	v.SetEnvPrefix("KBMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("data_dir", filepath.Join(configDir, "data"))
	v.SetDefault("collection", "kbmem_knowledge")
	v.SetDefault("embedder", EmbedderOpenAI)
	v.SetDefault("openai_model", "text-embedding-3-small")
	v.SetDefault("openai_dimensions", 1536)
	v.SetDefault("top_k", 5)
	v.SetDefault("embed_cache_entries", 1024)
}

// Validate fails fast on configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Embedder {
	case EmbedderMock, EmbedderOpenAI, EmbedderONNX:
	default:
		return fmt.Errorf("embedder must be one of %q, %q, %q; got %q",
			EmbedderMock, EmbedderOpenAI, EmbedderONNX, c.Embedder)
	}

	if c.Embedder == EmbedderONNX && c.ONNXModelPath == "" {
		return fmt.Errorf("onnx_model_path is required with the onnx embedder")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.OpenAIDimensions < 0 {
		return fmt.Errorf("openai_dimensions must not be negative, got %d", c.OpenAIDimensions)
	}
	if c.EmbedCacheEntries < 0 {
		return fmt.Errorf("embed_cache_entries must not be negative, got %d", c.EmbedCacheEntries)
	}
	if c.Collection == "" {
		return fmt.Errorf("collection must not be empty")
	}
	return nil
}

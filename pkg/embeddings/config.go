package embeddings

import (
	"fmt"
	"time"
)

// Config selects and configures the embedding provider.
type Config struct {
	// Provider is "ollama" (default) or "openai".
	Provider string        `yaml:"provider"`
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	// CacheSize is how many distinct inputs are remembered. 0 disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// DefaultConfig targets a local Ollama with nomic-embed-text.
func DefaultConfig() Config {
	return Config{
		Provider:  "ollama",
		URL:       "http://localhost:11434/api/embeddings",
		Model:     "nomic-embed-text",
		Timeout:   60 * time.Second,
		CacheSize: 1024,
	}
}

// New builds the configured provider, wrapped in a cache when CacheSize > 0.
func New(cfg Config) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case "", "ollama":
		base = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Timeout)
	case "openai":
		base = NewOpenAIEmbedder(cfg.URL, cfg.Model, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return NewCached(base, cfg.CacheSize), nil
	}
	return base, nil
}

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/kektorrag/internal/server"
	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/engine"
	"github.com/sanonone/kektorrag/pkg/rag"
)

// Config is the whole application configuration. Engine options sit at the
// top level of the file, the other components in their own sections.
type Config struct {
	Engine   engine.Options    `yaml:",inline"`
	Server   server.Config     `yaml:"server"`
	Embedder embeddings.Config `yaml:"embedder"`
	RAG      rag.Config        `yaml:"rag"`
	MCP      MCPConfig         `yaml:"mcp"`
}

type MCPConfig struct {
	// Addr serves MCP over streamable HTTP. Empty means stdio.
	Addr string `yaml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		Engine:   engine.DefaultOptions("kektorrag_data"),
		Server:   server.DefaultConfig(),
		Embedder: embeddings.DefaultConfig(),
		RAG:      rag.DefaultConfig(),
	}
}

// LoadConfig reads path on top of DefaultConfig. Unknown keys are rejected so
// typos do not silently fall back to defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in %s: %w", path, err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid engine config: %w", err)
	}
	return cfg, nil
}

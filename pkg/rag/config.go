package rag

import "time"

// Config holds the ingestion and retrieval parameters.
type Config struct {
	// --- File Filtering ---
	// Glob patterns matched against the file name. Empty = all supported.
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`

	// --- Text Processing ---
	// "recursive", "code", "markdown" or "fixed"
	ChunkingStrategy string `yaml:"chunking_strategy"`
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	// Custom separators for the recursive splitter. If empty, defaults based on strategy.
	CustomSeparators []string `yaml:"custom_separators"`

	// EmbedConcurrency bounds the parallel calls to the embedder during ingestion.
	EmbedConcurrency int `yaml:"embed_concurrency"`

	// --- Retrieval ---
	// Limit is the number of chunks put into a context.
	Limit int `yaml:"limit"`
	// ReadyTimeout is how long BuildContext waits for the index to become
	// ready before giving up with an empty context. 0 does not wait.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ChunkingStrategy: "recursive",
		ChunkSize:        500,
		ChunkOverlap:     50,
		EmbedConcurrency: 4,
		Limit:            5,
		ReadyTimeout:     10 * time.Second,
	}
}

package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/hnsw"
	"github.com/sanonone/kektorrag/pkg/persistence"
)

// Options configures the behavior of the Engine, including the storage
// backend, batching and graph parameters.
type Options struct {
	// DataDir is where the storage backend keeps its files.
	// It is created automatically if it does not exist.
	DataDir string `yaml:"data_dir"`

	// Backend selects the record store: badger, sqlite, aof or memory.
	Backend string `yaml:"backend"`

	// Precision of persisted vectors: float32 (default) or float16.
	// The graph always works on float32.
	Precision string `yaml:"precision"`

	// BatchSize is how many records AddVectorsBatch commits per transaction.
	BatchSize int `yaml:"batch_size"`

	// DeleteBatchSize bounds the records removed per transaction when a whole
	// document or collection is deleted.
	DeleteBatchSize int `yaml:"delete_batch_size"`

	// BatchYield is the pause between two batches, so queries get a chance
	// to run during large imports. 0 disables it.
	BatchYield time.Duration `yaml:"batch_yield"`

	// InitRetries is how many times the initial store scan is attempted.
	InitRetries int `yaml:"init_retries"`

	// InitRetryDelay is the wait between two scan attempts.
	InitRetryDelay time.Duration `yaml:"init_retry_delay"`

	// CompactInterval is how often the background task checks whether the
	// store log should be compacted. Only stores that support compaction
	// (aof) are affected. 0 disables it.
	CompactInterval time.Duration `yaml:"compact_interval"`

	// CompactMinFrames is the log length below which compaction is skipped.
	CompactMinFrames int `yaml:"compact_min_frames"`

	// DefaultLimit is used by FindSimilarVectors when limit <= 0.
	DefaultLimit int `yaml:"default_limit"`

	// Index holds the graph parameters.
	Index hnsw.Config `yaml:"index"`
}

// DefaultOptions returns a standard configuration suitable for most use cases.
//
// Defaults:
//   - Backend: badger, float32 vectors
//   - Batches of 50 records, 10ms apart
//   - 3 load attempts, 1s apart
//   - Graph: M=8, MaxLevel=4
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:          dataDir,
		Backend:          persistence.BackendBadger,
		Precision:        string(distance.Float32),
		BatchSize:        50,
		DeleteBatchSize:  persistence.DefaultDeleteBatchSize,
		BatchYield:       10 * time.Millisecond,
		InitRetries:      3,
		InitRetryDelay:   time.Second,
		CompactInterval:  time.Minute,
		CompactMinFrames: 10000,
		DefaultLimit:     5,
		Index:            hnsw.DefaultConfig(),
	}
}

// LoadOptions reads a YAML file on top of DefaultOptions using strict parsing.
// An empty path returns the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions("")
	if path == "" {
		return opts, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return opts, fmt.Errorf("failed to open engine config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil {
		return opts, fmt.Errorf("YAML syntax error in engine config: %w", err)
	}
	return opts, opts.Validate()
}

// Validate checks values that cannot be defaulted silently.
func (o Options) Validate() error {
	if _, err := distance.ParsePrecision(o.Precision); err != nil {
		return err
	}
	switch o.Backend {
	case "", persistence.BackendBadger, persistence.BackendSQLite, persistence.BackendAOF, persistence.BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", o.Backend)
	}
	if o.BatchSize < 0 || o.DeleteBatchSize < 0 || o.InitRetries < 0 {
		return fmt.Errorf("batch sizes and retries must not be negative")
	}
	return nil
}

// withDefaults replaces zero values with the defaults.
func (o Options) withDefaults() Options {
	def := DefaultOptions(o.DataDir)
	if o.Backend == "" {
		o.Backend = def.Backend
	}
	if o.Precision == "" {
		o.Precision = def.Precision
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.DeleteBatchSize <= 0 {
		o.DeleteBatchSize = def.DeleteBatchSize
	}
	if o.InitRetries <= 0 {
		o.InitRetries = 1
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = def.DefaultLimit
	}
	if o.CompactMinFrames <= 0 {
		o.CompactMinFrames = def.CompactMinFrames
	}
	return o
}

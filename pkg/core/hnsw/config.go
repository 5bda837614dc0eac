package hnsw

// Config holds the graph construction and search parameters.
// The defaults were not tuned for any particular corpus size; deployments with
// many vectors may want a larger M or a bounded EfSearch.
type Config struct {
	// M is the fan-out: how many nearest neighbours a new node links to at each
	// of its levels. It is also the base of the level distribution. Default: 8.
	M int `yaml:"m" json:"m"`

	// MaxLevel caps the random level draw. Default: 4.
	MaxLevel int `yaml:"max_level" json:"max_level"`

	// EfSearch bounds the best-first search. When 0 the search runs until the
	// frontier is exhausted, which visits the whole reachable component.
	// When > 0 the search stops once the best frontier candidate is worse than
	// the worst of the max(k, EfSearch) best visited nodes, and seeds are
	// refined by a greedy descent through the upper levels.
	EfSearch int `yaml:"ef_search" json:"ef_search"`

	// MaxConnections caps the degree of a node per level. 0 disables pruning.
	// When set it is raised to at least M.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// Seed fixes the level generator for reproducible graphs. 0 uses a
	// time-based seed.
	Seed int64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns M=8, MaxLevel=4, unbounded search and no pruning.
func DefaultConfig() Config {
	return Config{
		M:        8,
		MaxLevel: 4,
	}
}

// withDefaults fills zero or invalid values.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.M < 2 {
		c.M = def.M
	}
	if c.MaxLevel < 0 {
		c.MaxLevel = def.MaxLevel
	}
	if c.EfSearch < 0 {
		c.EfSearch = 0
	}
	if c.MaxConnections > 0 && c.MaxConnections < c.M {
		c.MaxConnections = c.M
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	return c
}

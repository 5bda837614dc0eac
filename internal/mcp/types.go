package mcp

// --- Tool Arguments ---

type SearchContextArgs struct {
	Query         string   `json:"query" jsonschema:"The question or topic to find relevant document chunks for"`
	CollectionIDs []string `json:"collection_ids" jsonschema:"Collections (projects) to search in"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Max number of chunks (default 5)"`
}

type SearchContextResult struct {
	// Context is the ready-to-use prompt prefix, empty when nothing matched.
	Context string      `json:"context"`
	Hits    []HitResult `json:"hits"`
}

type HitResult struct {
	ID         string  `json:"id"`
	FileName   string  `json:"file_name"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
}

type DeleteDocumentArgs struct {
	DocumentID string `json:"document_id" jsonschema:"The document whose chunks are removed"`
}

type DeleteCollectionArgs struct {
	CollectionID string `json:"collection_id" jsonschema:"The collection whose chunks are removed"`
}

type DeleteResult struct {
	Deleted int `json:"deleted"`
}

type IngestPathArgs struct {
	Path         string `json:"path" jsonschema:"File or directory to index"`
	CollectionID string `json:"collection_id" jsonschema:"Collection the chunks belong to"`
}

type IngestPathResult struct {
	Chunks int `json:"chunks"`
}

type IndexStatsArgs struct{}

// IndexStatsResult is a flat view of engine.Stats with string-keyed maps only.
type IndexStatsResult struct {
	State        string         `json:"state"`
	Backend      string         `json:"backend"`
	Vectors      int            `json:"vectors"`
	Dimension    int            `json:"dimension"`
	Documents    int            `json:"documents"`
	MaxLevel     int            `json:"max_level"`
	Collections  map[string]int `json:"collections"`
	ContentTypes map[string]int `json:"content_types"`
}

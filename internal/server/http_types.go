package server

import (
	"github.com/sanonone/kektorrag/pkg/core/types"
)

// VectorAddRequest is the body of POST /vectors. Either Record or Records is set.
type VectorAddRequest struct {
	*types.Record
	Records []types.Record `json:"records,omitempty"`
}

// VectorAddResponse lists the ids actually stored, including generated ones.
type VectorAddResponse struct {
	IDs   []string `json:"ids"`
	Added int      `json:"added"`
	Error string   `json:"error,omitempty"`
}

// VectorSearchRequest is the body of POST /search.
type VectorSearchRequest struct {
	Vector        []float32 `json:"vector"`
	CollectionIDs []string  `json:"collection_ids"`
	Limit         int       `json:"limit,omitempty"`
	// IncludeVectors keeps the embeddings in the response.
	IncludeVectors bool `json:"include_vectors,omitempty"`
}

type VectorSearchResponse struct {
	Results []types.SearchResult `json:"results"`
}

// ContextRequest is the body of POST /context.
type ContextRequest struct {
	Query         string   `json:"query"`
	CollectionIDs []string `json:"collection_ids"`
}

type ContextResponse struct {
	Context string `json:"context"`
}

// DeleteResponse lists the ids removed by a document or collection delete.
type DeleteResponse struct {
	Deleted []string `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

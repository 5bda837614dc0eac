// Package types holds the data model shared by the index, the record store and
// the search engine.
package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Content type tags used by the ingestion pipeline.
const (
	ContentText = "text"
	ContentCode = "code"
)

// ErrInvalidProvenance is returned when a record carries both a byte range and a line range.
var ErrInvalidProvenance = errors.New("metadata must carry at most one of byte range or line range")

// ByteRange locates a chunk inside its source file by byte offsets.
type ByteRange struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

// LineRange locates a chunk inside its source file by line numbers.
type LineRange struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

// Metadata describes where a vector came from. CollectionID, DocumentID and
// FileName are opaque strings supplied by the caller.
type Metadata struct {
	CollectionID string     `json:"collection_id" msgpack:"collection_id"`
	DocumentID   string     `json:"document_id" msgpack:"document_id"`
	FileName     string     `json:"file_name" msgpack:"file_name"`
	ContentType  string     `json:"content_type,omitempty" msgpack:"content_type,omitempty"`
	Bytes        *ByteRange `json:"bytes,omitempty" msgpack:"bytes,omitempty"`
	Lines        *LineRange `json:"lines,omitempty" msgpack:"lines,omitempty"`
}

// Validate checks the provenance variant.
func (m Metadata) Validate() error {
	if m.Bytes != nil && m.Lines != nil {
		return ErrInvalidProvenance
	}
	if m.Bytes != nil && m.Bytes.End < m.Bytes.Start {
		return fmt.Errorf("%w: byte range %d..%d", ErrInvalidProvenance, m.Bytes.Start, m.Bytes.End)
	}
	if m.Lines != nil && m.Lines.End < m.Lines.Start {
		return fmt.Errorf("%w: line range %d..%d", ErrInvalidProvenance, m.Lines.Start, m.Lines.End)
	}
	return nil
}

// Clone returns a deep copy, so graph nodes never alias caller memory.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Bytes != nil {
		b := *m.Bytes
		out.Bytes = &b
	}
	if m.Lines != nil {
		l := *m.Lines
		out.Lines = &l
	}
	return out
}

// Record is the durable unit: one embedding of one chunk.
// Records are immutable once written; an edit is a delete followed by an insert.
type Record struct {
	ID       string    `json:"id" msgpack:"id"`
	Vector   []float32 `json:"vector" msgpack:"vector"`
	Metadata Metadata  `json:"metadata" msgpack:"metadata"`
}

// NewRecordID generates a fresh record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// SearchResult is a single ranked hit returned by a similarity query.
type SearchResult struct {
	ID         string    `json:"id"`
	Vector     []float32 `json:"vector,omitempty"`
	Metadata   Metadata  `json:"metadata"`
	Similarity float64   `json:"similarity"`
}

// Candidate is the graph-internal search result: internal id plus cosine similarity.
type Candidate struct {
	Id         uint32
	Similarity float64
}

// Better reports whether c ranks ahead of o: higher similarity first, then
// earlier insertion.
func (c Candidate) Better(o Candidate) bool {
	if c.Similarity != o.Similarity {
		return c.Similarity > o.Similarity
	}
	return c.Id < o.Id
}

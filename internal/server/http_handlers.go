package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/hnsw"
	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/engine"
	"github.com/sanonone/kektorrag/pkg/persistence"
)

// maxBodyBytes bounds request bodies. Large imports should be split client side.
const maxBodyBytes = 64 << 20

func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /vectors", s.handleVectorAdd)
	mux.HandleFunc("DELETE /vectors", s.handleClear)
	mux.HandleFunc("DELETE /vectors/{id}", s.handleVectorDelete)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDocumentDelete)
	mux.HandleFunc("DELETE /collections/{id}", s.handleCollectionDelete)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /context", s.handleContext)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeHTTPResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.engine.State().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeHTTPResponse(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleVectorAdd(w http.ResponseWriter, r *http.Request) {
	var req VectorAddRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Record != nil && len(req.Records) == 0 {
		id, err := s.engine.AddVector(r.Context(), *req.Record)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeHTTPResponse(w, http.StatusCreated, VectorAddResponse{IDs: []string{id}, Added: 1})
		return
	}
	if len(req.Records) == 0 {
		writeHTTPError(w, http.StatusBadRequest, "no records")
		return
	}

	// Ids are assigned here so the response can name every stored record.
	ids := make([]string, len(req.Records))
	for i := range req.Records {
		if req.Records[i].ID == "" {
			req.Records[i].ID = types.NewRecordID()
		}
		ids[i] = req.Records[i].ID
	}

	n, err := s.engine.AddVectorsBatch(r.Context(), req.Records)
	if err != nil {
		// Earlier batches stay committed; report how far the import got.
		status, msg := classify(err)
		writeHTTPResponse(w, status, VectorAddResponse{IDs: ids[:n], Added: n, Error: msg})
		return
	}
	writeHTTPResponse(w, http.StatusCreated, VectorAddResponse{IDs: ids, Added: n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req VectorSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	results, err := s.engine.FindSimilarVectors(r.Context(), req.Vector, req.CollectionIDs, req.Limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !req.IncludeVectors {
		for i := range results {
			results[i].Vector = nil
		}
	}
	writeHTTPResponse(w, http.StatusOK, VectorSearchResponse{Results: results})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if s.assembler == nil {
		writeHTTPError(w, http.StatusNotImplemented, "no embedder configured")
		return
	}
	var req ContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeHTTPResponse(w, http.StatusOK, ContextResponse{
		Context: s.assembler.BuildContext(r.Context(), req.Query, req.CollectionIDs),
	})
}

func (s *Server) handleVectorDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteVector(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.DeleteDocumentVectors(r.Context(), r.PathValue("id"))
	s.writeDeleted(w, ids, err)
}

func (s *Server) handleCollectionDelete(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.DeleteCollectionVectors(r.Context(), r.PathValue("id"))
	s.writeDeleted(w, ids, err)
}

func (s *Server) writeDeleted(w http.ResponseWriter, ids []string, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeHTTPResponse(w, http.StatusOK, DeleteResponse{Deleted: ids})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearAll(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// classify maps engine errors to a status and a client-safe message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, distance.ErrDimensionMismatch),
		errors.Is(err, hnsw.ErrEmptyVector),
		errors.Is(err, types.ErrInvalidProvenance):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, persistence.ErrStorageFault):
		slog.Error("[HTTP] Storage fault", "error", err)
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		slog.Error("[HTTP] Request failed", "error", err)
		return http.StatusInternalServerError, "internal error"
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, msg := classify(err)
	writeHTTPError(w, status, msg)
}

func writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	writeHTTPResponse(w, statusCode, errorResponse{Error: message})
}

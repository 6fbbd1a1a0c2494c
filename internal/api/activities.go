package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metadata/postgres"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

func toActivity(row *postgres.SearchActivityRow) protocol.SearchActivity {
	a := protocol.SearchActivity{
		ID:            row.ID,
		UserID:        row.UserID,
		SearchID:      row.SearchID,
		OriginalQuery: row.OriginalQuery,
		RefinedQuery: protocol.RefinedQuery{
			SearchPhrases: row.SearchPhrases,
			SearchFilters: row.SearchFilters,
		},
		Timestamp:                  row.CreatedAt,
		ResultsFound:               row.ResultsFound,
		ResultsDocumentIDs:         row.ResultsDocumentIDs,
		ResultNumDocuments:         row.ResultNumDocuments,
		TopResultScore:             row.TopResultScore,
		TotalResultsReturned:       row.TotalResultsReturned,
		UserOpenedDocument:         row.UserOpenedDocument,
		DocumentOpenedIDs:          row.DocumentOpenedIDs,
		TimeToClickFirstDocumentMs: row.TimeToClickFirstDocumentMs,
		WasAnswerHelpful:           row.WasAnswerHelpful,
		DeviceType:                 row.DeviceType,
		AppVersion:                 row.AppVersion,
		SearchDurationMs:           row.SearchDurationMs,
	}
	if a.RefinedQuery.SearchPhrases == nil {
		a.RefinedQuery.SearchPhrases = []string{}
	}
	if a.RefinedQuery.SearchFilters == nil {
		a.RefinedQuery.SearchFilters = map[string]any{}
	}
	if a.ResultsDocumentIDs == nil {
		a.ResultsDocumentIDs = []string{}
	}
	if a.DocumentOpenedIDs == nil {
		a.DocumentOpenedIDs = []string{}
	}
	return a
}

// handleCreateActivity handles POST /api/v1/search-activities. The owner is
// always the caller.
func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateSearchActivityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	switch {
	case strings.TrimSpace(req.SearchID) == "":
		s.sendError(w, http.StatusBadRequest, "Missing required field: searchId")
		return
	case strings.TrimSpace(req.OriginalQuery) == "":
		s.sendError(w, http.StatusBadRequest, "Missing required field: originalQuery")
		return
	case req.RefinedQuery == nil:
		s.sendError(w, http.StatusBadRequest, "Missing required field: refinedQuery")
		return
	case req.ResultsFound == nil:
		s.sendError(w, http.StatusBadRequest, "Missing required field: resultsFound")
		return
	}

	row := &postgres.SearchActivityRow{
		ID:                   "sa-" + uuid.NewString(),
		UserID:               logging.UserID(r.Context()),
		SearchID:             req.SearchID,
		OriginalQuery:        req.OriginalQuery,
		SearchPhrases:        req.RefinedQuery.SearchPhrases,
		SearchFilters:        req.RefinedQuery.SearchFilters,
		ResultsFound:         *req.ResultsFound,
		ResultsDocumentIDs:   req.ResultsDocumentIDs,
		ResultNumDocuments:   req.ResultNumDocuments,
		TopResultScore:       req.TopResultScore,
		TotalResultsReturned: req.TotalResultsReturned,
		DeviceType:           req.DeviceType,
		AppVersion:           req.AppVersion,
		SearchDurationMs:     req.SearchDurationMs,
	}
	if err := s.store.CreateSearchActivity(r.Context(), row); err != nil {
		logging.WithContext(r.Context()).Error("create search activity failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to create search activity: "+err.Error())
		return
	}

	logging.WithContext(r.Context()).Info("search activity created", zap.String("activity_id", row.ID))
	s.sendJSON(w, http.StatusCreated, protocol.SearchActivityResponse{
		Message:        "Search activity created successfully",
		SearchActivity: toActivity(row),
	})
}

// handleGetActivity handles GET /api/v1/search-activities/{id}
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetSearchActivity(r.Context(), logging.UserID(r.Context()), r.PathValue("id"))
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Search activity not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to retrieve search activity: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, toActivity(row))
}

// handleUpdateActivity handles PATCH /api/v1/search-activities/{id}
func (s *Server) handleUpdateActivity(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateSearchActivityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.UserOpenedDocument == nil && req.DocumentOpenedIDs == nil &&
		req.TimeToClickFirstDocumentMs == nil && req.WasAnswerHelpful == nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.TimeToClickFirstDocumentMs != nil && *req.TimeToClickFirstDocumentMs < 0 {
		s.sendError(w, http.StatusBadRequest, "timeToClickFirstDocumentMs must not be negative")
		return
	}

	id := r.PathValue("id")
	row, err := s.store.UpdateSearchActivity(r.Context(), logging.UserID(r.Context()), id, postgres.SearchActivityUpdate{
		UserOpenedDocument:         req.UserOpenedDocument,
		DocumentOpenedIDs:          req.DocumentOpenedIDs,
		TimeToClickFirstDocumentMs: req.TimeToClickFirstDocumentMs,
		WasAnswerHelpful:           req.WasAnswerHelpful,
	})
	if errors.Is(err, postgres.ErrNotFound) {
		logging.WithContext(r.Context()).Warn("search activity not found for update", zap.String("activity_id", id))
		s.sendError(w, http.StatusNotFound, "Search activity not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to update search activity: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.SearchActivityResponse{
		Message:        "Search activity updated successfully",
		SearchActivity: toActivity(row),
	})
}

// recordSearch stores an activity for a completed search and returns its
// id, or "" when the write fails. A failed write never fails the search.
func (s *Server) recordSearch(ctx context.Context, searchID, query string, results []protocol.SearchResult, took time.Duration) string {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.Document.ID)
	}
	durationMs := took.Milliseconds()
	row := &postgres.SearchActivityRow{
		ID:                   "sa-" + uuid.NewString(),
		UserID:               logging.UserID(ctx),
		SearchID:             searchID,
		OriginalQuery:        query,
		SearchPhrases:        strings.Fields(query),
		SearchFilters:        map[string]any{},
		ResultsFound:         len(results) > 0,
		ResultsDocumentIDs:   ids,
		ResultNumDocuments:   len(results),
		TotalResultsReturned: len(results),
		SearchDurationMs:     &durationMs,
	}
	if len(results) > 0 {
		top := results[0].Score
		row.TopResultScore = &top
	}
	if err := s.store.CreateSearchActivity(ctx, row); err != nil {
		logging.WithContext(ctx).Warn("record search activity failed",
			zap.String("search_id", searchID), zap.Error(err))
		return ""
	}
	return row.ID
}

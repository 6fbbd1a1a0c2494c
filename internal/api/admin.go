package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metadata/postgres"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

// Admin routes act across users. They are only mounted when
// Config.AdminEnabled is set.

// userPrefix is the blob key prefix for a user's content, or "" for all.
func userPrefix(userID string) string {
	if userID == "" {
		return ""
	}
	return userID + "/"
}

func scope(userID string) string {
	if userID == "" {
		return "across all users"
	}
	return "for user " + userID
}

// handleAdminListDocuments handles GET /admin/documents?userId=&status=&limit=
// status defaults to active; "all" lists every status.
func (s *Server) handleAdminListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("userId")
	status := r.URL.Query().Get("status")
	switch status {
	case "":
		status = protocol.StatusActive
	case "all":
		status = ""
	}

	rows, err := s.store.ListAll(r.Context(), userID, status, limit)
	if err != nil {
		logging.WithContext(r.Context()).Error("admin list documents failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to list documents: "+err.Error())
		return
	}
	docs := make([]protocol.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, s.toDocument(r, row))
	}
	s.sendJSON(w, http.StatusOK, protocol.AdminDocumentsResponse{
		Documents: docs,
		Count:     len(docs),
		UserID:    userID,
	})
}

// handleAdminPurgeDocuments handles DELETE /admin/documents?userId=. Every
// document in scope loses its blob and its record; 207 reports leftovers.
func (s *Server) handleAdminPurgeDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.WithContext(ctx)
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		log.Warn("admin purging documents across all users")
	}

	rows, err := s.store.ListAll(ctx, userID, "", 0)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete documents: "+err.Error())
		return
	}

	resp := protocol.PurgeResponse{UserID: userID}
	for _, row := range rows {
		blobOK, recordOK := true, true
		if err := s.storage.Delete(ctx, row.BlobName); err != nil {
			blobOK = false
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s blob: %v", row.ID, err))
		} else {
			resp.BlobsDeleted++
		}
		if err := s.store.Delete(ctx, row.UserID, row.ID); err != nil && !errors.Is(err, postgres.ErrNotFound) {
			recordOK = false
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s record: %v", row.ID, err))
		} else {
			resp.RecordsDeleted++
		}
		if blobOK && recordOK {
			resp.Deleted++
		}
	}
	s.sendPurge(w, r, resp, "documents")
}

func (s *Server) sendPurge(w http.ResponseWriter, r *http.Request, resp protocol.PurgeResponse, what string) {
	log := logging.WithContext(r.Context())
	if len(resp.Errors) > 0 {
		log.Warn("partial purge", zap.String("kind", what), zap.Strings("errors", resp.Errors))
		resp.Message = "Partial deletion completed"
		resp.Warning = "Some " + what + " could not be fully deleted"
		s.sendJSON(w, http.StatusMultiStatus, resp)
		return
	}
	resp.Message = fmt.Sprintf("Successfully deleted all %s %s", what, scope(resp.UserID))
	log.Info("purge complete", zap.String("kind", what), zap.Int("deleted", resp.Deleted))
	s.sendJSON(w, http.StatusOK, resp)
}

// handleAdminListUsers handles GET /admin/users?limit=
func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListUsers(r.Context(), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list users: "+err.Error())
		return
	}
	users := make([]protocol.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, toUser(row))
	}
	s.sendJSON(w, http.StatusOK, protocol.UserListResponse{Users: users, Count: len(users)})
}

// handleAdminListActivities handles GET /admin/search-activities?userId=&limit=
func (s *Server) handleAdminListActivities(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListSearchActivities(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list search activities: "+err.Error())
		return
	}
	out := make([]protocol.SearchActivity, 0, len(rows))
	for _, row := range rows {
		out = append(out, toActivity(row))
	}
	s.sendJSON(w, http.StatusOK, protocol.SearchActivityListResponse{SearchActivities: out, Count: len(out)})
}

// handleAdminPurgeActivities handles DELETE /admin/search-activities?userId=
func (s *Server) handleAdminPurgeActivities(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	n, err := s.store.DeleteSearchActivities(r.Context(), userID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete search activities: "+err.Error())
		return
	}
	s.sendPurge(w, r, protocol.PurgeResponse{
		UserID:         userID,
		Deleted:        int(n),
		RecordsDeleted: int(n),
	}, "search activities")
}

// handleAdminListBlobs handles GET /admin/blobs?userId=&limit=
func (s *Server) handleAdminListBlobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}
	blobs, err := s.storage.List(r.Context(), userPrefix(r.URL.Query().Get("userId")), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to list blobs: "+err.Error())
		return
	}
	if blobs == nil {
		blobs = []protocol.Blob{}
	}
	s.sendJSON(w, http.StatusOK, protocol.BlobListResponse{
		Blobs:   blobs,
		Count:   len(blobs),
		Backend: s.storage.Type(),
	})
}

// handleAdminPurgeBlobs handles DELETE /admin/blobs?userId=. Records are
// left alone; their content links will 404 afterwards.
func (s *Server) handleAdminPurgeBlobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("userId")
	blobs, err := s.storage.List(ctx, userPrefix(userID), 0)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete blobs: "+err.Error())
		return
	}

	resp := protocol.PurgeResponse{UserID: userID}
	for _, b := range blobs {
		if err := s.storage.Delete(ctx, b.Name); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", b.Name, err))
			continue
		}
		resp.Deleted++
		resp.BlobsDeleted++
	}
	s.sendPurge(w, r, resp, "blobs")
}

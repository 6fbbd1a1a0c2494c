package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metadata/postgres"
	"github.com/healthdocs/doctracker/internal/metrics"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

const (
	defaultListLimit   = 100
	maxListLimit       = 1000
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	maxExtractedText   = 1 << 20
)

var allowedExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "txt": true,
	"jpg": true, "jpeg": true, "png": true,
}

func allowedFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return allowedExtensions[ext]
}

func allowedList() string {
	return "pdf, doc, docx, txt, jpg, jpeg, png"
}

// toDocument converts a record to its API form with a resolved access URL.
func (s *Server) toDocument(r *http.Request, row *postgres.DocumentRow) protocol.Document {
	doc := protocol.Document{
		ID:               row.ID,
		UserID:           row.UserID,
		DisplayName:      row.DisplayName,
		OriginalFileName: row.OriginalFileName,
		ContentType:      row.ContentType,
		FileSize:         row.FileSize,
		BlobName:         row.BlobName,
		Status:           row.Status,
		UploadedAt:       row.UploadedAt,
	}
	doc.URL = s.accessURL(r, row)
	return doc
}

func (s *Server) accessURL(r *http.Request, row *postgres.DocumentRow) string {
	u, err := s.storage.URL(r.Context(), row.BlobName)
	if err != nil {
		logging.WithContext(r.Context()).Warn("resolve access url failed",
			zap.String("document_id", row.ID), zap.Error(err))
	}
	if u != "" {
		return u
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/v1/documents/%s/content", scheme, r.Host, row.ID)
}

// queryLimit parses the limit query parameter (1..1000, default 100). On a
// bad value it writes the 400 response and reports false.
func (s *Server) queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxListLimit {
		s.sendError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return 0, false
	}
	return n, true
}

// handleList handles GET /api/v1/documents?limit=&status=
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID := logging.UserID(r.Context())

	limit, ok := s.queryLimit(w, r)
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = protocol.StatusActive
	}

	rows, err := s.store.ListByUser(r.Context(), userID, status, limit)
	if err != nil {
		logging.WithContext(r.Context()).Error("list documents failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to list documents: "+err.Error())
		return
	}

	docs := make([]protocol.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, s.toDocument(r, row))
	}
	s.sendJSON(w, http.StatusOK, protocol.ListResponse{
		Documents: docs,
		Count:     len(docs),
		UserID:    userID,
	})
}

// handleUpload handles POST /api/v1/documents (multipart field "file").
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.WithContext(ctx)
	userID := logging.UserID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large: max %d bytes", s.cfg.MaxUploadSize))
		case errors.Is(err, http.ErrMissingFile):
			s.sendError(w, http.StatusBadRequest, "No file provided")
		default:
			s.sendErrorDetails(w, http.StatusBadRequest, "Invalid upload", err.Error())
		}
		metrics.RecordUpload(0, false)
		return
	}
	defer file.Close()

	fileName := filepath.Base(strings.ReplaceAll(header.Filename, `\`, "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		s.sendError(w, http.StatusBadRequest, "No file selected")
		metrics.RecordUpload(0, false)
		return
	}
	if !allowedFile(fileName) {
		log.Warn("invalid file type", zap.String("file", fileName))
		s.sendError(w, http.StatusBadRequest, "File type not allowed. Allowed types: "+allowedList())
		metrics.RecordUpload(0, false)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to read content")
		metrics.RecordUpload(0, false)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(fileName)); byExt != "" {
			contentType = byExt
		} else {
			contentType = http.DetectContentType(content)
		}
	}

	id := "doc-" + uuid.NewString()
	row := &postgres.DocumentRow{
		ID:               id,
		UserID:           userID,
		DisplayName:      displayNameFor(fileName),
		OriginalFileName: fileName,
		ContentType:      contentType,
		FileSize:         int64(len(content)),
		BlobName:         userID + "/" + id + "/" + fileName,
		Status:           protocol.StatusActive,
		ExtractedText:    extractText(fileName, content),
	}

	if err := s.storage.Put(ctx, row.BlobName, bytes.NewReader(content), row.FileSize, contentType); err != nil {
		log.Error("store blob failed", zap.String("blob", row.BlobName), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to upload file: "+err.Error())
		metrics.RecordUpload(0, false)
		return
	}

	if err := s.store.Create(ctx, row); err != nil {
		log.Error("create document record failed", zap.String("document_id", id), zap.Error(err))
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), row.BlobName); delErr != nil {
			log.Warn("remove orphaned blob failed", zap.String("blob", row.BlobName), zap.Error(delErr))
		}
		s.sendError(w, http.StatusInternalServerError, "Failed to upload file: "+err.Error())
		metrics.RecordUpload(0, false)
		return
	}

	metrics.RecordUpload(row.FileSize, true)
	log.Info("document uploaded",
		zap.String("document_id", id),
		zap.String("file", fileName),
		zap.Int64("size", row.FileSize))

	s.sendJSON(w, http.StatusCreated, protocol.UploadResponse{
		Message:  "File uploaded successfully",
		Document: s.toDocument(r, row),
	})
}

// displayNameFor strips the extension from a file name.
func displayNameFor(fileName string) string {
	if name := strings.TrimSuffix(fileName, filepath.Ext(fileName)); name != "" {
		return name
	}
	return fileName
}

// extractText keeps the body of plain-text uploads for search.
func extractText(fileName string, content []byte) string {
	if strings.ToLower(filepath.Ext(fileName)) != ".txt" || !utf8.Valid(content) {
		return ""
	}
	if len(content) > maxExtractedText {
		content = content[:maxExtractedText]
	}
	return strings.ToValidUTF8(string(content), "")
}

// handleGet handles GET /api/v1/documents/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.Get(r.Context(), logging.UserID(r.Context()), r.PathValue("id"))
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to retrieve document: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, s.toDocument(r, row))
}

// handleUpdate handles PATCH /api/v1/documents/{id}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.DisplayName == nil && req.Status == nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.DisplayName != nil && strings.TrimSpace(*req.DisplayName) == "" {
		s.sendError(w, http.StatusBadRequest, "displayName must not be empty")
		return
	}
	if req.Status != nil && *req.Status != protocol.StatusActive && *req.Status != protocol.StatusDeleted {
		s.sendError(w, http.StatusBadRequest, "status must be active or deleted")
		return
	}

	row, err := s.store.Update(r.Context(), logging.UserID(r.Context()), r.PathValue("id"), req.DisplayName, req.Status)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to update document: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.UpdateResponse{
		Message:  "Document updated successfully",
		Document: s.toDocument(r, row),
	})
}

// handleDelete handles DELETE /api/v1/documents/{id}. The blob and the record
// are removed independently; a 207 reports that only one of them went.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.WithContext(ctx)
	userID := logging.UserID(ctx)
	id := r.PathValue("id")

	row, err := s.store.Get(ctx, userID, id)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete document: "+err.Error())
		return
	}

	resp := protocol.DeleteResponse{DocumentID: id}
	if err := s.storage.Delete(ctx, row.BlobName); err != nil {
		resp.Errors = append(resp.Errors, "blob: "+err.Error())
	} else {
		resp.BlobDeleted = true
	}
	if err := s.store.Delete(ctx, userID, id); err != nil && !errors.Is(err, postgres.ErrNotFound) {
		resp.Errors = append(resp.Errors, "record: "+err.Error())
	} else {
		resp.RecordDeleted = true
	}

	switch {
	case resp.BlobDeleted && resp.RecordDeleted:
		metrics.RecordDelete(true)
		log.Info("document deleted", zap.String("document_id", id))
		resp.Message = "Document deleted successfully"
		s.sendJSON(w, http.StatusOK, resp)
	case resp.BlobDeleted || resp.RecordDeleted:
		metrics.RecordDelete(false)
		log.Warn("partial deletion", zap.String("document_id", id), zap.Strings("errors", resp.Errors))
		resp.Message = "Partial deletion completed"
		resp.Warning = "Document was deleted from some services but not all"
		s.sendJSON(w, http.StatusMultiStatus, resp)
	default:
		metrics.RecordDelete(false)
		log.Error("delete failed", zap.String("document_id", id), zap.Strings("errors", resp.Errors))
		s.sendErrorDetails(w, http.StatusInternalServerError,
			"Failed to delete document", strings.Join(resp.Errors, "; "))
	}
}

// handleContent handles GET /api/v1/documents/{id}/content
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.Get(r.Context(), logging.UserID(r.Context()), r.PathValue("id"))
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reader, size, err := s.storage.Get(r.Context(), row.BlobName)
	if errors.Is(err, fs.ErrNotExist) {
		s.sendError(w, http.StatusNotFound, "Document content not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", row.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": row.OriginalFileName,
	}))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}

// handleSearch handles POST /api/v1/documents/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req protocol.SearchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.sendError(w, http.StatusBadRequest, "Query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	start := time.Now()
	rows, err := s.store.Search(r.Context(), logging.UserID(r.Context()), query, limit)
	if err != nil {
		logging.WithContext(r.Context()).Error("search failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		return
	}

	results := make([]protocol.SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, protocol.SearchResult{
			Document: s.toDocument(r, row),
			Score:    score(row, query),
		})
	}
	// Rows arrive newest first; the stable sort keeps that order within a score.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	metrics.RecordSearch(len(results) > 0)

	searchID := "search-" + uuid.NewString()
	s.sendJSON(w, http.StatusOK, protocol.SearchResponse{
		Query:            query,
		SearchID:         searchID,
		SearchActivityID: s.recordSearch(r.Context(), searchID, query, results, time.Since(start)),
		Results:          results,
		Count:            len(results),
		ResultsFound:     len(results) > 0,
	})
}

// score ranks where the query matched: display name above file name above
// document text.
func score(row *postgres.DocumentRow, query string) float64 {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(strings.ToLower(row.DisplayName), q):
		return 1.0
	case strings.Contains(strings.ToLower(row.OriginalFileName), q):
		return 0.8
	case strings.Contains(strings.ToLower(row.ExtractedText), q):
		return 0.5
	default:
		return 0
	}
}

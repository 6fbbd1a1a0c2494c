// Package api provides the HTTP server and handlers for the document service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metadata/postgres"
	"github.com/healthdocs/doctracker/internal/metrics"
	"github.com/healthdocs/doctracker/internal/quota"
	"github.com/healthdocs/doctracker/internal/storage"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

// DocumentStore persists document records.
type DocumentStore interface {
	Create(ctx context.Context, d *postgres.DocumentRow) error
	Get(ctx context.Context, userID, id string) (*postgres.DocumentRow, error)
	ListByUser(ctx context.Context, userID, status string, limit int) ([]*postgres.DocumentRow, error)
	ListAll(ctx context.Context, userID, status string, limit int) ([]*postgres.DocumentRow, error)
	Update(ctx context.Context, userID, id string, displayName, status *string) (*postgres.DocumentRow, error)
	Delete(ctx context.Context, userID, id string) error
	Search(ctx context.Context, userID, query string, limit int) ([]*postgres.DocumentRow, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *postgres.UserRow) error
	GetUser(ctx context.Context, id string) (*postgres.UserRow, error)
	GetUserByEmail(ctx context.Context, email string) (*postgres.UserRow, error)
	UpdateUser(ctx context.Context, id string, upd postgres.UserUpdate) (*postgres.UserRow, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, limit int) ([]*postgres.UserRow, error)
}

// ActivityStore persists search activity records.
type ActivityStore interface {
	CreateSearchActivity(ctx context.Context, a *postgres.SearchActivityRow) error
	GetSearchActivity(ctx context.Context, userID, id string) (*postgres.SearchActivityRow, error)
	UpdateSearchActivity(ctx context.Context, userID, id string, upd postgres.SearchActivityUpdate) (*postgres.SearchActivityRow, error)
	ListSearchActivities(ctx context.Context, userID string, limit int) ([]*postgres.SearchActivityRow, error)
	DeleteSearchActivities(ctx context.Context, userID string) (int64, error)
}

// Store is everything the server persists. *postgres.Store satisfies it.
type Store interface {
	DocumentStore
	UserStore
	ActivityStore
}

// Config holds server settings.
type Config struct {
	ServiceName   string
	DefaultUserID string
	MaxUploadSize int64

	// AdminEnabled mounts the /admin/* routes.
	AdminEnabled bool
}

// Server is the document service HTTP server.
type Server struct {
	store   Store
	storage storage.Backend
	limiter *quota.RateLimiter
	cfg     Config
}

// NewServer creates a new server. limiter may be nil for no rate limiting.
func NewServer(store Store, backend storage.Backend, limiter *quota.RateLimiter, cfg Config) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "HealthDocumentTracker"
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 50 << 20
	}
	if limiter == nil {
		limiter = quota.NewRateLimiter(0)
	}
	return &Server{
		store:   store,
		storage: backend,
		limiter: limiter,
		cfg:     cfg,
	}
}

// Handler returns the HTTP handler with logging, identity and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/documents", s.handleList)
	mux.HandleFunc("POST /api/v1/documents", s.handleUpload)
	mux.HandleFunc("POST /api/v1/documents/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/documents/{id}", s.handleGet)
	mux.HandleFunc("PATCH /api/v1/documents/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/v1/documents/{id}/content", s.handleContent)

	mux.HandleFunc("POST /api/v1/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/v1/users/{id}", s.handleGetUser)
	mux.HandleFunc("GET /api/v1/users/email/{email}", s.handleGetUserByEmail)
	mux.HandleFunc("PATCH /api/v1/users/{id}", s.handleUpdateUser)
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.handleDeleteUser)

	mux.HandleFunc("POST /api/v1/search-activities", s.handleCreateActivity)
	mux.HandleFunc("GET /api/v1/search-activities/{id}", s.handleGetActivity)
	mux.HandleFunc("PATCH /api/v1/search-activities/{id}", s.handleUpdateActivity)

	if s.cfg.AdminEnabled {
		mux.HandleFunc("GET /admin/documents", s.handleAdminListDocuments)
		mux.HandleFunc("DELETE /admin/documents", s.handleAdminPurgeDocuments)
		mux.HandleFunc("GET /admin/users", s.handleAdminListUsers)
		mux.HandleFunc("GET /admin/search-activities", s.handleAdminListActivities)
		mux.HandleFunc("DELETE /admin/search-activities", s.handleAdminPurgeActivities)
		mux.HandleFunc("GET /admin/blobs", s.handleAdminListBlobs)
		mux.HandleFunc("DELETE /admin/blobs", s.handleAdminPurgeBlobs)
	}

	return logging.Middleware(s.identityMiddleware(metrics.Middleware(mux)))
}

// identityMiddleware resolves the caller from the X-User-Id header, falling
// back to the default test identity, and applies the per-user rate limit.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(protocol.UserIDHeader)
		if userID == "" {
			userID = s.cfg.DefaultUserID
		}

		if r.URL.Path != "/health" && !s.limiter.Allow(userID) {
			metrics.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter(userID)))
			s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:  "healthy",
		Service: s.cfg.ServiceName,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (s *Server) sendErrorDetails(w http.ResponseWriter, code int, message, details string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

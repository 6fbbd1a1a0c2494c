package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metadata/postgres"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

func toUser(row *postgres.UserRow) protocol.User {
	settings := row.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	return protocol.User{
		ID:        row.ID,
		Email:     row.Email,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Settings:  settings,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// validEmail accepts a bare address, no display name.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// handleCreateUser handles POST /api/v1/users
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context())

	var req protocol.CreateUserRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	switch {
	case !validEmail(req.Email):
		s.sendErrorDetails(w, http.StatusBadRequest, "Invalid user data", "email must be a valid address")
		return
	case req.FirstName == "" || req.LastName == "":
		s.sendErrorDetails(w, http.StatusBadRequest, "Invalid user data", "firstName and lastName are required")
		return
	}

	row := &postgres.UserRow{
		ID:        "user-" + uuid.NewString(),
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	err := s.store.CreateUser(r.Context(), row)
	if errors.Is(err, postgres.ErrConflict) {
		log.Warn("duplicate user email", zap.String("email", req.Email))
		s.sendError(w, http.StatusConflict, "User with this email already exists")
		return
	}
	if err != nil {
		log.Error("create user failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to create user: "+err.Error())
		return
	}

	log.Info("user created", zap.String("user_id", row.ID))
	s.sendJSON(w, http.StatusCreated, protocol.UserResponse{
		Message: "User created successfully",
		User:    toUser(row),
	})
}

// handleGetUser handles GET /api/v1/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	s.sendUser(w, row, err)
}

// handleGetUserByEmail handles GET /api/v1/users/email/{email}
func (s *Server) handleGetUserByEmail(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetUserByEmail(r.Context(), r.PathValue("email"))
	s.sendUser(w, row, err)
}

func (s *Server) sendUser(w http.ResponseWriter, row *postgres.UserRow, err error) {
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to retrieve user: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.UserResponse{User: toUser(row)})
}

// handleUpdateUser handles PATCH /api/v1/users/{id}
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateUserRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Email == nil && req.FirstName == nil && req.LastName == nil && req.Settings == nil {
		s.sendError(w, http.StatusBadRequest, "At least one field must be provided for update")
		return
	}
	if req.Email != nil && !validEmail(*req.Email) {
		s.sendErrorDetails(w, http.StatusBadRequest, "Invalid update data", "email must be a valid address")
		return
	}
	for _, name := range []*string{req.FirstName, req.LastName} {
		if name != nil && strings.TrimSpace(*name) == "" {
			s.sendErrorDetails(w, http.StatusBadRequest, "Invalid update data", "names must not be empty")
			return
		}
	}

	id := r.PathValue("id")
	row, err := s.store.UpdateUser(r.Context(), id, postgres.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Settings:  req.Settings,
	})
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, postgres.ErrConflict):
		s.sendError(w, http.StatusConflict, "User with this email already exists")
		return
	case err != nil:
		s.sendError(w, http.StatusInternalServerError, "Failed to update user: "+err.Error())
		return
	}

	logging.WithContext(r.Context()).Info("user updated", zap.String("user_id", id))
	s.sendJSON(w, http.StatusOK, protocol.UserResponse{
		Message: "User updated successfully",
		User:    toUser(row),
	})
}

// handleDeleteUser handles DELETE /api/v1/users/{id}
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteUser(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to delete user: "+err.Error())
		return
	}

	logging.WithContext(r.Context()).Info("user deleted", zap.String("user_id", id))
	s.sendJSON(w, http.StatusOK, protocol.DeleteUserResponse{
		Message: "User deleted successfully",
		UserID:  id,
	})
}

package protocol

import "time"

// User is an account record.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CreateUserRequest is the body for POST /api/v1/users.
type CreateUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UpdateUserRequest is the body for PATCH /api/v1/users/{id}. Absent fields
// are left unchanged; settings replace the stored object.
type UpdateUserRequest struct {
	Email     *string        `json:"email,omitempty"`
	FirstName *string        `json:"firstName,omitempty"`
	LastName  *string        `json:"lastName,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
}

// UserResponse wraps a single user.
type UserResponse struct {
	Message string `json:"message,omitempty"`
	User    User   `json:"user"`
}

// DeleteUserResponse is returned by DELETE /api/v1/users/{id}.
type DeleteUserResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// UserListResponse is returned by GET /admin/users.
type UserListResponse struct {
	Users []User `json:"users"`
	Count int    `json:"count"`
}

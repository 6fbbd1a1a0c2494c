// Package protocol defines the API request/response types.
package protocol

import "time"

// Document status values.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// UserIDHeader carries the caller identity on every API request.
const UserIDHeader = "X-User-Id"

// Document is a user's uploaded document as returned by the API.
type Document struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	DisplayName      string    `json:"displayName"`
	OriginalFileName string    `json:"originalFileName"`
	ContentType      string    `json:"contentType"`
	FileSize         int64     `json:"fileSize"`
	BlobName         string    `json:"blobName,omitempty"`
	URL              string    `json:"url,omitempty"`
	Status           string    `json:"status"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ListResponse is returned by GET /api/v1/documents.
type ListResponse struct {
	Documents []Document `json:"documents"`
	Count     int        `json:"count"`
	UserID    string     `json:"userId"`
}

// UploadResponse is returned by POST /api/v1/documents.
type UploadResponse struct {
	Message  string   `json:"message"`
	Document Document `json:"document"`
}

// UpdateRequest is the body for PATCH /api/v1/documents/{id}.
type UpdateRequest struct {
	DisplayName *string `json:"displayName,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// UpdateResponse is returned by PATCH /api/v1/documents/{id}.
type UpdateResponse struct {
	Message  string   `json:"message"`
	Document Document `json:"document"`
}

// DeleteResponse is returned by DELETE /api/v1/documents/{id}.
// A 207 status carries Warning and Errors for a partial deletion.
type DeleteResponse struct {
	Message       string   `json:"message"`
	DocumentID    string   `json:"document_id"`
	BlobDeleted   bool     `json:"blob_deleted"`
	RecordDeleted bool     `json:"record_deleted"`
	Warning       string   `json:"warning,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// SearchRequest is the body for POST /api/v1/documents/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is a single search hit.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// SearchResponse is returned by POST /api/v1/documents/search.
type SearchResponse struct {
	Query            string         `json:"query"`
	SearchID         string         `json:"searchId,omitempty"`
	SearchActivityID string         `json:"searchActivityId,omitempty"`
	Results          []SearchResult `json:"results"`
	Count            int            `json:"count"`
	ResultsFound     bool           `json:"resultsFound"`
}

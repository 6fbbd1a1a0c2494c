package protocol

import "time"

// AdminDocumentsResponse is returned by GET /admin/documents.
type AdminDocumentsResponse struct {
	Documents []Document `json:"documents"`
	Count     int        `json:"count"`
	UserID    string     `json:"userId,omitempty"`
}

// PurgeResponse reports a bulk deletion. A 207 status means some items
// could not be removed; Errors says which.
type PurgeResponse struct {
	Message        string   `json:"message"`
	UserID         string   `json:"userId,omitempty"`
	Deleted        int      `json:"deleted"`
	RecordsDeleted int      `json:"records_deleted"`
	BlobsDeleted   int      `json:"blobs_deleted"`
	Warning        string   `json:"warning,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// Blob describes a stored object.
type Blob struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobListResponse is returned by GET /admin/blobs.
type BlobListResponse struct {
	Blobs   []Blob `json:"blobs"`
	Count   int    `json:"count"`
	Backend string `json:"backend"`
}

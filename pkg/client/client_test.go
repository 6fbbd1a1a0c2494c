package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/healthdocs/doctracker/pkg/protocol"
	"github.com/healthdocs/doctracker/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		UserID:  "user-test",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func TestListDocuments_Success(t *testing.T) {
	var gotUser, gotPath string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(protocol.UserIDHeader)
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, protocol.ListResponse{
			Documents: []protocol.Document{{ID: "a"}, {ID: "b"}},
			Count:     2,
			UserID:    "user-test",
		})
	}))
	defer ts.Close()

	resp, err := c.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "user-test" {
		t.Errorf("expected identity header user-test, got %q", gotUser)
	}
	if gotPath != "/api/v1/documents" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if resp.Count != 2 || len(resp.Documents) != 2 || resp.Documents[0].ID != "a" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestListDocuments_EmptyBodyYieldsEmptySlice(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"count": 0, "userId": "user-test"})
	}))
	defer ts.Close()

	resp, err := c.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Documents == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestListDocumentsWithOptions_Query(t *testing.T) {
	var gotQuery string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, protocol.ListResponse{})
	}))
	defer ts.Close()

	if _, err := c.ListDocumentsWithOptions(context.Background(), ListOptions{Limit: 5, Status: "deleted"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "limit=5&status=deleted" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}

func TestListDocuments_ServerError_Retry(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, protocol.ListResponse{})
	}))
	defer ts.Close()

	if _, err := c.ListDocuments(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if !c.IsOnline() {
		t.Error("client should be online after a successful attempt")
	}
}

func TestListDocuments_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{
			Error: "limit must be between 1 and 1000",
			Code:  http.StatusBadRequest,
		})
	}))
	defer ts.Close()

	_, err := c.ListDocuments(context.Background())
	ae, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if ae.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", ae.Status)
	}
	if !strings.Contains(ae.Error(), "limit must be between 1 and 1000") {
		t.Errorf("expected server message in error, got %q", ae.Error())
	}
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts.Load())
	}
}

func TestListDocuments_MalformedBody(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "{not json")
	}))
	defer ts.Close()

	_, err := c.ListDocuments(context.Background())
	if err == nil || !strings.Contains(err.Error(), "malformed response body") {
		t.Fatalf("expected malformed body error, got %v", err)
	}
}

func TestListDocuments_Offline(t *testing.T) {
	c, ts := testClient(http.NotFoundHandler())
	ts.Close()

	_, err := c.ListDocuments(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if c.IsOnline() {
		t.Error("client should be offline after transport failure")
	}
}

func TestUploadDocument_Multipart(t *testing.T) {
	var gotName, gotType, gotBody string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBody = string(data)
		writeJSON(w, http.StatusCreated, protocol.UploadResponse{
			Message:  "File uploaded successfully",
			Document: protocol.Document{ID: "doc-1", DisplayName: "labs"},
		})
	}))
	defer ts.Close()

	doc, err := c.UploadDocument(context.Background(), "labs.pdf", "application/pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != "doc-1" {
		t.Errorf("expected doc-1, got %s", doc.ID)
	}
	if gotName != "labs.pdf" || gotType != "application/pdf" || gotBody != "%PDF" {
		t.Errorf("unexpected upload: name=%q type=%q body=%q", gotName, gotType, gotBody)
	}
}

func TestUploadDocument_RetryResendsBody(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("attempt %d: FormFile: %v", attempts.Load()+1, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		file.Close()
		if string(data) != "hello" {
			t.Errorf("attempt %d: body %q", attempts.Load()+1, data)
		}
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusCreated, protocol.UploadResponse{Document: protocol.Document{ID: "doc-2"}})
	}))
	defer ts.Close()

	doc, err := c.UploadDocument(context.Background(), "note.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != "doc-2" || attempts.Load() != 2 {
		t.Errorf("expected doc-2 after 2 attempts, got %s after %d", doc.ID, attempts.Load())
	}
}

func TestDeleteDocument(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr bool
	}{
		{"deleted", http.StatusOK, protocol.DeleteResponse{DocumentID: "d", BlobDeleted: true, RecordDeleted: true}, false},
		{"already gone", http.StatusNotFound, protocol.ErrorResponse{Error: "Document not found"}, false},
		{"partial", http.StatusMultiStatus, protocol.DeleteResponse{
			Warning: "Document was deleted from some services but not all",
			Errors:  []string{"blob: timeout"},
		}, true},
		{"forbidden", http.StatusForbidden, protocol.ErrorResponse{Error: "nope"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotPath string
			c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod, gotPath = r.Method, r.URL.Path
				writeJSON(w, tt.status, tt.body)
			}))
			defer ts.Close()

			err := c.DeleteDocument(context.Background(), "doc-9")
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if gotMethod != http.MethodDelete || gotPath != "/api/v1/documents/doc-9" {
				t.Errorf("unexpected request %s %s", gotMethod, gotPath)
			}
		})
	}
}

func TestRenameDocument(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DisplayName == nil {
			t.Errorf("bad body: %v", err)
		}
		writeJSON(w, http.StatusOK, protocol.UpdateResponse{
			Message:  "Document updated successfully",
			Document: protocol.Document{ID: "doc-1", DisplayName: *req.DisplayName},
		})
	}))
	defer ts.Close()

	doc, err := c.RenameDocument(context.Background(), "doc-1", "Iron panel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.DisplayName != "Iron panel" {
		t.Errorf("expected renamed document, got %q", doc.DisplayName)
	}
}

func TestSearch(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.SearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, protocol.SearchResponse{
			Query:        req.Query,
			Results:      []protocol.SearchResult{{Document: protocol.Document{ID: "doc-1"}, Score: 1}},
			Count:        1,
			ResultsFound: true,
		})
	}))
	defer ts.Close()

	resp, err := c.Search(context.Background(), "iron", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Query != "iron" || resp.Count != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestPing(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, protocol.HealthResponse{Status: "healthy", Service: "HealthDocumentTracker"})
	}))
	defer ts.Close()

	health, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %q", health.Status)
	}
	if c.LastContact().IsZero() {
		t.Error("expected last contact to be recorded")
	}
}

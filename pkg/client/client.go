// Package client provides the HTTP client for the document service, with
// retry, online tracking and the caller identity header.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/pkg/protocol"
	"github.com/healthdocs/doctracker/pkg/retry"
)

// ErrOffline is returned when the server is offline.
var ErrOffline = errors.New("server is offline")

// APIError is a non-2xx response from the document service.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Message, e.Status, e.Details)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.Status == http.StatusNotFound
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	UserID      string
	Timeout     time.Duration
	RetryConfig retry.Config
	HTTPClient  *http.Client
}

// Client talks to the document service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	log         *zap.Logger

	mu       sync.RWMutex
	userID   string
	online   bool
	lastPing time.Time
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		retryConfig: cfg.RetryConfig,
		log:         logging.Named("client"),
		userID:      cfg.UserID,
		online:      true,
	}
}

// SetUserID changes the identity sent with every request.
func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// UserID returns the identity sent with every request.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsOnline returns true if the server was reachable on the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// LastContact returns when the server last answered or failed to.
func (c *Client) LastContact() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.log.Info("server is back online")
		} else {
			c.log.Warn("server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) (*protocol.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return nil, fmt.Errorf("health check: server returned %d", resp.StatusCode)
	}
	c.setOnline(true)

	var health protocol.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}

// request describes one API call. body is produced per attempt so retries
// resend the full payload.
type request struct {
	method      string
	path        string
	query       url.Values
	contentType string
	body        func() (io.Reader, error)
	accept      []int
	op          string
}

// do performs the request with retries and decodes a JSON response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		var body io.Reader
		if r.body != nil {
			b, err := r.body()
			if err != nil {
				return err
			}
			body = b
		}

		u := c.baseURL + r.path
		if len(r.query) > 0 {
			u += "?" + r.query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, r.method, u, body)
		if err != nil {
			return err
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		req.Header.Set("Accept", "application/json")
		if id := c.UserID(); id != "" {
			req.Header.Set(protocol.UserIDHeader, id)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.setOnline(false)
			return retry.Retryable(fmt.Errorf("%s: %w: %v", r.op, ErrOffline, err))
		}
		defer resp.Body.Close()

		if !accepted(resp.StatusCode, r.accept) {
			apiErr := decodeAPIError(resp, r.op)
			if resp.StatusCode >= 500 {
				c.setOnline(false)
			} else {
				c.setOnline(true)
			}
			if retry.RetryableStatus(resp.StatusCode) {
				return retry.Retryable(apiErr)
			}
			return apiErr
		}
		c.setOnline(true)

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: malformed response body: %w", r.op, err)
		}
		return nil
	})
}

func accepted(code int, accept []int) bool {
	if len(accept) == 0 {
		return code == http.StatusOK
	}
	for _, a := range accept {
		if a == code {
			return true
		}
	}
	return false
}

func decodeAPIError(resp *http.Response, op string) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: op + " failed"}
	var errResp protocol.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		apiErr.Message = op + ": " + errResp.Error
		apiErr.Details = errResp.Details
	}
	return apiErr
}

// ListOptions filters a document listing. Zero values use the server
// defaults (100 documents, status "active").
type ListOptions struct {
	Limit  int
	Status string
}

// ListDocuments fetches the current user's active documents, newest first.
// It is the Document Listing Service consumed by the document cache.
func (c *Client) ListDocuments(ctx context.Context) (*protocol.ListResponse, error) {
	return c.ListDocumentsWithOptions(ctx, ListOptions{})
}

// ListDocumentsWithOptions fetches a filtered listing.
func (c *Client) ListDocumentsWithOptions(ctx context.Context, opts ListOptions) (*protocol.ListResponse, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}

	var resp protocol.ListResponse
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/v1/documents",
		query:  q,
		op:     "list documents",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Documents == nil {
		resp.Documents = []protocol.Document{}
	}
	return &resp, nil
}

// GetDocument fetches a single document.
func (c *Client) GetDocument(ctx context.Context, id string) (*protocol.Document, error) {
	var doc protocol.Document
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/v1/documents/" + url.PathEscape(id),
		op:     "get document",
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UploadDocument uploads a file as multipart form data and returns the
// created document. The content is buffered so a retried attempt can resend it.
func (c *Client) UploadDocument(ctx context.Context, fileName, contentType string, content io.Reader) (*protocol.Document, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("read upload content: %w", err)
	}

	body, formContentType, err := multipartFile(fileName, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("build upload body: %w", err)
	}

	var resp protocol.UploadResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v1/documents",
		contentType: formContentType,
		body:        func() (io.Reader, error) { return bytes.NewReader(body), nil },
		accept:      []int{http.StatusCreated, http.StatusOK},
		op:          "upload",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Document, nil
}

// multipartFile encodes data as the "file" field of a form. The returned
// content type carries the boundary used in the body.
func multipartFile(fileName, contentType string, data []byte) ([]byte, string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// RenameDocument changes a document's display name.
func (c *Client) RenameDocument(ctx context.Context, id, displayName string) (*protocol.Document, error) {
	payload, err := json.Marshal(protocol.UpdateRequest{DisplayName: &displayName})
	if err != nil {
		return nil, err
	}

	var resp protocol.UpdateResponse
	err = c.do(ctx, request{
		method:      http.MethodPatch,
		path:        "/api/v1/documents/" + url.PathEscape(id),
		contentType: "application/json",
		body:        func() (io.Reader, error) { return bytes.NewReader(payload), nil },
		op:          "rename",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Document, nil
}

// DeleteDocument deletes a document. A document that is already gone counts
// as deleted. A partial deletion (207) is reported as an error carrying the
// server's warning.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	var resp protocol.DeleteResponse
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/api/v1/documents/" + url.PathEscape(id),
		accept: []int{http.StatusOK, http.StatusMultiStatus},
		op:     "delete",
	}, &resp)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return &APIError{
			Status:  http.StatusMultiStatus,
			Message: "delete: " + resp.Warning,
			Details: strings.Join(resp.Errors, "; "),
		}
	}
	return nil
}

// Search runs a text search over the user's documents.
func (c *Client) Search(ctx context.Context, query string, limit int) (*protocol.SearchResponse, error) {
	payload, err := json.Marshal(protocol.SearchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}

	var resp protocol.SearchResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v1/documents/search",
		contentType: "application/json",
		body:        func() (io.Reader, error) { return bytes.NewReader(payload), nil },
		op:          "search",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSearchActivity records how the user engaged with a search result
// set, using the activity id returned by Search.
func (c *Client) UpdateSearchActivity(ctx context.Context, id string, upd protocol.UpdateSearchActivityRequest) (*protocol.SearchActivity, error) {
	payload, err := json.Marshal(upd)
	if err != nil {
		return nil, err
	}

	var resp protocol.SearchActivityResponse
	err = c.do(ctx, request{
		method:      http.MethodPatch,
		path:        "/api/v1/search-activities/" + url.PathEscape(id),
		contentType: "application/json",
		body:        func() (io.Reader, error) { return bytes.NewReader(payload), nil },
		op:          "update search activity",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.SearchActivity, nil
}

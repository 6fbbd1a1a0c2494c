// Package postgres provides a PostgreSQL-backed document store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/internal/metrics"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("already exists")
)

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// DocumentRow maps to the documents table.
type DocumentRow struct {
	ID               string
	UserID           string
	DisplayName      string
	OriginalFileName string
	ContentType      string
	FileSize         int64
	BlobName         string
	Status           string
	ExtractedText    string
	UploadedAt       time.Time
}

// Store is a PostgreSQL document store.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL document store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files in name order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

const documentColumns = `id, user_id, display_name, original_file_name, content_type,
	file_size, blob_name, status, extracted_text, uploaded_at`

func scanDocument(row interface{ Scan(...any) error }) (*DocumentRow, error) {
	var d DocumentRow
	if err := row.Scan(&d.ID, &d.UserID, &d.DisplayName, &d.OriginalFileName,
		&d.ContentType, &d.FileSize, &d.BlobName, &d.Status, &d.ExtractedText,
		&d.UploadedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a document record.
func (s *Store) Create(ctx context.Context, d *DocumentRow) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_document", time.Since(start)) }()

	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.DisplayName, d.OriginalFileName, d.ContentType,
		d.FileSize, d.BlobName, d.Status, d.ExtractedText, d.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

// Get returns a document owned by userID.
func (s *Store) Get(ctx context.Context, userID, id string) (*DocumentRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_document", time.Since(start)) }()

	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, nil
}

// ListByUser returns a user's documents with the given status, newest first.
func (s *Store) ListByUser(ctx context.Context, userID, status string, limit int) ([]*DocumentRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_documents", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE user_id = $1 AND status = $2
		 ORDER BY uploaded_at DESC
		 LIMIT $3`, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return collect(rows)
}

// ListAll returns documents across users, newest first. An empty userID or
// status matches any, and limit <= 0 means no limit.
func (s *Store) ListAll(ctx context.Context, userID, status string, limit int) ([]*DocumentRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_all_documents", time.Since(start)) }()

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY uploaded_at DESC
		 LIMIT $3`, userID, status, lim)
	if err != nil {
		return nil, fmt.Errorf("query all documents: %w", err)
	}
	return collect(rows)
}

// Update changes the display name and/or status of a document. Nil fields
// are left unchanged.
func (s *Store) Update(ctx context.Context, userID, id string, displayName, status *string) (*DocumentRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_document", time.Since(start)) }()

	d, err := scanDocument(s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET display_name = COALESCE($3, display_name),
		    status = COALESCE($4, status),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+documentColumns, id, userID, displayName, status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update document %s: %w", id, err)
	}
	return d, nil
}

// Delete removes a document record.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_document", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns a user's active documents whose name or stored text contains
// query, case-insensitively, newest first.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]*DocumentRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search_documents", time.Since(start)) }()

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE user_id = $1 AND status = 'active'
		   AND (display_name ILIKE $2 OR original_file_name ILIKE $2 OR extracted_text ILIKE $2)
		 ORDER BY uploaded_at DESC
		 LIMIT $3`, userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*DocumentRow, error) {
	defer rows.Close()
	var docs []*DocumentRow
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return docs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE wildcards so query matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

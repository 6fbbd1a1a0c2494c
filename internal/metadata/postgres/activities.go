package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/healthdocs/doctracker/internal/metrics"
)

// SearchActivityRow maps to the search_activities table. Nullable metrics
// are pointers.
type SearchActivityRow struct {
	ID                         string
	UserID                     string
	SearchID                   string
	OriginalQuery              string
	SearchPhrases              []string
	SearchFilters              map[string]any
	ResultsFound               bool
	ResultsDocumentIDs         []string
	ResultNumDocuments         int
	TopResultScore             *float64
	TotalResultsReturned       int
	UserOpenedDocument         *bool
	DocumentOpenedIDs          []string
	TimeToClickFirstDocumentMs *int64
	WasAnswerHelpful           *bool
	DeviceType                 string
	AppVersion                 string
	SearchDurationMs           *int64
	CreatedAt                  time.Time
}

// SearchActivityUpdate records how the user engaged with a search. Nil
// fields are left unchanged.
type SearchActivityUpdate struct {
	UserOpenedDocument         *bool
	DocumentOpenedIDs          []string
	TimeToClickFirstDocumentMs *int64
	WasAnswerHelpful           *bool
}

type refinedQuery struct {
	SearchPhrases []string       `json:"search_phrases"`
	SearchFilters map[string]any `json:"search_filters"`
}

const activityColumns = `id, user_id, search_id, original_query, refined_query,
	results_found, results_document_ids, result_num_documents, top_result_score,
	total_results_returned, user_opened_document, document_opened_ids,
	time_to_click_first_document_ms, was_answer_helpful, device_type,
	app_version, search_duration_ms, created_at`

func scanActivity(row interface{ Scan(...any) error }) (*SearchActivityRow, error) {
	var a SearchActivityRow
	var refined []byte
	var score sql.NullFloat64
	var opened, helpful sql.NullBool
	var clickMs, durationMs sql.NullInt64
	if err := row.Scan(&a.ID, &a.UserID, &a.SearchID, &a.OriginalQuery, &refined,
		&a.ResultsFound, pq.Array(&a.ResultsDocumentIDs), &a.ResultNumDocuments, &score,
		&a.TotalResultsReturned, &opened, pq.Array(&a.DocumentOpenedIDs),
		&clickMs, &helpful, &a.DeviceType,
		&a.AppVersion, &durationMs, &a.CreatedAt); err != nil {
		return nil, err
	}

	var rq refinedQuery
	if err := json.Unmarshal(refined, &rq); err != nil {
		return nil, fmt.Errorf("decode refined query: %w", err)
	}
	a.SearchPhrases = rq.SearchPhrases
	a.SearchFilters = rq.SearchFilters
	if score.Valid {
		a.TopResultScore = &score.Float64
	}
	if opened.Valid {
		a.UserOpenedDocument = &opened.Bool
	}
	if helpful.Valid {
		a.WasAnswerHelpful = &helpful.Bool
	}
	if clickMs.Valid {
		a.TimeToClickFirstDocumentMs = &clickMs.Int64
	}
	if durationMs.Valid {
		a.SearchDurationMs = &durationMs.Int64
	}
	return &a, nil
}

// CreateSearchActivity inserts a search activity record.
func (s *Store) CreateSearchActivity(ctx context.Context, a *SearchActivityRow) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_search_activity", time.Since(start)) }()

	refined, err := json.Marshal(refinedQuery{SearchPhrases: a.SearchPhrases, SearchFilters: a.SearchFilters})
	if err != nil {
		return fmt.Errorf("encode refined query: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.ResultsDocumentIDs == nil {
		a.ResultsDocumentIDs = []string{}
	}
	if a.DocumentOpenedIDs == nil {
		a.DocumentOpenedIDs = []string{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_activities (`+activityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.UserID, a.SearchID, a.OriginalQuery, string(refined),
		a.ResultsFound, pq.Array(a.ResultsDocumentIDs), a.ResultNumDocuments, a.TopResultScore,
		a.TotalResultsReturned, a.UserOpenedDocument, pq.Array(a.DocumentOpenedIDs),
		a.TimeToClickFirstDocumentMs, a.WasAnswerHelpful, a.DeviceType,
		a.AppVersion, a.SearchDurationMs, a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert search activity %s: %w", a.ID, err)
	}
	return nil
}

// GetSearchActivity returns an activity owned by userID.
func (s *Store) GetSearchActivity(ctx context.Context, userID, id string) (*SearchActivityRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_search_activity", time.Since(start)) }()

	a, err := scanActivity(s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM search_activities WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get search activity %s: %w", id, err)
	}
	return a, nil
}

// UpdateSearchActivity records engagement on an activity owned by userID.
func (s *Store) UpdateSearchActivity(ctx context.Context, userID, id string, upd SearchActivityUpdate) (*SearchActivityRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_search_activity", time.Since(start)) }()

	var openedIDs any
	if upd.DocumentOpenedIDs != nil {
		openedIDs = pq.Array(upd.DocumentOpenedIDs)
	}
	a, err := scanActivity(s.db.QueryRowContext(ctx, `
		UPDATE search_activities
		SET user_opened_document = COALESCE($3, user_opened_document),
		    document_opened_ids = COALESCE($4, document_opened_ids),
		    time_to_click_first_document_ms = COALESCE($5, time_to_click_first_document_ms),
		    was_answer_helpful = COALESCE($6, was_answer_helpful)
		WHERE id = $1 AND user_id = $2
		RETURNING `+activityColumns,
		id, userID, upd.UserOpenedDocument, openedIDs, upd.TimeToClickFirstDocumentMs, upd.WasAnswerHelpful))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update search activity %s: %w", id, err)
	}
	return a, nil
}

// ListSearchActivities returns activities newest first. An empty userID
// matches every user.
func (s *Store) ListSearchActivities(ctx context.Context, userID string, limit int) ([]*SearchActivityRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_search_activities", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM search_activities
		 WHERE ($1 = '' OR user_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query search activities: %w", err)
	}
	defer rows.Close()

	var out []*SearchActivityRow
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// DeleteSearchActivities removes activities and returns how many went. An
// empty userID deletes every user's activities.
func (s *Store) DeleteSearchActivities(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_search_activities", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM search_activities WHERE ($1 = '' OR user_id = $1)`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete search activities: %w", err)
	}
	return res.RowsAffected()
}

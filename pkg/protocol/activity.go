package protocol

import "time"

// RefinedQuery is the structured form of a search query.
type RefinedQuery struct {
	SearchPhrases []string       `json:"search_phrases"`
	SearchFilters map[string]any `json:"search_filters"`
}

// SearchActivity records one search and how the user engaged with it.
type SearchActivity struct {
	ID                         string       `json:"id"`
	UserID                     string       `json:"userId"`
	SearchID                   string       `json:"searchId"`
	OriginalQuery              string       `json:"originalQuery"`
	RefinedQuery               RefinedQuery `json:"refinedQuery"`
	Timestamp                  time.Time    `json:"timestamp"`
	ResultsFound               bool         `json:"resultsFound"`
	ResultsDocumentIDs         []string     `json:"resultsDocumentIds"`
	ResultNumDocuments         int          `json:"resultNumDocuments"`
	TopResultScore             *float64     `json:"topResultScore"`
	TotalResultsReturned       int          `json:"totalResultsReturned"`
	UserOpenedDocument         *bool        `json:"userOpenedDocument"`
	DocumentOpenedIDs          []string     `json:"documentOpenedIds"`
	TimeToClickFirstDocumentMs *int64       `json:"timeToClickFirstDocumentMs"`
	WasAnswerHelpful           *bool        `json:"wasAnswerHelpful"`
	DeviceType                 string       `json:"deviceType,omitempty"`
	AppVersion                 string       `json:"appVersion,omitempty"`
	SearchDurationMs           *int64       `json:"searchDurationMs"`
}

// CreateSearchActivityRequest is the body for POST /api/v1/search-activities.
// SearchID, OriginalQuery, RefinedQuery and ResultsFound are required.
type CreateSearchActivityRequest struct {
	SearchID             string        `json:"searchId"`
	OriginalQuery        string        `json:"originalQuery"`
	RefinedQuery         *RefinedQuery `json:"refinedQuery"`
	ResultsFound         *bool         `json:"resultsFound"`
	ResultsDocumentIDs   []string      `json:"resultsDocumentIds,omitempty"`
	ResultNumDocuments   int           `json:"resultNumDocuments,omitempty"`
	TopResultScore       *float64      `json:"topResultScore,omitempty"`
	TotalResultsReturned int           `json:"totalResultsReturned,omitempty"`
	DeviceType           string        `json:"deviceType,omitempty"`
	AppVersion           string        `json:"appVersion,omitempty"`
	SearchDurationMs     *int64        `json:"searchDurationMs,omitempty"`
}

// UpdateSearchActivityRequest is the body for
// PATCH /api/v1/search-activities/{id}.
type UpdateSearchActivityRequest struct {
	UserOpenedDocument         *bool    `json:"userOpenedDocument,omitempty"`
	DocumentOpenedIDs          []string `json:"documentOpenedIds,omitempty"`
	TimeToClickFirstDocumentMs *int64   `json:"timeToClickFirstDocumentMs,omitempty"`
	WasAnswerHelpful           *bool    `json:"wasAnswerHelpful,omitempty"`
}

// SearchActivityResponse wraps a single activity.
type SearchActivityResponse struct {
	Message        string         `json:"message,omitempty"`
	SearchActivity SearchActivity `json:"searchActivity"`
}

// SearchActivityListResponse is returned by GET /admin/search-activities.
type SearchActivityListResponse struct {
	SearchActivities []SearchActivity `json:"searchActivities"`
	Count            int              `json:"count"`
}

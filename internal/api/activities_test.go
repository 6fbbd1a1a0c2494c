package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/healthdocs/doctracker/pkg/protocol"
)

const activityBody = `{
	"searchId": "search-1",
	"originalQuery": "iron levels",
	"refinedQuery": {"search_phrases": ["iron"], "search_filters": {"year": 2024}},
	"resultsFound": true,
	"resultsDocumentIds": ["doc-1"],
	"resultNumDocuments": 1,
	"topResultScore": 0.8,
	"deviceType": "ios"
}`

func (e *testEnv) createActivity(t *testing.T, user, body string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/search-activities", user, strings.NewReader(body), "application/json")
}

func TestActivities_CreateGetUpdate(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.createActivity(t, "alice", activityBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var created protocol.SearchActivityResponse
	decode(t, resp, &created)
	a := created.SearchActivity
	if a.UserID != "alice" || a.SearchID != "search-1" || !a.ResultsFound {
		t.Fatalf("unexpected activity %+v", a)
	}
	if len(a.RefinedQuery.SearchPhrases) != 1 || a.RefinedQuery.SearchFilters["year"] != float64(2024) {
		t.Errorf("refined query not kept: %+v", a.RefinedQuery)
	}
	if a.UserOpenedDocument != nil || a.WasAnswerHelpful != nil {
		t.Errorf("engagement should start unset: %+v", a)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/search-activities/"+a.ID, "alice", nil, "")
	var got protocol.SearchActivity
	decode(t, resp, &got)
	if got.ID != a.ID || got.OriginalQuery != "iron levels" {
		t.Errorf("get returned %+v", got)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/search-activities/"+a.ID, "bob", nil, "")
	expectError(t, resp, http.StatusNotFound, "Search activity not found")

	resp = env.do(t, http.MethodPatch, "/api/v1/search-activities/"+a.ID, "alice",
		strings.NewReader(`{"userOpenedDocument":true,"documentOpenedIds":["doc-1"],"timeToClickFirstDocumentMs":1200}`),
		"application/json")
	var updated protocol.SearchActivityResponse
	decode(t, resp, &updated)
	u := updated.SearchActivity
	if resp.StatusCode != http.StatusOK || u.UserOpenedDocument == nil || !*u.UserOpenedDocument {
		t.Fatalf("update: %d %+v", resp.StatusCode, u)
	}
	if u.TimeToClickFirstDocumentMs == nil || *u.TimeToClickFirstDocumentMs != 1200 {
		t.Errorf("click time = %v", u.TimeToClickFirstDocumentMs)
	}
	if u.WasAnswerHelpful != nil {
		t.Error("untouched fields should stay unset")
	}

	resp = env.do(t, http.MethodPatch, "/api/v1/search-activities/"+a.ID, "bob",
		strings.NewReader(`{"wasAnswerHelpful":false}`), "application/json")
	expectError(t, resp, http.StatusNotFound, "Search activity not found")
}

func TestActivities_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name    string
		body    string
		missing string
	}{
		{"search id", `{"originalQuery":"q","refinedQuery":{},"resultsFound":false}`, "searchId"},
		{"query", `{"searchId":"s","refinedQuery":{},"resultsFound":false}`, "originalQuery"},
		{"refined", `{"searchId":"s","originalQuery":"q","resultsFound":false}`, "refinedQuery"},
		{"results found", `{"searchId":"s","originalQuery":"q","refinedQuery":{}}`, "resultsFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.createActivity(t, "alice", tt.body), http.StatusBadRequest,
				"Missing required field: "+tt.missing)
		})
	}

	var created protocol.SearchActivityResponse
	decode(t, env.createActivity(t, "alice", activityBody), &created)
	for _, body := range []string{`{}`, `{"timeToClickFirstDocumentMs":-5}`, `nope`} {
		resp := env.do(t, http.MethodPatch, "/api/v1/search-activities/"+created.SearchActivity.ID, "alice",
			strings.NewReader(body), "application/json")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("PATCH %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestSearch_ActivityFailureDoesNotFailSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustUpload(t, "alice", "iron.pdf", "x")
	env.store.mu.Lock()
	env.store.failActivity = errors.New("disk full")
	env.store.mu.Unlock()

	resp := env.do(t, http.MethodPost, "/api/v1/documents/search", "alice",
		strings.NewReader(`{"query":"iron"}`), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var sr protocol.SearchResponse
	decode(t, resp, &sr)
	if sr.Count != 1 || sr.SearchID == "" || sr.SearchActivityID != "" {
		t.Errorf("unexpected response %+v", sr)
	}
	if n, _ := env.store.DeleteSearchActivities(context.Background(), ""); n != 0 {
		t.Errorf("no activity should be stored, found %d", n)
	}
}

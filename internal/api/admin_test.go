package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/healthdocs/doctracker/internal/storage/local"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

func TestAdmin_RoutesHiddenByDefault(t *testing.T) {
	blobs, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(newMemStore(), blobs, nil, Config{DefaultUserID: "u"})

	for _, path := range []string{"/admin/documents", "/admin/users", "/admin/search-activities", "/admin/blobs"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404 with admin disabled, got %d", path, rec.Code)
		}
	}
}

func TestAdmin_ListDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustUpload(t, "alice", "a.pdf", "a")
	doc := env.mustUpload(t, "bob", "b.pdf", "b")
	env.store.Update(context.Background(), "bob", doc.ID, nil, ptr(protocol.StatusDeleted))

	var list protocol.AdminDocumentsResponse
	decode(t, env.do(t, http.MethodGet, "/admin/documents", "", nil, ""), &list)
	if list.Count != 1 {
		t.Errorf("default lists active documents across users, got %d", list.Count)
	}

	decode(t, env.do(t, http.MethodGet, "/admin/documents?status=all", "", nil, ""), &list)
	if list.Count != 2 {
		t.Errorf("status=all should list every document, got %d", list.Count)
	}

	decode(t, env.do(t, http.MethodGet, "/admin/documents?userId=bob&status=deleted", "", nil, ""), &list)
	if list.Count != 1 || list.UserID != "bob" || list.Documents[0].ID != doc.ID {
		t.Errorf("filtered list = %+v", list)
	}

	resp := env.do(t, http.MethodGet, "/admin/documents?limit=abc", "", nil, "")
	expectError(t, resp, http.StatusBadRequest, "limit must be between 1 and 1000")
}

func TestAdmin_PurgeDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.mustUpload(t, "alice", "a.pdf", "a")
	env.mustUpload(t, "alice", "b.pdf", "b")
	keep := env.mustUpload(t, "bob", "c.pdf", "c")

	resp := env.do(t, http.MethodDelete, "/admin/documents?userId=alice", "", nil, "")
	var purge protocol.PurgeResponse
	decode(t, resp, &purge)
	if resp.StatusCode != http.StatusOK || purge.Deleted != 2 || purge.BlobsDeleted != 2 || purge.RecordsDeleted != 2 {
		t.Fatalf("purge: %d %+v", resp.StatusCode, purge)
	}
	if ok, _ := env.blobs.Exists(context.Background(), a.BlobName); ok {
		t.Error("alice's blob should be gone")
	}
	if _, err := env.store.Get(context.Background(), "bob", keep.ID); err != nil {
		t.Errorf("bob's document should survive: %v", err)
	}

	env.store.mu.Lock()
	env.store.failDel = errors.New("connection reset")
	env.store.mu.Unlock()
	resp = env.do(t, http.MethodDelete, "/admin/documents", "", nil, "")
	decode(t, resp, &purge)
	if resp.StatusCode != http.StatusMultiStatus || purge.Deleted != 0 || purge.BlobsDeleted != 1 || len(purge.Errors) != 1 {
		t.Errorf("partial purge: %d %+v", resp.StatusCode, purge)
	}
}

func TestAdmin_UsersAndActivities(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, `{"email":"a@example.com","firstName":"A","lastName":"A"}`)
	env.createUser(t, `{"email":"b@example.com","firstName":"B","lastName":"B"}`)
	env.createActivity(t, "alice", activityBody)
	env.createActivity(t, "alice", activityBody)
	env.createActivity(t, "bob", activityBody)

	var users protocol.UserListResponse
	decode(t, env.do(t, http.MethodGet, "/admin/users?limit=1", "", nil, ""), &users)
	if users.Count != 1 {
		t.Errorf("limit not applied: %+v", users)
	}

	var acts protocol.SearchActivityListResponse
	decode(t, env.do(t, http.MethodGet, "/admin/search-activities?userId=alice", "", nil, ""), &acts)
	if acts.Count != 2 {
		t.Errorf("expected 2 activities for alice, got %d", acts.Count)
	}

	resp := env.do(t, http.MethodDelete, "/admin/search-activities?userId=alice", "", nil, "")
	var purge protocol.PurgeResponse
	decode(t, resp, &purge)
	if resp.StatusCode != http.StatusOK || purge.Deleted != 2 || purge.UserID != "alice" {
		t.Errorf("purge activities: %d %+v", resp.StatusCode, purge)
	}

	decode(t, env.do(t, http.MethodGet, "/admin/search-activities", "", nil, ""), &acts)
	if acts.Count != 1 || acts.SearchActivities[0].UserID != "bob" {
		t.Errorf("only bob's activity should remain: %+v", acts)
	}
}

func TestAdmin_Blobs(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.mustUpload(t, "alice", "a.pdf", "aaaa")
	env.mustUpload(t, "bob", "b.pdf", "b")

	var list protocol.BlobListResponse
	decode(t, env.do(t, http.MethodGet, "/admin/blobs?userId=alice", "", nil, ""), &list)
	if list.Count != 1 || list.Blobs[0].Name != a.BlobName || list.Blobs[0].Size != 4 || list.Backend != "local" {
		t.Errorf("alice's blobs = %+v", list)
	}

	resp := env.do(t, http.MethodDelete, "/admin/blobs", "", nil, "")
	var purge protocol.PurgeResponse
	decode(t, resp, &purge)
	if resp.StatusCode != http.StatusOK || purge.BlobsDeleted != 2 {
		t.Errorf("purge blobs: %d %+v", resp.StatusCode, purge)
	}

	decode(t, env.do(t, http.MethodGet, "/admin/blobs", "", nil, ""), &list)
	if list.Count != 0 || list.Blobs == nil {
		t.Errorf("expected empty non-null list, got %+v", list)
	}

	// Records survive a blob purge; their content is gone.
	resp = env.do(t, http.MethodGet, "/api/v1/documents/"+a.ID+"/content", "alice", nil, "")
	expectError(t, resp, http.StatusNotFound, "Document content not found")
}

func ptr[T any](v T) *T { return &v }

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helgasoul/eva-sync/internal/store"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Attempts: 3,
		Timeout:  5 * time.Second,
	})
}

func TestSelectBuildsFilters(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("apikey")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "s1", "user_id": "u1", "updated_at": "2026-03-14T09:00:00Z", "severity": 3},
		})
	}))
	defer srv.Close()

	cl := testClient(srv)
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs, err := cl.Select(context.Background(), store.SymptomEntries, "u1", after)
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/rest/v1/symptom_entries" {
		t.Errorf("path = %q", gotPath)
	}
	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatal(err)
	}
	if q.Get("user_id") != "eq.u1" {
		t.Errorf("user_id filter = %q", q.Get("user_id"))
	}
	if q.Get("updated_at") != "gt.2026-03-01T00:00:00Z" {
		t.Errorf("updated_at filter = %q", q.Get("updated_at"))
	}
	if gotKey != "test-key" {
		t.Errorf("apikey header = %q", gotKey)
	}

	if len(recs) != 1 || recs[0].ID != "s1" {
		t.Fatalf("recs = %+v", recs)
	}
	if !recs[0].UpdatedAt.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("updated_at = %v", recs[0].UpdatedAt)
	}
}

func TestSelectOmitsZeroCheckpoint(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	cl := testClient(srv)
	if _, err := cl.Select(context.Background(), store.SymptomEntries, "u1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatal(err)
	}
	if q.Has("updated_at") {
		t.Errorf("updated_at filter present for first pull: %q", gotQuery)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cl := testClient(srv)
	rec := store.Record{ID: "s1", UserID: "u1", UpdatedAt: time.Now(), Fields: map[string]any{}}
	if err := cl.Insert(context.Background(), store.SymptomEntries, rec); err != nil {
		t.Fatalf("insert failed despite retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSetAttemptsChangesRetryBound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// Constructed with 3 attempts, lowered to 1 at runtime: a failing
	// request must stop after the first try.
	cl := testClient(srv)
	cl.SetAttempts(1)

	rec := store.Record{ID: "s1", UserID: "u1", UpdatedAt: time.Now(), Fields: map[string]any{}}
	if err := cl.Insert(context.Background(), store.SymptomEntries, rec); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 after lowering attempts", calls.Load())
	}
}

func TestInsertMergesDuplicates(t *testing.T) {
	var gotPrefer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cl := testClient(srv)
	rec := store.Record{ID: "s1", UserID: "u1", UpdatedAt: time.Now(), Fields: map[string]any{}}
	if err := cl.Insert(context.Background(), store.SymptomEntries, rec); err != nil {
		t.Fatal(err)
	}
	// A replayed insert (pushed but not dequeued) must upsert, not 409.
	if !strings.Contains(gotPrefer, "resolution=merge-duplicates") {
		t.Errorf("Prefer = %q, want resolution=merge-duplicates", gotPrefer)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cl := testClient(srv)
	rec := store.Record{ID: "s1", UserID: "u1", UpdatedAt: time.Now(), Fields: map[string]any{}}
	err := cl.Insert(context.Background(), store.SymptomEntries, rec)
	if err == nil {
		t.Fatal("expected error")
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusBadRequest {
		t.Errorf("got %v, want StatusError 400", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestUpdateAndDeleteTargetRow(t *testing.T) {
	type call struct {
		method string
		query  string
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{method: r.Method, query: r.URL.RawQuery})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cl := testClient(srv)
	rec := store.Record{ID: "s1", UserID: "u1", UpdatedAt: time.Now(), Fields: map[string]any{}}
	if err := cl.Update(context.Background(), store.SymptomEntries, rec); err != nil {
		t.Fatal(err)
	}
	if err := cl.Delete(context.Background(), store.SymptomEntries, "s1", "u1"); err != nil {
		t.Fatal(err)
	}

	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].method != http.MethodPatch {
		t.Errorf("update method = %q", calls[0].method)
	}
	if calls[1].method != http.MethodDelete {
		t.Errorf("delete method = %q", calls[1].method)
	}
	for _, c := range calls {
		q, err := url.ParseQuery(c.query)
		if err != nil {
			t.Fatal(err)
		}
		if q.Get("id") != "eq.s1" || q.Get("user_id") != "eq.u1" {
			t.Errorf("%s filters = %q", c.method, c.query)
		}
	}
}

package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/internal/logging"
	"github.com/reviewgate/internal/platform"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/pkg/models"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "test-token", logging.Nop())
	// fail fast in tests, no real backoff
	c.retryCfg = retry.Config{MaxAttempts: 2, Sleep: func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}}
	return c
}

const samplePatch = "@@ -1,2 +1,3 @@\n context\n+added\n tail"

func TestFetchDiff(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"title": "Add widget",
			"draft": false,
			"base":  map[string]string{"sha": "base123"},
			"head":  map[string]string{"sha": "head456"},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"filename": "widget.go", "status": "modified", "patch": samplePatch},
			{"filename": "logo.png", "status": "added", "patch": ""},
			{"filename": "renamed.go", "previous_filename": "orig.go", "status": "renamed", "patch": samplePatch},
		})
	})

	c := testClient(t, mux)
	pr, err := c.FetchDiff(context.Background(), platform.Ref{Repo: "acme/widgets", Number: 7})
	if err != nil {
		t.Fatalf("FetchDiff: %v", err)
	}

	if pr.Title != "Add widget" || pr.HeadSHA != "head456" || pr.BaseSHA != "base123" {
		t.Errorf("pr = %+v", pr)
	}
	if len(pr.Files) != 2 {
		t.Fatalf("got %d files, want 2 (patchless file skipped)", len(pr.Files))
	}
	if pr.Files[0].Path != "widget.go" || len(pr.Files[0].Hunks) != 1 {
		t.Errorf("file 0 = %+v", pr.Files[0])
	}
	if pr.Files[1].Kind != models.FileRenamed || pr.Files[1].OldPath != "orig.go" {
		t.Errorf("file 1 = %+v", pr.Files[1])
	}
}

func TestFetchDiffPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"title": "big"})
	})
	mux.HandleFunc("/repos/acme/widgets/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var files []map[string]interface{}
		n := perPage
		if page == "2" {
			n = 3
		}
		for i := 0; i < n; i++ {
			files = append(files, map[string]interface{}{
				"filename": fmt.Sprintf("p%s_f%d.go", page, i),
				"status":   "modified",
				"patch":    samplePatch,
			})
		}
		json.NewEncoder(w).Encode(files)
	})

	c := testClient(t, mux)
	pr, err := c.FetchDiff(context.Background(), platform.Ref{Repo: "acme/widgets", Number: 7})
	if err != nil {
		t.Fatalf("FetchDiff: %v", err)
	}
	if len(pr.Files) != perPage+3 {
		t.Errorf("got %d files, want %d across two pages", len(pr.Files), perPage+3)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusUnauthorized, fault.ErrAuth},
		{http.StatusForbidden, fault.ErrAuth},
		{http.StatusNotFound, fault.ErrNotFound},
		{http.StatusTooManyRequests, fault.ErrTransient},
		{http.StatusBadGateway, fault.ErrTransient},
		{http.StatusUnprocessableEntity, fault.ErrPermanent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := c.FetchDiff(context.Background(), platform.Ref{Repo: "a/b", Number: 1})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("status %d mapped to %v, want %v", tt.status, err, tt.sentinel)
			}
		})
	}
}

func TestListCommentsMergesInlineAndIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"path": "a.go", "line": 3, "body": "inline note", "user": map[string]string{"login": "dev"}},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"body": "summary note", "user": map[string]string{"login": "bot"}},
		})
	})

	c := testClient(t, mux)
	comments, err := c.ListComments(context.Background(), platform.Ref{Repo: "acme/widgets", Number: 7})
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].Path != "a.go" || comments[0].Line != 3 || comments[0].Author != "dev" {
		t.Errorf("comment 0 = %+v", comments[0])
	}
	if comments[1].Path != "" || comments[1].Body != "summary note" {
		t.Errorf("comment 1 = %+v", comments[1])
	}
}

func TestApplyIsolatesPostFailures(t *testing.T) {
	var inlinePosts, summaryPosts int64
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inlinePosts, 1)
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["side"] != "RIGHT" || payload["commit_id"] != "head456" {
			t.Errorf("inline payload = %v", payload)
		}
		if n == 1 {
			// first finding is rejected outright
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&summaryPosts, 1)
		w.WriteHeader(http.StatusCreated)
	})

	c := testClient(t, mux)
	pr := &platform.PullRequestDiff{
		Ref:     platform.Ref{Repo: "acme/widgets", Number: 7},
		HeadSHA: "head456",
	}
	plan := &models.PublishPlan{Comments: []models.PlannedComment{
		{Action: models.ActionCreate, Finding: models.Finding{Path: "a.go", Line: 3, Message: "first"}},
		{Action: models.ActionCreate, Finding: models.Finding{Path: "b.go", Line: 8, Message: "second"}},
		{Action: models.ActionCreate, Finding: models.Finding{Path: "c.go", Line: 0, Message: "file level"}},
		{Action: models.ActionSkipDuplicate, Finding: models.Finding{Path: "d.go", Line: 1, Message: "dup"}},
	}}

	outcomes := c.Apply(context.Background(), pr, plan)

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3 (duplicate not posted)", len(outcomes))
	}
	if outcomes[0].Err == nil {
		t.Error("rejected post should carry an error")
	}
	if !errors.Is(outcomes[0].Err, fault.ErrPublish) {
		t.Errorf("outcome error = %v, want publish kind", outcomes[0].Err)
	}
	if outcomes[1].Err != nil {
		t.Errorf("second post failed: %v", outcomes[1].Err)
	}
	if outcomes[2].Err != nil {
		t.Errorf("fallback summary failed: %v", outcomes[2].Err)
	}
	if summaryPosts != 1 {
		t.Errorf("summary posts = %d, want 1", summaryPosts)
	}
}

func TestPostRetriesTransient(t *testing.T) {
	var calls int64
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	c := testClient(t, mux)
	err := c.PostSummary(context.Background(), platform.Ref{Repo: "acme/widgets", Number: 7}, "body")
	if err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
}

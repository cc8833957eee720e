package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSubmitDecodesJob(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/documents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("owner"); got != "acme" {
			t.Errorf("unexpected owner %q", got)
		}
		for _, field := range []string{"document", "spec", "template"} {
			if _, _, err := r.FormFile(field); err != nil {
				t.Errorf("missing %s part: %v", field, err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":         id,
			"owner":      "acme",
			"stage":      StageQueued,
			"input_ref":  "jobs/" + id.String() + "/input.pdf",
			"created_at": now,
			"updated_at": now,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	j, err := c.Submit(context.Background(), Submission{
		Owner:    "acme",
		Document: []byte("%PDF-1.4"),
		Spec:     []byte(`{"type":"object"}`),
		Template: []byte("<html/>"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ID != id {
		t.Errorf("unexpected id %s", j.ID)
	}
	if j.Stage != StageQueued {
		t.Errorf("unexpected stage %s", j.Stage)
	}
	if j.Terminal() {
		t.Error("queued job reported terminal")
	}
	if !j.CreatedAt.Equal(now) {
		t.Errorf("unexpected created_at %s", j.CreatedAt)
	}
}

func TestGetJobAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetJob(context.Background(), uuid.New())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected status %d", apiErr.StatusCode)
	}
}

func TestListJobsFiltersByStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("stage"); got != StageFailed {
			t.Errorf("unexpected stage filter %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": uuid.New(), "stage": StageFailed, "last_error": "render: render down"},
		})
	}))
	defer srv.Close()

	jobs, err := New(srv.URL).ListJobs(context.Background(), StageFailed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if !jobs[0].Terminal() {
		t.Error("failed job not reported terminal")
	}
	if jobs[0].LastError != "render: render down" {
		t.Errorf("unexpected last_error %q", jobs[0].LastError)
	}
}

func TestEventTerminal(t *testing.T) {
	cases := []struct {
		stage    string
		terminal bool
	}{
		{StageQueued, false},
		{StageExtracting, false},
		{StageGenerating, false},
		{StageComplete, true},
		{StageFailed, true},
		{StageDeadLettered, true},
		{StageCancelled, true},
	}
	for _, tc := range cases {
		ev := Event{Stage: tc.stage}
		if ev.Terminal() != tc.terminal {
			t.Errorf("stage %s: terminal = %v, want %v", tc.stage, ev.Terminal(), tc.terminal)
		}
	}
}

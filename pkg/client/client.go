// Package client is the Go SDK for the docpipe HTTP API. It speaks the
// API's wire types only and has no dependency on the server's internals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Stage values as they appear on the wire.
const (
	StageUploaded     = "uploaded"
	StageQueued       = "queued"
	StageExtracting   = "extracting"
	StageExtracted    = "extracted"
	StageGenerating   = "generating"
	StageComplete     = "complete"
	StageFailed       = "failed"
	StageDeadLettered = "dead_lettered"
	StageCancelled    = "cancelled"
)

func terminalStage(stage string) bool {
	switch stage {
	case StageComplete, StageFailed, StageDeadLettered, StageCancelled:
		return true
	}
	return false
}

// Job is the API representation of a document job.
type Job struct {
	ID                uuid.UUID `json:"id"`
	Owner             string    `json:"owner"`
	Stage             string    `json:"stage"`
	InputRef          string    `json:"input_ref"`
	SpecRef           string    `json:"spec_ref"`
	TemplateRef       string    `json:"template_ref"`
	StructuredDataRef string    `json:"structured_data_ref,omitempty"`
	OutputRef         string    `json:"output_ref,omitempty"`
	ExtractAttempts   int       `json:"extract_attempts"`
	RenderAttempts    int       `json:"render_attempts"`
	LastError         string    `json:"last_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached a final stage.
func (j *Job) Terminal() bool {
	return terminalStage(j.Stage)
}

// Event is one stage transition from the job's event stream.
type Event struct {
	JobID     uuid.UUID `json:"job_id"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Terminal reports whether this event ends the job's stream.
func (e Event) Terminal() bool {
	return terminalStage(e.Stage)
}

// Client calls the docpipe API server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Submission holds the three uploads that make a document job.
type Submission struct {
	Owner    string
	Document []byte
	Spec     []byte
	Template []byte
}

// Submit sends POST /api/v1/documents with a multipart body and returns the
// created job.
func (c *Client) Submit(ctx context.Context, sub Submission) (*Job, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("owner", sub.Owner); err != nil {
		return nil, fmt.Errorf("write owner field: %w", err)
	}
	for _, part := range []struct {
		field, name string
		data        []byte
	}{
		{"document", "document.pdf", sub.Document},
		{"spec", "spec.json", sub.Spec},
		{"template", "template.html", sub.Template},
	} {
		fw, err := w.CreateFormFile(part.field, part.name)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", part.field, err)
		}
		if _, err := fw.Write(part.data); err != nil {
			return nil, fmt.Errorf("write %s part: %w", part.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/documents", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.doJob(req, http.StatusCreated)
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/documents/%s", c.BaseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.doJob(req, http.StatusOK)
}

// ListJobs retrieves jobs in the given stage.
func (c *Client) ListJobs(ctx context.Context, stage string) ([]*Job, error) {
	endpoint := fmt.Sprintf("%s/api/v1/documents?stage=%s", c.BaseURL, url.QueryEscape(stage))
	return c.listJobs(ctx, endpoint)
}

// DeadLettered retrieves jobs parked in the dead-letter stage.
func (c *Client) DeadLettered(ctx context.Context) ([]*Job, error) {
	return c.listJobs(ctx, c.BaseURL+"/api/v1/dlq")
}

// Cancel requests cancellation of a job. Cancelling a terminal job is a
// no-op and returns the job unchanged.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/documents/%s/cancel", c.BaseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.doJob(req, http.StatusOK)
}

// Output downloads the rendered document of a completed job.
func (c *Client) Output(ctx context.Context, id uuid.UUID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/documents/%s/output", c.BaseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}

// WatchStatus opens a WebSocket to the job's event stream. The first event
// is the job's current state; the channel closes after a terminal event or
// when the context is cancelled.
func (c *Client) WatchStatus(ctx context.Context, id uuid.UUID) (<-chan Event, error) {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1)
	endpoint := fmt.Sprintf("%s/api/v1/documents/%s/events", wsURL, id)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer conn.Close()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) doJob(req *http.Request, want int) (*Job, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want && resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &j, nil
}

func (c *Client) listJobs(ctx context.Context, endpoint string) ([]*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var jobs []*Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return jobs, nil
}

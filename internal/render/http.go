package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRenderer calls an external render service over HTTP. The service
// accepts the template and record and returns the rendered PDF bytes.
type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRenderer creates a renderer client for the given service URL.
func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type renderRequest struct {
	Template []byte          `json:"template"`
	Record   json.RawMessage `json:"record"`
}

// Render posts the template and record to the render service.
func (r *HTTPRenderer) Render(ctx context.Context, template, record []byte) ([]byte, error) {
	body, err := json.Marshal(renderRequest{Template: template, Record: record})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("render service status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Output string `json:"output"` // base64 PDF bytes
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	pdf, err := base64.StdEncoding.DecodeString(out.Output)
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return pdf, nil
}

package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// fakeModel returns canned responses in order, one per call.
type fakeModel struct {
	responses []string
	err       error
	calls     int
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: resp}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func TestExtract(t *testing.T) {
	model := &fakeModel{responses: []string{`{"invoice_number": "INV-7", "total": 120}`}}
	e := NewLLMExtractor(model, zap.NewNop())

	record, err := e.Extract(context.Background(), []byte("the invoice"), []byte(invoiceSpec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(record) != `{"invoice_number": "INV-7", "total": 120}` {
		t.Errorf("unexpected record: %s", record)
	}
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	model := &fakeModel{responses: []string{
		"```json\n{\"invoice_number\": \"INV-7\", \"total\": 120}\n```",
	}}
	e := NewLLMExtractor(model, zap.NewNop())

	record, err := e.Extract(context.Background(), []byte("doc"), []byte(invoiceSpec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate([]byte(invoiceSpec), record); err != nil {
		t.Errorf("fence-stripped record fails validation: %v", err)
	}
}

func TestExtractInvalidSpecIsPermanent(t *testing.T) {
	model := &fakeModel{responses: []string{`{}`}}
	e := NewLLMExtractor(model, zap.NewNop())

	_, err := e.Extract(context.Background(), []byte("doc"), []byte(`{"type": 42}`))
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if !IsPermanent(err) {
		t.Error("expected invalid spec to be a permanent failure")
	}
	if model.calls != 0 {
		t.Error("expected no model call for an invalid spec")
	}
}

func TestExtractNonConformingOutputIsTransient(t *testing.T) {
	model := &fakeModel{responses: []string{`{"total": "not a number"}`}}
	e := NewLLMExtractor(model, zap.NewNop())

	_, err := e.Extract(context.Background(), []byte("doc"), []byte(invoiceSpec))
	if err == nil {
		t.Fatal("expected error for non-conforming output")
	}
	if IsPermanent(err) {
		t.Error("expected a non-conforming model answer to be retryable")
	}
}

func TestExtractModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("model unavailable")}
	e := NewLLMExtractor(model, zap.NewNop())

	_, err := e.Extract(context.Background(), []byte("doc"), []byte(invoiceSpec))
	if err == nil {
		t.Fatal("expected error from failing model")
	}
	if IsPermanent(err) {
		t.Error("expected a model outage to be retryable")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  {\"a\": 1}  ", `{"a": 1}`},
	}

	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

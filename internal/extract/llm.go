package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const systemPrompt = `You are a document data extraction engine. You receive a document and a JSON schema.
Return ONLY a JSON object that conforms to the schema, populated with values extracted from the document.
Use null for fields the document does not contain. Do not add commentary or markdown fences.`

// LLMExtractor extracts structured records by prompting a language model
// with the document and its schema, then validating the response against
// the schema before returning it.
type LLMExtractor struct {
	model  llms.Model
	logger *zap.Logger
}

// NewLLMExtractor creates an extractor around the given model.
func NewLLMExtractor(model llms.Model, logger *zap.Logger) *LLMExtractor {
	return &LLMExtractor{model: model, logger: logger}
}

// NewModel builds the configured LLM backend.
func NewModel(provider, modelName, apiKey, serverURL string) (llms.Model, error) {
	switch provider {
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key required")
		}
		return anthropic.New(
			anthropic.WithToken(apiKey),
			anthropic.WithModel(modelName),
		)
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key required")
		}
		return openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(modelName),
		)
	case "ollama":
		return ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(serverURL),
		)
	}
	return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
}

// Extract prompts the model and validates its answer against the spec.
// A spec that is not a valid JSON schema is a permanent failure; a model
// response that fails validation is transient, the next attempt may conform.
func (e *LLMExtractor) Extract(ctx context.Context, document, spec []byte) ([]byte, error) {
	if err := CompileSpec(spec); err != nil {
		return nil, Permanent(fmt.Errorf("invalid extraction spec: %w", err))
	}

	userPrompt := fmt.Sprintf("JSON schema:\n%s\n\nDocument:\n%s", spec, document)

	resp, err := e.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	record := []byte(stripFences(resp.Choices[0].Content))
	if err := Validate(spec, record); err != nil {
		e.logger.Warn("model output failed spec validation", zap.Error(err))
		return nil, fmt.Errorf("model output does not match spec: %w", err)
	}
	return record, nil
}

// stripFences removes a markdown code fence if the model added one anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiProvider implements the Provider interface for Google's Gemini API.
type GeminiProvider struct {
	apiKey   string
	model    string
	endpoint string
	timeout  time.Duration
}

// NewGeminiProvider creates a new Gemini provider. An empty endpoint uses the
// SDK default.
func NewGeminiProvider(apiKey, model, endpoint string, timeout time.Duration) *GeminiProvider {
	return &GeminiProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete sends the messages through the genai SDK. System messages become
// the model's system instruction; user messages are sent as one turn.
func (p *GeminiProvider) Complete(ctx context.Context, messages []Message) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opts := []option.ClientOption{option.WithAPIKey(p.apiKey)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return Completion{}, &TransportError{Provider: p.Name(), Err: fmt.Errorf("create client: %w", err)}
	}
	defer client.Close()

	model := client.GenerativeModel(p.model)

	var system []genai.Part
	var parts []genai.Part
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, genai.Text(m.Content))
			continue
		}
		parts = append(parts, genai.Text(m.Content))
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: system}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return Completion{}, &UpstreamError{Provider: p.Name(), Status: gErr.Code, Message: gErr.Message}
		}
		return Completion{}, &TransportError{Provider: p.Name(), Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, &TransportError{Provider: p.Name(), Err: fmt.Errorf("empty candidates")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	completion := Completion{Text: sb.String()}
	if resp.UsageMetadata != nil {
		completion.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return completion, nil
}

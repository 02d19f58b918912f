package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 1024
)

// AnthropicProvider implements the Provider interface for Anthropic's Claude API.
type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, model, baseURL string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends the messages to the Anthropic messages endpoint. System
// messages are joined into the top-level system field.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message) (Completion, error) {
	payload := anthropicRequest{
		Model:     p.model,
		MaxTokens: anthropicMaxTokens,
	}

	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	payload.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, p.transportErr(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Completion{}, p.transportErr(fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Completion{}, p.transportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, p.transportErr(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return Completion{}, &UpstreamError{Provider: p.Name(), Status: resp.StatusCode, Message: errResp.Error.Message}
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Completion{}, p.transportErr(fmt.Errorf("parse response: %w", err))
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return Completion{
				Text:   block.Text,
				Tokens: result.Usage.InputTokens + result.Usage.OutputTokens,
			}, nil
		}
	}

	return Completion{}, p.transportErr(fmt.Errorf("no text content (stop reason %q)", result.StopReason))
}

func (p *AnthropicProvider) transportErr(err error) error {
	return &TransportError{Provider: p.Name(), Err: err}
}

// Messages API wire format

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

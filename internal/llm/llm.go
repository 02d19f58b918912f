// Package llm provides LLM provider integrations and prompt composition for
// natural language to query conversion.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider defines the interface for LLM integrations.
type Provider interface {
	// Complete sends the messages in order and returns the generated text.
	// Exactly one attempt is made.
	Complete(ctx context.Context, messages []Message) (Completion, error)

	// Name returns the provider name for logging/debugging.
	Name() string
}

// Role is the author of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one entry of a chat-completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completion is the raw result of a chat-completion call.
type Completion struct {
	Text   string // Generated text, uncleaned
	Tokens int    // Tokens used (for cost tracking)
}

// TransportError reports a network or decoding failure talking to the provider.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamError reports an error payload returned by the provider.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

// DefaultUpstreamMessage is used when an OpenAI error payload carries no
// message. Other providers fall back to "<Provider> API error".
const DefaultUpstreamMessage = "OpenAI API error"

var providerTitles = map[string]string{
	"openai":    "OpenAI",
	"anthropic": "Anthropic",
	"gemini":    "Gemini",
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Provider == "" || e.Provider == "openai" {
		return DefaultUpstreamMessage
	}
	title, ok := providerTitles[e.Provider]
	if !ok {
		title = e.Provider
	}
	return title + " API error"
}

// IsUpstream reports whether err came from a provider error payload.
func IsUpstream(err error) bool {
	var upErr *UpstreamError
	return errors.As(err, &upErr)
}

// Config holds LLM provider configuration.
type Config struct {
	Provider string        // "openai", "anthropic" or "gemini"
	APIKey   string        // API key for the provider
	Model    string        // Model name (e.g., "gpt-4o-mini", "claude-sonnet-4-20250514")
	BaseURL  string        // Base URL (for OpenRouter, proxies, etc.)
	Timeout  time.Duration // HTTP client timeout (0 = 60s)
}

// ConfigFromEnv reads LLM configuration from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Provider: strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))),
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    os.Getenv("LLM_MODEL"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}
	if v := strings.TrimSpace(os.Getenv("LLM_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	return cfg
}

// WithAPIKey returns a copy of cfg using key.
func (c Config) WithAPIKey(key string) Config {
	c.APIKey = key
	return c
}

const defaultTimeout = 60 * time.Second

// NewProvider creates an LLM provider based on configuration.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	switch cfg.Provider {
	case "openai":
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil

	case "anthropic":
		if cfg.Model == "" {
			cfg.Model = "claude-sonnet-4-20250514"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.anthropic.com/v1"
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil

	case "gemini":
		if cfg.Model == "" {
			cfg.Model = "gemini-1.5-flash"
		}
		return NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: openai, anthropic, gemini)", cfg.Provider)
	}
}

// CleanResponse strips one surrounding code fence from raw model output.
// The fence may carry the style's language tag or be bare. Output wrapped in
// a single pair of backticks is unwrapped only when no triple fence was
// found. Everything inside the fence is returned unchanged.
func CleanResponse(style Style, raw string) string {
	out := strings.TrimSpace(raw)

	fenced := false
	tag := "```" + style.FenceTag()
	if len(out) >= len(tag) && strings.EqualFold(out[:len(tag)], tag) {
		out = strings.TrimLeft(out[len(tag):], " \t\r\n")
		fenced = true
	} else if strings.HasPrefix(out, "```") {
		out = strings.TrimLeft(out[3:], " \t\r\n")
		fenced = true
	}
	if strings.HasSuffix(out, "```") {
		out = strings.TrimRight(out[:len(out)-3], " \t\r\n")
		fenced = true
	}

	if !fenced && len(out) >= 2 && strings.HasPrefix(out, "`") && strings.HasSuffix(out, "`") {
		out = out[1 : len(out)-1]
	}
	return strings.TrimSpace(out)
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{name: "default openai", cfg: Config{APIKey: "k"}, wantName: "openai"},
		{name: "anthropic", cfg: Config{Provider: "anthropic", APIKey: "k"}, wantName: "anthropic"},
		{name: "gemini", cfg: Config{Provider: "gemini", APIKey: "k"}, wantName: "gemini"},
		{name: "missing key", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "palm", APIKey: "k"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", " Anthropic ")
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("LLM_MODEL", "m")
	t.Setenv("LLM_BASE_URL", "http://proxy")
	t.Setenv("LLM_TIMEOUT", "5s")

	cfg := ConfigFromEnv()
	want := Config{Provider: "anthropic", APIKey: "secret", Model: "m", BaseURL: "http://proxy", Timeout: 5 * time.Second}
	if cfg != want {
		t.Errorf("ConfigFromEnv() = %+v, want %+v", cfg, want)
	}
}

var testMessages = []Message{
	{Role: RoleSystem, Content: "be terse"},
	{Role: RoleUser, Content: "list all organizations"},
}

func TestOpenAIProviderComplete(t *testing.T) {
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"SELECT * FROM accounts;"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", "gpt-4o-mini", srv.URL+"/v1", time.Second)
	c, err := p.Complete(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if c.Text != "SELECT * FROM accounts;" || c.Tokens != 15 {
		t.Errorf("Complete() = %+v", c)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0] != testMessages[0] || got.Messages[1] != testMessages[1] {
		t.Errorf("messages = %+v, want %+v", got.Messages, testMessages)
	}
}

func TestOpenAIProviderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("bad", "gpt-4o-mini", srv.URL+"/v1", time.Second)
	_, err := p.Complete(context.Background(), testMessages)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v (%T), want *UpstreamError", err, err)
	}
	if upErr.Message != "Incorrect API key provided" || upErr.Status != http.StatusUnauthorized {
		t.Errorf("UpstreamError = %+v", upErr)
	}
}

func TestOpenAIProviderTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewOpenAIProvider("k", "gpt-4o-mini", url+"/v1", time.Second)
	_, err := p.Complete(context.Background(), testMessages)

	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v (%T), want *TransportError", err, err)
	}
	if IsUpstream(err) {
		t.Error("transport failure reported as upstream")
	}
}

func TestAnthropicProviderComplete(t *testing.T) {
	var got anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Account.all"}],"usage":{"input_tokens":7,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", "claude", srv.URL+"/v1", time.Second)
	c, err := p.Complete(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if c.Text != "Account.all" || c.Tokens != 10 {
		t.Errorf("Complete() = %+v", c)
	}
	if got.System != "be terse" {
		t.Errorf("system = %q, want system message hoisted", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want single user message", got.Messages)
	}
}

func TestAnthropicProviderUpstreamError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "with message", body: `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`, wantMsg: "invalid x-api-key"},
		{name: "without message", body: `oops`, wantMsg: "Anthropic API error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewAnthropicProvider("k", "claude", srv.URL, time.Second)
			_, err := p.Complete(context.Background(), testMessages)
			if !IsUpstream(err) {
				t.Fatalf("error = %v, want upstream", err)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestUpstreamErrorFallback(t *testing.T) {
	tests := []struct {
		err  *UpstreamError
		want string
	}{
		{err: &UpstreamError{Provider: "openai"}, want: DefaultUpstreamMessage},
		{err: &UpstreamError{}, want: DefaultUpstreamMessage},
		{err: &UpstreamError{Provider: "anthropic"}, want: "Anthropic API error"},
		{err: &UpstreamError{Provider: "gemini"}, want: "Gemini API error"},
		{err: &UpstreamError{Provider: "local"}, want: "local API error"},
		{err: &UpstreamError{Provider: "gemini", Message: "quota exceeded"}, want: "quota exceeded"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("%+v.Error() = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestGeminiProviderComplete(t *testing.T) {
	var got struct {
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	var path, key string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.URL.Query().Get("key")
		if key == "" {
			key = r.Header.Get("X-Goog-Api-Key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"candidates":[{"index":0,"content":{"role":"model","parts":[{"text":"SELECT "},{"text":"1;"}]}}],` +
			`"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":3,"totalTokenCount":12}}]`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("k", "gemini-1.5-flash", srv.URL, 5*time.Second)
	c, err := p.Complete(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if c.Text != "SELECT 1;" || c.Tokens != 12 {
		t.Errorf("Complete() = %+v", c)
	}
	if !strings.HasSuffix(path, "models/gemini-1.5-flash:streamGenerateContent") {
		t.Errorf("path = %s", path)
	}
	if key != "k" {
		t.Errorf("api key = %q, want k", key)
	}
	if len(got.SystemInstruction.Parts) != 1 || got.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("system instruction = %+v, want system message hoisted", got.SystemInstruction)
	}
	if len(got.Contents) != 1 || got.Contents[0].Role != "user" {
		t.Errorf("contents = %+v, want single user turn", got.Contents)
	}
}

func TestGeminiProviderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("bad", "gemini-1.5-flash", srv.URL, 5*time.Second)
	_, err := p.Complete(context.Background(), testMessages)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want upstream", err)
	}
	if upErr.Status != http.StatusBadRequest || upErr.Message != "API key not valid" {
		t.Errorf("UpstreamError = %+v", upErr)
	}
}

func TestGeminiProviderTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewGeminiProvider("k", "gemini-1.5-flash", url, time.Second)
	_, err := p.Complete(context.Background(), testMessages)

	var tErr *TransportError
	if !errors.As(err, &tErr) || IsUpstream(err) {
		t.Errorf("error = %v, want transport", err)
	}
}

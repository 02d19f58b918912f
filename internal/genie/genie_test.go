package genie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/JonMunkholm/QueryGenie/internal/llm"
	"github.com/JonMunkholm/QueryGenie/internal/storage"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    int
	messages []llm.Message
	reply    string
	err      error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.messages = messages
	if p.err != nil {
		return llm.Completion{}, p.err
	}
	return llm.Completion{Text: p.reply, Tokens: 42}, nil
}

func newTestService(t *testing.T, p *stubProvider, key string) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	if key != "" {
		if err := store.Set(context.Background(), storage.SlotAPIKey, key); err != nil {
			t.Fatal(err)
		}
	}
	svc := NewServiceWithFactory(store, func(apiKey string) (llm.Provider, error) {
		if apiKey == "" {
			t.Error("factory called without a key")
		}
		return p, nil
	}, "")
	return svc, store
}

const accountsSchema = "CREATE TABLE accounts (id INT PRIMARY KEY, name TEXT);"

func TestGeneratePreconditions(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		req       Request
		wantField string
	}{
		{name: "missing key", key: "", req: Request{Prompt: "x", Schema: accountsSchema}, wantField: FieldAPIKey},
		{name: "blank key", key: "   ", req: Request{Prompt: "x", Schema: accountsSchema}, wantField: FieldAPIKey},
		{name: "missing prompt", key: "k", req: Request{Prompt: "  ", Schema: accountsSchema}, wantField: FieldPrompt},
		{name: "missing schema", key: "k", req: Request{Prompt: "x", Schema: "\n\t"}, wantField: FieldSchema},
		{name: "key checked first", key: "", req: Request{}, wantField: FieldAPIKey},
		{name: "prompt before schema", key: "k", req: Request{}, wantField: FieldPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{reply: "SELECT 1"}
			svc, _ := newTestService(t, p, tt.key)

			_, err := svc.Generate(context.Background(), tt.req)

			var pErr *PreconditionError
			if !errors.As(err, &pErr) {
				t.Fatalf("error = %v, want PreconditionError", err)
			}
			if pErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", pErr.Field, tt.wantField)
			}
			if p.calls != 0 {
				t.Errorf("provider called %d times, want 0", p.calls)
			}
		})
	}
}

func TestPreconditionMessages(t *testing.T) {
	tests := map[string]string{
		FieldAPIKey: "Please enter and save your OpenAI API key.",
		FieldPrompt: "Please enter a prompt.",
		FieldSchema: "Please provide a schema.",
	}
	for field, want := range tests {
		if got := (&PreconditionError{Field: field}).Error(); got != want {
			t.Errorf("PreconditionError{%s} = %q, want %q", field, got, want)
		}
	}
}

func TestGenerateUsesDefaultKey(t *testing.T) {
	p := &stubProvider{reply: "SELECT 1"}
	store := storage.NewMemoryStore()

	var gotKey string
	svc := NewServiceWithFactory(store, func(apiKey string) (llm.Provider, error) {
		gotKey = apiKey
		return p, nil
	}, "env-key")

	if _, err := svc.Generate(context.Background(), Request{Prompt: "x", Schema: accountsSchema}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if gotKey != "env-key" {
		t.Errorf("key = %q, want env-key", gotKey)
	}

	_ = svc.SetAPIKey(context.Background(), "stored-key")
	_, _ = svc.Generate(context.Background(), Request{Prompt: "x", Schema: accountsSchema})
	if gotKey != "stored-key" {
		t.Errorf("key = %q, want stored key to win", gotKey)
	}
}

func TestGenerateStatesAndCleaning(t *testing.T) {
	p := &stubProvider{reply: "```sql\nSELECT * FROM accounts;\n```"}
	svc, _ := newTestService(t, p, "k")

	var states []State
	svc.OnState = func(_ string, s State) { states = append(states, s) }

	res, err := svc.Generate(context.Background(), Request{Style: llm.StyleSQL, Prompt: "list all organizations", Schema: accountsSchema})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if res.Query != "SELECT * FROM accounts;" {
		t.Errorf("Query = %q", res.Query)
	}
	if res.Raw != p.reply || res.Tokens != 42 || res.Provider != "stub" || res.ID == "" {
		t.Errorf("Result = %+v", res)
	}

	want := []State{Idle, Validating, Extracting, Composing, AwaitingModel, Displaying}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestGenerateFailureState(t *testing.T) {
	upErr := &llm.UpstreamError{Provider: "stub", Status: 429, Message: "Rate limit reached"}
	p := &stubProvider{err: upErr}
	svc, _ := newTestService(t, p, "k")

	var last State
	svc.OnState = func(_ string, s State) { last = s }

	_, err := svc.Generate(context.Background(), Request{Prompt: "x", Schema: accountsSchema})
	if !errors.Is(err, upErr) {
		t.Fatalf("error = %v, want upstream error", err)
	}
	if last != DisplayingError {
		t.Errorf("final state = %v, want %v", last, DisplayingError)
	}
	if ErrorMessage(err) != "Rate limit reached" {
		t.Errorf("ErrorMessage() = %q", ErrorMessage(err))
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want exactly 1", p.calls)
	}
}

func TestGenerateFallsBackToStoredSchema(t *testing.T) {
	p := &stubProvider{reply: "Account.all"}
	svc, _ := newTestService(t, p, "k")
	ctx := context.Background()

	if _, err := svc.ImportSchema(ctx, strings.NewReader("CREATE TABLE accounts (\n  id INT\n);\n")); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Generate(ctx, Request{Style: llm.StyleRails, Prompt: "list all organizations"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Query != "Account.all" {
		t.Errorf("Query = %q", res.Query)
	}
	if !strings.Contains(p.messages[1].Content, "Account (from table: accounts)") {
		t.Errorf("user message missing model names:\n%s", p.messages[1].Content)
	}
}

func TestSettings(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{}, "")
	ctx := context.Background()

	_ = svc.SetSchema(ctx, "CREATE TABLE a (\n x INT\n);")
	if got, _ := svc.Schema(ctx); got != "CREATE TABLE a (\n x INT\n);" {
		t.Errorf("Schema() = %q", got)
	}
	_ = svc.ClearSchema(ctx)
	if got, _ := svc.Schema(ctx); got != "" {
		t.Errorf("Schema() after clear = %q", got)
	}

	_ = svc.SetAPIKey(ctx, "sk-abc")
	_ = svc.ClearAPIKey(ctx)
	if got, _ := svc.APIKey(ctx); got != "" {
		t.Errorf("APIKey() after clear = %q", got)
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"abc":         "***",
		"sk-abcd1234": "*******1234",
	}
	for in, want := range tests {
		if got := MaskKey(in); got != want {
			t.Errorf("MaskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestGenerateEndToEnd drives the OpenAI provider against a stub endpoint
// that answers the way a well-behaved model would: with the one table the
// prompt disclosed.
func TestGenerateEndToEnd(t *testing.T) {
	var userMessage string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("got %d messages, want 2", len(req.Messages))
			return
		}
		userMessage = req.Messages[1].Content

		answer := "SELECT * FROM organizations;"
		if strings.Contains(userMessage, "=== AVAILABLE TABLE NAMES (USE ONLY THESE EXACT NAMES) ===\naccounts\n") {
			answer = "```sql\nSELECT * FROM accounts;\n```"
		}

		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": answer}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 100, "completion_tokens": 8, "total_tokens": 108},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	_ = store.Set(context.Background(), storage.SlotAPIKey, "sk-test")
	svc := NewService(store, llm.Config{Provider: "openai", BaseURL: srv.URL + "/v1"})

	res, err := svc.Generate(context.Background(), Request{
		Style:  llm.StyleSQL,
		Prompt: "list all organizations",
		Schema: accountsSchema,
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if res.Query != "SELECT * FROM accounts;" {
		t.Errorf("Query = %q, want SELECT * FROM accounts;", res.Query)
	}
	if strings.Contains(res.Query, "organizations") {
		t.Error("query uses a table that does not exist")
	}
	if !reflect.DeepEqual(res.TableNames, []string{"accounts"}) {
		t.Errorf("TableNames = %v", res.TableNames)
	}
	if res.Tokens != 108 {
		t.Errorf("Tokens = %d, want 108", res.Tokens)
	}
	if !strings.Contains(userMessage, "=== USER REQUEST ===\nlist all organizations") {
		t.Errorf("user message missing request:\n%s", userMessage)
	}
}

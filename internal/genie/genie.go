// Package genie runs one query generation: validate inputs, extract the
// schema, compose the prompt, call the model and clean its answer.
package genie

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/JonMunkholm/QueryGenie/internal/llm"
	"github.com/JonMunkholm/QueryGenie/internal/schema"
	"github.com/JonMunkholm/QueryGenie/internal/storage"
	"github.com/google/uuid"
)

// State is a step of a generation.
type State int

const (
	Idle State = iota
	Validating
	Extracting
	Composing
	AwaitingModel
	Displaying
	DisplayingError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Extracting:
		return "extracting"
	case Composing:
		return "composing"
	case AwaitingModel:
		return "awaiting_model"
	case Displaying:
		return "displaying"
	case DisplayingError:
		return "displaying_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fields checked before any network call.
const (
	FieldAPIKey = "apiKey"
	FieldPrompt = "prompt"
	FieldSchema = "schema"
)

// PreconditionError reports missing input. No model call was attempted.
type PreconditionError struct {
	Field string
}

func (e *PreconditionError) Error() string {
	switch e.Field {
	case FieldAPIKey:
		return "Please enter and save your OpenAI API key."
	case FieldPrompt:
		return "Please enter a prompt."
	case FieldSchema:
		return "Please provide a schema."
	default:
		return "missing " + e.Field
	}
}

// FallbackErrorMessage is shown when a failure carries no message.
const FallbackErrorMessage = "Failed to generate query"

// ErrorMessage returns the text to display for a failed generation.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return FallbackErrorMessage
}

// ProviderFactory builds a provider for an API key.
type ProviderFactory func(apiKey string) (llm.Provider, error)

// Service runs generations against a settings store.
type Service struct {
	store       storage.Store
	newProvider ProviderFactory
	defaultKey  string

	// OnState, when set, observes every state change of every generation.
	OnState func(id string, s State)
}

// NewService creates a service whose providers come from cfg. cfg.APIKey is
// used when the key slot is empty.
func NewService(store storage.Store, cfg llm.Config) *Service {
	return &Service{
		store:      store,
		defaultKey: strings.TrimSpace(cfg.APIKey),
		newProvider: func(apiKey string) (llm.Provider, error) {
			return llm.NewProvider(cfg.WithAPIKey(apiKey))
		},
	}
}

// NewServiceWithFactory creates a service with a custom provider factory.
func NewServiceWithFactory(store storage.Store, factory ProviderFactory, defaultKey string) *Service {
	return &Service{store: store, newProvider: factory, defaultKey: defaultKey}
}

// Request is the input of one generation.
type Request struct {
	Style  llm.Style
	Prompt string // Natural language request from user
	Schema string // Schema text; the stored schema is used when empty
}

// Result is a successful generation.
type Result struct {
	ID         string
	Style      llm.Style
	Query      string // Cleaned model output
	Raw        string // Model output as received
	Provider   string
	TableNames []string
	Tokens     int
	Duration   time.Duration
}

// Generate runs one generation. Failures are terminal: there are no retries.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	id := uuid.NewString()
	start := time.Now()
	s.transition(id, Idle)

	res, err := s.generate(ctx, id, req)
	res.ID = id
	res.Duration = time.Since(start)

	if err != nil {
		s.transition(id, DisplayingError)
		log.Printf("generate %s: style=%s failed after %s: %v", id, req.Style, res.Duration.Round(time.Millisecond), err)
		return res, err
	}

	s.transition(id, Displaying)
	log.Printf("generate %s: style=%s provider=%s tables=%d tokens=%d duration=%s",
		id, res.Style, res.Provider, len(res.TableNames), res.Tokens, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (s *Service) generate(ctx context.Context, id string, req Request) (Result, error) {
	s.transition(id, Validating)

	apiKey, err := s.APIKey(ctx)
	if err != nil {
		return Result{}, err
	}
	if apiKey == "" {
		return Result{}, &PreconditionError{Field: FieldAPIKey}
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{}, &PreconditionError{Field: FieldPrompt}
	}

	schemaText := strings.TrimSpace(req.Schema)
	if schemaText == "" {
		stored, err := storage.GetOrEmpty(ctx, s.store, storage.SlotSchema)
		if err != nil {
			return Result{}, fmt.Errorf("read schema: %w", err)
		}
		schemaText = strings.TrimSpace(stored)
	}
	if schemaText == "" {
		return Result{}, &PreconditionError{Field: FieldSchema}
	}

	style := req.Style
	if style == "" {
		style = llm.StyleSQL
	}

	s.transition(id, Extracting)
	extracted := schema.Extract(schemaText)

	s.transition(id, Composing)
	messages := llm.Compose(style, llm.ComposeInput{
		SchemaText: schemaText,
		Summary:    extracted.Summary,
		TableNames: extracted.TableNames,
		Request:    prompt,
	})

	provider, err := s.newProvider(apiKey)
	if err != nil {
		return Result{}, fmt.Errorf("initialize LLM: %w", err)
	}

	s.transition(id, AwaitingModel)
	completion, err := provider.Complete(ctx, messages)
	if err != nil {
		return Result{Style: style, Provider: provider.Name(), TableNames: extracted.TableNames}, err
	}

	return Result{
		Style:      style,
		Query:      llm.CleanResponse(style, completion.Text),
		Raw:        completion.Text,
		Provider:   provider.Name(),
		TableNames: extracted.TableNames,
		Tokens:     completion.Tokens,
	}, nil
}

func (s *Service) transition(id string, st State) {
	if s.OnState != nil {
		s.OnState(id, st)
	}
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pErr *PreconditionError
	return errors.As(err, &pErr)
}

// APIKey returns the stored key, or the configured default when unset.
func (s *Service) APIKey(ctx context.Context) (string, error) {
	key, err := storage.GetOrEmpty(ctx, s.store, storage.SlotAPIKey)
	if err != nil {
		return "", fmt.Errorf("read API key: %w", err)
	}
	if key = strings.TrimSpace(key); key != "" {
		return key, nil
	}
	return s.defaultKey, nil
}

// SetAPIKey stores the credential as entered.
func (s *Service) SetAPIKey(ctx context.Context, key string) error {
	return s.store.Set(ctx, storage.SlotAPIKey, key)
}

// ClearAPIKey removes the stored credential.
func (s *Service) ClearAPIKey(ctx context.Context) error {
	return s.store.Remove(ctx, storage.SlotAPIKey)
}

// Schema returns the stored schema text, or "" when unset.
func (s *Service) Schema(ctx context.Context) (string, error) {
	return storage.GetOrEmpty(ctx, s.store, storage.SlotSchema)
}

// SetSchema stores schema text verbatim.
func (s *Service) SetSchema(ctx context.Context, text string) error {
	return s.store.Set(ctx, storage.SlotSchema, text)
}

// ClearSchema removes the stored schema text.
func (s *Service) ClearSchema(ctx context.Context) error {
	return s.store.Remove(ctx, storage.SlotSchema)
}

// ImportSchema replaces the stored schema with everything read from r.
func (s *Service) ImportSchema(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read schema file: %w", err)
	}
	text := string(data)
	if err := s.SetSchema(ctx, text); err != nil {
		return "", err
	}
	return text, nil
}

// MaskKey hides all but the last four characters of a key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

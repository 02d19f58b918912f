package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/QueryGenie/internal/genie"
	"github.com/JonMunkholm/QueryGenie/internal/llm"
	"github.com/JonMunkholm/QueryGenie/internal/schema"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const maxImportSize = 32 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web UI and JSON API",
	RunE:  runServe,
}

type app struct {
	tmpl  *template.Template
	genie *genie.Service
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, store, err := newService()
	if err != nil {
		return err
	}
	defer store.Close()

	listen := addr
	if listen == "" {
		listen = env("ADDR", defaultAddr)
	}

	srv := &http.Server{
		Addr:    listen,
		Handler: newRouter(newApp(svc)),
	}

	go func() {
		log.Printf("listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server gracefully ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}

func newApp(svc *genie.Service) *app {
	return &app{
		tmpl:  template.Must(template.New("index").Parse(indexHTML)),
		genie: svc,
	}
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Get("/", a.handleIndex)
	r.Post("/generate", a.handleGenerate)
	r.Post("/schema/extract", a.handleExtract)

	r.Route("/settings", func(r chi.Router) {
		r.Get("/key", a.handleGetKey)
		r.Put("/key", a.handleSetKey)
		r.Delete("/key", a.handleClearKey)

		r.Get("/schema", a.handleGetSchema)
		r.Put("/schema", a.handleSetSchema)
		r.Delete("/schema", a.handleClearSchema)
		r.Post("/schema/import", a.handleImportSchema)
	})
	return r
}

func (a *app) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		SQLStyle   llm.Style
		RailsStyle llm.Style
	}{
		SQLStyle:   llm.StyleSQL,
		RailsStyle: llm.StyleRails,
	}
	if err := a.tmpl.Execute(w, data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

type generateRequest struct {
	Style  string `json:"style"`
	Prompt string `json:"prompt"`
	Schema string `json:"schema"`
}

type generateResponse struct {
	Query     string `json:"query,omitempty"`
	Style     string `json:"style,omitempty"`
	Title     string `json:"title,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// Error kinds reported to the UI.
const (
	kindPrecondition = "precondition"
	kindTransport    = "transport"
	kindUpstream     = "upstream"
	kindInternal     = "internal"
)

func (a *app) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, generateResponse{Error: "invalid JSON body", Kind: kindPrecondition})
		return
	}

	style, err := llm.ParseStyle(req.Style)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, generateResponse{Error: err.Error(), Kind: kindPrecondition})
		return
	}

	res, err := a.genie.Generate(r.Context(), genie.Request{
		Style:  style,
		Prompt: req.Prompt,
		Schema: req.Schema,
	})
	if err != nil {
		status, kind := classifyError(err)
		respondJSON(w, status, generateResponse{
			Style:     string(style),
			Title:     style.Title(),
			RequestID: res.ID,
			Error:     genie.ErrorMessage(err),
			Kind:      kind,
		})
		return
	}

	respondJSON(w, http.StatusOK, generateResponse{
		Query:     res.Query,
		Style:     string(res.Style),
		Title:     res.Style.Title(),
		RequestID: res.ID,
		Tokens:    res.Tokens,
	})
}

func classifyError(err error) (int, string) {
	var tErr *llm.TransportError
	switch {
	case genie.IsPrecondition(err):
		return http.StatusBadRequest, kindPrecondition
	case llm.IsUpstream(err):
		return http.StatusBadGateway, kindUpstream
	case errors.As(err, &tErr):
		return http.StatusBadGateway, kindTransport
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

type extractRequest struct {
	Schema string `json:"schema"`
}

type extractResponse struct {
	Summary       string                `json:"summary"`
	TableNames    []string              `json:"tableNames"`
	Tables        []*schema.Table       `json:"tables"`
	Relationships []schema.Relationship `json:"relationships"`
}

func (a *app) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	text := req.Schema
	if text == "" {
		stored, err := a.genie.Schema(r.Context())
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		text = stored
	}

	res := schema.Extract(text)
	respondJSON(w, http.StatusOK, extractResponse{
		Summary:       res.Summary,
		TableNames:    res.TableNames,
		Tables:        nonNil(res.Model.Tables),
		Relationships: nonNil(res.Model.Relationships),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type valueRequest struct {
	Value string `json:"value"`
}

type keyResponse struct {
	Present bool   `json:"present"`
	Masked  string `json:"masked,omitempty"`
}

func (a *app) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := a.genie.APIKey(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, keyResponse{Present: key != "", Masked: genie.MaskKey(key)})
}

func (a *app) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := a.genie.SetAPIKey(r.Context(), req.Value); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleClearKey(w http.ResponseWriter, r *http.Request) {
	if err := a.genie.ClearAPIKey(r.Context()); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	text, err := a.genie.Schema(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"schema": text})
}

func (a *app) handleSetSchema(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := a.genie.SetSchema(r.Context(), req.Value); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleClearSchema(w http.ResponseWriter, r *http.Request) {
	if err := a.genie.ClearSchema(r.Context()); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleImportSchema(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	text, err := a.genie.ImportSchema(r.Context(), file)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"schema": text})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

//go:embed templates/index.html
var indexHTML string

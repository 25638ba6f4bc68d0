// Package api provides the HTTP surface of the search backend: search submission, result
// polling, assistant streams over SSE and WebSocket, and health checks.
package api //nolint:revive // package name is intentional

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/blueberrycongee/dinescout/internal/httputil"
	"github.com/blueberrycongee/dinescout/internal/jobstore"
	"github.com/blueberrycongee/dinescout/internal/search"
	"github.com/blueberrycongee/dinescout/internal/stream"
	"github.com/blueberrycongee/dinescout/internal/streaming"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// Submitter starts search jobs.
type Submitter interface {
	Submit(ctx context.Context, q types.SearchQuery, owner search.Owner) (*types.Job, error)
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds handler settings.
type Config struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Searches   Submitter
	Jobs       jobstore.Reader
	Streams    *stream.Orchestrator
	Authorizer stream.Authorizer // defaults to stream.OwnershipAuthorizer
	Checks     map[string]Pinger
	Logger     *slog.Logger
}

// Handler serves the search API.
type Handler struct {
	searches   Submitter
	jobs       jobstore.Reader
	streams    *stream.Orchestrator
	authorizer stream.Authorizer
	checks     map[string]Pinger
	upgrader   *websocket.Upgrader
	maxBody    int64
	logger     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config, deps Deps) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httputil.DefaultMaxRequestBodyBytes
	}
	if deps.Authorizer == nil {
		deps.Authorizer = stream.OwnershipAuthorizer{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		searches:   deps.Searches,
		jobs:       deps.Jobs,
		streams:    deps.Streams,
		authorizer: deps.Authorizer,
		checks:     deps.Checks,
		upgrader:   streaming.NewUpgrader(cfg.AllowedOrigins),
		maxBody:    cfg.MaxBodyBytes,
		logger:     deps.Logger,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/search", h.SubmitSearch)
	mux.HandleFunc("GET /api/v1/search/{requestId}", h.GetSearch)
	mux.HandleFunc("GET /api/v1/search/{requestId}/assistant", h.StreamAssistant)
	mux.HandleFunc("GET /api/v1/search/{requestId}/assistant/ws", h.StreamAssistantWS)

	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /health/ready", h.Ready)
}

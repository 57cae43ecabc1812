// Package httpapi exposes the restyle pipeline over HTTP.
//
//	GET  /health               liveness
//	POST /pages/{id}/restyle   start a job and stream its events
//	GET  /restyle-jobs/{id}    the caller's job record
//
// Callers are identified by the gateway in front of the service (see
// package auth). The restyle endpoint runs every check that can fail the
// request (identity, body, API key, entitlement, quota) before the event
// stream opens; after that every failure is reported on the stream.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/store"
)

// JobIDHeader carries the id of the job a restyle stream belongs to.
const JobIDHeader = "X-Restyle-Job-Id"

// maxBodyBytes bounds a restyle request body.
const maxBodyBytes = 1 << 20

// Store is the persistence the HTTP layer needs. store.PageStore satisfies it.
type Store interface {
	GetRestyleJob(ctx context.Context, jobID string) (*store.RestyleJob, error)
	GetEntitlement(ctx context.Context, userID, feature string) (*store.Entitlement, error)
	ConsumeQuota(ctx context.Context, userID, feature string) (int, error)
}

// Runner runs a restyle job. *restyle.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, job restyle.Job, sink restyle.Sink) (*store.RestyleJob, error)
}

// KeyResolver resolves the API key a caller's job runs with.
type KeyResolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// RestylerFactory builds the restyler a job uses from the resolved API key.
type RestylerFactory func(ctx context.Context, apiKey string) (restyle.Restyler, error)

// Config wires a Server.
type Config struct {
	Store        Store
	Runner       Runner
	Keys         KeyResolver
	NewRestyler  RestylerFactory
	OriginSecret string
	// JobContext bounds running jobs. Jobs are detached from the request
	// that started them and stop only when this context is cancelled.
	// Defaults to context.Background().
	JobContext context.Context
	// BufferedResponses marks a transport that delivers a response only
	// once the handler returns. The restyle stream is refused with 501 on
	// such transports; the other routes are served normally.
	BufferedResponses bool
}

// Server holds the HTTP handlers.
type Server struct {
	store        Store
	runner       Runner
	keys         KeyResolver
	newRestyler  RestylerFactory
	originSecret string
	jobCtx       context.Context
	buffered     bool
}

// New creates a Server.
func New(cfg Config) *Server {
	jobCtx := cfg.JobContext
	if jobCtx == nil {
		jobCtx = context.Background()
	}
	return &Server{
		store:        cfg.Store,
		runner:       cfg.Runner,
		keys:         cfg.Keys,
		newRestyler:  cfg.NewRestyler,
		originSecret: cfg.OriginSecret,
		jobCtx:       jobCtx,
		buffered:     cfg.BufferedResponses,
	}
}

// Routes returns the router. Event streams are never gzipped.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withMetrics)

	gzip := func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) }

	r.With(gzip).Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.OriginVerify(s.originSecret))
		r.Use(auth.RequireUser)

		r.Post("/pages/{id}/restyle", s.handleRestyle)
		r.With(gzip).Get("/restyle-jobs/{id}", s.handleGetJob)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

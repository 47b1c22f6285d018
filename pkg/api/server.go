package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AnarchoFatSats/comercial-mva/pkg/certification"
	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
	"github.com/AnarchoFatSats/comercial-mva/pkg/gateway"
	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
	"github.com/AnarchoFatSats/comercial-mva/pkg/observability"
	"github.com/AnarchoFatSats/comercial-mva/pkg/session"
)

const maxBody = 1 << 20

// Options wires the server. Funnels, Sessions, Gateway and Tokens are
// required. Without Ingest the lead endpoints are not mounted.
type Options struct {
	Funnels       *funnel.Registry
	DefaultFunnel string
	Sessions      *session.Manager
	Gateway       *gateway.Gateway
	Certs         *certification.Waiter
	Tokens        *SessionTokens

	Ingest       *ingest.Service
	IngestAPIKey string

	Telemetry   *observability.Provider
	RateLimiter *RateLimiter
	AllowOrigin string
}

// Server serves the funnel API.
type Server struct {
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewServer validates the options.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Funnels == nil:
		return nil, fmt.Errorf("api: funnel registry is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("api: session manager is required")
	case opts.Gateway == nil:
		return nil, fmt.Errorf("api: gateway is required")
	case opts.Tokens == nil:
		return nil, fmt.Errorf("api: session tokens are required")
	}
	if opts.DefaultFunnel == "" {
		opts.DefaultFunnel = funnel.DefaultID
	}
	if _, ok := opts.Funnels.Get(opts.DefaultFunnel); !ok {
		return nil, fmt.Errorf("api: default funnel %q is not loaded", opts.DefaultFunnel)
	}
	s := &Server{opts: opts, logger: slog.Default().With("component", "api")}
	if opts.Telemetry != nil {
		s.metrics = opts.Telemetry.Metrics()
	}
	return s, nil
}

// Handler returns the routed, rate-limited, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /v1/funnels/{funnel}", s.track("funnel.describe", s.handleDescribeFunnel))
	mux.Handle("POST /v1/sessions", s.track("session.start", s.handleStartSession))
	mux.Handle("GET /v1/sessions/{id}", s.track("session.get", s.handleGetSession))
	mux.Handle("POST /v1/sessions/{id}/answers", s.track("session.answer", s.handleAnswer))
	mux.Handle("POST /v1/sessions/{id}/early-contact", s.track("session.early_contact", s.handleEarlyContact))
	mux.Handle("POST /v1/sessions/{id}/contact", s.track("session.contact", s.handleContact))
	mux.Handle("POST /v1/sessions/{id}/certification", s.track("session.certification", s.handleCertification))

	if s.opts.Ingest != nil {
		mux.Handle("POST /v1/leads", s.track("lead.ingest", s.requireAPIKey(s.handleIngest)))
		mux.Handle("POST /v1/early-leads", s.track("lead.ingest_partial", s.requireAPIKey(s.handleIngestPartial)))
		mux.Handle("GET /v1/leads/lookup", s.track("lead.lookup", s.requireAPIKey(s.handleLookup)))
	}

	var h http.Handler = mux
	if s.opts.RateLimiter != nil {
		h = s.opts.RateLimiter.Middleware(h)
	}
	return CORS(s.opts.AllowOrigin, h)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"funnels":  s.opts.Funnels.IDs(),
		"sessions": s.opts.Sessions.Len(),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// track wraps a handler in a span and RED metrics. 5xx responses count as
// errors.
func (s *Server) track(name string, h http.HandlerFunc) http.Handler {
	if s.opts.Telemetry == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, done := s.opts.Telemetry.TrackOperation(r.Context(), name)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(ctx))
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = fmt.Errorf("%s: status %d", name, rec.status)
		}
		done(err)
	})
}

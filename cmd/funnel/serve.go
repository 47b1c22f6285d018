package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AnarchoFatSats/comercial-mva/pkg/api"
	"github.com/AnarchoFatSats/comercial-mva/pkg/certification"
	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
	"github.com/AnarchoFatSats/comercial-mva/pkg/gateway"
	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
	"github.com/AnarchoFatSats/comercial-mva/pkg/observability"
	"github.com/AnarchoFatSats/comercial-mva/pkg/session"
)

const sweepEvery = time.Minute

// app is everything runServer starts and stops.
type app struct {
	handler   http.Handler
	sessions  *session.Manager
	limiter   *api.RateLimiter
	gateway   *gateway.Gateway
	telemetry *observability.Provider
	cleanup   func() error
}

func loadFunnels(cfg *config.Config) (*funnel.Registry, error) {
	reg, err := funnel.Builtin()
	if err != nil {
		return nil, fmt.Errorf("builtin funnels: %w", err)
	}
	if cfg.Funnel.Dir != "" {
		if err := reg.LoadDir(cfg.Funnel.Dir); err != nil {
			return nil, fmt.Errorf("funnel dir %s: %w", cfg.Funnel.Dir, err)
		}
	}
	return reg, nil
}

// buildApp wires the server from configuration without listening.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tcfg := observability.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.Environment = cfg.Telemetry.Environment
	tcfg.ServiceVersion = version
	telemetry, err := observability.New(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a := &app{telemetry: telemetry, cleanup: func() error { return nil }}

	reg, err := loadFunnels(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[funnel] funnels: %v", reg.IDs())

	var svc *ingest.Service
	if cfg.Ingest.Enabled {
		svc, a.cleanup, err = ingest.Open(ctx, cfg, telemetry.Metrics())
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		log.Printf("[funnel] ingest: ready (objects=%s index=%s)", cfg.Ingest.ObjectBackend, cfg.Ingest.IndexBackend)
	}

	gcfg := gateway.Config{
		LeadsURL:    cfg.Gateway.LeadsURL,
		PartialsURL: cfg.Gateway.PartialsURL,
		APIKey:      cfg.Gateway.APIKey,
		Timeout:     cfg.Gateway.Timeout,
		MaxInFlight: cfg.Gateway.MaxInFlight,
	}
	if svc != nil {
		self := selfURL(cfg.Addr())
		if gcfg.LeadsURL == "" {
			gcfg.LeadsURL = self + "/v1/leads"
		}
		if gcfg.PartialsURL == "" {
			gcfg.PartialsURL = self + "/v1/early-leads"
		}
		if gcfg.APIKey == "" {
			gcfg.APIKey = cfg.Ingest.APIKey
		}
	}
	if gcfg.LeadsURL == "" {
		slog.Warn("no ingestion endpoint configured; verdicts will not be delivered")
	}

	certs := certification.NewWaiter(cfg.Gateway.CertificationWait)
	a.gateway = gateway.New(gcfg).
		WithCertification(certs).
		WithMetrics(telemetry.Metrics())

	tokens, err := api.NewSessionTokens(cfg.Funnel.SessionSecret, cfg.Funnel.SessionTTL)
	if err != nil {
		_ = a.cleanup()
		return nil, err
	}
	if cfg.Funnel.SessionSecret == "" {
		slog.Warn("SESSION_SECRET not set; session tokens will not survive a restart")
	}

	a.sessions = session.NewManager(cfg.Funnel.SessionTTL)
	a.limiter = api.NewRateLimiter(cfg.Funnel.RateLimitRPS, cfg.Funnel.RateBurst)

	srv, err := api.NewServer(api.Options{
		Funnels:       reg,
		DefaultFunnel: cfg.Funnel.Default,
		Sessions:      a.sessions,
		Gateway:       a.gateway,
		Certs:         certs,
		Tokens:        tokens,
		Ingest:        svc,
		IngestAPIKey:  cfg.Ingest.APIKey,
		Telemetry:     telemetry,
		RateLimiter:   a.limiter,
		AllowOrigin:   cfg.Funnel.AllowOrigin,
	})
	if err != nil {
		_ = a.cleanup()
		return nil, err
	}
	a.handler = srv.Handler()
	return a, nil
}

func selfURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runServer(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "Commercial MVA funnel %s starting...\n", version)
	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}

	go a.sessions.RunSweeper(ctx, sweepEvery)
	go a.limiter.RunSweeper(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("[funnel] ready: http://localhost%s", cfg.Addr())
		errc <- httpSrv.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Println("[funnel] shutting down")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server: %v\n", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.shutdown(shutdownCtx, httpSrv)
	return code
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops srv and releases the app. Pending deliveries may post to
// this process's own ingestion endpoint, so they drain while the listener is
// still up. Requests that finish during srv.Shutdown can still reach a
// verdict; Close waits for those deliveries and refuses any later ones.
func (a *app) shutdown(ctx context.Context, srv shutdowner) {
	a.gateway.Wait()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	a.gateway.Close()
	if err := a.cleanup(); err != nil {
		slog.Error("close backends", "error", err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown", "error", err)
	}
}

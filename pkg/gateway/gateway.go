// Package gateway delivers terminal lead records and early partial leads to
// the ingestion service.
//
// Delivery never blocks the caller: Submit returns at once and the POST runs
// in the background with a bounded timeout, a single attempt and a bounded
// number of deliveries in flight. Failures surface as *DeliveryError through
// the log, the metrics and an optional hook. They never touch the session,
// whose verdict is final before delivery starts.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AnarchoFatSats/comercial-mva/pkg/certification"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
	"github.com/AnarchoFatSats/comercial-mva/pkg/observability"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxInFlight = 64
	maxResponseBody    = 64 << 10

	KindLead    = "lead"
	KindPartial = "partial"
)

var (
	// ErrNoEndpoint means no ingestion URL is configured for the kind.
	ErrNoEndpoint = errors.New("no ingestion endpoint configured")
	// ErrBackpressure means too many deliveries were already in flight.
	ErrBackpressure = errors.New("too many deliveries in flight")
	// ErrRejected means the ingestion service answered with a non-2xx status.
	ErrRejected = errors.New("ingestion service rejected the lead")
	// ErrClosed means the gateway was closed before the delivery started.
	ErrClosed = errors.New("gateway closed")
)

// DeliveryError reports a failed delivery. The lead itself is unaffected.
type DeliveryError struct {
	Kind       string
	LeadID     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver %s %s: status %d: %v", e.Kind, e.LeadID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver %s %s: %v", e.Kind, e.LeadID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Config configures the gateway.
type Config struct {
	// LeadsURL receives terminal lead records.
	LeadsURL string
	// PartialsURL receives early partial leads. Partials are skipped when empty.
	PartialsURL string
	// APIKey is sent as x-api-key when set.
	APIKey string
	// Timeout bounds one HTTP attempt. Default: 5s.
	Timeout time.Duration
	// MaxInFlight caps concurrent deliveries. Default: 64.
	MaxInFlight int
}

// Receipt is the ingestion service's acknowledgement.
type Receipt struct {
	LeadID    string `json:"leadId"`
	ObjectKey string `json:"objectKey,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Gateway posts leads to the ingestion service.
type Gateway struct {
	cfg       Config
	client    *http.Client
	certs     *certification.Waiter
	metrics   *observability.Metrics
	logger    *slog.Logger
	onFailure func(*DeliveryError)
	onSuccess func(kind string, r Receipt)

	slots chan struct{}

	mu       sync.Mutex
	idle     *sync.Cond
	inFlight int
	closed   bool
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	g := &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default().With("component", "gateway"),
		slots:  make(chan struct{}, cfg.MaxInFlight),
	}
	g.idle = sync.NewCond(&g.mu)
	return g
}

// WithCertification makes lead deliveries wait briefly for the browser's
// certificate token when the record has none.
func (g *Gateway) WithCertification(w *certification.Waiter) *Gateway {
	g.certs = w
	return g
}

func (g *Gateway) WithMetrics(m *observability.Metrics) *Gateway {
	g.metrics = m
	return g
}

// OnFailure registers a hook called once per failed delivery.
func (g *Gateway) OnFailure(fn func(*DeliveryError)) *Gateway {
	g.onFailure = fn
	return g
}

// OnSuccess registers a hook called once per acknowledged delivery.
func (g *Gateway) OnSuccess(fn func(kind string, r Receipt)) *Gateway {
	g.onSuccess = fn
	return g
}

// Submit hands a terminal record over for delivery and returns immediately.
// sessionID keys the certificate wait; the record is copied first.
func (g *Gateway) Submit(ctx context.Context, sessionID string, r *leads.Record) {
	rec := r.Clone()
	g.dispatch(ctx, KindLead, rec.LeadID, func(ctx context.Context) error {
		if rec.CertificationToken == "" && g.certs != nil {
			if tok, ok := g.certs.Await(ctx, sessionID); ok {
				rec.CertificationToken = tok
			}
		} else if g.certs != nil {
			g.certs.Forget(sessionID)
		}
		return g.post(ctx, KindLead, g.cfg.LeadsURL, rec.LeadID, rec)
	})
}

// SubmitPartial hands an early partial lead over for delivery.
func (g *Gateway) SubmitPartial(ctx context.Context, p *leads.PartialLead) {
	if g.cfg.PartialsURL == "" {
		g.logger.DebugContext(ctx, "partial lead delivery disabled", "partial_id", p.PartialID)
		return
	}
	cp := *p
	g.dispatch(ctx, KindPartial, cp.PartialID, func(ctx context.Context) error {
		return g.post(ctx, KindPartial, g.cfg.PartialsURL, cp.PartialID, &cp)
	})
}

// Wait blocks until every dispatched delivery has finished. Submissions may
// continue while it waits.
func (g *Gateway) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.inFlight > 0 {
		g.idle.Wait()
	}
}

// Close stops accepting deliveries and waits for the ones already started.
// Later submissions fail with ErrClosed.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.Wait()
}

func (g *Gateway) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.inFlight++
	return true
}

func (g *Gateway) done() {
	g.mu.Lock()
	g.inFlight--
	if g.inFlight == 0 {
		g.idle.Broadcast()
	}
	g.mu.Unlock()
}

func (g *Gateway) dispatch(ctx context.Context, kind, id string, deliver func(context.Context) error) {
	// Deliveries outlive the request that triggered them.
	ctx = context.WithoutCancel(ctx)

	if !g.begin() {
		g.fail(ctx, &DeliveryError{Kind: kind, LeadID: id, Err: ErrClosed})
		return
	}
	select {
	case g.slots <- struct{}{}:
	default:
		g.done()
		g.fail(ctx, &DeliveryError{Kind: kind, LeadID: id, Err: ErrBackpressure})
		return
	}

	go func() {
		defer g.done()
		defer func() { <-g.slots }()
		if err := deliver(ctx); err != nil {
			var de *DeliveryError
			if !errors.As(err, &de) {
				de = &DeliveryError{Kind: kind, LeadID: id, Err: err}
			}
			g.fail(ctx, de)
			return
		}
		g.metrics.Delivery(ctx, kind, nil)
	}()
}

func (g *Gateway) post(ctx context.Context, kind, url, id string, body any) error {
	if url == "" {
		return &DeliveryError{Kind: kind, LeadID: id, Err: ErrNoEndpoint}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &DeliveryError{Kind: kind, LeadID: id, Err: fmt.Errorf("marshal: %w", err)}
	}
	key, err := leads.Digest(body)
	if err != nil {
		return &DeliveryError{Kind: kind, LeadID: id, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Kind: kind, LeadID: id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// For third-party receivers. pkg/ingest dedupes on the lead id instead,
	// since a redelivery that picked up a certificate token has a new digest.
	req.Header.Set("Idempotency-Key", key)
	if g.cfg.APIKey != "" {
		req.Header.Set("x-api-key", g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &DeliveryError{Kind: kind, LeadID: id, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Kind: kind, LeadID: id, StatusCode: resp.StatusCode, Err: ErrRejected}
	}

	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		receipt.LeadID = id
	}
	g.logger.InfoContext(ctx, "lead delivered",
		"kind", kind,
		"lead_id", id,
		"object_key", receipt.ObjectKey,
		"duplicate", receipt.Duplicate,
	)
	if g.onSuccess != nil {
		g.onSuccess(kind, receipt)
	}
	return nil
}

func (g *Gateway) fail(ctx context.Context, de *DeliveryError) {
	g.logger.ErrorContext(ctx, "lead delivery failed",
		"kind", de.Kind,
		"lead_id", de.LeadID,
		"status", de.StatusCode,
		"error", de.Err,
	)
	g.metrics.Delivery(ctx, de.Kind, de)
	if g.onFailure != nil {
		g.onFailure(de)
	}
}

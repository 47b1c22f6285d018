package certification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	maxCertificateBody   = 1 << 20
)

// ErrUntrustedHost is returned for certificate URLs outside the allowed hosts.
var ErrUntrustedHost = errors.New("certificate host not allowed")

// Verification is the outcome of a certificate check. It is stored with the
// lead whether or not the check succeeded.
type Verification struct {
	Verified  bool            `json:"verified"`
	CheckedAt time.Time       `json:"checkedAt"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// VerifierConfig configures the TrustedForm verifier.
type VerifierConfig struct {
	// APIKey is sent as a bearer token.
	APIKey string
	// AllowedHostSuffix restricts which hosts certificate URLs may point at.
	// Default: "trustedform.com".
	AllowedHostSuffix string
	// Timeout bounds one verification call. Default: 5s.
	Timeout time.Duration
	// AllowInsecure permits plain http URLs (tests only).
	AllowInsecure bool
}

// Verifier fetches TrustedForm certificates.
type Verifier struct {
	cfg    VerifierConfig
	client *http.Client
	clock  func() time.Time
}

// NewVerifier creates a verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.AllowedHostSuffix == "" {
		cfg.AllowedHostSuffix = "trustedform.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultVerifyTimeout
	}
	return &Verifier{cfg: cfg, client: &http.Client{Timeout: timeout}, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// Verify fetches the certificate. Transport and HTTP failures are reported
// inside the Verification; only a malformed or disallowed URL is an error.
func (v *Verifier) Verify(ctx context.Context, certURL string) (*Verification, error) {
	u, err := v.check(certURL)
	if err != nil {
		return nil, err
	}
	out := &Verification{CheckedAt: v.clock().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("certificate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateBody))
	if err != nil {
		out.Error = fmt.Sprintf("read certificate: %v", err)
		return out, nil
	}
	if resp.StatusCode != http.StatusOK {
		out.Error = fmt.Sprintf("verification failed with status %d", resp.StatusCode)
		return out, nil
	}
	out.Verified = true
	if json.Valid(body) {
		out.Data = body
	}
	return out, nil
}

func (v *Verifier) check(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("certificate url: %w", err)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && v.cfg.AllowInsecure:
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUntrustedHost, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	suffix := strings.ToLower(v.cfg.AllowedHostSuffix)
	if host != suffix && !strings.HasSuffix(host, "."+suffix) {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedHost, host)
	}
	return u, nil
}

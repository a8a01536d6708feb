package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/ordering-service/pkg/circuitbreaker"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

const maxResponseBytes = 8 << 20

type Config struct {
	BaseURL        string
	APILogin       string
	OrganizationID string

	TokenTTL      time.Duration
	RefreshMargin time.Duration
	AuthBackoff   time.Duration

	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	CallTimeout     time.Duration

	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenTTL == 0 {
		c.TokenTTL = 60 * time.Minute
	}
	if c.RefreshMargin == 0 {
		c.RefreshMargin = 5 * time.Minute
	}
	if c.AuthBackoff == 0 {
		c.AuthBackoff = 500 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 10 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 15 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Client talks to the POS HTTP API. It owns the access token and is safe for
// concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker[[]byte]
	log     *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	token     Token
	authGroup singleflight.Group
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: newHTTPClient(cfg),
		breaker: circuitbreaker.New[[]byte](circuitbreaker.Settings{
			Name:                "pos",
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
			IsFailure:           countsAgainstBreaker,
			Logger:              log,
		}),
		log: log,
		now: time.Now,
	}
}

func newHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// countsAgainstBreaker keeps caller cancellations and 4xx answers from
// tripping the breaker; those say nothing about POS health.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.StatusCode >= 400 && ue.StatusCode < 500 {
		return false
	}
	return true
}

// call performs an authenticated request. A 401/403 answer drops the token,
// re-authenticates once and retries once.
func (c *Client) call(ctx context.Context, op, path string, in, out any, ambiguous bool) error {
	tok, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}

	err = c.post(ctx, op, path, tok.Value, in, out, ambiguous)
	if !isAuthStatus(err) {
		return err
	}

	c.log.InfoContext(ctx, "pos rejected token, re-authenticating", slog.String("op", op))
	c.dropToken(tok)
	if tok, err = c.Authenticate(ctx); err != nil {
		return err
	}

	err = c.post(ctx, op, path, tok.Value, in, out, ambiguous)
	if isAuthStatus(err) {
		return &AuthError{Op: op, Err: err}
	}
	return err
}

func (c *Client) post(ctx context.Context, op, path, token string, in, out any, ambiguous bool) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("pos %s: encode request: %w", op, err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, op, path, token, payload, ambiguous)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &UpstreamError{Op: op, Err: err}
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		err = fmt.Errorf("%w: %v", errMalformed, err)
		// The POS answered 2xx, so it may have acted on the request.
		if ambiguous {
			return &TimeoutError{Op: op, Err: err}
		}
		return &UpstreamError{Op: op, StatusCode: http.StatusOK, Err: err}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, path, token string, payload []byte, ambiguous bool) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var written atomic.Bool
	callCtx = httptrace.WithClientTrace(callCtx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	})

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pos %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, op, err, ambiguous && written.Load())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, op, err, ambiguous)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(data, 256)),
		}
	}
	return data, nil
}

// classify turns a transport failure into a typed error. sent means the
// request reached the POS and it may have acted on it.
func classify(parent context.Context, op string, err error, sent bool) error {
	if sent {
		return &TimeoutError{Op: op, Err: err}
	}
	if parent.Err() != nil {
		return parent.Err()
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &UpstreamError{Op: op, Err: err}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

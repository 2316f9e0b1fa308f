package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rawblock/chainintel-engine/internal/cache"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Shared adapter base. Centralizes everything the individual adapters must
// not reimplement:
//
//   1. Cache mediation: deterministic key (adapter-id, method, args),
//      per-adapter TTL. The rest of the system never sees a miss as a
//      distinct case.
//   2. Token-bucket budget (requests/hour). Depleted → fail fast with a
//      rate_limited finding, without contacting the remote.
//   3. Bounded retries with jittered exponential backoff, transport-class
//      failures only. Auth/4xx is terminal and marks the adapter degraded
//      for a cooldown window.
//   4. A circuit breaker over the remote so a persistently failing source
//      stops consuming its own retry budget.

// Config is the per-adapter tuning block.
type Config struct {
	ID              string
	BaseURL         string
	APIKey          string
	Reliability     float64
	CacheTTL        time.Duration // default 300s
	RequestsPerHour int           // token-bucket budget, default 1000
	MaxRetries      int           // transport-class retries, default 3
	DegradedWindow  time.Duration // cooldown after a terminal rejection, default 60s
	Timeout         time.Duration // per-request HTTP timeout, default 10s
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = cache.TTLProviderResponse
	}
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DegradedWindow <= 0 {
		c.DegradedWindow = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Reliability <= 0 {
		c.Reliability = 0.5
	}
}

// terminalError marks a non-retryable remote rejection (auth, 4xx).
type terminalError struct {
	status int
	body   string
}

func (e *terminalError) Error() string {
	return fmt.Sprintf("remote rejected request: status %d: %s", e.status, e.body)
}

// base implements the shared call path; concrete adapters embed it.
type base struct {
	cfg        Config
	store      cache.Cache
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	httpClient *http.Client
	logger     *zap.Logger

	mu            sync.Mutex
	degradedUntil time.Time
}

func newBase(cfg Config, store cache.Cache, logger *zap.Logger) *base {
	cfg.applyDefaults()

	perSecond := rate.Limit(float64(cfg.RequestsPerHour) / 3600.0)
	burst := cfg.RequestsPerHour / 10
	if burst < 1 {
		burst = 1
	}

	b := &base{
		cfg:        cfg,
		store:      store,
		limiter:    rate.NewLimiter(perSecond, burst),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("provider." + cfg.ID),
	}

	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.ID,
		Timeout: cfg.DegradedWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("provider breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return b
}

func (b *base) ID() string           { return b.cfg.ID }
func (b *base) Reliability() float64 { return b.cfg.Reliability }

// remoteFunc performs the actual wire call for one operation.
type remoteFunc func(ctx context.Context) (models.Finding, error)

// call runs the full decorated path for one adapter operation.
func (b *base) call(ctx context.Context, subject models.Subject, method string, args []string, fn remoteFunc) models.Finding {
	key := cacheKey(b.cfg.ID, method, args)

	// Cache first. A hit is identical to a fresh call except created-at.
	if raw, err := b.store.Get(ctx, key); err == nil {
		var cached models.Finding
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			cached.CreatedAt = time.Now().UTC()
			return cached
		}
	}

	// Degraded window after a terminal rejection: skip the remote entirely.
	b.mu.Lock()
	degraded := time.Now().Before(b.degradedUntil)
	b.mu.Unlock()
	if degraded {
		return models.ErrorFinding(subject, b.cfg.ID, models.KindError, "adapter degraded")
	}

	// Budget check — fail fast, never queue against the remote.
	if !b.limiter.Allow() {
		return models.ErrorFinding(subject, b.cfg.ID, models.KindRateLimited, "request budget exhausted")
	}

	finding, err := b.callWithRetries(ctx, fn)
	if err != nil {
		var terminal *terminalError
		if errors.As(err, &terminal) {
			b.mu.Lock()
			b.degradedUntil = time.Now().Add(b.cfg.DegradedWindow)
			b.mu.Unlock()
			b.logger.Warn("provider rejected request, marking degraded",
				zap.Int("status", terminal.status), zap.Duration("window", b.cfg.DegradedWindow))
			return models.ErrorFinding(subject, b.cfg.ID, models.KindError, terminal.Error())
		}
		b.logger.Warn("provider unavailable", zap.String("method", method), zap.Error(err))
		return models.ErrorFinding(subject, b.cfg.ID, models.KindError, err.Error())
	}

	// Round-trip through the cache encoding so fresh and cached results are
	// byte-for-byte interchangeable (modulo created-at).
	if raw, jsonErr := json.Marshal(finding); jsonErr == nil {
		if cacheErr := b.store.Set(ctx, key, raw, b.cfg.CacheTTL); cacheErr != nil {
			b.logger.Debug("cache write failed", zap.Error(cacheErr))
		}
		var normalized models.Finding
		if jsonErr = json.Unmarshal(raw, &normalized); jsonErr == nil {
			return normalized
		}
	}
	return finding
}

// callWithRetries retries transport-class failures with jittered
// exponential backoff; terminal rejections surface immediately.
func (b *base) callWithRetries(ctx context.Context, fn remoteFunc) (models.Finding, error) {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return models.Finding{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := b.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err == nil {
			return result.(models.Finding), nil
		}
		lastErr = err

		var terminal *terminalError
		if errors.As(err, &terminal) {
			return models.Finding{}, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return models.Finding{}, err
		}
	}
	return models.Finding{}, fmt.Errorf("transport failed after %d retries: %w", b.cfg.MaxRetries, lastErr)
}

// postJSON is the shared wire helper: JSON request, auth header, JSON
// response decoded into out. Status classes: 2xx ok, 429/5xx transport
// (retryable), other 4xx terminal.
func (b *base) postJSON(ctx context.Context, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.Unmarshal(body, out)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("transport failure: status %d", resp.StatusCode)
	default:
		return &terminalError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
}

// cacheKey builds the deterministic per-call key.
func cacheKey(adapterID, method string, args []string) string {
	return adapterID + "|" + method + "|" + strings.Join(args, "|")
}

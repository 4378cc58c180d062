package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/clawinfra/rapport/internal/queue"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxAttempts is the number of request-level attempts per Submit.
	DefaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
)

// TokenSource supplies bearer tokens. security.TokenSource satisfies it.
type TokenSource interface {
	Token() (string, error)
}

// HTTPConfig configures the HTTP submitter.
type HTTPConfig struct {
	Endpoint    string
	AppID       string
	Tokens      TokenSource // nil sends requests without Authorization
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration // first backoff step; doubles per attempt
	Client      *http.Client  // overrides the default client when set
}

// HTTP posts items to <endpoint>/v1/<kind>.
type HTTP struct {
	cfg        HTTPConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTP creates an HTTP submitter.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTP{
		cfg:        cfg,
		httpClient: client,
		logger:     logger.With("component", "submit", "transport", "http"),
	}
}

// errSign marks a failure to produce a bearer token; retrying cannot fix it.
var errSign = errors.New("sign token")

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

// retryable reports whether another attempt could succeed.
func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests || e.code == http.StatusRequestTimeout
}

// Submit delivers one item, retrying transient failures with exponential
// backoff up to MaxAttempts.
func (h *HTTP) Submit(ctx context.Context, item queue.Item) queue.Result {
	body, err := encodeItem(item)
	if err != nil {
		return queue.Terminal("encode item: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt < h.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 200ms, 400ms, 800ms
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * h.cfg.BaseDelay
			h.logger.Debug("retrying submission",
				"id", item.ID,
				"attempt", attempt+1,
				"delay", delay)

			select {
			case <-ctx.Done():
				return queue.Retryable("%v", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := h.post(ctx, item, body)
		if err == nil {
			h.logger.Debug("item submitted", "id", item.ID, "kind", item.Kind, "attempt", attempt+1)
			return queue.Success()
		}
		lastErr = err

		if errors.Is(err, errSign) {
			return queue.Terminal("%v", err)
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			h.logger.Warn("submission rejected", "id", item.ID, "status", se.code)
			return queue.Terminal("%v", err)
		}
		h.logger.Warn("submission failed",
			"id", item.ID,
			"attempt", attempt+1,
			"error", err)
	}

	return queue.Retryable("after %d attempts: %v", h.cfg.MaxAttempts, lastErr)
}

func (h *HTTP) post(ctx context.Context, item queue.Item, body []byte) error {
	url := fmt.Sprintf("%s/v1/%s", h.cfg.Endpoint, item.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)
	if h.cfg.AppID != "" {
		req.Header.Set("X-App-Id", h.cfg.AppID)
	}
	if h.cfg.Tokens != nil {
		tok, err := h.cfg.Tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", errSign, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// The backend has already accepted this idempotency key.
		return nil
	default:
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}
}

var _ queue.Submitter = (*HTTP)(nil)

package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tvu/mailcache/internal/model"
)

// TokenSource supplies bearer tokens for the remote mail API. Refresh is
// invoked at most once per logical request, after an unauthorized response.
type TokenSource interface {
	// Token returns the current access token.
	Token(ctx context.Context) (string, error)

	// Refresh obtains and returns a new access token, persisting it via
	// whatever credential collaborator backs the source.
	Refresh(ctx context.Context) (string, error)
}

// Options bounds the client's retry, backoff, and pagination behavior.
type Options struct {
	// PageSize is the item count requested per page.
	PageSize int

	// MaxPages caps pages followed in a single listing or delta call.
	MaxPages int

	// MaxTransientRetries bounds retries of read-only calls after
	// network failures. Mutations are never retried.
	MaxTransientRetries int

	// MaxRateLimitRetries bounds retries after 429 responses.
	MaxRateLimitRetries int

	// RetryAfterClamp caps the server-suggested rate-limit wait.
	RetryAfterClamp time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// DefaultOptions returns the client defaults, matching the engine config
// defaults in internal/model.
func DefaultOptions() Options {
	return Options{
		PageSize:            50,
		MaxPages:            20,
		MaxTransientRetries: 2,
		MaxRateLimitRetries: 3,
		RetryAfterClamp:     30 * time.Second,
		Timeout:             30 * time.Second,
	}
}

// OptionsFromConfig converts the loaded engine configuration into client
// options, substituting defaults for unset fields.
func OptionsFromConfig(cfg *model.EngineConfig) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if cfg.PageSize > 0 {
		opts.PageSize = cfg.PageSize
	}
	if cfg.MaxPages > 0 {
		opts.MaxPages = cfg.MaxPages
	}
	if cfg.TransientRetries >= 0 {
		opts.MaxTransientRetries = cfg.TransientRetries
	}
	if cfg.RateLimitRetries >= 0 {
		opts.MaxRateLimitRetries = cfg.RateLimitRetries
	}
	if cfg.RetryAfterClampSec > 0 {
		opts.RetryAfterClamp = time.Duration(cfg.RetryAfterClampSec) * time.Second
	}
	if cfg.HTTPTimeoutSec > 0 {
		opts.Timeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	return opts
}

// Client talks to the remote paginated mail API. It owns authentication
// refresh, transient retry, rate-limit backoff, and pagination policy, and
// knows nothing about persistence.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

// NewClient creates a client for the API rooted at baseURL. A nil logger
// falls back to slog.Default().
func NewClient(baseURL string, tokens TokenSource, opts Options, logger *slog.Logger) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultOptions().MaxPages
	}
	if opts.RetryAfterClamp <= 0 {
		opts.RetryAfterClamp = DefaultOptions().RetryAfterClamp
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		logger:     logger,
	}
}

// errGone marks a 410 response inside the returned ProtocolError. Only the
// delta path inspects it, mapping it to DeltaExpiredError; everywhere else a
// 410 is just a protocol failure.
var errGone = errors.New("resource gone (410)")

// do executes one logical request against rawURL. It refreshes the token at
// most once on 401, sleeps and retries on 429 within the rate-limit budget,
// and retries network failures only when idempotent is true. On success the
// response body is unmarshaled into result (or copied verbatim when result
// is *[]byte).
func (c *Client) do(
	ctx context.Context,
	method string,
	rawURL string,
	body []byte,
	result interface{},
	idempotent bool,
) error {
	op := method + " " + rawURL

	refreshed := false
	rateRetries := 0
	transientRetries := 0

	for {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
		if err != nil {
			return &ProtocolError{Message: fmt.Sprintf("building request %s: %v", op, err)}
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &AuthError{Message: fmt.Sprintf("obtaining token: %v", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Client-Request-Id", uuid.NewString())
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return &TransportError{Op: op, Err: ctx.Err()}
			}
			if idempotent && transientRetries < c.opts.MaxTransientRetries {
				transientRetries++
				c.logger.Warn("retrying after network failure",
					"op", op, "attempt", transientRetries, "error", err)
				continue
			}
			return &TransportError{Op: op, Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			if idempotent && transientRetries < c.opts.MaxTransientRetries {
				transientRetries++
				continue
			}
			return &TransportError{Op: op, Err: readErr}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return &AuthError{Message: fmt.Sprintf(
					"still unauthorized after token refresh on %s", op)}
			}
			refreshed = true
			if _, err := c.tokens.Refresh(ctx); err != nil {
				return &AuthError{Message: fmt.Sprintf("refreshing token: %v", err)}
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			if rateRetries >= c.opts.MaxRateLimitRetries {
				return &RateLimitError{Retries: rateRetries}
			}
			rateRetries++
			wait := c.retryAfter(resp, rateRetries)
			c.logger.Warn("rate limited, backing off",
				"op", op, "wait", wait, "attempt", rateRetries)
			select {
			case <-ctx.Done():
				return &TransportError{Op: op, Err: ctx.Err()}
			case <-time.After(wait):
			}
			continue

		case resp.StatusCode == http.StatusGone:
			return &ProtocolError{
				Message: fmt.Sprintf("%s failed with status 410 (gone)", op),
				err:     errGone,
			}

		case resp.StatusCode >= 500:
			if idempotent && transientRetries < c.opts.MaxTransientRetries {
				transientRetries++
				continue
			}
			return &TransportError{Op: op, Err: fmt.Errorf(
				"server error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			var apiErr errorResponse
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				return &ProtocolError{Message: fmt.Sprintf(
					"%s failed (%d): %s: %s",
					op, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)}
			}
			return &ProtocolError{Message: fmt.Sprintf(
				"%s failed with status %d", op, resp.StatusCode)}
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if raw, ok := result.(*[]byte); ok {
			*raw = respBody
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return &ProtocolError{Message: fmt.Sprintf(
				"unmarshaling response from %s: %v", op, err)}
		}

		return nil
	}
}

// retryAfter reads the Retry-After header and clamps the wait to the
// configured maximum. Falls back to exponential backoff when absent.
func (c *Client) retryAfter(resp *http.Response, attempt int) time.Duration {
	wait := time.Duration(0)
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			wait = time.Duration(seconds) * time.Second
		}
	}
	if wait == 0 {
		// Exponential backoff: 1s, 2s, 4s, ...
		wait = time.Duration(1<<uint(attempt-1)) * time.Second
	}
	if wait > c.opts.RetryAfterClamp {
		wait = c.opts.RetryAfterClamp
	}
	return wait
}

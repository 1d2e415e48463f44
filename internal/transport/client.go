package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	baseBackoff      = 1 * time.Second
	maxBackoff       = 60 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "gcsxfer/1"
)

// TokenSource provides bearer tokens for authenticated requests. Left nil
// on a Client used only against pre-authenticated (signed) URLs, such as a
// resumable upload session URL.
type TokenSource interface {
	Token() (string, error)
}

// Client is a retrying HTTP round-tripper: exponential backoff with
// jitter on network errors and retryable status codes, invocation IDs for
// log correlation, and bearer-token attachment when a TokenSource is
// configured.
type Client struct {
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string

	// sleepFunc waits between retries. Defaults to timeSleep; tests
	// override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client. httpClient may be nil (defaults to
// http.DefaultClient); token may be nil for pre-authenticated-URL use;
// userAgent empty adopts the package default.
func NewClient(httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}
}

// Do executes a request with retry. newReq is called fresh on every
// attempt, including the first, so the caller can hand back a body that
// depends on the current retry count (a Stream Slice re-sliced from the
// source stream's current position, for instance). numRetries bounds how
// many times a failed attempt is retried, per the transfer's configured
// num_retries. acceptable is the set of HTTP status codes the caller
// treats as a final, non-error outcome — distinct transfer phases accept
// distinct sets (a download tolerates 416, a resumable chunk send
// tolerates 308).
//
// On success the response is returned unread; the caller owns the body.
// On a status outside acceptable, if it is retryable the request is
// retried; otherwise the response is still returned (with a non-nil
// *Error) so the caller can inspect headers such as Content-Range before
// deciding how to proceed.
func (c *Client) Do(
	ctx context.Context, desc string, numRetries int, newReq func() (*http.Request, error), acceptable map[int]bool,
) (*http.Response, error) {
	var attempt int

	for {
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("transport: building request for %s: %w", desc, err)
		}

		invocationID := uuid.NewString()
		req.Header.Set("X-Invocation-ID", invocationID)
		req.Header.Set("User-Agent", c.userAgent)

		if c.token != nil {
			tok, tokErr := c.token.Token()
			if tokErr != nil {
				return nil, fmt.Errorf("transport: obtaining token: %w", tokErr)
			}

			req.Header.Set("Authorization", "Bearer "+tok)
		}

		c.logger.Debug("sending request",
			slog.String("desc", desc),
			slog.String("method", req.Method),
			slog.String("invocation_id", invocationID),
			slog.Int("attempt", attempt+1),
		)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("transport: %s canceled: %w", desc, ctx.Err())
			}

			if attempt < numRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("desc", desc),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("transport: %s canceled: %w", desc, sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("transport: %s failed after %d retries: %w", desc, numRetries, err)
		}

		if acceptable[resp.StatusCode] {
			c.logger.Debug("request accepted",
				slog.String("desc", desc),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < numRetries {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
			resp.Body.Close()

			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("desc", desc),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("transport: %s canceled: %w", desc, sleepErr)
			}

			attempt++

			continue
		}

		// Not acceptable and not retryable (or retries exhausted): hand the
		// response back with a classified error so the caller can still
		// inspect headers (e.g. Content-Range on an unexpected status).
		return resp, &Error{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// retryBackoff returns the backoff duration for a retryable response,
// honoring Retry-After on 429.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with +/-25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

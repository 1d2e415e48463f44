package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", errors.New("token error")
}

const testRetries = 5

func newTestClient(token TokenSource) *Client {
	c := NewClient(http.DefaultClient, token, slog.New(slog.DiscardHandler), "")
	c.sleepFunc = noopSleep

	return c
}

func okSet(codes ...int) map[int]bool {
	m := make(map[int]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}

	return m
}

func TestDo_SuccessAttachesTokenAndInvocationID(t *testing.T) {
	var gotAuth, gotInvocation string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotInvocation = r.Header.Get("X-Invocation-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(staticToken("tok123"))
	resp, err := c.Do(context.Background(), "test", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, okSet(http.StatusOK))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.NotEmpty(t, gotInvocation)
}

func TestDo_NoTokenForPreAuthURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	resp, err := c.Do(context.Background(), "test", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, okSet(http.StatusOK))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_TokenError(t *testing.T) {
	c := newTestClient(failingToken{})
	_, err := c.Do(context.Background(), "test", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	}, okSet(http.StatusOK))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obtaining token")
}

func TestDo_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	resp, err := c.Do(context.Background(), "test", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, okSet(http.StatusOK))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDo_AcceptsNonStandardStatusAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Range", "bytes=0-99")
		w.WriteHeader(http.StatusPermanentRedirect) // 308, resume-incomplete
	}))
	defer srv.Close()

	c := newTestClient(nil)
	resp, err := c.Do(context.Background(), "chunk", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodPut, srv.URL, nil)
	}, okSet(http.StatusOK, http.StatusCreated, http.StatusPermanentRedirect))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "bytes=0-99", resp.Header.Get("Range"))
}

func TestDo_NonAcceptableNonRetryableReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	resp, err := c.Do(context.Background(), "test", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	}, okSet(http.StatusOK))
	require.Error(t, err)
	require.NotNil(t, resp)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusForbidden, terr.StatusCode)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDo_NetworkErrorRetriesThenFails(t *testing.T) {
	c := newTestClient(nil)
	_, err := c.Do(context.Background(), "unreachable", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, "http://127.0.0.1:1/nope", nil)
	}, okSet(http.StatusOK))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after")
}

func TestDo_RewindsBodyEachAttempt(t *testing.T) {
	var attempts atomic.Int32
	var lastBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)

		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	resp, err := c.Do(context.Background(), "test", testRetries, func() (*http.Request, error) {
		return http.NewRequest(http.MethodPut, srv.URL, bytes.NewReader([]byte("payload")))
	}, okSet(http.StatusOK))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "payload", lastBody)
}

func TestDo_RetryAfterHonoredOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(nil)
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"7"}}}
	d := c.retryBackoff(resp, 0)
	assert.Equal(t, 7*time.Second, d)
}

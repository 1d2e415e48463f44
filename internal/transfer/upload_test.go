package transfer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gcsxfer/internal/transport"
)

func uploadBuilder() UploadRequestBuilder {
	return func(ctx context.Context, spec UploadRequestSpec) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, spec.Body)
		if err != nil {
			return nil, err
		}

		if spec.ContentType != "" {
			req.Header.Set("Content-Type", spec.ContentType)
		}

		if spec.ContentRange != "" {
			req.Header.Set("Content-Range", spec.ContentRange)
		}

		for k, v := range spec.Headers {
			req.Header.Set(k, v)
		}

		return req, nil
	}
}

func TestSelectStrategy_SimpleWhenSmallAndNoMetadata(t *testing.T) {
	total := int64(10)
	u, err := NewUpload(strings.NewReader("0123456789"), "text/plain", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", ResumablePath: "/resumable", SimpleMultipart: true, MaxSize: 100, Accept: []string{"*/*"}}
	require.NoError(t, u.SelectStrategy(cfg, false))
	assert.Equal(t, StrategySimple, u.Strategy)
}

func TestSelectStrategy_ResumableWhenOversized(t *testing.T) {
	total := int64(10 << 20)
	u, err := NewUpload(strings.NewReader(""), "text/plain", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", ResumablePath: "/resumable", SimpleMultipart: true, Accept: []string{"*/*"}}
	require.NoError(t, u.SelectStrategy(cfg, false))
	assert.Equal(t, StrategyResumable, u.Strategy)
}

func TestSelectStrategy_ResumableWhenMetadataPresentButNoMultipartSupport(t *testing.T) {
	total := int64(10)
	u, err := NewUpload(strings.NewReader("0123456789"), "text/plain", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", ResumablePath: "/resumable", SimpleMultipart: false, Accept: []string{"*/*"}}
	require.NoError(t, u.SelectStrategy(cfg, true))
	assert.Equal(t, StrategyResumable, u.Strategy)
}

func TestSelectStrategy_RejectsDisallowedMimeType(t *testing.T) {
	total := int64(10)
	u, err := NewUpload(strings.NewReader("0123456789"), "text/plain", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", Accept: []string{"image/*"}}
	err = u.SelectStrategy(cfg, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidUserInput)
}

func TestSelectStrategy_RejectsOversizedForEndpointMax(t *testing.T) {
	total := int64(10)
	u, err := NewUpload(strings.NewReader("0123456789"), "text/plain", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", MaxSize: 5, Accept: []string{"*/*"}}
	err = u.SelectStrategy(cfg, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidUserInput)
}

func TestSendSimpleMedia_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello world", string(body))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"object.txt"}`))
	}))
	defer srv.Close()

	total := int64(11)
	u, err := NewUpload(strings.NewReader("hello world"), "text/plain", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", Accept: []string{"*/*"}}
	require.NoError(t, u.SelectStrategy(cfg, false))
	require.Equal(t, StrategySimple, u.Strategy)

	tc := transport.NewClient(nil, nil, nil, "")

	result, err := u.SendSimpleMedia(context.Background(), tc, srv.URL, nil, uploadBuilder())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.True(t, u.Complete)
}

func TestSendSimpleMultipart_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/related")

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `{"name":"object.bin"}`)
		assert.Contains(t, string(body), "payload")

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"name":"object.bin"}`))
	}))
	defer srv.Close()

	total := int64(7)
	u, err := NewUpload(strings.NewReader("payload"), "application/octet-stream", &total, 0, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{SimplePath: "/upload", Accept: []string{"*/*"}}
	require.NoError(t, u.SelectStrategy(cfg, true))
	require.Equal(t, StrategySimple, u.Strategy)

	tc := transport.NewClient(nil, nil, nil, "")

	result, err := u.SendSimpleMultipart(
		context.Background(), tc, srv.URL, nil, []byte(`{"name":"object.bin"}`), "application/json", uploadBuilder())
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.True(t, u.Complete)
}

func TestResumableUpload_HappyPath(t *testing.T) {
	content := "0123456789"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/initiate" {
			assert.Equal(t, "10", r.Header.Get("X-Upload-Content-Length"))
			w.Header().Set("X-Goog-Upload-Chunk-Granularity", "4")
			w.Header().Set("Location", "http://"+r.Host+"/session")
			w.WriteHeader(http.StatusOK)

			return
		}

		body, _ := io.ReadAll(r.Body)

		switch r.Header.Get("Content-Range") {
		case "bytes 0-3/10":
			assert.Equal(t, "0123", string(body))
			w.Header().Set("Range", "bytes=0-3")
			w.WriteHeader(http.StatusPermanentRedirect)
		case "bytes 4-7/10":
			assert.Equal(t, "4567", string(body))
			w.Header().Set("Range", "bytes=0-7")
			w.WriteHeader(http.StatusPermanentRedirect)
		case "bytes 8-9/10":
			assert.Equal(t, "89", string(body))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"done":true}`))
		default:
			t.Fatalf("unexpected Content-Range: %s", r.Header.Get("Content-Range"))
		}
	}))
	defer srv.Close()

	total := int64(10)
	u, err := NewUpload(strings.NewReader(content), "application/octet-stream", &total, 4, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{ResumablePath: "/initiate", Accept: []string{"*/*"}}
	require.NoError(t, u.SelectStrategy(cfg, false))
	require.Equal(t, StrategyResumable, u.Strategy)

	tc := transport.NewClient(nil, nil, nil, "")
	require.NoError(t, u.InitializeResumable(context.Background(), tc, srv.URL+"/initiate", nil, uploadBuilder()))

	result, err := u.StreamFile(context.Background(), uploadBuilder(), true)
	require.NoError(t, err)
	assert.True(t, u.Complete)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestResumableUpload_InterruptedThenResumedViaRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/initiate" {
			w.Header().Set("X-Goog-Upload-Chunk-Granularity", "4")
			w.Header().Set("Location", "http://"+r.Host+"/session")
			w.WriteHeader(http.StatusOK)

			return
		}

		body, _ := io.ReadAll(r.Body)

		switch r.Header.Get("Content-Range") {
		case "bytes 0-3/10":
			assert.Equal(t, "0123", string(body))
			w.Header().Set("Range", "bytes=0-3")
			w.WriteHeader(http.StatusPermanentRedirect)
		case "bytes */*":
			w.Header().Set("Range", "bytes=0-3")
			w.WriteHeader(http.StatusPermanentRedirect)
		case "bytes 4-7/10":
			assert.Equal(t, "4567", string(body))
			w.Header().Set("Range", "bytes=0-7")
			w.WriteHeader(http.StatusPermanentRedirect)
		case "bytes 8-9/10":
			assert.Equal(t, "89", string(body))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"done":true}`))
		default:
			t.Fatalf("unexpected Content-Range: %s", r.Header.Get("Content-Range"))
		}
	}))
	defer srv.Close()

	total := int64(10)
	tc := transport.NewClient(nil, nil, nil, "")

	u1, err := NewUpload(strings.NewReader("0123456789"), "application/octet-stream", &total, 4, 3, false)
	require.NoError(t, err)

	cfg := EndpointConfig{ResumablePath: "/initiate", Accept: []string{"*/*"}}
	require.NoError(t, u1.SelectStrategy(cfg, false))
	require.NoError(t, u1.InitializeResumable(context.Background(), tc, srv.URL+"/initiate", nil, uploadBuilder()))

	// Send only the first chunk, then abandon u1 as if the process died.
	attemptedEnd, resp, err := u1.sendChunk(context.Background(), uploadBuilder(), true)
	require.NoError(t, err)

	newProgress, err := u1.handleChunkResponse(context.Background(), uploadBuilder(), resp, attemptedEnd)
	require.NoError(t, err)
	u1.Progress = newProgress
	require.Equal(t, int64(4), u1.Progress)

	sessionURL := u1.URL
	granularity := int64(4)

	reader2 := strings.NewReader("0123456789")

	u2, err := NewUpload(reader2, "application/octet-stream", &total, 4, 3, false)
	require.NoError(t, err)
	u2.Strategy = StrategyResumable
	u2.serverChunkGranularity = &granularity
	require.NoError(t, u2.initialize(tc, sessionURL))

	require.NoError(t, u2.RefreshUploadState(context.Background(), uploadBuilder()))
	assert.Equal(t, int64(4), u2.Progress)

	result, err := u2.StreamFile(context.Background(), uploadBuilder(), true)
	require.NoError(t, err)
	assert.True(t, u2.Complete)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestValidateChunkSize_RejectsMismatchedGranularity(t *testing.T) {
	total := int64(10)
	u, err := NewUpload(strings.NewReader("0123456789"), "application/octet-stream", &total, 3, 3, false)
	require.NoError(t, err)

	granularity := int64(4)
	u.serverChunkGranularity = &granularity

	err = u.validateChunkSize()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCheckResidualBytes_FailsWhenSourceHasExtraData(t *testing.T) {
	source := strings.NewReader("0123456789")
	_, err := source.Seek(5, io.SeekStart)
	require.NoError(t, err)

	u := &Upload{Source: source}

	err = u.checkResidualBytes()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferInvalid)
}

func TestCheckResidualBytes_PassesWhenSourceFullyConsumed(t *testing.T) {
	source := strings.NewReader("0123456789")
	_, err := source.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	u := &Upload{Source: source}

	require.NoError(t, u.checkResidualBytes())
}

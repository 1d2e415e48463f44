package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tonimelisma/gcsxfer/internal/transport"
)

// Strategy identifies which upload mechanism configure_request selected.
// Once set it never changes for the lifetime of an Upload.
type Strategy string

const (
	StrategyUnset     Strategy = ""
	StrategySimple    Strategy = "simple"
	StrategyResumable Strategy = "resumable"
)

// resumableUploadThreshold is the size above which strategy selection
// switches from simple to resumable.
const resumableUploadThreshold = 5 << 20 // 5 MiB

// uploadAcceptable is the set of HTTP statuses a resumable chunk send
// treats as a non-error outcome: 200/201 mean the upload completed, 308
// means the server wants more data ("resume incomplete").
var uploadAcceptable = map[int]bool{
	http.StatusOK:                true,
	http.StatusCreated:           true,
	http.StatusPermanentRedirect: true, // 308
}

// EndpointConfig describes an upload endpoint's supported strategies.
// ResumableThreshold <= 0 adopts the package default
// (resumableUploadThreshold).
type EndpointConfig struct {
	SimplePath         string
	ResumablePath      string
	SimpleMultipart    bool
	MaxSize            int64
	Accept             []string
	ResumableThreshold int64
}

// UploadRequestSpec is the HTTP request shape an Upload needs built.
// ContentRange is empty when the request carries no Content-Range header.
type UploadRequestSpec struct {
	Method       string
	URL          string
	ContentType  string
	ContentRange string
	Headers      map[string]string
	Body         io.Reader
}

// UploadRequestBuilder turns a spec into a concrete *http.Request, called
// fresh on every attempt.
type UploadRequestBuilder func(ctx context.Context, spec UploadRequestSpec) (*http.Request, error)

// CompletedUpload is the terminal server response to a successful upload,
// captured as bytes rather than the live *http.Response so it survives
// past the body-close a resumable-recovery path requires.
type CompletedUpload struct {
	StatusCode int
	Body       []byte
}

// Upload drives strategy selection and, for the resumable strategy, the
// chunked send loop with session recovery.
type Upload struct {
	base

	Source    io.Reader
	MimeType  string
	TotalSize *int64
	Strategy  Strategy
	Progress  int64
	Complete  bool

	serverChunkGranularity *int64
	finalResult            *CompletedUpload
}

// NewUpload constructs an Upload reading from source. totalSize may be
// nil when the size is not known up front. chunkSize <= 0 adopts the
// package default.
func NewUpload(source io.Reader, mimeType string, totalSize *int64, chunkSize int64, numRetries int, closeStream bool) (*Upload, error) {
	if mimeType == "" {
		return nil, fmt.Errorf("%w: mime type is required", ErrInvalidUserInput)
	}

	b, err := newBase(chunkSize, numRetries)
	if err != nil {
		return nil, err
	}

	if c, ok := source.(io.Closer); ok && closeStream {
		b.Stream = c
		b.CloseStream = true
	}

	return &Upload{base: b, Source: source, MimeType: mimeType, TotalSize: totalSize}, nil
}

// SelectStrategy validates mime type and size against cfg and picks
// Simple or Resumable following the precedence: a missing resumable
// endpoint forces Simple; then an explicit caller override (Strategy
// already set) is kept; a size above the resumable threshold, or metadata
// on an endpoint without simple multipart support, forces Resumable; a
// missing simple endpoint forces Resumable; otherwise Simple.
func (u *Upload) SelectStrategy(cfg EndpointConfig, hasMetadata bool) error {
	if err := u.EnsureUninitialized(); err != nil {
		return err
	}

	if u.TotalSize != nil && cfg.MaxSize > 0 && *u.TotalSize > cfg.MaxSize {
		return fmt.Errorf("%w: upload size %d exceeds endpoint maximum %d", ErrInvalidUserInput, *u.TotalSize, cfg.MaxSize)
	}

	if !mimeAccepted(cfg.Accept, u.MimeType) {
		return fmt.Errorf("%w: mime type %q is not accepted by this endpoint", ErrInvalidUserInput, u.MimeType)
	}

	threshold := cfg.ResumableThreshold
	if threshold <= 0 {
		threshold = resumableUploadThreshold
	}

	switch {
	case cfg.ResumablePath == "":
		u.Strategy = StrategySimple
	case u.Strategy != StrategyUnset:
		// caller override, keep as-is
	case u.TotalSize != nil && *u.TotalSize > threshold:
		u.Strategy = StrategyResumable
	case hasMetadata && !cfg.SimpleMultipart:
		u.Strategy = StrategyResumable
	case cfg.SimplePath == "":
		u.Strategy = StrategyResumable
	default:
		u.Strategy = StrategySimple
	}

	return nil
}

// mimeAccepted reports whether mimeType matches one of the accept
// patterns ("*/*", "image/*", or an exact type).
func mimeAccepted(accept []string, mimeType string) bool {
	if len(accept) == 0 {
		return true
	}

	for _, pattern := range accept {
		if pattern == "*/*" || pattern == mimeType {
			return true
		}

		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "*")
			if strings.HasPrefix(mimeType, prefix) {
				return true
			}
		}
	}

	return false
}

// SendSimpleMedia sends the entire source as the request body with no
// metadata part ("uploadType=media").
func (u *Upload) SendSimpleMedia(
	ctx context.Context, transportClient *transport.Client, targetURL string, finalizer URLFinalizer, builder UploadRequestBuilder,
) (*CompletedUpload, error) {
	if u.Strategy != StrategySimple {
		return nil, fmt.Errorf("%w: SendSimpleMedia requires the simple strategy", ErrUserError)
	}

	if transportClient == nil {
		transportClient = u.HTTP
	}

	if transportClient == nil {
		return nil, fmt.Errorf("%w: no HTTP transport configured", ErrUserError)
	}

	url := targetURL
	if finalizer != nil {
		url = finalizer.FinalizeTransferURL(url)
	}

	spec := UploadRequestSpec{Method: http.MethodPost, URL: url, ContentType: u.MimeType, Body: u.Source}

	resp, err := transportClient.Do(ctx, "simple media upload", u.NumRetries, func() (*http.Request, error) {
		return builder(ctx, spec)
	}, map[int]bool{http.StatusOK: true, http.StatusCreated: true})
	if err != nil {
		return nil, httpErrorFrom(err)
	}

	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	u.Complete = true

	return &CompletedUpload{StatusCode: resp.StatusCode, Body: data}, nil
}

// SendSimpleMultipart sends a multipart/related body pairing metadata
// with the media source ("uploadType=multipart").
func (u *Upload) SendSimpleMultipart(
	ctx context.Context, transportClient *transport.Client, targetURL string, finalizer URLFinalizer,
	metadata []byte, metadataContentType string, builder UploadRequestBuilder,
) (*CompletedUpload, error) {
	if u.Strategy != StrategySimple {
		return nil, fmt.Errorf("%w: SendSimpleMultipart requires the simple strategy", ErrUserError)
	}

	if transportClient == nil {
		transportClient = u.HTTP
	}

	if transportClient == nil {
		return nil, fmt.Errorf("%w: no HTTP transport configured", ErrUserError)
	}

	url := targetURL
	if finalizer != nil {
		url = finalizer.FinalizeTransferURL(url)
	}

	body, boundary := newMultipartBody(metadata, metadataContentType, u.Source, u.MimeType)
	defer body.Close()

	spec := UploadRequestSpec{Method: http.MethodPost, URL: url, ContentType: multipartContentType(boundary), Body: body}

	resp, err := transportClient.Do(ctx, "multipart upload", u.NumRetries, func() (*http.Request, error) {
		return builder(ctx, spec)
	}, map[int]bool{http.StatusOK: true, http.StatusCreated: true})
	if err != nil {
		return nil, httpErrorFrom(err)
	}

	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	u.Complete = true

	return &CompletedUpload{StatusCode: resp.StatusCode, Body: data}, nil
}

// InitializeResumable sends the resumable-upload initiation request,
// reads back the server's chunk-granularity hint and session URL, and
// marks the Upload initialized against that session URL.
func (u *Upload) InitializeResumable(
	ctx context.Context, transportClient *transport.Client, initiationURL string, finalizer URLFinalizer, builder UploadRequestBuilder,
) error {
	if u.Strategy != StrategyResumable {
		return fmt.Errorf("%w: InitializeResumable requires the resumable strategy", ErrUserError)
	}

	if transportClient == nil && u.HTTP == nil {
		return fmt.Errorf("%w: no HTTP transport configured", ErrUserError)
	}

	url := initiationURL
	if finalizer != nil {
		url = finalizer.FinalizeTransferURL(url)
	}

	headers := map[string]string{"X-Upload-Content-Type": u.MimeType}
	if u.TotalSize != nil {
		headers["X-Upload-Content-Length"] = strconv.FormatInt(*u.TotalSize, 10)
	}

	spec := UploadRequestSpec{Method: http.MethodPost, URL: url, ContentType: "application/json", Headers: headers}

	client := transportClient
	if client == nil {
		client = u.HTTP
	}

	resp, err := client.Do(ctx, "initiate resumable upload", u.NumRetries, func() (*http.Request, error) {
		return builder(ctx, spec)
	}, map[int]bool{http.StatusOK: true})
	if err != nil {
		return httpErrorFrom(err)
	}

	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // initiation body carries no data we need

	if g := resp.Header.Get("X-Goog-Upload-Chunk-Granularity"); g != "" {
		if n, gerr := strconv.ParseInt(g, 10, 64); gerr == nil && n > 0 {
			u.serverChunkGranularity = &n
		}
	}

	sessionURL := resp.Header.Get("location")
	if finalizer != nil {
		sessionURL = finalizer.FinalizeTransferURL(sessionURL)
	}

	return u.initialize(client, sessionURL)
}

// StreamFile drives the resumable chunk-send loop from the current
// Progress to completion.
func (u *Upload) StreamFile(ctx context.Context, builder UploadRequestBuilder, useChunks bool) (*CompletedUpload, error) {
	if u.Strategy != StrategyResumable {
		return nil, fmt.Errorf("%w: StreamFile requires the resumable strategy", ErrInvalidUserInput)
	}

	if err := u.EnsureInitialized(); err != nil {
		return nil, err
	}

	if u.finalResult != nil {
		u.Complete = true
		return u.finalResult, nil
	}

	if err := u.validateChunkSize(); err != nil {
		return nil, err
	}

	for !u.Complete {
		attemptedEnd, resp, err := u.sendChunk(ctx, builder, useChunks)
		if err != nil {
			return nil, err
		}

		newProgress, err := u.handleChunkResponse(ctx, builder, resp, attemptedEnd)
		if err != nil {
			return nil, err
		}

		u.Progress = newProgress
	}

	if err := u.checkResidualBytes(); err != nil {
		return nil, err
	}

	return u.finalResult, nil
}

// validateChunkSize fails if the server demands a chunk granularity that
// ChunkSize does not honor.
func (u *Upload) validateChunkSize() error {
	if u.serverChunkGranularity == nil {
		return nil
	}

	if u.ChunkSize%*u.serverChunkGranularity != 0 {
		return fmt.Errorf("%w: chunk size %d is not a multiple of server granularity %d",
			ErrConfiguration, u.ChunkSize, *u.serverChunkGranularity)
	}

	return nil
}

// sendChunk sends one unit of data starting at Progress and returns the
// absolute offset it attempted to reach.
func (u *Upload) sendChunk(ctx context.Context, builder UploadRequestBuilder, useChunks bool) (int64, *http.Response, error) {
	start := u.Progress

	var body io.Reader

	var contentRange string

	var attemptedEnd int64

	if u.TotalSize != nil {
		end := *u.TotalSize
		if useChunks && start+u.ChunkSize < end {
			end = start + u.ChunkSize
		}

		attemptedEnd = end
		body = NewStreamSlice(u.Source, end-start)

		if end == start {
			contentRange = fmt.Sprintf("bytes */%d", *u.TotalSize)
		} else {
			contentRange = fmt.Sprintf("bytes %d-%d/%d", start, end-1, *u.TotalSize)
		}
	} else {
		bs, err := NewBufferedStream(u.Source, start, u.ChunkSize)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: reading upload source: %v", ErrCommunication, err)
		}

		end := bs.StreamEndPosition()
		attemptedEnd = end
		body = bs

		if bs.StreamExhausted() {
			total := end
			u.TotalSize = &total

			if start == end {
				contentRange = fmt.Sprintf("bytes */%d", end)
			} else {
				contentRange = fmt.Sprintf("bytes %d-%d/%d", start, end-1, end)
			}
		} else {
			contentRange = fmt.Sprintf("bytes %d-%d/*", start, end-1)
		}
	}

	spec := UploadRequestSpec{
		Method:       http.MethodPut,
		URL:          u.URL,
		ContentType:  u.MimeType,
		ContentRange: contentRange,
		Body:         body,
	}

	resp, err := u.HTTP.Do(ctx, "upload chunk", u.NumRetries, func() (*http.Request, error) {
		return builder(ctx, spec)
	}, uploadAcceptable)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return attemptedEnd, resp, nil
		}

		return 0, nil, err
	}

	return attemptedEnd, resp, nil
}

// handleChunkResponse interprets one chunk-send response: completion,
// resume-incomplete, or an unexpected status that triggers a
// refresh-and-fail recovery.
func (u *Upload) handleChunkResponse(
	ctx context.Context, builder UploadRequestBuilder, resp *http.Response, attemptedEnd int64,
) (int64, error) {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		data, _ := io.ReadAll(resp.Body)
		u.finalResult = &CompletedUpload{StatusCode: resp.StatusCode, Body: data}
		u.Complete = true

		return attemptedEnd, nil
	case http.StatusPermanentRedirect:
		lastByte, ok := parseRangeLastByte(resp)

		newProgress := int64(0)
		if ok {
			newProgress = lastByte + 1
		}

		if newProgress != attemptedEnd {
			return newProgress, fmt.Errorf(
				"%w: server confirmed byte %d but chunk attempted to reach %d", ErrCommunication, newProgress, attemptedEnd)
		}

		return newProgress, nil
	default:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining before recovery

		status := resp.Status

		_ = u.RefreshUploadState(ctx, builder) // best-effort resync before surfacing the original failure

		return u.Progress, &HTTPError{StatusCode: resp.StatusCode, Status: status}
	}
}

// RefreshUploadState queries the resumable session's current byte offset
// with a zero-length PUT, reconciling local Progress/Complete with the
// server's view. Used both for explicit recovery after an unexpected
// status and standalone, to resume an upload after a process restart
// handed back the session URL.
func (u *Upload) RefreshUploadState(ctx context.Context, builder UploadRequestBuilder) error {
	if u.Strategy != StrategyResumable {
		return fmt.Errorf("%w: RefreshUploadState requires the resumable strategy", ErrUserError)
	}

	if err := u.EnsureInitialized(); err != nil {
		return err
	}

	spec := UploadRequestSpec{Method: http.MethodPut, URL: u.URL, ContentRange: "bytes */*"}

	resp, err := u.HTTP.Do(ctx, "refresh upload state", u.NumRetries, func() (*http.Request, error) {
		return builder(ctx, spec)
	}, uploadAcceptable)
	if err != nil {
		return httpErrorFrom(err)
	}

	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		data, _ := io.ReadAll(resp.Body)
		u.finalResult = &CompletedUpload{StatusCode: resp.StatusCode, Body: data}
		u.Complete = true

		if u.TotalSize != nil {
			u.Progress = *u.TotalSize
		}

		if seeker, ok := u.Source.(io.Seeker); ok {
			if _, serr := seeker.Seek(0, io.SeekEnd); serr != nil {
				return fmt.Errorf("%w: seeking source to end after refresh: %v", ErrCommunication, serr)
			}
		}

		return nil
	case http.StatusPermanentRedirect:
		lastByte, ok := parseRangeLastByte(resp)

		u.Progress = 0
		if ok {
			u.Progress = lastByte + 1
		}

		if seeker, ok := u.Source.(io.Seeker); ok {
			if _, serr := seeker.Seek(u.Progress, io.SeekStart); serr != nil {
				return fmt.Errorf("%w: seeking source to confirmed offset after refresh: %v", ErrCommunication, serr)
			}
		}

		return nil
	default:
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
}

// checkResidualBytes fails if the source stream is seekable and has data
// past the position a completed upload should have fully consumed.
func (u *Upload) checkResidualBytes() error {
	seeker, ok := u.Source.(io.Seeker)
	if !ok {
		return nil
	}

	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("%w: checking source position: %v", ErrCommunication, err)
	}

	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%w: checking source length: %v", ErrCommunication, err)
	}

	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("%w: restoring source position: %v", ErrCommunication, err)
	}

	if end > cur {
		return fmt.Errorf("%w: %d residual bytes remain in source after upload completed", ErrTransferInvalid, end-cur)
	}

	return nil
}

// parseRangeLastByte reads the last confirmed byte offset from a 308
// response's Range header ("bytes=0-1023"). Go's http.Header is
// case-insensitive by construction, so — unlike some other language
// HTTP stacks — no separate lookup for a differently-cased header name
// is needed here.
func parseRangeLastByte(resp *http.Response) (int64, bool) {
	v := resp.Header.Get("Range")
	if v == "" {
		return 0, false
	}

	v = strings.TrimPrefix(v, "bytes=")

	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return 0, false
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}

	return end, true
}

// httpErrorFrom converts a *transport.Error into a *HTTPError for
// surfacing to callers of the transfer package, which classify failures
// by their own sentinel set rather than transport's.
func httpErrorFrom(err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return &HTTPError{StatusCode: terr.StatusCode, Status: terr.Message}
	}

	return err
}

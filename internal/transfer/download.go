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

// downloadAcceptable is the set of HTTP statuses the download loop treats
// as a non-error outcome: 200/206 carry a body, 204 marks an explicitly
// empty resource, 416 means the requested range is already past EOF.
var downloadAcceptable = map[int]bool{
	http.StatusOK:                           true,
	http.StatusNoContent:                    true,
	http.StatusPartialContent:               true,
	http.StatusRequestedRangeNotSatisfiable: true,
}

// RequestBuilder constructs a fresh HTTP request for one attempt, given
// the current target URL and a pre-formatted Range header (empty string
// means "no Range header").
type RequestBuilder func(ctx context.Context, url, rangeHeader string) (*http.Request, error)

// Download drives a range-based chunked fetch from a remote resource into
// a local sink, discovering the resource's total size from the first
// response's Content-Range header when it isn't known up front.
type Download struct {
	base

	Sink      io.Writer
	Progress  int64
	TotalSize *int64
	Encoding  string

	builder RequestBuilder
}

// NewDownload constructs a Download writing into sink. chunkSize <= 0
// adopts the package default. closeStream, if sink also implements
// io.Closer, makes the Download responsible for closing it.
func NewDownload(sink io.Writer, chunkSize int64, numRetries int, closeStream bool) (*Download, error) {
	b, err := newBase(chunkSize, numRetries)
	if err != nil {
		return nil, err
	}

	if c, ok := sink.(io.Closer); ok && closeStream {
		b.Stream = c
		b.CloseStream = true
	}

	return &Download{base: b, Sink: sink}, nil
}

// Initialize configures the transport and initial request builder, then —
// when autoTransfer is true — issues the first range request itself,
// learns TotalSize/Encoding and (via Content-Location) the resource's
// final URL from it, and pumps every remaining byte to the sink before
// returning. http may be nil if one is already set in the HTTP field,
// but initialize_download requires at least one of http/client; passing
// both nil and finalizer nil fails with a user error. builder is called
// fresh on every chunk request, including this first one.
func (d *Download) Initialize(
	ctx context.Context, httpClient *transport.Client, initialURL string, finalizer URLFinalizer, builder RequestBuilder, autoTransfer bool,
) error {
	if httpClient == nil && d.HTTP == nil && finalizer == nil {
		return fmt.Errorf("%w: initialize_download requires an HTTP transport or client", ErrUserError)
	}

	url := initialURL
	if finalizer != nil {
		url = finalizer.FinalizeTransferURL(url)
	}

	if err := d.initialize(httpClient, url); err != nil {
		return err
	}

	d.builder = builder

	if !autoTransfer {
		return nil
	}

	return d.autoTransfer(ctx, finalizer)
}

// autoTransfer issues the first range request against the just-finalized
// URL, derives TotalSize and (if the response carries one) a new final
// URL from Content-Location, then pumps the rest of the resource. Mirrors
// the Python original's _Download.__init__ eagerly firing its first
// request and caching it rather than waiting for the caller's first
// get_range/stream_file call.
func (d *Download) autoTransfer(ctx context.Context, finalizer URLFinalizer) error {
	endByte := d.ChunkSize - 1

	resp, err := d.fetchChunk(ctx, 0, &endByte)
	if err != nil {
		return err
	}

	if loc := resp.Header.Get("Content-Location"); loc != "" {
		url := loc
		if finalizer != nil {
			url = finalizer.FinalizeTransferURL(url)
		}

		d.URL = url
	}

	written, statusDone, _, err := d.processResponse(resp)
	if err != nil {
		return err
	}

	d.Progress += written

	if statusDone {
		return nil
	}

	return d.StreamFile(ctx, true)
}

// GetRange fetches an inclusive byte range into the sink. Three forms are
// supported: start >= 0 with end == nil fetches to EOF; 0 <= start <= end
// fetches an exact range; start < 0 with end == nil fetches the last
// |start| bytes (a suffix request). Progress tracks the absolute stream
// offset reached, so it starts at start (once known) rather than at zero.
func (d *Download) GetRange(ctx context.Context, start int64, end *int64, useChunks bool) error {
	if err := d.EnsureInitialized(); err != nil {
		return err
	}

	curStart, curEnd := start, end
	if curStart >= 0 {
		d.Progress = curStart
	}

	for {
		endByte, haveEnd := ComputeEndByte(curStart, curEnd, d.TotalSize, d.ChunkSize, useChunks)

		var headerEnd *int64
		if haveEnd {
			headerEnd = &endByte
		}

		resp, err := d.fetchChunk(ctx, curStart, headerEnd)
		if err != nil {
			return err
		}

		written, statusDone, learnedTotal, err := d.processResponse(resp)
		if err != nil {
			return err
		}

		if learnedTotal && curStart < 0 {
			// A suffix request only resolves to an absolute offset once the
			// total size is known. The bytes already written by this
			// response correspond to [normalizedStart, normalizedStart+written).
			ns, ne, nErr := NormalizeRange(curStart, curEnd, *d.TotalSize)
			if nErr != nil {
				return nErr
			}

			curStart, curEnd = ns, &ne
			d.Progress = ns + written
		} else {
			d.Progress += written
		}

		if statusDone {
			return nil
		}

		curStart = d.Progress

		if curEnd != nil && d.Progress > *curEnd {
			return nil
		}

		if d.TotalSize != nil && d.Progress >= *d.TotalSize {
			return nil
		}
	}
}

// StreamFile pumps every remaining byte from the current Progress to EOF.
func (d *Download) StreamFile(ctx context.Context, useChunks bool) error {
	return d.GetRange(ctx, d.Progress, nil, useChunks)
}

func (d *Download) fetchChunk(ctx context.Context, start int64, end *int64) (*http.Response, error) {
	rangeHeader := SetRangeHeader(start, end)

	resp, err := d.HTTP.Do(ctx, "download chunk", d.NumRetries, func() (*http.Request, error) {
		return d.builder(ctx, d.URL, rangeHeader)
	}, downloadAcceptable)

	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			switch terr.StatusCode {
			case http.StatusForbidden, http.StatusNotFound:
				return nil, &HTTPError{StatusCode: terr.StatusCode, Status: terr.Message}
			default:
				return nil, fmt.Errorf("%w: download chunk failed with status %d", ErrTransferRetry, terr.StatusCode)
			}
		}

		return nil, err
	}

	return resp, nil
}

// processResponse writes the chunk body to the sink and reports how many
// bytes it wrote, whether the download is now complete, and whether this
// response was the one that first revealed TotalSize. It does not touch
// Progress itself — GetRange owns that bookkeeping, since a suffix
// request needs to rebase it once the resource's size becomes known.
func (d *Download) processResponse(resp *http.Response) (written int64, statusDone, learnedTotal bool, err error) {
	defer resp.Body.Close()

	if d.TotalSize == nil {
		contentRange := resp.Header.Get("Content-Range")
		if size, ok := parseContentRangeTotal(contentRange); ok {
			d.TotalSize = &size
			learnedTotal = true
		} else if contentRange == "" {
			// Empirical convention: a response that carries no Content-Range
			// at all (typically a 204 to the first range request) means the
			// resource is zero-length, not merely "still unknown".
			var zero int64
			d.TotalSize = &zero
			learnedTotal = true
		}
	}

	if d.Encoding == "" {
		if enc := resp.Header.Get("Content-Encoding"); enc != "" {
			d.Encoding = enc
		}
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		return 0, true, learnedTotal, nil
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, true, learnedTotal, nil
	case http.StatusOK, http.StatusPartialContent:
		n, werr := io.Copy(d.Sink, resp.Body)
		if werr != nil {
			return n, false, learnedTotal, fmt.Errorf("%w: writing chunk to sink: %v", ErrCommunication, werr)
		}

		if n == 0 {
			return 0, false, learnedTotal, fmt.Errorf("%w: zero-length chunk body mid-stream", ErrTransferRetry)
		}

		return n, resp.StatusCode == http.StatusOK, learnedTotal, nil
	default:
		return 0, false, learnedTotal, fmt.Errorf("%w: unexpected download status %d", ErrTransferRetry, resp.StatusCode)
	}
}

// parseContentRangeTotal extracts the resource's total size from a
// "Content-Range: bytes A-B/TOTAL" header. TOTAL == "*" means the size is
// still unknown; absence of the header is not an error here (the caller
// treats a response without Content-Range as a zero-length resource).
func parseContentRangeTotal(contentRange string) (int64, bool) {
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 || idx == len(contentRange)-1 {
		return 0, false
	}

	suffix := contentRange[idx+1:]
	if suffix == "*" {
		return 0, false
	}

	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

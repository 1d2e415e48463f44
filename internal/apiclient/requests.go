package apiclient

import (
	"context"
	"net/http"

	"github.com/tonimelisma/gcsxfer/internal/transfer"
)

// DownloadRequestBuilder returns a transfer.RequestBuilder issuing GET
// requests carrying the given Range header (omitted when empty).
func DownloadRequestBuilder() transfer.RequestBuilder {
	return func(ctx context.Context, targetURL, rangeHeader string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return nil, err
		}

		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		return req, nil
	}
}

// UploadRequestBuilder returns a transfer.UploadRequestBuilder translating
// an UploadRequestSpec into a concrete *http.Request. Authorization,
// User-Agent, and X-Invocation-ID are attached later by the transport
// layer, not here.
func UploadRequestBuilder() transfer.UploadRequestBuilder {
	return func(ctx context.Context, spec transfer.UploadRequestSpec) (*http.Request, error) {
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

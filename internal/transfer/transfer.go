package transfer

import (
	"fmt"
	"io"

	"github.com/tonimelisma/gcsxfer/internal/transport"
)

// URLFinalizer lets an API client rewrite a transfer URL (and any
// server-returned session URL) before use — adding auth query parameters,
// rebasing a relative path, or similar. Implementations that need no
// rewriting can return the URL unchanged.
type URLFinalizer interface {
	FinalizeTransferURL(url string) string
}

// base holds the lifecycle state shared by Download and Upload: the
// initialization guard, the retry-bearing transport, and stream
// ownership. Download and Upload each embed base rather than inherit from
// a common interface — their public operations are disjoint, so no
// virtual dispatch is needed.
type base struct {
	Stream      io.Closer
	CloseStream bool
	ChunkSize   int64
	NumRetries  int
	HTTP        *transport.Client
	URL         string

	initialized bool
}

// newBase validates the shared construction arguments and returns a base
// with chunkSize defaulted when non-positive.
func newBase(chunkSize int64, numRetries int) (base, error) {
	if numRetries < 0 {
		return base{}, fmt.Errorf("%w: num_retries must be non-negative, got %d", ErrInvalidData, numRetries)
	}

	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return base{ChunkSize: chunkSize, NumRetries: numRetries}, nil
}

const defaultChunkSize = 1 << 20 // 1 MiB

// Initialized reports whether the transfer has completed initialization.
func (b *base) Initialized() bool {
	return b.initialized
}

// EnsureUninitialized fails if the transfer has already been initialized.
func (b *base) EnsureUninitialized() error {
	if b.initialized {
		return fmt.Errorf("%w: transfer is already initialized", ErrTransferInvalid)
	}

	return nil
}

// EnsureInitialized fails if the transfer has not yet been initialized.
func (b *base) EnsureInitialized() error {
	if !b.initialized {
		return fmt.Errorf("%w: transfer is not initialized", ErrTransferInvalid)
	}

	return nil
}

// initialize records the transport and URL and marks the transfer
// initialized. A transport already set in the HTTP field takes precedence
// over one passed here.
func (b *base) initialize(http *transport.Client, url string) error {
	if err := b.EnsureUninitialized(); err != nil {
		return err
	}

	if http == nil && b.HTTP == nil {
		return fmt.Errorf("%w: no HTTP transport configured", ErrUserError)
	}

	if b.HTTP == nil {
		b.HTTP = http
	}

	b.URL = url
	b.initialized = true

	return nil
}

// Close releases the underlying stream when CloseStream is set. It is
// safe to call multiple times and safe to call when no stream is set.
func (b *base) Close() error {
	if b.CloseStream && b.Stream != nil {
		return b.Stream.Close()
	}

	return nil
}

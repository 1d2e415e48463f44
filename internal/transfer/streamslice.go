package transfer

import "io"

// StreamSlice presents a bounded read-only view over at most n bytes of an
// underlying reader, starting at its current position. Reads advance both
// the slice's own counter and the underlying reader; it never seeks or
// closes the underlying reader itself. Used as the request body for a
// chunk of known length carved out of a larger upload source.
type StreamSlice struct {
	r         io.Reader
	remaining int64
}

// NewStreamSlice wraps r, limiting reads to n bytes.
func NewStreamSlice(r io.Reader, n int64) *StreamSlice {
	return &StreamSlice{r: r, remaining: n}
}

func (s *StreamSlice) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}

	n, err := s.r.Read(p)
	s.remaining -= int64(n)

	return n, err
}

// Len reports the number of bytes still readable from the slice.
func (s *StreamSlice) Len() int64 {
	return s.remaining
}

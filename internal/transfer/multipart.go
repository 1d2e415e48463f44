package transfer

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
)

// LoggableMediaBody is substituted for the media part of a multipart
// upload in any logged representation of the request body, so binary
// payloads never end up in logs.
const LoggableMediaBody = "<media body>"

// newMultipartBody streams a multipart/related document of two parts —
// metadata then media — through a pipe, so the media need not be
// buffered in memory. It returns the reader side of the pipe and the
// randomly generated boundary used to frame it.
//
// Unlike a from-memory implementation, this cannot scan the (potentially
// unbounded) media stream up front to guarantee the boundary never
// appears in it; it relies on the boundary's length and randomness to
// make a collision astronomically unlikely, the same tradeoff most
// streaming multipart HTTP clients in the Go ecosystem make.
func newMultipartBody(metadata []byte, metadataContentType string, media io.Reader, mediaContentType string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	boundary := mw.Boundary()

	go func() {
		defer pw.Close()
		defer mw.Close()

		metaHeader := textproto.MIMEHeader{}
		metaHeader.Set("Content-Type", metadataContentType)

		metaPart, err := mw.CreatePart(metaHeader)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if _, err := metaPart.Write(metadata); err != nil {
			pw.CloseWithError(err)
			return
		}

		mediaHeader := textproto.MIMEHeader{}
		mediaHeader.Set("Content-Type", mediaContentType)
		mediaHeader.Set("Content-Transfer-Encoding", "binary")

		mediaPart, err := mw.CreatePart(mediaHeader)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if _, err := io.Copy(mediaPart, media); err != nil {
			pw.CloseWithError(err)
			return
		}
	}()

	return pr, boundary
}

// multipartContentType formats the Content-Type header value for a
// multipart/related body with the given boundary.
func multipartContentType(boundary string) string {
	return fmt.Sprintf("multipart/related; boundary=%q", boundary)
}

// LoggableMultipartBody renders a human-readable stand-in for a
// multipart request body, with the media part redacted.
func LoggableMultipartBody(boundary string, metadata []byte, metadataContentType, mediaContentType string) string {
	return fmt.Sprintf(
		"--%s\r\nContent-Type: %s\r\n\r\n%s\r\n--%s\r\nContent-Type: %s\r\nContent-Transfer-Encoding: binary\r\n\r\n%s\r\n--%s--\r\n",
		boundary, metadataContentType, metadata, boundary, mediaContentType, LoggableMediaBody, boundary,
	)
}

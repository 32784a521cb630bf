// ABOUTME: Byte sink abstraction under a push channel
// ABOUTME: HTTPTransport streams to an http.ResponseWriter via http.ResponseController

package notify

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/carlot-notify/internal/sse"
)

// Transport is the outbound byte stream a Channel writes frames to.
type Transport interface {
	Write(p []byte) (int, error)
	Flush() error
	SetWriteDeadline(t time.Time) error
}

// HTTPTransport adapts an http.ResponseWriter for event streaming.
type HTTPTransport struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewHTTPTransport sets the event-stream response headers on w and wraps it.
// Nothing is written until the first frame, so the status line is only sent
// with the handshake.
func NewHTTPTransport(w http.ResponseWriter) *HTTPTransport {
	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &HTTPTransport{w: w, rc: http.NewResponseController(w)}
}

// Write writes p to the response body.
func (t *HTTPTransport) Write(p []byte) (int, error) {
	return t.w.Write(p)
}

// Flush pushes buffered bytes to the client.
func (t *HTTPTransport) Flush() error {
	return t.rc.Flush()
}

// SetWriteDeadline bounds the next write. Writers without deadline support
// (such as test recorders) are treated as having no deadline.
func (t *HTTPTransport) SetWriteDeadline(d time.Time) error {
	if err := t.rc.SetWriteDeadline(d); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// ABOUTME: Text event-stream parser for subscribers
// ABOUTME: Reads frames line by line, a blank line ending each event

package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single data line.
const maxLineSize = 1 << 20

// Reader parses frames from an event stream.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// LastID returns the most recent id field seen on the stream.
// Frames without an id keep the previous value, as browsers do.
func (r *Reader) LastID() string {
	return r.lastID
}

// Next returns the next complete frame. It returns io.EOF when the stream
// ends cleanly, discarding any trailing partial frame.
func (r *Reader) Next() (Frame, error) {
	var frame Frame
	var dataLines []string
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if frame.Event == "" && !hasData {
				continue
			}
			if frame.Event == "" {
				frame.Event = EventMessage
			}
			frame.Data = []byte(strings.Join(dataLines, "\n"))
			return frame, nil
		}

		// Comment lines carry no fields
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			frame.Event = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "id":
			frame.ID = value
			r.lastID = value
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("reading SSE stream: %w", err)
	}
	return Frame{}, io.EOF
}

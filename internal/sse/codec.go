// ABOUTME: Text event-stream frame encoding for push channels
// ABOUTME: Formats event/id/data lines and the blank-line terminator

package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wire event names understood by subscribers.
const (
	EventConnected = "connected"
	EventMessage   = "message"
	EventPing      = "ping"
	EventError     = "error"
)

// ContentType is the media type of an event stream response.
const ContentType = "text/event-stream"

// Frame is one event on the wire.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// Encode renders f in wire format, terminated by a blank line.
func Encode(f Frame) ([]byte, error) {
	if f.Event == "" {
		return nil, fmt.Errorf("frame has no event name")
	}
	if strings.ContainsAny(f.Event, "\r\n") || strings.ContainsAny(f.ID, "\r\n") {
		return nil, fmt.Errorf("event name and id must be single-line")
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(f.Event)
	buf.WriteByte('\n')

	if f.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(f.ID)
		buf.WriteByte('\n')
	}

	for _, line := range bytes.Split(f.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// EncodeJSON marshals v as the frame data and encodes the frame.
func EncodeJSON(event, id string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s event: %w", event, err)
	}
	return Encode(Frame{Event: event, ID: id, Data: data})
}

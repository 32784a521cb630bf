// Package sse encodes and parses the text/event-stream wire format.
//
// A frame on the wire is:
//
//	event: <name>
//	id: <id>          (optional)
//	data: <payload>
//
// followed by a blank line. Payloads containing newlines are split across
// several data lines and rejoined by the Reader.
package sse

// Package stomp implements the minimal STOMP 1.2 framing the signaling
// backend speaks over its websocket endpoint. It is a pure codec: no
// connection state, no retries. Malformed inbound frames decode to nil and
// are expected to be skipped by the caller.
package stomp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Header is a single STOMP header line. Headers are ordered; we never emit
// duplicates so no folding rules apply.
type Header struct {
	Key   string
	Value string
}

// Message is the application envelope carried as a JSON frame body.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	TraceID string          `json:"traceId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame renders one STOMP frame: command line, header lines, blank line,
// body, NUL terminator.
func Frame(command string, headers []Header, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(command)
	b.WriteByte('\n')
	for _, h := range headers {
		b.WriteString(h.Key)
		b.WriteByte(':')
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(body)
	b.WriteByte(0)
	return b.Bytes()
}

// Connect builds the handshake frame.
func Connect(host string) []byte {
	return Frame("CONNECT", []Header{
		{"accept-version", "1.2"},
		{"host", host},
	}, nil)
}

// Send builds a SEND frame publishing v as JSON to destination.
func Send(destination string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("stomp send body: %w", err)
	}
	return Frame("SEND", []Header{
		{"destination", destination},
		{"content-type", "application/json"},
		{"content-length", fmt.Sprintf("%d", len(body))},
	}, body), nil
}

// Subscribe builds a SUBSCRIBE frame registering id on destination.
func Subscribe(id, destination string) []byte {
	return Frame("SUBSCRIBE", []Header{
		{"id", id},
		{"destination", destination},
	}, nil)
}

// Body extracts the frame body: everything after the first blank line with
// the trailing NUL stripped. Returns nil when the frame has no body.
func Body(raw []byte) []byte {
	_, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		return nil
	}
	body = bytes.TrimRight(body, "\x00")
	if len(body) == 0 {
		return nil
	}
	return body
}

// Decode extracts and JSON-decodes a frame body into the signaling
// envelope. Any malformed input yields nil; a bad frame is a no-op for the
// session, never an error.
func Decode(raw []byte) *Message {
	body := Body(raw)
	if body == nil {
		return nil
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return &m
}

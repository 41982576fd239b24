// Package signal implements the websocket signaling client: STOMP frames
// over the v12.stomp subprotocol, joined to one room's offer and ICE topics.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/prepview/interview-bot/internal/signal/stomp"
)

const (
	wsPath           = "/ws-native"
	subprotocol      = "v12.stomp"
	handshakeTimeout = 10 * time.Second

	destJoin   = "/app/signal/join"
	destAnswer = "/app/signal/webrtc/answer"
	destICE    = "/app/signal/webrtc/ice"
)

// envelope is the JSON body carried inside STOMP SEND frames.
type envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	TraceID string          `json:"traceId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type answerPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// Client is a connected, joined and subscribed signaling link for one room.
type Client struct {
	conn   *websocket.Conn
	roomID string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the signaling server, performs the STOMP handshake,
// announces the bot in roomID and subscribes to the room's offer and ICE
// topics.
func Dial(ctx context.Context, host string, port int, roomID string) (*Client, error) {
	url := fmt.Sprintf("ws://%s:%d%s", host, port, wsPath)
	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signal dial %s: %w", url, err)
	}
	c := &Client{conn: conn, roomID: roomID}

	if err := c.write(stomp.Connect(host)); err != nil {
		c.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("stomp connect read: %w", err)
	}
	if !strings.HasPrefix(string(raw), "CONNECTED") {
		c.Close()
		return nil, fmt.Errorf("unexpected stomp handshake reply %q", firstLine(raw))
	}

	join := envelope{Type: "JOIN", RoomID: roomID, TraceID: uuid.NewString()}
	frame, err := stomp.Send(destJoin, join)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.write(frame); err != nil {
		c.Close()
		return nil, fmt.Errorf("join room: %w", err)
	}

	subs := [][]byte{
		stomp.Subscribe("sub-offer", "/topic/webrtc/offer/"+roomID),
		stomp.Subscribe("sub-ice", "/topic/webrtc/ice/"+roomID),
	}
	for _, sub := range subs {
		if err := c.write(sub); err != nil {
			c.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}

	log.Info().Str("module", "signal").Str("room", roomID).Msg("signaling connected")
	return c, nil
}

// Read blocks for the next signaling message. Malformed frames are skipped
// and reported as a nil message with nil error so the caller can keep
// reading.
func (c *Client) Read() (*stomp.Message, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	msg := stomp.Decode(raw)
	if msg == nil {
		log.Warn().Str("module", "signal").Str("room", c.roomID).Msg("undecodable frame skipped")
		return nil, nil
	}
	return msg, nil
}

// SendAnswer publishes the local SDP answer to the room.
func (c *Client) SendAnswer(sdpType, sdp string) error {
	payload, err := json.Marshal(answerPayload{SDP: sdp, Type: sdpType})
	if err != nil {
		return err
	}
	return c.send(destAnswer, envelope{
		Type:    "WEBRTC_ANSWER",
		RoomID:  c.roomID,
		TraceID: uuid.NewString(),
		Payload: payload,
	})
}

// SendCandidate publishes one local ICE candidate to the room.
func (c *Client) SendCandidate(ci webrtc.ICECandidateInit) error {
	payload, err := json.Marshal(icePayload{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
	if err != nil {
		return err
	}
	return c.send(destICE, envelope{
		Type:    "ICE_CANDIDATE",
		RoomID:  c.roomID,
		TraceID: uuid.NewString(),
		Payload: payload,
	})
}

func (c *Client) send(dest string, env envelope) error {
	frame, err := stomp.Send(dest, env)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close shuts the websocket down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func firstLine(raw []byte) string {
	s := string(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

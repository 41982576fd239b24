package stomp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameLayout(t *testing.T) {
	got := Frame("SEND", []Header{
		{"destination", "/app/signal/join"},
		{"content-type", "application/json"},
	}, []byte(`{"a":1}`))

	assert.Equal(t, "SEND\ndestination:/app/signal/join\ncontent-type:application/json\n\n{\"a\":1}\x00", string(got))
}

func TestConnect(t *testing.T) {
	got := Connect("backend")
	assert.Equal(t, "CONNECT\naccept-version:1.2\nhost:backend\n\n\x00", string(got))
}

func TestSendComputesContentLength(t *testing.T) {
	frame, err := Send("/app/signal/webrtc/answer", map[string]string{"type": "WEBRTC_ANSWER"})
	require.NoError(t, err)
	assert.Contains(t, string(frame), "content-length:24\n")
	assert.Contains(t, string(frame), `{"type":"WEBRTC_ANSWER"}`)
}

func TestSubscribe(t *testing.T) {
	got := Subscribe("sub-offer", "/topic/webrtc/offer/r1")
	assert.Equal(t, "SUBSCRIBE\nid:sub-offer\ndestination:/topic/webrtc/offer/r1\n\n\x00", string(got))
}

func TestDecodeRoundTrip(t *testing.T) {
	frame, err := Send("/topic/webrtc/offer/r1", Message{
		Type:    "WEBRTC_OFFER",
		RoomID:  "r1",
		Payload: json.RawMessage(`{"sdp":"v=0","type":"offer"}`),
	})
	require.NoError(t, err)

	m := Decode(frame)
	require.NotNil(t, m)
	assert.Equal(t, "WEBRTC_OFFER", m.Type)
	assert.Equal(t, "r1", m.RoomID)
	assert.JSONEq(t, `{"sdp":"v=0","type":"offer"}`, string(m.Payload))
}

func TestDecodeMalformedIsNil(t *testing.T) {
	cases := map[string][]byte{
		"no blank line":  []byte("MESSAGE\ndestination:/x\x00"),
		"empty body":     []byte("MESSAGE\n\n\x00"),
		"not json":       []byte("MESSAGE\n\n{not json\x00"),
		"empty input":    nil,
		"headers only":   []byte("CONNECTED\nversion:1.2\n\n\x00"),
		"truncated json": []byte("MESSAGE\n\n{\"type\":\x00"),
	}
	for name, raw := range cases {
		assert.Nil(t, Decode(raw), name)
	}
}

func TestBodyStripsNUL(t *testing.T) {
	assert.Equal(t, []byte(`{"x":1}`), Body([]byte("MESSAGE\nh:v\n\n{\"x\":1}\x00")))
	assert.Nil(t, Body([]byte("RECEIPT\nh:v\x00")))
}

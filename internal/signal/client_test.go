package signal

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepview/interview-bot/internal/signal/stomp"
)

type stompServer struct {
	ts     *httptest.Server
	frames chan string
	conns  chan *websocket.Conn
}

func newStompServer(t *testing.T) *stompServer {
	t.Helper()
	s := &stompServer{
		frames: make(chan string, 32),
		conns:  make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{subprotocol}}
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame := string(raw)
			if strings.HasPrefix(frame, "CONNECT") {
				conn.WriteMessage(websocket.TextMessage, []byte("CONNECTED\nversion:1.2\n\n\x00"))
			}
			s.frames <- frame
		}
	})
	s.ts = httptest.NewServer(mux)
	t.Cleanup(s.ts.Close)
	return s
}

func (s *stompServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func (s *stompServer) nextFrame(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-s.frames:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestDialHandshakeJoinsAndSubscribes(t *testing.T) {
	srv := newStompServer(t)
	host, port := srv.hostPort(t)

	client, err := Dial(context.Background(), host, port, "room-7")
	require.NoError(t, err)
	defer client.Close()

	connect := srv.nextFrame(t)
	assert.True(t, strings.HasPrefix(connect, "CONNECT\n"))
	assert.Contains(t, connect, "accept-version:1.2")

	join := srv.nextFrame(t)
	assert.True(t, strings.HasPrefix(join, "SEND\n"))
	assert.Contains(t, join, "destination:"+destJoin)
	assert.Contains(t, join, `"roomId":"room-7"`)
	assert.Contains(t, join, `"type":"JOIN"`)

	subOffer := srv.nextFrame(t)
	assert.True(t, strings.HasPrefix(subOffer, "SUBSCRIBE\n"))
	assert.Contains(t, subOffer, "destination:/topic/webrtc/offer/room-7")

	subICE := srv.nextFrame(t)
	assert.True(t, strings.HasPrefix(subICE, "SUBSCRIBE\n"))
	assert.Contains(t, subICE, "destination:/topic/webrtc/ice/room-7")
}

func TestSendAnswerPublishesEnvelope(t *testing.T) {
	srv := newStompServer(t)
	host, port := srv.hostPort(t)

	client, err := Dial(context.Background(), host, port, "room-7")
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 4; i++ {
		srv.nextFrame(t) // handshake traffic
	}

	require.NoError(t, client.SendAnswer("answer", "v=0\r\nlocal sdp"))

	frame := srv.nextFrame(t)
	assert.Contains(t, frame, "destination:"+destAnswer)

	body := stomp.Body([]byte(frame))
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "WEBRTC_ANSWER", env.Type)
	assert.Equal(t, "room-7", env.RoomID)
	assert.NotEmpty(t, env.TraceID)

	var payload answerPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "answer", payload.Type)
	assert.Equal(t, "v=0\r\nlocal sdp", payload.SDP)
}

func TestReadDecodesIncomingMessageFrames(t *testing.T) {
	srv := newStompServer(t)
	host, port := srv.hostPort(t)

	client, err := Dial(context.Background(), host, port, "room-7")
	require.NoError(t, err)
	defer client.Close()

	conn := <-srv.conns
	body := `{"type":"WEBRTC_OFFER","roomId":"room-7","payload":{"sdp":"v=0"}}`
	frame := "MESSAGE\ndestination:/topic/webrtc/offer/room-7\ncontent-type:application/json\n\n" + body + "\x00"
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	msg, err := client.Read()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "WEBRTC_OFFER", msg.Type)
	assert.Equal(t, "room-7", msg.RoomID)

	// Undecodable frames are skipped, not fatal.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	msg, err = client.Read()
	require.NoError(t, err)
	assert.Nil(t, msg)
}

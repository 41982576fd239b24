package session

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/prepview/interview-bot/internal/signal/stomp"
)

// Link is the signaling connection for one room: a STOMP-over-websocket
// client already joined and subscribed.
type Link interface {
	// Read blocks for the next decoded signaling message. A nil message
	// with nil error means a malformed frame was skipped.
	Read() (*stomp.Message, error)
	SendAnswer(sdpType, sdp string) error
	SendCandidate(ci webrtc.ICECandidateInit) error
	Close()
}

// Peer wraps the peer connection. Negotiation callbacks are wired to the
// session's event channel at construction.
type Peer interface {
	SetRemoteOffer(sdp string) error
	AddRemoteCandidate(ci webrtc.ICECandidateInit) error
	// AttachAudio adds the playback track; must run before Answer.
	AttachAudio() error
	// Answer creates and sets the local answer and waits for ICE gathering
	// with a bounded deadline, then returns the local SDP.
	Answer(ctx context.Context) (string, error)
	Close() error
}

// ControlChannel is the data-channel surface the session writes control
// messages to. *webrtc.DataChannel satisfies it.
type ControlChannel interface {
	SendText(text string) error
}

// PlaybackTrack streams one synthesized utterance to the peer, returning
// when it has fully played out.
type PlaybackTrack interface {
	Play(ctx context.Context, pcm []byte) error
	Stop()
}

// RecorderSink is the streaming recorder surface the session drives.
type RecorderSink interface {
	Start(ctx context.Context) error
	PushAudioPCM(pcm []byte, sampleRate int)
	Stop(ctx context.Context) (string, error)
}

// Turn is one interviewer utterance produced by the turn source.
type Turn struct {
	Text       string
	Expression string
	Finished   bool
	Number     int
	Total      int
}

// Config carries the session's timing and buffering policy.
type Config struct {
	InterviewMaxDuration time.Duration
	NoResponseTimeout    time.Duration
	MaxRecordingDuration time.Duration
	MaxAudioBufferBytes  int
}

// Deps are the session's collaborators. Transcribe, Synthesize and
// NextTurn are opaque async functions; their failures surface as AI_ERROR
// control messages, never as session crashes.
type Deps struct {
	DialSignal func(ctx context.Context, roomID string) (Link, error)
	NewPeer    func(s *Session) (Peer, PlaybackTrack, error)
	Recorder   RecorderSink
	Transcribe func(ctx context.Context, wav []byte) (string, error)
	Synthesize func(ctx context.Context, text string) ([]byte, error)
	NextTurn   func(ctx context.Context, answer string) (Turn, error)
	Remove     func()
}

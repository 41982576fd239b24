package session

import (
	"github.com/pion/webrtc/v4"
)

// State is the session lifecycle phase. Transitions are monotonic.
type State int

const (
	StateAwaitingOffer State = iota
	StateNegotiating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingOffer:
		return "awaiting_offer"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Transport and timer callbacks never touch session state directly: they
// post events into a bounded channel drained by the session's run loop, so
// exactly one goroutine mutates the state machine.
type eventKind int

const (
	evOffer eventKind = iota
	evRemoteICE
	evLocalICE
	evConnState
	evSignalDown
	evChannelOpen
	evChannelClosed
	evChannelMessage
	evCaptureTimeout
	evInterviewTimeout
	evNoResponseTimeout
)

type event struct {
	kind      eventKind
	sdp       string
	candidate webrtc.ICECandidateInit
	connState webrtc.PeerConnectionState
	channel   ControlChannel
	data      []byte
}

// Control-channel message vocabulary (JSON over the data channel).
const (
	msgPTTStart     = "PTT_START"
	msgPTTEnd       = "PTT_END"
	msgPTTTimeout   = "PTT_TIMEOUT"
	msgPTTTooShort  = "PTT_TOO_SHORT"
	msgAIQuestion   = "AI_QUESTION"
	msgAIDone       = "AI_DONE"
	msgAIError      = "AI_ERROR"
	msgInterviewEnd = "INTERVIEW_END"
	msgUserSTT      = "USER_STT"
)

type controlMessage struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	Message        string `json:"message,omitempty"`
	Expression     string `json:"expression,omitempty"`
	QuestionNumber int    `json:"questionNumber,omitempty"`
	TotalQuestions int    `json:"totalQuestions,omitempty"`
}

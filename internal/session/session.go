package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/prepview/interview-bot/internal/media"
)

const (
	eventQueueSize  = 256
	taskDrainGrace  = 5 * time.Second
	transcribeRetry = time.Second
)

// Session owns one peer connection and everything layered on it: the
// signaling link, the control channel, the push-to-talk capture buffer,
// the playback track, the recorder, and the two lifecycle timers. All
// state transitions happen on the run loop; callbacks only post events.
type Session struct {
	roomID string
	cfg    Config
	deps   Deps

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	closed chan struct{}

	stateMu sync.Mutex
	state   State

	// Owned by the run loop.
	remoteDescSet bool
	pendingICE    []event
	signalOff     bool

	peer     Peer
	link     Link
	playback PlaybackTrack
	capture  *media.Capture

	chMu    sync.Mutex
	channel ControlChannel

	timerMu         sync.Mutex
	interviewTimer  *time.Timer
	noResponseTimer *time.Timer

	tasks taskGroup
}

// New builds a session for roomID. Nothing dials or allocates transport
// resources until Run.
func New(roomID string, cfg Config, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID: roomID,
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan event, eventQueueSize),
		closed: make(chan struct{}),
		state:  StateAwaitingOffer,
	}
	s.capture = media.NewCapture(cfg.MaxAudioBufferBytes, cfg.MaxRecordingDuration, func() {
		s.post(event{kind: evCaptureTimeout})
	})
	return s
}

// RoomID returns the stable room identifier.
func (s *Session) RoomID() string { return s.roomID }

// Context is the session's lifetime context; media pumps run under it.
func (s *Session) Context() context.Context { return s.ctx }

// Capture exposes the PTT buffer to the inbound audio pump.
func (s *Session) Capture() *media.Capture { return s.capture }

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close requests teardown. Safe to call repeatedly and from any goroutine.
func (s *Session) Close() { s.cancel() }

// Run dials signaling, builds the peer and drains events until teardown.
func (s *Session) Run() {
	defer s.teardown()

	link, err := s.deps.DialSignal(s.ctx, s.roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("signaling dial failed")
		s.deps.Remove()
		return
	}
	s.link = link

	peer, playback, err := s.deps.NewPeer(s)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("peer setup failed")
		s.deps.Remove()
		return
	}
	s.peer = peer
	s.playback = playback

	go s.readSignal()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// post delivers an event to the run loop without blocking the caller.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("module", "session").Str("room", s.roomID).Int("kind", int(ev.kind)).Msg("event queue full, event dropped")
	}
}

// readSignal pumps decoded signaling messages into the event loop.
func (s *Session) readSignal() {
	for {
		msg, err := s.link.Read()
		if err != nil {
			s.post(event{kind: evSignalDown})
			return
		}
		if msg == nil {
			continue
		}
		switch msg.Type {
		case "WEBRTC_OFFER":
			var p struct {
				SDP string `json:"sdp"`
			}
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.SDP == "" {
				log.Warn().Str("module", "session").Str("room", s.roomID).Msg("malformed offer payload dropped")
				continue
			}
			s.post(event{kind: evOffer, sdp: p.SDP})
		case "ICE_CANDIDATE":
			ci, ok := decodeCandidate(msg.Payload)
			if !ok {
				log.Warn().Str("module", "session").Str("room", s.roomID).Msg("malformed ice payload dropped")
				continue
			}
			s.post(event{kind: evRemoteICE, candidate: ci})
		default:
			log.Debug().Str("module", "session").Str("room", s.roomID).Str("type", msg.Type).Msg("unhandled signaling message")
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evOffer:
		s.handleOffer(ev.sdp)
	case evRemoteICE:
		s.handleRemoteICE(ev)
	case evLocalICE:
		if s.signalOff {
			return
		}
		if err := s.link.SendCandidate(ev.candidate); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Msg("send local candidate failed")
		}
	case evConnState:
		s.handleConnState(ev)
	case evSignalDown:
		// Expected after we close the link on "connected"; anything
		// earlier means signaling died mid-negotiation.
		if !s.signalOff {
			log.Warn().Str("module", "session").Str("room", s.roomID).Msg("signaling link lost")
			s.deps.Remove()
		}
	case evChannelOpen:
		s.handleChannelOpen(ev.channel)
	case evChannelClosed:
		s.setChannel(nil)
	case evChannelMessage:
		s.handleControlMessage(ev.data)
	case evCaptureTimeout:
		s.sendControl(controlMessage{Type: msgPTTTimeout})
		s.finishCapture()
	case evInterviewTimeout:
		log.Info().Str("module", "session").Str("room", s.roomID).Msg("interview duration reached")
		s.sendControl(controlMessage{Type: msgInterviewEnd, Text: "The interview time is up, so we will wrap up here.", Expression: "neutral"})
		s.deps.Remove()
	case evNoResponseTimeout:
		log.Info().Str("module", "session").Str("room", s.roomID).Msg("no response from peer")
		s.sendControl(controlMessage{Type: msgAIError, Message: "Ending the interview because there was no response."})
		s.deps.Remove()
	}
}

// handleOffer runs the whole answer flow: remote description, buffered
// candidate drain, track attach, answer with bounded gathering, send.
func (s *Session) handleOffer(sdp string) {
	if s.state != StateAwaitingOffer {
		log.Warn().Str("module", "session").Str("room", s.roomID).Str("state", s.state.String()).Msg("offer in wrong state, ignored")
		return
	}
	s.setState(StateNegotiating)

	if err := s.peer.SetRemoteOffer(sdp); err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("set remote description failed")
		s.deps.Remove()
		return
	}
	s.remoteDescSet = true

	// Drain buffered candidates in arrival order; one bad candidate is
	// dropped, not fatal.
	for _, pending := range s.pendingICE {
		if err := s.peer.AddRemoteCandidate(pending.candidate); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Msg("buffered candidate rejected")
		}
	}
	s.pendingICE = nil

	if err := s.peer.AttachAudio(); err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("attach playback track failed")
		s.deps.Remove()
		return
	}

	answerSDP, err := s.peer.Answer(s.ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("create answer failed")
		s.deps.Remove()
		return
	}
	if err := s.link.SendAnswer("answer", answerSDP); err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("send answer failed")
		s.deps.Remove()
		return
	}
	log.Info().Str("module", "session").Str("room", s.roomID).Msg("answer sent")
}

func (s *Session) handleRemoteICE(ev event) {
	if !s.remoteDescSet {
		s.pendingICE = append(s.pendingICE, ev)
		return
	}
	if err := s.peer.AddRemoteCandidate(ev.candidate); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Msg("remote candidate rejected")
	}
}

func (s *Session) handleConnState(ev event) {
	log.Info().Str("module", "session").Str("room", s.roomID).Str("peer_state", ev.connState.String()).Msg("peer connection state")
	switch ev.connState {
	case webrtc.PeerConnectionStateConnected:
		// Media is up; the signaling link has done its job.
		s.signalOff = true
		s.link.Close()
		s.setState(StateActive)
		if err := s.deps.Recorder.Start(s.ctx); err != nil {
			log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("recorder start failed, continuing without recording")
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.deps.Remove()
	}
}

func (s *Session) handleChannelOpen(ch ControlChannel) {
	s.setChannel(ch)
	s.armInterviewTimer()
	s.spawn(s.startInterview)
}

func (s *Session) handleControlMessage(data []byte) {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Str("module", "session").Str("room", s.roomID).Msg("malformed control message dropped")
		return
	}
	switch m.Type {
	case msgPTTStart:
		// The peer is answering; the no-response clock stops.
		s.stopNoResponseTimer()
		s.capture.Start()
	case msgPTTEnd:
		s.finishCapture()
	default:
		log.Debug().Str("module", "session").Str("room", s.roomID).Str("type", m.Type).Msg("unhandled control message")
	}
}

// finishCapture renders the PTT buffer and hands it to transcription.
func (s *Session) finishCapture() {
	wav, ok := s.capture.Stop()
	if !ok {
		log.Info().Str("module", "session").Str("room", s.roomID).Msg("empty capture, nothing to transcribe")
		s.sendControl(controlMessage{Type: msgPTTTooShort})
		return
	}
	s.spawn(func(ctx context.Context) { s.processAnswer(ctx, wav) })
}

// processAnswer runs transcription and the next interview turn. Runs as a
// tracked background task so the event loop stays responsive.
func (s *Session) processAnswer(ctx context.Context, wav []byte) {
	text, err := s.transcribeWithRetry(ctx, wav)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("transcription failed")
		s.sendControl(controlMessage{Type: msgAIError, Message: "Could not process your answer, please try again."})
		return
	}
	s.sendControl(controlMessage{Type: msgUserSTT, Text: text})

	turn, err := s.deps.NextTurn(ctx, text)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("turn generation failed")
		s.sendControl(controlMessage{Type: msgAIError, Message: "Could not generate the next question."})
		return
	}
	s.announceTurn(turn)
	s.speak(ctx, turn.Text, turn.Finished)
}

func (s *Session) startInterview(ctx context.Context) {
	turn, err := s.deps.NextTurn(ctx, "")
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("first question failed")
		s.sendControl(controlMessage{Type: msgAIError, Message: "Could not start the interview."})
		return
	}
	s.announceTurn(turn)
	s.speak(ctx, turn.Text, turn.Finished)
}

func (s *Session) announceTurn(turn Turn) {
	if turn.Finished {
		s.sendControl(controlMessage{Type: msgInterviewEnd, Text: turn.Text, Expression: turn.Expression})
		return
	}
	s.sendControl(controlMessage{
		Type:           msgAIQuestion,
		Text:           turn.Text,
		Expression:     turn.Expression,
		QuestionNumber: turn.Number,
		TotalQuestions: turn.Total,
	})
}

// speak synthesizes text and plays it out. After a question the
// no-response timer re-arms so waiting for the peer is always bounded;
// after the closing statement the session ends instead.
func (s *Session) speak(ctx context.Context, text string, final bool) {
	pcm, err := s.deps.Synthesize(ctx, text)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("synthesis failed")
		s.sendControl(controlMessage{Type: msgAIError, Message: "Speech synthesis failed."})
		return
	}
	s.deps.Recorder.PushAudioPCM(pcm, media.SampleRate)
	if err := s.playback.Play(ctx, pcm); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Msg("playback interrupted")
		return
	}
	if final {
		s.deps.Remove()
		return
	}
	s.sendControl(controlMessage{Type: msgAIDone})
	s.armNoResponseTimer()
}

func (s *Session) transcribeWithRetry(ctx context.Context, wav []byte) (string, error) {
	text, err := s.deps.Transcribe(ctx, wav)
	if err == nil {
		return text, nil
	}
	log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Msg("transcription failed, retrying once")
	select {
	case <-time.After(transcribeRetry):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.deps.Transcribe(ctx, wav)
}

func (s *Session) sendControl(m controlMessage) {
	s.chMu.Lock()
	ch := s.channel
	s.chMu.Unlock()
	if ch == nil {
		log.Warn().Str("module", "session").Str("room", s.roomID).Str("type", m.Type).Msg("control channel not open, message dropped")
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("marshal control message")
		return
	}
	if err := ch.SendText(string(data)); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Str("type", m.Type).Msg("control send failed")
	}
}

func (s *Session) setChannel(ch ControlChannel) {
	s.chMu.Lock()
	s.channel = ch
	s.chMu.Unlock()
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	from := s.state
	s.state = st
	s.stateMu.Unlock()
	log.Info().Str("module", "session").Str("room", s.roomID).Str("from", from.String()).Str("to", st.String()).Msg("state transition")
}

func (s *Session) armInterviewTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.interviewTimer != nil {
		s.interviewTimer.Stop()
	}
	s.interviewTimer = time.AfterFunc(s.cfg.InterviewMaxDuration, func() {
		s.post(event{kind: evInterviewTimeout})
	})
}

func (s *Session) armNoResponseTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.noResponseTimer != nil {
		s.noResponseTimer.Stop()
	}
	s.noResponseTimer = time.AfterFunc(s.cfg.NoResponseTimeout, func() {
		s.post(event{kind: evNoResponseTimeout})
	})
}

func (s *Session) stopNoResponseTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.noResponseTimer != nil {
		s.noResponseTimer.Stop()
		s.noResponseTimer = nil
	}
}

func (s *Session) stopTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.interviewTimer != nil {
		s.interviewTimer.Stop()
		s.interviewTimer = nil
	}
	if s.noResponseTimer != nil {
		s.noResponseTimer.Stop()
		s.noResponseTimer = nil
	}
}

// teardown releases everything once. Reentrancy-safe: Run's defer and
// explicit Close funnel through the same guard.
func (s *Session) teardown() {
	s.tasks.closeOnce(func() {
		s.cancel()
		s.setState(StateClosed)
		s.stopTimers()
		s.capture.Reset()
		if s.playback != nil {
			s.playback.Stop()
		}
		if url, err := s.deps.Recorder.Stop(context.Background()); err != nil {
			log.Error().Err(err).Str("module", "session").Str("room", s.roomID).Msg("recorder stop failed")
		} else if url != "" {
			log.Info().Str("module", "session").Str("room", s.roomID).Str("url", url).Msg("recording stored")
		}
		s.setChannel(nil)
		if s.peer != nil {
			if err := s.peer.Close(); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("room", s.roomID).Msg("peer close")
			}
		}
		if s.link != nil {
			s.link.Close()
		}
		s.tasks.waitWithGrace(taskDrainGrace, s.roomID)
		close(s.closed)
		log.Info().Str("module", "session").Str("room", s.roomID).Msg("session torn down")
	})
}

// spawn runs fn as a tracked background task under the session context.
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.tasks.run(func() { fn(s.ctx) })
}

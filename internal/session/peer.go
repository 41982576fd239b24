package session

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/prepview/interview-bot/internal/media"
)

// gatherTimeout bounds the wait for ICE gathering before the answer is
// sent with whatever candidates have been collected so far.
const gatherTimeout = 10 * time.Second

// rtcPeer is the production Peer built on pion. All negotiation callbacks
// feed the owning session's event loop; rtcPeer itself holds no state
// machine.
type rtcPeer struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
}

// NewRTCPeer builds a peer connection wired to s: local candidates,
// connection state changes, the control data channel and inbound tracks
// all post events to the session. The returned playback track is paced at
// the wire frame rate and attached on AttachAudio.
func NewRTCPeer(s *Session, rec *media.Recorder, stunURLs []string) (Peer, PlaybackTrack, error) {
	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: media.SampleRate,
		Channels:  media.Channels,
	}, "audio", "interviewer")
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	enc, err := media.NewOpusEncoder()
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	playback := media.NewPlayback(enc, track)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.post(event{kind: evLocalICE, candidate: c.ToJSON()})
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(event{kind: evConnState, connState: st})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			s.post(event{kind: evChannelOpen, channel: dc})
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			s.post(event{kind: evChannelMessage, data: msg.Data})
		})
		dc.OnClose(func() {
			s.post(event{kind: evChannelClosed})
		})
	})
	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		switch tr.Kind() {
		case webrtc.RTPCodecTypeAudio:
			dec, err := media.NewOpusDecoder()
			if err != nil {
				log.Error().Err(err).Str("module", "peer").Str("room", s.RoomID()).Msg("opus decoder init failed")
				return
			}
			go media.PumpAudio(s.Context(), tr, dec, s.Capture(), rec)
		case webrtc.RTPCodecTypeVideo:
			go media.PumpVideo(s.Context(), tr, rec)
		}
	})

	return &rtcPeer{pc: pc, track: track}, playback, nil
}

func (p *rtcPeer) SetRemoteOffer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

func (p *rtcPeer) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

func (p *rtcPeer) AttachAudio() error {
	sender, err := p.pc.AddTrack(p.track)
	if err != nil {
		return err
	}
	// Drain RTCP so the interceptor chain keeps flowing.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *rtcPeer) Answer(ctx context.Context) (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		log.Warn().Str("module", "peer").Msg("ice gathering deadline reached, answering with partial candidates")
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *rtcPeer) Close() error {
	return p.pc.Close()
}

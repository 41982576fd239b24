package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// taskGroup tracks the session's background tasks and serializes teardown.
type taskGroup struct {
	wg   sync.WaitGroup
	once sync.Once
}

func (g *taskGroup) run(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *taskGroup) closeOnce(fn func()) {
	g.once.Do(fn)
}

// waitWithGrace waits for outstanding tasks but never longer than grace.
func (g *taskGroup) waitWithGrace(grace time.Duration, roomID string) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Str("module", "session").Str("room", roomID).Msg("background tasks did not drain in time")
	}
}

// decodeCandidate parses the signaling ICE payload into pion's init form.
func decodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, bool) {
	var p struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Candidate == "" {
		return webrtc.ICECandidateInit{}, false
	}
	return webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}, true
}

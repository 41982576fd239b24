package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// ErrPlaybackStopped reports a Play interrupted by teardown.
var ErrPlaybackStopped = errors.New("playback stopped")

// SampleWriter is where paced frames go. *webrtc.TrackLocalStaticSample
// satisfies it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

var silenceFrame = make([]byte, FrameBytes)

// Playback emits fixed 20ms audio frames on a wall-clock schedule from an
// internal queue. The producer side (Play, once per utterance) is decoupled
// from the pacing loop: when the queue is empty the loop emits silence, so
// the track never starves, and when the loop falls behind it emits
// immediately rather than bursting to catch up.
type Playback struct {
	enc Encoder
	out SampleWriter

	queue chan []byte // nil element is the end-of-utterance sentinel

	playMu sync.Mutex // serializes Play calls

	mu   sync.Mutex
	done chan struct{} // closed when the current utterance fully drained

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPlayback starts the pacing loop immediately; silence flows until the
// first Play.
func NewPlayback(enc Encoder, out SampleWriter) *Playback {
	p := &Playback{
		enc:   enc,
		out:   out,
		queue: make(chan []byte, 64),
		stop:  make(chan struct{}),
	}
	go p.loop()
	return p
}

// Play slices pcm into 1920-byte frames (zero-padding the tail), queues
// them followed by the end sentinel, and blocks until every frame has been
// emitted. pcm must be 48kHz mono s16.
func (p *Playback) Play(ctx context.Context, pcm []byte) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	done := make(chan struct{})
	p.mu.Lock()
	p.done = done
	p.mu.Unlock()

	for off := 0; off < len(pcm); off += FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, pcm[off:min(off+FrameBytes, len(pcm))])
		if err := p.enqueue(ctx, frame); err != nil {
			return err
		}
	}
	if err := p.enqueue(ctx, nil); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrPlaybackStopped
	}
}

func (p *Playback) enqueue(ctx context.Context, frame []byte) error {
	select {
	case p.queue <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrPlaybackStopped
	}
}

// Stop terminates the pacing loop and releases any blocked Play.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Playback) loop() {
	start := time.Now()
	encBuf := make([]byte, 4096)
	for n := 0; ; n++ {
		target := start.Add(time.Duration(n) * FrameDurationMs * time.Millisecond)
		if wait := time.Until(target); wait > 0 {
			select {
			case <-time.After(wait):
			case <-p.stop:
				return
			}
		} else {
			select {
			case <-p.stop:
				return
			default:
			}
		}

		frame := p.dequeue()
		size, err := p.enc.Encode(bytesToPCM(frame), encBuf)
		if err != nil {
			log.Warn().Err(err).Str("module", "media.playback").Msg("encode failed, frame skipped")
			continue
		}
		sample := media.Sample{
			Data:     append([]byte(nil), encBuf[:size]...),
			Duration: FrameDurationMs * time.Millisecond,
		}
		if err := p.out.WriteSample(sample); err != nil {
			log.Warn().Err(err).Str("module", "media.playback").Msg("write sample failed")
		}
	}
}

// dequeue pops one frame; silence when the queue is empty, and on the end
// sentinel it fires completion and keeps the silence flowing.
func (p *Playback) dequeue() []byte {
	select {
	case frame := <-p.queue:
		if frame == nil {
			p.mu.Lock()
			if p.done != nil {
				close(p.done)
				p.done = nil
			}
			p.mu.Unlock()
			return silenceFrame
		}
		return frame
	default:
		return silenceFrame
	}
}

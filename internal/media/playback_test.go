package media

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcmPassthrough keeps the raw PCM bytes as the "encoded" payload so tests
// can inspect what was emitted.
type pcmPassthrough struct{}

func (pcmPassthrough) Encode(pcm []int16, data []byte) (int, error) {
	b := pcmToBytes(pcm)
	copy(data, b)
	return len(b), nil
}

type sampleSink struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (s *sampleSink) WriteSample(sample media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *sampleSink) voiced() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, smp := range s.samples {
		if !bytes.Equal(smp.Data, silenceFrame) {
			out = append(out, smp.Data)
		}
	}
	return out
}

func TestPlaySlicesAndPads(t *testing.T) {
	sink := &sampleSink{}
	p := NewPlayback(pcmPassthrough{}, sink)
	defer p.Stop()

	pcm := bytes.Repeat([]byte{0x11, 0x22}, 1500) // 3000 bytes
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Play(ctx, pcm))

	voiced := sink.voiced()
	require.Len(t, voiced, 2)
	assert.Equal(t, pcm[:FrameBytes], voiced[0])
	// Tail frame: 1080 data bytes, zero-padded to full size.
	require.Len(t, voiced[1], FrameBytes)
	assert.Equal(t, pcm[FrameBytes:], voiced[1][:3000-FrameBytes])
	assert.Equal(t, make([]byte, FrameBytes-(3000-FrameBytes)), voiced[1][3000-FrameBytes:])
}

func TestPlayBlocksUntilDrained(t *testing.T) {
	sink := &sampleSink{}
	p := NewPlayback(pcmPassthrough{}, sink)
	defer p.Stop()

	pcm := bytes.Repeat([]byte{1}, 4*FrameBytes)
	start := time.Now()
	require.NoError(t, p.Play(context.Background(), pcm))

	// 4 frames at 20ms cadence cannot drain much faster than 3 cycles.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, sink.voiced(), 4)
}

func TestEmitsSilenceWhenStarved(t *testing.T) {
	sink := &sampleSink{}
	p := NewPlayback(pcmPassthrough{}, sink)
	defer p.Stop()

	time.Sleep(70 * time.Millisecond)
	sink.mu.Lock()
	n := len(sink.samples)
	sink.mu.Unlock()
	assert.GreaterOrEqual(t, n, 2)
	assert.Empty(t, sink.voiced())
}

func TestStopReleasesPlay(t *testing.T) {
	sink := &sampleSink{}
	p := NewPlayback(pcmPassthrough{}, sink)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Play(context.Background(), bytes.Repeat([]byte{1}, 100*FrameBytes))
	}()
	time.Sleep(30 * time.Millisecond)
	p.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPlaybackStopped)
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Stop")
	}
}

func TestPlayHonorsContext(t *testing.T) {
	sink := &sampleSink{}
	p := NewPlayback(pcmPassthrough{}, sink)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Play(ctx, bytes.Repeat([]byte{1}, 200*FrameBytes))
	assert.ErrorIs(t, err, context.Canceled)
}

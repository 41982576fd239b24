package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"
)

// Capture accumulates inbound PCM while push-to-talk is active. It enforces
// a byte cap (oversized frames are dropped whole) and a duration cap
// (capture auto-stops and notifies via onTimeout). Rendering produces one
// WAV with the observed sample rate.
type Capture struct {
	maxBytes    int
	maxDuration time.Duration
	onTimeout   func()
	now         func() time.Time

	mu         sync.Mutex
	active     bool
	frames     [][]byte
	size       int
	sampleRate int
	startedAt  time.Time
}

func NewCapture(maxBytes int, maxDuration time.Duration, onTimeout func()) *Capture {
	return &Capture{
		maxBytes:    maxBytes,
		maxDuration: maxDuration,
		onTimeout:   onTimeout,
		now:         time.Now,
		sampleRate:  SampleRate,
	}
}

// Start clears any prior buffer and begins accumulating.
func (c *Capture) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.frames = nil
	c.size = 0
	c.startedAt = c.now()
}

// Reset deactivates the capture and drops any buffered frames without
// rendering them. Used on session teardown.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.frames = nil
	c.size = 0
}

// Active reports whether frames are currently being buffered.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// OnFrame buffers one raw PCM chunk. Outside an active capture it is a
// no-op. A frame that would exceed the byte cap is dropped, never partially
// appended.
func (c *Capture) OnFrame(pcm []byte, sampleRate int) {
	c.mu.Lock()
	c.sampleRate = sampleRate
	if !c.active {
		c.mu.Unlock()
		return
	}
	if c.now().Sub(c.startedAt) >= c.maxDuration {
		c.active = false
		c.mu.Unlock()
		log.Warn().Str("module", "media.capture").Dur("max", c.maxDuration).Msg("recording duration cap hit, auto-stopping")
		if c.onTimeout != nil {
			c.onTimeout()
		}
		return
	}
	if c.size+len(pcm) > c.maxBytes {
		c.mu.Unlock()
		log.Warn().Str("module", "media.capture").Int("buffered", c.size).Int("frame", len(pcm)).Msg("audio buffer cap hit, frame dropped")
		return
	}
	c.frames = append(c.frames, append([]byte(nil), pcm...))
	c.size += len(pcm)
	c.mu.Unlock()
}

// Stop deactivates and renders the buffered capture as one WAV container.
// An empty buffer returns (nil, false) with no other side effects.
func (c *Capture) Stop() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	if len(c.frames) == 0 {
		return nil, false
	}
	wavBytes, err := renderWAV(c.frames, c.sampleRate)
	c.frames = nil
	c.size = 0
	if err != nil {
		log.Error().Err(err).Str("module", "media.capture").Msg("wav render failed")
		return nil, false
	}
	return wavBytes, true
}

// renderWAV serializes the chunks into a 16-bit mono WAV at sampleRate. The
// chunks themselves are only read, never mutated.
func renderWAV(frames [][]byte, sampleRate int) ([]byte, error) {
	total := 0
	for _, f := range frames {
		total += len(f) / 2
	}
	data := make([]int, 0, total)
	for _, f := range frames {
		for _, s := range bytesToPCM(f) {
			data = append(data, int(s))
		}
	}

	var ws memWriteSeeker
	enc := wav.NewEncoder(&ws, sampleRate, 16, Channels, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav close: %w", err)
	}
	return ws.buf, nil
}

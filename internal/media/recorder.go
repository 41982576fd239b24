package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/prepview/interview-bot/internal/storage"
)

// Nominal recording geometry. Track metadata must be declared before any
// data is written, so these are fixed up front.
const (
	VideoWidth  = 1280
	VideoHeight = 720
	videoFPS    = 30
)

// Uploader is the chunked remote sink the recorder flushes into.
// *storage.MultipartUpload satisfies it.
type Uploader interface {
	Start(ctx context.Context) error
	Write(ctx context.Context, data []byte) error
	Complete(ctx context.Context) (string, error)
	Abort(ctx context.Context) error
}

// appendBuffer is the byte sink behind the WebM writer. It only ever
// appends: the muxer holds an internal write cursor that truncation would
// invalidate, so flushing hands out deltas past a high-water mark instead.
type appendBuffer struct {
	mu      sync.Mutex
	data    []byte
	flushed int
}

func (b *appendBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *appendBuffer) Close() error { return nil }

// delta returns the bytes written since the last call and advances the
// high-water mark.
func (b *appendBuffer) delta() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed == len(b.data) {
		return nil
	}
	d := append([]byte(nil), b.data[b.flushed:]...)
	b.flushed = len(b.data)
	return d
}

// Recorder muxes inbound audio and video into a streaming WebM container
// and incrementally uploads it. Timestamps are assigned from per-track
// monotonic counters; RTP clocks start at random offsets and are never
// trusted.
type Recorder struct {
	up  Uploader
	enc Encoder

	mu           sync.Mutex
	ctx          context.Context
	buf          *appendBuffer
	audio, video webm.BlockWriteCloser
	running      bool
	finalized    bool
	audioSamples int64
	videoFrames  int64
	encBuf       []byte
}

// NewRecorder builds a recorder writing opus audio and VP8 video. enc must
// be a 48kHz mono encoder.
func NewRecorder(up Uploader, enc Encoder) *Recorder {
	return &Recorder{up: up, enc: enc, encBuf: make([]byte, 4096)}
}

// Start opens the remote upload and the muxed writer with both tracks
// declared.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if err := r.up.Start(ctx); err != nil {
		return err
	}
	r.buf = &appendBuffer{}
	writers, err := webm.NewSimpleBlockWriter(r.buf, []webm.TrackEntry{
		{
			Name:            "Audio",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: FrameDurationMs * 1_000_000,
			Audio: &webm.Audio{
				SamplingFrequency: float64(SampleRate),
				Channels:          Channels,
			},
		},
		{
			Name:            "Video",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "V_VP8",
			TrackType:       1,
			DefaultDuration: 1_000_000_000 / videoFPS,
			Video: &webm.Video{
				PixelWidth:  VideoWidth,
				PixelHeight: VideoHeight,
			},
		},
	})
	if err != nil {
		if aerr := r.up.Abort(ctx); aerr != nil {
			log.Warn().Err(aerr).Str("module", "media.recorder").Msg("abort after writer failure")
		}
		return fmt.Errorf("open webm writer: %w", err)
	}
	r.audio, r.video = writers[0], writers[1]
	r.ctx = ctx
	r.running = true
	r.audioSamples = 0
	r.videoFrames = 0
	log.Info().Str("module", "media.recorder").Msg("recording started")
	return nil
}

// PushVideo muxes one depacketized VP8 frame. Samples that fail validation
// are dropped; a single bad frame never stops the recording.
func (r *Recorder) PushVideo(sample media.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	keyframe, ok := inspectVP8(sample.Data)
	if !ok {
		log.Debug().Str("module", "media.recorder").Int("len", len(sample.Data)).Msg("invalid vp8 frame dropped")
		return
	}
	pts := r.videoFrames * 1000 / videoFPS
	if _, err := r.video.Write(keyframe, pts, sample.Data); err != nil {
		log.Warn().Err(err).Str("module", "media.recorder").Msg("video mux failed, frame dropped")
		return
	}
	r.videoFrames++
	r.flushLocked()
}

// PushAudioPCM resamples pcm to 48kHz if needed, slices it into 20ms
// frames (zero-padding the tail), encodes and muxes each with a monotonic
// timestamp.
func (r *Recorder) PushAudioPCM(pcm []byte, sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	if sampleRate != SampleRate {
		pcm = ResamplePCM(pcm, sampleRate, SampleRate)
	}
	for off := 0; off < len(pcm); off += FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, pcm[off:min(off+FrameBytes, len(pcm))])
		size, err := r.enc.Encode(bytesToPCM(frame), r.encBuf)
		if err != nil {
			log.Warn().Err(err).Str("module", "media.recorder").Msg("audio encode failed, frame dropped")
			continue
		}
		pts := r.audioSamples * 1000 / SampleRate
		if _, err := r.audio.Write(true, pts, append([]byte(nil), r.encBuf[:size]...)); err != nil {
			log.Warn().Err(err).Str("module", "media.recorder").Msg("audio mux failed, frame dropped")
			continue
		}
		r.audioSamples += SamplesPerFrame
		r.flushLocked()
	}
}

func (r *Recorder) flushLocked() {
	data := r.buf.delta()
	if len(data) == 0 {
		return
	}
	if err := r.up.Write(r.ctx, data); err != nil {
		log.Error().Err(err).Str("module", "media.recorder").Msg("upload flush failed")
	}
}

// Stop closes the muxed writer, performs a final flush and completes the
// upload, returning the object URL. Idempotent: a second call is a no-op.
// An upload with zero parts is aborted instead of completed.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return "", nil
	}
	r.finalized = true
	if !r.running {
		return "", nil
	}
	r.running = false

	if err := r.audio.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.recorder").Msg("audio writer close")
	}
	if err := r.video.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.recorder").Msg("video writer close")
	}
	r.flushLocked()

	url, err := r.up.Complete(ctx)
	if errors.Is(err, storage.ErrNoParts) {
		if aerr := r.up.Abort(ctx); aerr != nil {
			log.Warn().Err(aerr).Str("module", "media.recorder").Msg("abort empty upload")
		}
		return "", nil
	}
	if err != nil {
		if aerr := r.up.Abort(ctx); aerr != nil {
			log.Warn().Err(aerr).Str("module", "media.recorder").Msg("abort after complete failure")
		}
		return "", fmt.Errorf("finalize recording: %w", err)
	}
	log.Info().Str("module", "media.recorder").Str("url", url).Msg("recording complete")
	return url, nil
}

// inspectVP8 reads the VP8 payload header. It reports whether the frame is
// a keyframe and whether the frame is well-formed enough to mux.
func inspectVP8(b []byte) (keyframe, ok bool) {
	if len(b) < 3 {
		return false, false
	}
	keyframe = b[0]&0x01 == 0
	if keyframe {
		// Keyframes carry a start code and dimensions after the frame tag.
		if len(b) < 10 || b[3] != 0x9d || b[4] != 0x01 || b[5] != 0x2a {
			return false, false
		}
	}
	return keyframe, true
}

// Package media implements the session's media plane: the paced playback
// track for synthesized speech, the push-to-talk capture buffer, the
// streaming audio/video recorder, and the inbound track readers feeding
// them.
package media

import (
	"encoding/binary"

	opus "gopkg.in/hraban/opus.v2"
)

// Fixed audio format shared across the pipeline: 48kHz mono s16, one frame
// every 20ms.
const (
	SampleRate      = 48000
	Channels        = 1
	SamplesPerFrame = 960
	FrameBytes      = SamplesPerFrame * 2
	FrameDurationMs = 20
)

// Encoder compresses one fixed-size PCM frame. hraban/opus satisfies it;
// tests use passthrough fakes.
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Decoder expands one compressed packet into PCM.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// NewOpusEncoder builds a 48kHz mono opus encoder tuned for speech.
func NewOpusEncoder() (Encoder, error) {
	return opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
}

// NewOpusDecoder builds the matching decoder for inbound audio.
func NewOpusDecoder() (Decoder, error) {
	return opus.NewDecoder(SampleRate, Channels)
}

func bytesToPCM(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return pcm
}

func pcmToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

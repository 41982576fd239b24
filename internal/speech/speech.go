// Package speech adapts the OpenAI audio endpoints to the session's
// transcription and synthesis functions.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/prepview/interview-bot/internal/media"
)

// ttsSampleRate is the PCM rate the speech endpoint returns; playback and
// recording want the wire rate, so synthesized audio is resampled.
const ttsSampleRate = 24000

type transcriptionAPI interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

type synthesisAPI interface {
	CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Transcriber turns one WAV utterance into text.
type Transcriber struct {
	api transcriptionAPI
}

func NewTranscriber(client *openai.Client) *Transcriber {
	return &Transcriber{api: client}
}

// Transcribe sends the WAV bytes to the speech-to-text model and returns
// the trimmed transcript.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := t.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(wav),
		FilePath: "audio.wav",
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesizer turns text into 48 kHz mono 16-bit PCM ready for the
// playback track and the recorder.
type Synthesizer struct {
	api   synthesisAPI
	voice openai.SpeechVoice
}

func NewSynthesizer(client *openai.Client, voice string) *Synthesizer {
	v := openai.SpeechVoice(voice)
	if v == "" {
		v = openai.VoiceAlloy
	}
	return &Synthesizer{api: client, voice: v}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Close()
	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("synthesize read: %w", err)
	}
	log.Debug().Str("module", "speech").Int("bytes", len(raw)).Msg("synthesized utterance")
	return media.ResamplePCM(raw, ttsSampleRate, media.SampleRate), nil
}

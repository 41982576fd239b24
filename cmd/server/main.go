package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	router "github.com/prepview/interview-bot/internal/adapters/http"
	"github.com/prepview/interview-bot/internal/config"
	"github.com/prepview/interview-bot/internal/interview"
	"github.com/prepview/interview-bot/internal/media"
	signalws "github.com/prepview/interview-bot/internal/signal"
	"github.com/prepview/interview-bot/internal/session"
	"github.com/prepview/interview-bot/internal/speech"
	"github.com/prepview/interview-bot/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	s3core, err := minio.NewCore(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create s3 client")
	}

	ai := openai.NewClient(cfg.OpenAI.APIKey)
	transcriber := speech.NewTranscriber(ai)

	reg := session.NewRegistry(cfg.MaxSessions, func(roomID string, remove func()) (session.Member, error) {
		key := fmt.Sprintf("%s/%s/%s.webm", cfg.S3.Prefix, roomID, roomID)
		upload := storage.NewMultipartUpload(s3core, cfg.S3.Endpoint, cfg.S3.Bucket, key, "video/webm")

		enc, err := media.NewOpusEncoder()
		if err != nil {
			return nil, err
		}
		rec := media.NewRecorder(upload, enc)

		engine := interview.NewEngine(ai, cfg.OpenAI.ChatModel, cfg.OpenAI.Persona, cfg.OpenAI.MaxQuestions)
		synth := speech.NewSynthesizer(ai, cfg.OpenAI.Voice)

		s := session.New(roomID, session.Config{
			InterviewMaxDuration: cfg.InterviewMaxDuration,
			NoResponseTimeout:    cfg.NoResponseTimeout,
			MaxRecordingDuration: cfg.MaxRecordingDuration,
			MaxAudioBufferBytes:  cfg.MaxAudioBufferBytes,
		}, session.Deps{
			DialSignal: func(ctx context.Context, roomID string) (session.Link, error) {
				return signalws.Dial(ctx, cfg.BackHost, cfg.BackPort, roomID)
			},
			NewPeer: func(s *session.Session) (session.Peer, session.PlaybackTrack, error) {
				return session.NewRTCPeer(s, rec, cfg.StunURLs)
			},
			Recorder:   rec,
			Transcribe: transcriber.Transcribe,
			Synthesize: synth.Synthesize,
			NextTurn: func(ctx context.Context, answer string) (session.Turn, error) {
				t, err := engine.NextTurn(ctx, answer)
				if err != nil {
					return session.Turn{}, err
				}
				return session.Turn{
					Text:       t.Text,
					Expression: t.Expression,
					Finished:   t.Finished,
					Number:     t.Number,
					Total:      t.Total,
				}, nil
			},
			Remove: remove,
		})
		return s, nil
	})

	r := router.SetupRouter(cfg, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Interview bot server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.CloseAll()
	log.Info().Msg("Server exited gracefully")
}

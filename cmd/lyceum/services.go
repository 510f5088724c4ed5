package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/media"
	"github.com/pavelanni/lyceum/internal/meeting"
	"github.com/pavelanni/lyceum/internal/rag"
	"github.com/pavelanni/lyceum/internal/store"
	"github.com/pavelanni/lyceum/internal/vectorstore"
)

// services holds the clients shared by the commands. Optional integrations
// stay nil when they are not configured.
type services struct {
	db      *store.Store
	llm     *llm.Client
	vectors *vectorstore.Store
	bucket  *gcp.Bucket
	docs    *gcp.DocumentAI
	speech  *gcp.Speech
	ffmpeg  *media.FFmpeg
	stream  *meeting.Stream
	closers []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("error closing client", "error", err)
		}
	}
}

// openCore opens the database, the LLM endpoint and the vector store.
func openCore(ctx context.Context, v *viper.Viper) (*services, error) {
	s := &services{}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = db
	s.closers = append(s.closers, db.Close)

	s.llm = llm.New(llm.Config{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      v.GetString("llm-key"),
		ChatModel:   v.GetString("llm-model"),
		EmbedModel:  v.GetString("embed-model"),
		EmbedDim:    v.GetInt("embed-dim"),
		Temperature: float32(v.GetFloat64("llm-temperature")),
	})
	if err := s.llm.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	s.vectors, err = vectorstore.New(ctx, vectorstore.Config{
		URL:        v.GetString("qdrant-url"),
		APIKey:     v.GetString("qdrant-key"),
		Collection: v.GetString("qdrant-collection"),
		VectorDim:  v.GetInt("embed-dim"),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return s, nil
}

// openStorage connects the GCS bucket and Document AI when configured.
func (s *services) openStorage(ctx context.Context, v *viper.Viper) error {
	creds := v.GetString("gcp-credentials")
	if name := v.GetString("gcs-bucket"); name != "" {
		b, err := gcp.NewBucket(ctx, gcp.BucketConfig{Name: name, CDNDomain: v.GetString("gcs-cdn-domain"), Credentials: creds})
		if err != nil {
			return err
		}
		s.bucket = b
		s.closers = append(s.closers, b.Close)
	} else {
		slog.Warn("no GCS bucket configured, file uploads are disabled")
	}

	if proc := v.GetString("documentai-processor"); proc != "" {
		d, err := gcp.NewDocumentAI(ctx, gcp.DocumentConfig{
			ProjectID:   v.GetString("gcp-project"),
			Location:    v.GetString("documentai-location"),
			ProcessorID: proc,
			Credentials: creds,
		})
		if err != nil {
			return err
		}
		s.docs = d
		s.closers = append(s.closers, d.Close)
	} else {
		slog.Warn("no Document AI processor configured, only text materials can be ingested")
	}
	return nil
}

// openSpeech connects Speech-to-Text and checks for ffmpeg. Either may be
// missing; voice features then report an upstream error.
func (s *services) openSpeech(ctx context.Context, v *viper.Viper) {
	sp, err := gcp.NewSpeech(ctx, gcp.SpeechConfig{
		LanguageCode: v.GetString("speech-language"),
		Credentials:  v.GetString("gcp-credentials"),
	})
	if err != nil {
		slog.Warn("speech-to-text unavailable, voice submissions are disabled", "error", err)
	} else {
		s.speech = sp
		s.closers = append(s.closers, sp.Close)
	}

	ff := media.NewFFmpeg(v.GetString("ffmpeg"), "")
	if err := ff.AssertReady(); err != nil {
		slog.Warn("ffmpeg unavailable, audio is sent unconverted", "error", err)
		return
	}
	s.ffmpeg = ff
}

// openStream creates the video client when credentials are set.
func (s *services) openStream(v *viper.Viper) {
	if v.GetString("stream-key") == "" {
		slog.Warn("no Stream credentials configured, meetings are disabled")
		return
	}
	st, err := meeting.NewStream(meeting.StreamConfig{
		APIKey:    v.GetString("stream-key"),
		APISecret: v.GetString("stream-secret"),
		BaseURL:   v.GetString("stream-url"),
	})
	if err != nil {
		slog.Warn("stream video unavailable, meetings are disabled", "error", err)
		return
	}
	s.stream = st
}

// ingester returns an ingester that reads PDFs only when Document AI is set.
func (s *services) ingester() *rag.Ingester {
	if s.docs != nil {
		return rag.NewIngester(s.llm, s.vectors, s.docs)
	}
	return rag.NewIngester(s.llm, s.vectors, nil)
}

var errMissing = errors.New("required integration is not configured")

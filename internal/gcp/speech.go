package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transcript is the outcome of one transcription. Status is "completed" or
// "error"; Error carries the provider message for the latter.
type Transcript struct {
	Text   string
	Status string
	Error  string
}

// Transcript statuses.
const (
	TranscriptCompleted = "completed"
	TranscriptError     = "error"
)

// SpeechConfig tunes recognition.
type SpeechConfig struct {
	LanguageCode string
	Credentials  string
}

// Speech transcribes audio with Cloud Speech-to-Text.
type Speech struct {
	client     *speech.Client
	language   string
	maxRetries int
}

// NewSpeech opens a Speech-to-Text client.
func NewSpeech(ctx context.Context, cfg SpeechConfig) (*Speech, error) {
	c, err := speech.NewClient(ctx, ClientOptions(cfg.Credentials)...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	slog.Info("speech-to-text configured", "language", lang)
	return &Speech{client: c, language: lang, maxRetries: 4}, nil
}

// Close releases the client.
func (s *Speech) Close() error {
	return s.client.Close()
}

// TranscribeBytes transcribes inline audio. mimeType selects the encoding.
func (s *Speech) TranscribeBytes(ctx context.Context, audio []byte, mimeType string) (Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: s.recognitionConfig(mimeType, ""),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	return s.recognize(ctx, req)
}

// TranscribeGCS transcribes an object already stored in GCS.
func (s *Speech) TranscribeGCS(ctx context.Context, gsURI string) (Transcript, error) {
	if !strings.HasPrefix(gsURI, "gs://") {
		return Transcript{}, fmt.Errorf("gcs uri must start with gs://, got %q", gsURI)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: s.recognitionConfig("", gsURI),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: gsURI}},
	}
	return s.recognize(ctx, req)
}

// recognize returns a Transcript with Status "error" when the service
// rejects the audio, and a Go error only for transport failures.
func (s *Speech) recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (Transcript, error) {
	resp, err := s.retry(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		if code := status.Code(err); code == codes.InvalidArgument || code == codes.FailedPrecondition {
			return Transcript{Status: TranscriptError, Error: status.Convert(err).Message()}, nil
		}
		return Transcript{}, fmt.Errorf("speech long running recognize: %w", err)
	}
	return Transcript{Text: joinResults(resp), Status: TranscriptCompleted}, nil
}

func (s *Speech) recognitionConfig(mimeType, gsURI string) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		LanguageCode:               s.language,
		Encoding:                   inferSpeechEncoding(mimeType, gsURI),
		EnableAutomaticPunctuation: true,
	}
}

func (s *Speech) retry(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}
		slog.Warn("speech request retry", "attempt", attempt+1, "code", code.String())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 10*time.Second)
	}
	return nil, last
}

func inferSpeechEncoding(mimeType, uri string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(uri))

	switch {
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3") || strings.Contains(m, "mpeg") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || ext == ".ogg" || ext == ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm") || ext == ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func joinResults(resp *speechpb.LongRunningRecognizeResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		t := strings.TrimSpace(r.Alternatives[0].Transcript)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(t)
	}
	return b.String()
}

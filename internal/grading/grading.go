// Package grading evaluates text and voice assignment submissions with the
// LLM and stores the result.
package grading

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/llm/prompts"
	"github.com/pavelanni/lyceum/internal/model"
)

// Store reads assignments and persists evaluated submissions.
type Store interface {
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	IsEnrolled(ctx context.Context, classroomID, studentID string) (bool, error)
	HasSubmitted(ctx context.Context, assignmentID, studentID string) (bool, error)
	CreateEvaluatedSubmission(ctx context.Context, sub *model.Submission) error
}

// Generator produces a structured result from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, out llm.Schema) error
}

// Uploader stores an object and returns its public URL. Delete removes an
// object whose submission failed.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// Transcriber turns audio into text.
type Transcriber interface {
	TranscribeBytes(ctx context.Context, audio []byte, mimeType string) (gcp.Transcript, error)
}

// Converter normalizes audio before transcription.
type Converter interface {
	ToFLAC(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// Audio is an uploaded voice answer.
type Audio struct {
	Data     []byte
	Filename string
	MimeType string
}

// Service grades submissions. Voice grading needs the uploader, transcriber
// and converter; without them voice submissions fail as an upstream error.
type Service struct {
	store       Store
	llm         Generator
	uploader    Uploader
	transcriber Transcriber
	converter   Converter
	now         func() time.Time
}

// Option configures optional voice dependencies.
type Option func(*Service)

func WithUploader(u Uploader) Option       { return func(s *Service) { s.uploader = u } }
func WithTranscriber(t Transcriber) Option { return func(s *Service) { s.transcriber = t } }
func WithConverter(c Converter) Option     { return func(s *Service) { s.converter = c } }

func NewService(store Store, gen Generator, opts ...Option) *Service {
	s := &Service{store: store, llm: gen, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitText evaluates and stores a written answer.
func (s *Service) SubmitText(ctx context.Context, assignmentID, studentID, content string) (*model.Submission, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apierr.Validation("Answer content is required.")
	}
	a, err := s.assignment(ctx, assignmentID, studentID, model.AssignmentText)
	if err != nil {
		return nil, err
	}
	ev, err := s.evaluate(ctx, a, content)
	if err != nil {
		return nil, err
	}
	sub := &model.Submission{
		AssignmentID: a.ID,
		StudentID:    studentID,
		Type:         model.AssignmentText,
		Content:      content,
		Evaluation:   ev,
	}
	if err := s.store.CreateEvaluatedSubmission(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubmitVoice uploads a recorded answer, transcribes it, then evaluates and
// stores the transcript. Upload and transcription run concurrently.
func (s *Service) SubmitVoice(ctx context.Context, assignmentID, studentID string, audio Audio) (*model.Submission, error) {
	if len(audio.Data) == 0 {
		return nil, apierr.Validation("Empty audio file.")
	}
	if s.uploader == nil || s.transcriber == nil {
		return nil, apierr.Upstream("speech", errors.New("voice grading is not configured"))
	}
	a, err := s.assignment(ctx, assignmentID, studentID, model.AssignmentVoice)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(audio.Filename))
	key := fmt.Sprintf("voice/%s/%s/%s%s", a.ID, studentID, uuid.NewString(), ext)

	var url string
	var transcript gcp.Transcript
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.uploader.Upload(gctx, key, bytes.NewReader(audio.Data))
		if err != nil {
			return apierr.Upstream("object storage", err)
		}
		url = u
		return nil
	})
	g.Go(func() error {
		data, mime := audio.Data, audio.MimeType
		if s.converter != nil {
			flac, err := s.converter.ToFLAC(gctx, audio.Data, ext)
			if err != nil {
				return apierr.Upstream("audio conversion", err)
			}
			data, mime = flac, "audio/flac"
		}
		var err error
		transcript, err = s.transcriber.TranscribeBytes(gctx, data, mime)
		if err != nil {
			return apierr.Upstream("speech", err)
		}
		return nil
	})
	waitErr := g.Wait()
	sub, err := s.gradeTranscript(ctx, a, studentID, waitErr, transcript, len(audio.Data))
	if err != nil {
		if url != "" {
			s.discard(ctx, key)
		}
		return nil, err
	}
	sub.AudioURL = url
	if err := s.store.CreateEvaluatedSubmission(ctx, sub); err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	return sub, nil
}

// gradeTranscript checks the outcome of the upload and transcription and
// evaluates the transcript.
func (s *Service) gradeTranscript(ctx context.Context, a *model.Assignment, studentID string, waitErr error, transcript gcp.Transcript, size int) (*model.Submission, error) {
	if waitErr != nil {
		return nil, waitErr
	}
	text := strings.TrimSpace(transcript.Text)
	if transcript.Status == gcp.TranscriptError {
		return nil, apierr.Upstream("speech", fmt.Errorf("transcription failed: %s", transcript.Error))
	}
	if text == "" {
		return nil, apierr.Upstream("speech", errors.New("transcription returned no text"))
	}
	slog.Info("voice answer transcribed", "assignment_id", a.ID, "student_id", studentID,
		"bytes", size, "transcript_runes", len([]rune(text)))

	ev, err := s.evaluate(ctx, a, text)
	if err != nil {
		return nil, err
	}
	return &model.Submission{
		AssignmentID: a.ID,
		StudentID:    studentID,
		Type:         model.AssignmentVoice,
		Transcript:   text,
		Evaluation:   ev,
	}, nil
}

// discard removes the audio of a submission that was not stored.
func (s *Service) discard(ctx context.Context, key string) {
	if err := s.uploader.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("could not remove voice answer", "key", key, "error", err)
	}
}

// assignment loads the assignment and checks the caller may submit to it.
func (s *Service) assignment(ctx context.Context, id, studentID string, typ model.AssignmentType) (*model.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.IsEnrolled(ctx, a.ClassroomID, studentID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if !ok {
		return nil, apierr.Forbidden("You are not enrolled in this class")
	}
	if a.Type != typ {
		return nil, apierr.Validation("This assignment expects a %s submission", a.Type)
	}
	done, err := s.store.HasSubmitted(ctx, a.ID, studentID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if done {
		return nil, apierr.Validation("Assignment already submitted")
	}
	return a, nil
}

func (s *Service) evaluate(ctx context.Context, a *model.Assignment, answer string) (*model.Evaluation, error) {
	prompt, err := prompts.Compose(prompts.Eval, map[string]any{
		"question":  a.Question,
		"reference": a.ReferenceAnswer,
		"answer":    answer,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("compose eval prompt: %w", err)
	}
	var res llm.EvaluationResult
	if err := s.llm.Generate(ctx, prompt, &res); err != nil {
		return nil, err
	}
	return &model.Evaluation{
		Score:        res.Score,
		Feedback:     res.Feedback,
		Strengths:    res.Strengths,
		Improvements: res.Improvements,
		EvaluatedAt:  s.now().UTC(),
	}, nil
}

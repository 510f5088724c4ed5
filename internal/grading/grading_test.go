package grading

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/model"
)

type fakeStore struct {
	assignments map[string]*model.Assignment
	enrolled    bool
	saved       []*model.Submission
}

func (f *fakeStore) GetAssignment(_ context.Context, id string) (*model.Assignment, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, apierr.NotFound("Assignment not found")
	}
	return a, nil
}

func (f *fakeStore) IsEnrolled(context.Context, string, string) (bool, error) {
	return f.enrolled, nil
}

func (f *fakeStore) HasSubmitted(_ context.Context, assignmentID, studentID string) (bool, error) {
	for _, s := range f.saved {
		if s.AssignmentID == assignmentID && s.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateEvaluatedSubmission(_ context.Context, sub *model.Submission) error {
	for _, s := range f.saved {
		if s.AssignmentID == sub.AssignmentID && s.StudentID == sub.StudentID {
			return apierr.Validation("Assignment already submitted")
		}
	}
	sub.ID = "sub-1"
	f.saved = append(f.saved, sub)
	return nil
}

type fakeGenerator struct {
	reply  string
	prompt string
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, out llm.Schema) error {
	f.calls++
	f.prompt = prompt
	if err := llm.Decode(f.reply, out); err != nil {
		return apierr.Parse(err)
	}
	return nil
}

const goodEval = `{"score": 85, "feedback": "Clear explanation.", "strengths": ["correct definition"], "areas_for_improvement": ["add an example"]}`

type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	key     string
	err     error
	deleted []string
}

func (f *fakeUploader) Upload(_ context.Context, key string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.key = key
	_, _ = io.Copy(io.Discard, r)
	if f.err != nil {
		return "", f.err
	}
	return "https://storage.example.com/" + key, nil
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	mime  string
	out   gcp.Transcript
	err   error
}

func (f *fakeTranscriber) TranscribeBytes(_ context.Context, _ []byte, mime string) (gcp.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.mime = mime
	return f.out, f.err
}

type fakeConverter struct{ calls int }

func (f *fakeConverter) ToFLAC(_ context.Context, data []byte, _ string) ([]byte, error) {
	f.calls++
	return append([]byte("fLaC"), data...), nil
}

func newFixture() *fakeStore {
	return &fakeStore{
		enrolled: true,
		assignments: map[string]*model.Assignment{
			"text": {ID: "text", ClassroomID: "c1", Type: model.AssignmentText,
				Question: "What is inertia?", ReferenceAnswer: "Resistance to change in motion."},
			"voice": {ID: "voice", ClassroomID: "c1", Type: model.AssignmentVoice,
				Question: "Explain momentum.", ReferenceAnswer: "Mass times velocity."},
		},
	}
}

func TestSubmitText(t *testing.T) {
	st := newFixture()
	gen := &fakeGenerator{reply: goodEval}
	svc := NewService(st, gen)

	sub, err := svc.SubmitText(context.Background(), "text", "s1", "It resists changes in motion.")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	ev := sub.Evaluation
	if ev == nil || ev.Score != 85 || ev.Feedback == "" || len(ev.Strengths) == 0 || len(ev.Improvements) == 0 {
		t.Fatalf("evaluation = %+v", ev)
	}
	if ev.EvaluatedAt.IsZero() {
		t.Error("evaluated_at not set")
	}
	if sub.Type != model.AssignmentText || sub.Content == "" || len(st.saved) != 1 {
		t.Errorf("submission = %+v", sub)
	}
	for _, want := range []string{"What is inertia?", "Resistance to change in motion.", "It resists changes in motion."} {
		if !strings.Contains(gen.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if _, err := svc.SubmitText(context.Background(), "text", "s1", "again"); !apierr.Is(err, apierr.KindValidation) {
		t.Errorf("resubmission error = %v, want validation", err)
	}
}

func TestSubmitTextErrors(t *testing.T) {
	tests := []struct {
		name       string
		assignment string
		content    string
		enrolled   bool
		reply      string
		wantKind   apierr.Kind
	}{
		{"empty content", "text", "  ", true, goodEval, apierr.KindValidation},
		{"missing assignment", "nope", "answer", true, goodEval, apierr.KindNotFound},
		{"voice assignment", "voice", "answer", true, goodEval, apierr.KindValidation},
		{"not enrolled", "text", "answer", false, goodEval, apierr.KindAuthorization},
		{"score out of range", "text", "answer", true,
			`{"score": 140, "feedback": "f", "strengths": ["s"], "areas_for_improvement": ["i"]}`, apierr.KindParse},
		{"empty strengths", "text", "answer", true,
			`{"score": 40, "feedback": "f", "strengths": [], "areas_for_improvement": ["i"]}`, apierr.KindParse},
		{"missing feedback", "text", "answer", true,
			`{"score": 40, "strengths": ["s"], "areas_for_improvement": ["i"]}`, apierr.KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFixture()
			st.enrolled = tt.enrolled
			_, err := NewService(st, &fakeGenerator{reply: tt.reply}).SubmitText(context.Background(), tt.assignment, "s1", tt.content)
			if !apierr.Is(err, tt.wantKind) {
				t.Errorf("SubmitText() error = %v, want kind %s", err, tt.wantKind)
			}
			if len(st.saved) != 0 {
				t.Error("submission persisted on failure")
			}
		})
	}
}

func TestSubmitVoice(t *testing.T) {
	st := newFixture()
	up := &fakeUploader{}
	tr := &fakeTranscriber{out: gcp.Transcript{Text: " Momentum is mass times velocity. ", Status: gcp.TranscriptCompleted}}
	conv := &fakeConverter{}
	gen := &fakeGenerator{reply: goodEval}
	svc := NewService(st, gen, WithUploader(up), WithTranscriber(tr), WithConverter(conv))

	sub, err := svc.SubmitVoice(context.Background(), "voice", "s1", Audio{Data: []byte("RIFF...."), Filename: "answer.WAV", MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("SubmitVoice: %v", err)
	}
	if up.calls != 1 || tr.calls != 1 || conv.calls != 1 {
		t.Errorf("calls upload=%d transcribe=%d convert=%d", up.calls, tr.calls, conv.calls)
	}
	if tr.mime != "audio/flac" {
		t.Errorf("transcriber mime = %q", tr.mime)
	}
	if !strings.HasPrefix(up.key, "voice/voice/s1/") || !strings.HasSuffix(up.key, ".wav") {
		t.Errorf("object key = %q", up.key)
	}
	if sub.Transcript != "Momentum is mass times velocity." || !strings.HasSuffix(sub.AudioURL, up.key) {
		t.Errorf("submission = %+v", sub)
	}
	if !strings.Contains(gen.prompt, "Momentum is mass times velocity.") {
		t.Error("transcript not passed to evaluation")
	}
	if len(up.deleted) != 0 {
		t.Errorf("deleted = %v, want none", up.deleted)
	}
}

func TestResubmissionRejectedBeforeWork(t *testing.T) {
	st := newFixture()
	st.saved = []*model.Submission{
		{AssignmentID: "voice", StudentID: "s1"},
		{AssignmentID: "text", StudentID: "s1"},
	}
	up := &fakeUploader{}
	tr := &fakeTranscriber{out: gcp.Transcript{Text: "x", Status: gcp.TranscriptCompleted}}
	gen := &fakeGenerator{reply: goodEval}
	svc := NewService(st, gen, WithUploader(up), WithTranscriber(tr))

	_, err := svc.SubmitVoice(context.Background(), "voice", "s1", Audio{Data: []byte("audio"), Filename: "a.wav"})
	var e *apierr.Error
	if !errors.As(err, &e) || e.Kind != apierr.KindValidation || e.Message != "Assignment already submitted" {
		t.Fatalf("SubmitVoice() error = %v", err)
	}
	if _, err := svc.SubmitText(context.Background(), "text", "s1", "again"); !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("SubmitText() error = %v", err)
	}
	if up.calls != 0 || tr.calls != 0 || gen.calls != 0 {
		t.Errorf("upload=%d transcribe=%d generate=%d, want none", up.calls, tr.calls, gen.calls)
	}
}

func TestSubmitVoiceRemovesAudioOnFailure(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		transcript gcp.Transcript
		trErr      error
		wantKind   apierr.Kind
	}{
		{"evaluation not parsed", `{"score": 85}`, gcp.Transcript{Text: "x", Status: gcp.TranscriptCompleted}, nil, apierr.KindParse},
		{"transcription failed", goodEval, gcp.Transcript{}, errors.New("unavailable"), apierr.KindUpstream},
		{"empty transcript", goodEval, gcp.Transcript{Text: " ", Status: gcp.TranscriptCompleted}, nil, apierr.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFixture()
			up := &fakeUploader{}
			svc := NewService(st, &fakeGenerator{reply: tt.reply},
				WithUploader(up), WithTranscriber(&fakeTranscriber{out: tt.transcript, err: tt.trErr}))

			_, err := svc.SubmitVoice(context.Background(), "voice", "s1", Audio{Data: []byte("audio"), Filename: "a.wav"})
			if !apierr.Is(err, tt.wantKind) {
				t.Fatalf("SubmitVoice() error = %v, want kind %s", err, tt.wantKind)
			}
			if len(st.saved) != 0 {
				t.Error("submission persisted on failure")
			}
			if up.calls != 1 || len(up.deleted) != 1 || up.deleted[0] != up.key {
				t.Errorf("deleted = %v, want [%s]", up.deleted, up.key)
			}
		})
	}
}

func TestSubmitVoiceEmptyPayload(t *testing.T) {
	up := &fakeUploader{}
	tr := &fakeTranscriber{}
	svc := NewService(newFixture(), &fakeGenerator{reply: goodEval}, WithUploader(up), WithTranscriber(tr))

	_, err := svc.SubmitVoice(context.Background(), "voice", "s1", Audio{Filename: "a.webm"})
	var e *apierr.Error
	if !errors.As(err, &e) || e.Kind != apierr.KindValidation || e.Message != "Empty audio file." {
		t.Fatalf("SubmitVoice() error = %v", err)
	}
	if up.calls != 0 || tr.calls != 0 {
		t.Errorf("upload=%d transcribe=%d, want none", up.calls, tr.calls)
	}
}

func TestSubmitVoiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		assignment string
		upErr      error
		transcript gcp.Transcript
		trErr      error
		wantKind   apierr.Kind
	}{
		{"text assignment", "text", nil, gcp.Transcript{Text: "x", Status: gcp.TranscriptCompleted}, nil, apierr.KindValidation},
		{"upload failure", "voice", errors.New("denied"), gcp.Transcript{Text: "x", Status: gcp.TranscriptCompleted}, nil, apierr.KindUpstream},
		{"transport failure", "voice", nil, gcp.Transcript{}, errors.New("unavailable"), apierr.KindUpstream},
		{"status error", "voice", nil, gcp.Transcript{Status: gcp.TranscriptError, Error: "bad audio"}, nil, apierr.KindUpstream},
		{"empty transcript", "voice", nil, gcp.Transcript{Text: "  ", Status: gcp.TranscriptCompleted}, nil, apierr.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFixture()
			svc := NewService(st, &fakeGenerator{reply: goodEval},
				WithUploader(&fakeUploader{err: tt.upErr}),
				WithTranscriber(&fakeTranscriber{out: tt.transcript, err: tt.trErr}))
			_, err := svc.SubmitVoice(context.Background(), tt.assignment, "s1", Audio{Data: []byte("audio"), Filename: "a.flac"})
			if !apierr.Is(err, tt.wantKind) {
				t.Errorf("SubmitVoice() error = %v, want kind %s", err, tt.wantKind)
			}
			if len(st.saved) != 0 {
				t.Error("submission persisted on failure")
			}
		})
	}
}

func TestSubmitVoiceNotConfigured(t *testing.T) {
	_, err := NewService(newFixture(), &fakeGenerator{reply: goodEval}).
		SubmitVoice(context.Background(), "voice", "s1", Audio{Data: []byte("audio")})
	if !apierr.Is(err, apierr.KindUpstream) {
		t.Errorf("SubmitVoice() error = %v, want upstream", err)
	}
}

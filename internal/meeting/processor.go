package meeting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/llm/prompts"
	"github.com/pavelanni/lyceum/internal/model"
)

// Store lists pending meetings and saves processed sessions.
type Store interface {
	ListUnprocessedMeetings(ctx context.Context) ([]model.Meeting, error)
	SaveMeetingData(ctx context.Context, d *model.MeetingData) error
}

// RecordingSource lists and fetches call recordings.
type RecordingSource interface {
	Recordings(ctx context.Context, callID string) ([]Recording, error)
	Download(ctx context.Context, url string, w io.Writer) error
}

// AudioExtractor writes the audio track of a video file as FLAC.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, inPath, outPath string) error
}

// ObjectStore keeps extracted audio where the transcriber can read it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	GSURI(key string) string
}

// Transcriber transcribes stored audio.
type Transcriber interface {
	TranscribeGCS(ctx context.Context, gsURI string) (gcp.Transcript, error)
}

// Completer returns a plain-text reply.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// Processor turns finished meeting recordings into transcripts and summaries.
type Processor struct {
	store       Store
	source      RecordingSource
	extractor   AudioExtractor
	objects     ObjectStore
	transcriber Transcriber
	llm         Completer
	workDir     string
}

func NewProcessor(store Store, source RecordingSource, extractor AudioExtractor, objects ObjectStore,
	transcriber Transcriber, completer Completer, workDir string) *Processor {
	return &Processor{
		store:       store,
		source:      source,
		extractor:   extractor,
		objects:     objects,
		transcriber: transcriber,
		llm:         completer,
		workDir:     workDir,
	}
}

// Stats counts the outcome of one Run.
type Stats struct {
	Meetings  int
	Processed int
	Skipped   int
}

// Run processes every completed meeting without stored data. A recording
// that fails any step is logged and skipped; Run only fails when the meeting
// list cannot be read.
func (p *Processor) Run(ctx context.Context) (Stats, error) {
	var st Stats
	meetings, err := p.store.ListUnprocessedMeetings(ctx)
	if err != nil {
		return st, fmt.Errorf("list unprocessed meetings: %w", err)
	}
	st.Meetings = len(meetings)
	for _, m := range meetings {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		recs, err := p.source.Recordings(ctx, m.CallID)
		if err != nil {
			slog.Warn("skipping meeting, cannot list recordings", "meeting_id", m.ID, "error", err)
			st.Skipped++
			continue
		}
		if len(recs) == 0 {
			slog.Info("meeting has no recordings yet", "meeting_id", m.ID)
		}
		for _, rec := range recs {
			if err := p.processRecording(ctx, m, rec); err != nil {
				slog.Warn("skipping recording", "meeting_id", m.ID, "session_id", rec.SessionID, "error", err)
				st.Skipped++
				continue
			}
			st.Processed++
		}
	}
	slog.Info("meeting processing finished", "meetings", st.Meetings, "processed", st.Processed, "skipped", st.Skipped)
	return st, nil
}

func (p *Processor) processRecording(ctx context.Context, m model.Meeting, rec Recording) error {
	dir, err := os.MkdirTemp(p.workDir, "lyceum-meeting-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	videoPath := filepath.Join(dir, "recording.mp4")
	audioPath := filepath.Join(dir, "audio.flac")

	f, err := os.Create(videoPath)
	if err != nil {
		return fmt.Errorf("create video file: %w", err)
	}
	err = p.source.Download(ctx, rec.URL, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if err := p.extractor.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return err
	}

	audio, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open extracted audio: %w", err)
	}
	key := fmt.Sprintf("meetings/%s/%s.flac", m.ID, sessionKey(rec))
	_, err = p.objects.Upload(ctx, key, audio)
	audio.Close()
	if err != nil {
		return fmt.Errorf("upload meeting audio: %w", err)
	}

	tr, err := p.transcriber.TranscribeGCS(ctx, p.objects.GSURI(key))
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if tr.Status == gcp.TranscriptError {
		return fmt.Errorf("transcription error: %s", tr.Error)
	}
	transcript := strings.TrimSpace(tr.Text)
	if transcript == "" {
		return fmt.Errorf("empty transcript")
	}

	prompt, err := prompts.Compose(prompts.Summary, map[string]any{"transcript": transcript}, nil)
	if err != nil {
		return fmt.Errorf("compose summary prompt: %w", err)
	}
	summary, err := p.llm.Complete(ctx, []llm.Message{{Role: model.ChatUser, Content: prompt}})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("empty summary")
	}

	return p.store.SaveMeetingData(ctx, &model.MeetingData{
		MeetingID:   m.ID,
		SessionID:   rec.SessionID,
		Transcript:  transcript,
		Summary:     summary,
		CompletedAt: rec.EndTime,
	})
}

func sessionKey(rec Recording) string {
	if rec.SessionID != "" {
		return rec.SessionID
	}
	return "session"
}

package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/vectorstore"
)

// fakeEmbedder maps each text to a vector counting a few keywords, so
// similarity follows shared vocabulary.
type fakeEmbedder struct {
	calls int
	err   error
}

var vocabulary = []string{"force", "energy", "cell", "atom"}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocabulary))
		lower := strings.ToLower(t)
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

type fakeIndex struct {
	points    map[string]map[string]vectorstore.Point
	upsertErr error
	deleted   []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: map[string]map[string]vectorstore.Point{}}
}

func (f *fakeIndex) Upsert(_ context.Context, ns string, points []vectorstore.Point) error {
	if f.points[ns] == nil {
		f.points[ns] = map[string]vectorstore.Point{}
	}
	// Simulate a partial write before failing.
	if f.upsertErr != nil {
		f.points[ns][points[0].ID] = points[0]
		return f.upsertErr
	}
	for _, p := range points {
		f.points[ns][p.ID] = p
	}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, ns string, vec []float32, topK int, filter map[string]string) ([]vectorstore.Match, error) {
	var out []vectorstore.Match
	for _, p := range f.points[ns] {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		var score float64
		for i := range vec {
			score += float64(vec[i] * p.Vector[i])
		}
		if score == 0 {
			continue
		}
		out = append(out, vectorstore.Match{ID: p.ID, Score: score, Payload: p.Payload})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeIndex) DeleteIDs(_ context.Context, ns string, ids []string) error {
	for _, id := range ids {
		delete(f.points[ns], id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeIndex) DeleteByFilter(_ context.Context, ns string, filter map[string]string) error {
	for id, p := range f.points[ns] {
		if payloadMatches(p.Payload, filter) {
			delete(f.points[ns], id)
		}
	}
	return nil
}

func payloadMatches(payload map[string]any, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

type fakeExtractor struct {
	pages []gcp.Page
	err   error
}

func (f *fakeExtractor) ExtractPages(context.Context, []byte, string) ([]gcp.Page, error) {
	return f.pages, f.err
}

func TestSplitText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		got := splitText("First paragraph.\n\nSecond paragraph.", 1200, 150)
		if len(got) != 1 || got[0] != "First paragraph.\n\nSecond paragraph." {
			t.Errorf("splitText() = %q", got)
		}
	})

	t.Run("blank text", func(t *testing.T) {
		if got := splitText(" \n\n \n", 1200, 150); len(got) != 0 {
			t.Errorf("splitText() = %q, want none", got)
		}
	})

	t.Run("bounded size with overlap", func(t *testing.T) {
		var paras []string
		for i := 0; i < 40; i++ {
			paras = append(paras, strings.Repeat("word ", 20)+"end.")
		}
		text := strings.Join(paras, "\n\n")
		got := splitText(text, 300, 40)
		if len(got) < 2 {
			t.Fatalf("chunks = %d, want several", len(got))
		}
		for i, c := range got {
			if n := utf8.RuneCountInString(c); n > 300 {
				t.Errorf("chunk %d has %d runes", i, n)
			}
		}
		for i := 1; i < len(got); i++ {
			prev := got[i-1]
			tail := prev[len(prev)-10:]
			if !strings.Contains(got[i][:60], tail) {
				t.Errorf("chunk %d does not start with overlap of chunk %d", i, i-1)
			}
		}
	})

	t.Run("long paragraph is split hard", func(t *testing.T) {
		got := splitText(strings.Repeat("ж", 2500), 1000, 100)
		if len(got) != 3 {
			t.Fatalf("chunks = %d, want 3", len(got))
		}
		for i, c := range got {
			if n := utf8.RuneCountInString(c); n > 1000 {
				t.Errorf("chunk %d has %d runes", i, n)
			}
		}
	})
}

func TestIngestText(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := newFakeIndex()
	in := NewIngester(emb, idx, nil)

	chunks, err := in.Ingest(context.Background(), []byte("Force and motion.\n\nEnergy is conserved."), Source{
		Collection:  model.CollectionMaterials,
		ClassroomID: "c1",
		MaterialID:  "m1",
		Filename:    "notes.md",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	c := chunks[0]
	if c.ClassroomID != "c1" || c.MaterialID != "m1" || c.SourceID != "m1" || c.Page != 1 {
		t.Errorf("chunk metadata = %+v", c)
	}
	if emb.calls != 1 {
		t.Errorf("embed calls = %d, want 1", emb.calls)
	}
	stored := idx.points["materials"]
	if len(stored) != 1 {
		t.Fatalf("stored points = %d", len(stored))
	}
	for _, p := range stored {
		if p.Payload["classroom_id"] != "c1" || p.Payload["material_id"] != "m1" {
			t.Errorf("payload = %v", p.Payload)
		}
	}
}

func TestIngestPDF(t *testing.T) {
	idx := newFakeIndex()
	ext := &fakeExtractor{pages: []gcp.Page{{Number: 1, Text: "Atoms."}, {Number: 2, Text: "Cells."}}}
	in := NewIngester(&fakeEmbedder{}, idx, ext)

	chunks, err := in.Ingest(context.Background(), []byte("%PDF-1.7"), Source{
		Collection:  model.CollectionSyllabus,
		ClassroomID: "c1",
		SourceID:    "s1",
		Filename:    "syllabus.pdf",
		MimeType:    "application/pdf",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(chunks) != 2 || chunks[1].Page != 2 {
		t.Errorf("chunks = %+v", chunks)
	}
	if len(idx.points["syllabus"]) != 2 {
		t.Errorf("syllabus points = %d", len(idx.points["syllabus"]))
	}
}

func TestIngestErrors(t *testing.T) {
	base := Source{Collection: model.CollectionMaterials, ClassroomID: "c1", MaterialID: "m1", Filename: "a.txt"}
	tests := []struct {
		name     string
		data     []byte
		src      func(Source) Source
		emb      *fakeEmbedder
		ext      TextExtractor
		wantKind apierr.Kind
	}{
		{"empty file", nil, nil, &fakeEmbedder{}, nil, apierr.KindIngestion},
		{"unsupported type", []byte("PK\x03\x04"), func(s Source) Source { s.Filename = "slides.pptx"; return s }, &fakeEmbedder{}, nil, apierr.KindIngestion},
		{"pdf without extractor", []byte("%PDF"), func(s Source) Source { s.Filename = "a.pdf"; return s }, &fakeEmbedder{}, nil, apierr.KindIngestion},
		{"pdf extraction failure", []byte("%PDF"), func(s Source) Source { s.Filename = "a.pdf"; return s }, &fakeEmbedder{}, &fakeExtractor{err: errors.New("bad pdf")}, apierr.KindIngestion},
		{"no text", []byte("  \n\n  "), nil, &fakeEmbedder{}, nil, apierr.KindIngestion},
		{"embedding failure", []byte("text"), nil, &fakeEmbedder{err: errors.New("quota")}, nil, apierr.KindIngestion},
		{"unknown collection", []byte("text"), func(s Source) Source { s.Collection = "notes"; return s }, &fakeEmbedder{}, nil, apierr.KindValidation},
		{"missing classroom", []byte("text"), func(s Source) Source { s.ClassroomID = ""; return s }, &fakeEmbedder{}, nil, apierr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := base
			if tt.src != nil {
				src = tt.src(src)
			}
			idx := newFakeIndex()
			_, err := NewIngester(tt.emb, idx, tt.ext).Ingest(context.Background(), tt.data, src)
			if !apierr.Is(err, tt.wantKind) {
				t.Fatalf("Ingest() error = %v, want kind %s", err, tt.wantKind)
			}
			if len(idx.points["materials"]) != 0 {
				t.Error("points written despite failure")
			}
		})
	}
}

func TestIngestRollsBackPartialUpsert(t *testing.T) {
	idx := newFakeIndex()
	idx.upsertErr = errors.New("connection reset")
	in := NewIngester(&fakeEmbedder{}, idx, nil)

	text := strings.Repeat("Force and energy. ", 200)
	_, err := in.Ingest(context.Background(), []byte(text), Source{
		Collection: model.CollectionMaterials, ClassroomID: "c1", MaterialID: "m1", Filename: "a.txt",
	})
	if !apierr.Is(err, apierr.KindIngestion) {
		t.Fatalf("Ingest() error = %v, want ingestion error", err)
	}
	if n := len(idx.points["materials"]); n != 0 {
		t.Errorf("%d points left after rollback", n)
	}
	if len(idx.deleted) < 2 {
		t.Errorf("rollback deleted %d ids, want every chunk id", len(idx.deleted))
	}
}

func seedIndex(t *testing.T, in *Ingester) {
	t.Helper()
	docs := []struct {
		class, material, text string
	}{
		{"c1", "m1", "Force equals mass times acceleration. Force force."},
		{"c1", "m2", "Energy cannot be created or destroyed."},
		{"c2", "m3", "Force in another classroom."},
	}
	for _, d := range docs {
		_, err := in.Ingest(context.Background(), []byte(d.text), Source{
			Collection: model.CollectionMaterials, ClassroomID: d.class, MaterialID: d.material, Filename: "x.txt",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRetrieverSearch(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := newFakeIndex()
	in := NewIngester(emb, idx, nil)
	seedIndex(t, in)
	r := NewRetriever(emb, idx)
	ctx := context.Background()

	got, err := r.Search(ctx, Query{Collection: model.CollectionMaterials, Text: "force", ClassroomID: "c1", TopK: 4})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || !strings.HasPrefix(got[0], "Force equals") {
		t.Errorf("Search() = %q", got)
	}

	got, err = r.Search(ctx, Query{Collection: model.CollectionMaterials, Text: "force energy", ClassroomID: "c1", MaterialID: "m2", TopK: 4})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || !strings.HasPrefix(got[0], "Energy") {
		t.Errorf("material-scoped Search() = %q", got)
	}

	got, err = r.Search(ctx, Query{Collection: model.CollectionSyllabus, Text: "force", ClassroomID: "c1", TopK: 2})
	if err != nil {
		t.Fatalf("Search on empty collection: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %q", got)
	}

	chunks, err := r.Chunks(ctx, Query{Collection: model.CollectionMaterials, Text: "force", ClassroomID: "c2", TopK: 1})
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].MaterialID != "m3" || chunks[0].Page != 1 {
		t.Errorf("Chunks() = %+v", chunks)
	}
}

func TestRetrieverValidation(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, newFakeIndex())
	tests := []Query{
		{Collection: model.CollectionMaterials, Text: "q", ClassroomID: "c1", TopK: 0},
		{Collection: model.CollectionMaterials, Text: "q", TopK: 3},
		{Collection: "other", Text: "q", ClassroomID: "c1", TopK: 3},
	}
	for _, q := range tests {
		if _, err := r.Search(context.Background(), q); !apierr.Is(err, apierr.KindValidation) {
			t.Errorf("Search(%+v) error = %v, want validation", q, err)
		}
	}
}

func TestDeleteMaterialAndClassroom(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := newFakeIndex()
	in := NewIngester(emb, idx, nil)
	seedIndex(t, in)

	if err := in.DeleteMaterial(context.Background(), "m1"); err != nil {
		t.Fatalf("DeleteMaterial: %v", err)
	}
	if n := len(idx.points["materials"]); n != 2 {
		t.Errorf("points after DeleteMaterial = %d, want 2", n)
	}
	if err := in.DeleteClassroom(context.Background(), "c1"); err != nil {
		t.Fatalf("DeleteClassroom: %v", err)
	}
	if n := len(idx.points["materials"]); n != 1 {
		t.Errorf("points after DeleteClassroom = %d, want 1", n)
	}
	if err := in.DeleteMaterial(context.Background(), ""); !apierr.Is(err, apierr.KindValidation) {
		t.Errorf("DeleteMaterial(\"\") = %v, want validation", err)
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		filename, mime, want string
	}{
		{"a.pdf", "", "pdf"},
		{"a.bin", "application/pdf", "pdf"},
		{"notes", "text/plain; charset=utf-8", "text"},
		{"README.MD", "", "text"},
		{"deck.pptx", "", "pptx"},
		{"", "", "unknown"},
	}
	for _, tt := range tests {
		if got := detectKind(tt.filename, tt.mime); got != tt.want {
			t.Errorf("detectKind(%q, %q) = %q, want %q", tt.filename, tt.mime, got, tt.want)
		}
	}
}

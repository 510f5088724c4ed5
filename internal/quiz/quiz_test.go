package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/rag"
	"github.com/pavelanni/lyceum/internal/store"
)

type fakeRetriever struct {
	mu      sync.Mutex
	queries []rag.Query
	fail    model.Collection
}

func (f *fakeRetriever) Search(ctx context.Context, q rag.Query) ([]string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if q.Collection == f.fail {
		return nil, apierr.Upstream("vector store", errors.New("unavailable"))
	}
	if q.Collection == model.CollectionSyllabus {
		return []string{"Unit 2: Newton's laws"}, nil
	}
	return nil, nil
}

// fakeGenerator decodes a canned reply through the strict decoder.
type fakeGenerator struct {
	reply  string
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, out llm.Schema) error {
	f.prompt = prompt
	if err := llm.Decode(f.reply, out); err != nil {
		return apierr.Parse(err)
	}
	return nil
}

func quizReply(n int) string {
	type q struct {
		Question     string   `json:"question"`
		Options      []string `json:"options"`
		CorrectIndex int      `json:"correct_index"`
	}
	r := struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Questions   []q    `json:"questions"`
	}{Title: "Newton's laws quiz", Description: "Checks the three laws"}
	for i := 0; i < n; i++ {
		r.Questions = append(r.Questions, q{
			Question:     "Question " + string(rune('A'+i)),
			Options:      []string{"one", "two", "three"},
			CorrectIndex: i % 3,
		})
	}
	b, _ := json.Marshal(r)
	return string(b)
}

type fixture struct {
	store   *store.Store
	teacher *model.User
	class   *model.Classroom
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	teacher := &model.User{Name: "T", Email: "t@example.com", PasswordHash: "x", Role: model.UserRoleTeacher}
	if err := s.CreateUser(ctx, teacher); err != nil {
		t.Fatal(err)
	}
	class := &model.Classroom{Name: "Physics", TeacherID: teacher.ID}
	if err := s.CreateClassroom(ctx, class); err != nil {
		t.Fatal(err)
	}
	return fixture{store: s, teacher: teacher, class: class}
}

func validRequest(classID string, n int) Request {
	return Request{
		Title:             "Newton",
		Topic:             "Dynamics",
		ClassID:           classID,
		Description:       "First and second law",
		NumberOfQuestions: n,
		Difficulty:        model.DifficultyMedium,
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	ret := &fakeRetriever{}
	gen := &fakeGenerator{reply: quizReply(4)}
	svc := NewService(f.store, ret, gen)

	q, err := svc.Generate(context.Background(), validRequest(f.class.ID, 4), f.teacher.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(q.Questions) != 4 {
		t.Fatalf("questions = %d, want 4", len(q.Questions))
	}
	for i, qq := range q.Questions {
		if qq.Answer < 0 || qq.Answer >= len(qq.Options) {
			t.Errorf("question %d answer %d out of range", i, qq.Answer)
		}
		if qq.Position != i {
			t.Errorf("question %d position = %d", i, qq.Position)
		}
	}
	if q.Title != "Newton's laws quiz" || q.Topic != "Dynamics" || q.Difficulty != model.DifficultyMedium || q.Published {
		t.Errorf("quiz = %+v", q)
	}

	if len(ret.queries) != 2 {
		t.Fatalf("retrieval calls = %d, want 2", len(ret.queries))
	}
	for _, rq := range ret.queries {
		if rq.Text != "Newton, Dynamics, First and second law" || rq.ClassroomID != f.class.ID {
			t.Errorf("query = %+v", rq)
		}
		want := 4
		if rq.Collection == model.CollectionSyllabus {
			want = 2
		}
		if rq.TopK != want {
			t.Errorf("%s topK = %d, want %d", rq.Collection, rq.TopK, want)
		}
	}
	if !strings.Contains(gen.prompt, "Unit 2: Newton's laws") {
		t.Error("syllabus passage missing from prompt")
	}
}

func TestGenerateWrongQuestionCount(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, &fakeRetriever{}, &fakeGenerator{reply: quizReply(3)})

	_, err := svc.Generate(context.Background(), validRequest(f.class.ID, 5), f.teacher.ID)
	if !apierr.Is(err, apierr.KindParse) {
		t.Fatalf("Generate() error = %v, want parse error", err)
	}
	quizzes, _ := f.store.ListQuizzes(context.Background(), f.class.ID, false)
	if len(quizzes) != 0 {
		t.Errorf("quiz persisted after parse failure")
	}
}

func TestGenerateMalformedOutput(t *testing.T) {
	f := newFixture(t)
	bad := `{"title":"t","description":"d","questions":[{"question":"q","options":["a","b"],"correct_index":7}]}`
	svc := NewService(f.store, &fakeRetriever{}, &fakeGenerator{reply: bad})

	_, err := svc.Generate(context.Background(), validRequest(f.class.ID, 1), f.teacher.ID)
	if !apierr.Is(err, apierr.KindParse) {
		t.Fatalf("Generate() error = %v, want parse error", err)
	}
}

func TestGenerateRetrievalFailure(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: quizReply(2)}
	svc := NewService(f.store, &fakeRetriever{fail: model.CollectionMaterials}, gen)

	_, err := svc.Generate(context.Background(), validRequest(f.class.ID, 2), f.teacher.ID)
	if !apierr.Is(err, apierr.KindUpstream) {
		t.Fatalf("Generate() error = %v, want upstream error", err)
	}
	if gen.prompt != "" {
		t.Error("generator called despite retrieval failure")
	}
}

func TestGenerateAccess(t *testing.T) {
	f := newFixture(t)
	other := &model.User{Name: "O", Email: "o@example.com", PasswordHash: "x", Role: model.UserRoleTeacher}
	if err := f.store.CreateUser(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	svc := NewService(f.store, &fakeRetriever{}, &fakeGenerator{reply: quizReply(1)})

	if _, err := svc.Generate(context.Background(), validRequest(f.class.ID, 1), other.ID); !apierr.Is(err, apierr.KindAuthorization) {
		t.Errorf("foreign teacher: error = %v, want authorization", err)
	}
	if _, err := svc.Generate(context.Background(), validRequest("missing", 1), f.teacher.ID); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("missing classroom: error = %v, want not found", err)
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no title", func(r *Request) { r.Title = " " }},
		{"no topic", func(r *Request) { r.Topic = "" }},
		{"no class", func(r *Request) { r.ClassID = "" }},
		{"zero questions", func(r *Request) { r.NumberOfQuestions = 0 }},
		{"too many questions", func(r *Request) { r.NumberOfQuestions = 51 }},
		{"bad difficulty", func(r *Request) { r.Difficulty = "EXTREME" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest("c1", 3)
			tt.mutate(&r)
			if err := validateRequest(r); !apierr.Is(err, apierr.KindValidation) {
				t.Errorf("validateRequest() = %v, want validation error", err)
			}
		})
	}
	if err := validateRequest(validRequest("c1", 3)); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

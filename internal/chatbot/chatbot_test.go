package chatbot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/rag"
)

type fakeRetriever struct {
	docs  []model.Chunk
	err   error
	query rag.Query
}

func (f *fakeRetriever) Chunks(_ context.Context, q rag.Query) ([]model.Chunk, error) {
	f.query = q
	return f.docs, f.err
}

// judgeLLM answers the sufficiency question YES when the prompt carries no
// retrieved passages and NO otherwise; every other call gets "answer".
type judgeLLM struct {
	calls [][]llm.Message
	err   error
}

func (f *judgeLLM) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return "", f.err
	}
	last := msgs[len(msgs)-1].Content
	if strings.Contains(last, "Answer only with YES or NO") {
		if strings.Contains(last, "class material:\n\n\n") {
			return "Yes.", nil
		}
		return "NO", nil
	}
	return "answer", nil
}

type fakeSearcher struct {
	calls int
	info  string
	err   error
}

func (f *fakeSearcher) Search(context.Context, string) (string, error) {
	f.calls++
	return f.info, f.err
}

func TestNext(t *testing.T) {
	tests := []struct {
		from     State
		needMore bool
		want     State
	}{
		{StateRetrieve, false, StateDecide},
		{StateDecide, false, StateSynthesize},
		{StateDecide, true, StateAugment},
		{StateAugment, true, StateSynthesize},
		{StateSynthesize, true, StateDone},
	}
	for _, tt := range tests {
		if got := next(tt.from, &run{needMore: tt.needMore}); got != tt.want {
			t.Errorf("next(%s, %v) = %s, want %s", tt.from, tt.needMore, got, tt.want)
		}
	}
}

func TestAskSufficientContext(t *testing.T) {
	ret := &fakeRetriever{docs: []model.Chunk{
		{Text: "Inertia is resistance to change in motion.", MaterialID: "m1"},
		{Text: "Newton's first law.", MaterialID: "m1"},
	}}
	l := &judgeLLM{}
	s := &fakeSearcher{info: "unused"}
	bot := New(ret, l, s)

	resp, err := bot.Ask(context.Background(), Request{
		Query:       "What is inertia?",
		ClassroomID: "c1",
		MaterialID:  "m1",
		History: []model.ChatMessage{
			{Role: model.ChatUser, Content: "hi"},
			{Role: model.ChatAssistant, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != "answer" || resp.UsedDocs != 2 || resp.UsedExternalSearch || resp.NeedExternalSearch {
		t.Errorf("response = %+v", resp)
	}
	if s.calls != 0 {
		t.Errorf("searcher called %d times", s.calls)
	}
	if ret.query.TopK != 3 || ret.query.Collection != model.CollectionMaterials || ret.query.MaterialID != "m1" || ret.query.ClassroomID != "c1" {
		t.Errorf("retrieval query = %+v", ret.query)
	}

	if len(l.calls) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(l.calls))
	}
	final := l.calls[1]
	if len(final) != 3 || final[1].Role != model.ChatAssistant {
		t.Errorf("history not folded into final call: %+v", final)
	}
	if !strings.Contains(final[2].Content, "Inertia is resistance") || strings.Contains(final[2].Content, "Wikipedia Info:") {
		t.Errorf("final prompt = %q", final[2].Content)
	}
}

func TestAskEmptyRetrievalAugments(t *testing.T) {
	l := &judgeLLM{}
	s := &fakeSearcher{info: "Page: Inertia\nSummary: Resistance to change."}
	bot := New(&fakeRetriever{}, l, s)

	resp, err := bot.Ask(context.Background(), Request{Query: "What is inertia?", ClassroomID: "c1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.NeedExternalSearch || !resp.UsedExternalSearch || resp.UsedDocs != 0 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Docs == nil {
		t.Error("docs should be an empty list, not null")
	}
	if s.calls != 1 {
		t.Errorf("searcher calls = %d, want 1", s.calls)
	}
	final := l.calls[len(l.calls)-1]
	if !strings.Contains(final[len(final)-1].Content, "Wikipedia Info:\nPage: Inertia") {
		t.Errorf("external info missing from final prompt: %q", final[len(final)-1].Content)
	}
}

func TestAskSearchFailureContinues(t *testing.T) {
	s := &fakeSearcher{err: errors.New("timeout")}
	bot := New(&fakeRetriever{}, &judgeLLM{}, s)

	resp, err := bot.Ask(context.Background(), Request{Query: "q", ClassroomID: "c1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.NeedExternalSearch || resp.UsedExternalSearch || resp.Answer != "answer" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAskWithoutSearcher(t *testing.T) {
	resp, err := New(&fakeRetriever{}, &judgeLLM{}, nil).Ask(context.Background(), Request{Query: "q", ClassroomID: "c1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.NeedExternalSearch || resp.UsedExternalSearch {
		t.Errorf("response = %+v", resp)
	}
}

func TestAskErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		ret      *fakeRetriever
		llm      *judgeLLM
		wantKind apierr.Kind
	}{
		{"blank query", Request{Query: "  ", ClassroomID: "c1"}, &fakeRetriever{}, &judgeLLM{}, apierr.KindValidation},
		{"missing classroom", Request{Query: "q"}, &fakeRetriever{}, &judgeLLM{}, apierr.KindValidation},
		{"retrieval failure", Request{Query: "q", ClassroomID: "c1"}, &fakeRetriever{err: apierr.Upstream("vector store", errors.New("down"))}, &judgeLLM{}, apierr.KindUpstream},
		{"llm failure", Request{Query: "q", ClassroomID: "c1"}, &fakeRetriever{}, &judgeLLM{err: apierr.Upstream("LLM", errors.New("down"))}, apierr.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ret, tt.llm, nil).Ask(context.Background(), tt.req)
			if !apierr.Is(err, tt.wantKind) {
				t.Errorf("Ask() error = %v, want kind %s", err, tt.wantKind)
			}
		})
	}
}

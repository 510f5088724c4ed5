// Package chatbot answers questions about class material. Each request runs
// a fixed decision graph once:
//
//	RETRIEVE -> DECIDE -> AUGMENT -> SYNTHESIZE -> DONE
//	                  \_____________/
//
// DECIDE asks the model whether the retrieved passages suffice; a reply
// containing "YES" routes through AUGMENT, which adds an encyclopedia
// lookup.
package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/llm/prompts"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/rag"
)

const defaultTopK = 3

// State is a node of the decision graph.
type State int

const (
	StateRetrieve State = iota
	StateDecide
	StateAugment
	StateSynthesize
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRetrieve:
		return "RETRIEVE"
	case StateDecide:
		return "DECIDE"
	case StateAugment:
		return "AUGMENT"
	case StateSynthesize:
		return "SYNTHESIZE"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Retriever finds class material passages.
type Retriever interface {
	Chunks(ctx context.Context, q rag.Query) ([]model.Chunk, error)
}

// Completer returns the model's plain-text reply.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// Searcher looks a query up in an external encyclopedia.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Request is one chat turn.
type Request struct {
	Query       string              `json:"query" validate:"required"`
	ClassroomID string              `json:"class_id" validate:"required"`
	MaterialID  string              `json:"material_id"`
	History     []model.ChatMessage `json:"history" validate:"dive"`
}

// Response is the outcome of a run.
type Response struct {
	Answer             string        `json:"answer"`
	UsedDocs           int           `json:"used_docs"`
	UsedExternalSearch bool          `json:"used_external_search"`
	NeedExternalSearch bool          `json:"need_external_search"`
	Docs               []model.Chunk `json:"docs"`
	ExternalInfo       string        `json:"external_info"`
}

// Bot runs the decision graph.
type Bot struct {
	retriever Retriever
	llm       Completer
	searcher  Searcher
	topK      int
}

// New creates a bot. searcher may be nil; AUGMENT then adds nothing.
func New(retriever Retriever, completer Completer, searcher Searcher) *Bot {
	return &Bot{retriever: retriever, llm: completer, searcher: searcher, topK: defaultTopK}
}

type run struct {
	req      Request
	docs     []model.Chunk
	needMore bool
	external string
	answer   string
}

// next is the transition function of the graph.
func next(s State, r *run) State {
	switch s {
	case StateRetrieve:
		return StateDecide
	case StateDecide:
		if r.needMore {
			return StateAugment
		}
		return StateSynthesize
	case StateAugment:
		return StateSynthesize
	default:
		return StateDone
	}
}

// Ask runs the graph once for req.
func (b *Bot) Ask(ctx context.Context, req Request) (*Response, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, apierr.Validation("query is required")
	}
	if req.ClassroomID == "" {
		return nil, apierr.Validation("class_id is required")
	}

	r := &run{req: req}
	for s := StateRetrieve; s != StateDone; s = next(s, r) {
		if err := b.step(ctx, s, r); err != nil {
			return nil, fmt.Errorf("chatbot %s: %w", s, err)
		}
		slog.Debug("chatbot step", "state", s.String(), "docs", len(r.docs), "need_external", r.needMore)
	}

	docs := r.docs
	if docs == nil {
		docs = []model.Chunk{}
	}
	return &Response{
		Answer:             r.answer,
		UsedDocs:           len(r.docs),
		UsedExternalSearch: r.external != "",
		NeedExternalSearch: r.needMore,
		Docs:               docs,
		ExternalInfo:       r.external,
	}, nil
}

func (b *Bot) step(ctx context.Context, s State, r *run) error {
	switch s {
	case StateRetrieve:
		return b.retrieve(ctx, r)
	case StateDecide:
		return b.decide(ctx, r)
	case StateAugment:
		b.augment(ctx, r)
		return nil
	case StateSynthesize:
		return b.synthesize(ctx, r)
	}
	return nil
}

func (b *Bot) retrieve(ctx context.Context, r *run) error {
	docs, err := b.retriever.Chunks(ctx, rag.Query{
		Collection:  model.CollectionMaterials,
		Text:        r.req.Query,
		ClassroomID: r.req.ClassroomID,
		MaterialID:  r.req.MaterialID,
		TopK:        b.topK,
	})
	if err != nil {
		return err
	}
	r.docs = docs
	return nil
}

func (b *Bot) decide(ctx context.Context, r *run) error {
	prompt, err := prompts.Compose(prompts.Sufficiency, map[string]any{"question": r.req.Query}, docTexts(r.docs))
	if err != nil {
		return err
	}
	reply, err := b.llm.Complete(ctx, []llm.Message{{Role: model.ChatUser, Content: prompt}})
	if err != nil {
		return err
	}
	r.needMore = strings.Contains(strings.ToUpper(strings.TrimSpace(reply)), "YES")
	return nil
}

// augment never fails the run; a failed lookup leaves the local context.
func (b *Bot) augment(ctx context.Context, r *run) {
	if b.searcher == nil {
		slog.Warn("external search requested but not configured")
		return
	}
	info, err := b.searcher.Search(ctx, r.req.Query)
	if err != nil {
		slog.Warn("external search failed", "error", err)
		return
	}
	r.external = strings.TrimSpace(info)
}

func (b *Bot) synthesize(ctx context.Context, r *run) error {
	local := strings.Join(docTexts(r.docs), "\n")
	if r.external != "" {
		local += "\nWikipedia Info:\n" + r.external
	}
	prompt, err := prompts.Compose(prompts.Answer, map[string]any{"question": r.req.Query}, []string{local})
	if err != nil {
		return err
	}

	msgs := make([]llm.Message, 0, len(r.req.History)+1)
	for _, h := range r.req.History {
		role := model.ChatUser
		if h.Role == model.ChatAssistant {
			role = model.ChatAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: h.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.ChatUser, Content: prompt})

	answer, err := b.llm.Complete(ctx, msgs)
	if err != nil {
		return err
	}
	r.answer = answer
	return nil
}

func docTexts(docs []model.Chunk) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

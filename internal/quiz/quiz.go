// Package quiz generates quizzes from classroom documents.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/llm/prompts"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/rag"
)

const (
	syllabusTopK  = 2
	materialsTopK = 4
	maxQuestions  = 50
)

// Request is the body of a quiz generation call.
type Request struct {
	Title             string           `json:"title" validate:"required"`
	Topic             string           `json:"topic" validate:"required"`
	ClassID           string           `json:"class_id" validate:"required"`
	Description       string           `json:"description"`
	NumberOfQuestions int              `json:"number_of_questions" validate:"min=1,max=50"`
	Difficulty        model.Difficulty `json:"difficulty" validate:"oneof=EASY MEDIUM HARD"`
}

// Retriever returns passages for a query.
type Retriever interface {
	Search(ctx context.Context, q rag.Query) ([]string, error)
}

// Generator produces a structured result from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, out llm.Schema) error
}

// Store persists quizzes.
type Store interface {
	OwnedClassroom(ctx context.Context, classroomID, teacherID string) (*model.Classroom, error)
	CreateQuiz(ctx context.Context, q *model.Quiz) (string, error)
	GetQuiz(ctx context.Context, id string) (*model.Quiz, error)
}

// Service runs the retrieval, prompt, generation and persistence pipeline.
type Service struct {
	store     Store
	retriever Retriever
	llm       Generator
}

func NewService(store Store, retriever Retriever, gen Generator) *Service {
	return &Service{store: store, retriever: retriever, llm: gen}
}

// Generate creates a quiz with exactly req.NumberOfQuestions questions in a
// classroom owned by creatorID.
func (s *Service) Generate(ctx context.Context, req Request, creatorID string) (*model.Quiz, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.store.OwnedClassroom(ctx, req.ClassID, creatorID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("%s, %s, %s", req.Title, req.Topic, req.Description)
	var syllabus, materials []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		syllabus, err = s.retriever.Search(gctx, rag.Query{
			Collection: model.CollectionSyllabus, Text: query, ClassroomID: req.ClassID, TopK: syllabusTopK,
		})
		return err
	})
	g.Go(func() error {
		var err error
		materials, err = s.retriever.Search(gctx, rag.Query{
			Collection: model.CollectionMaterials, Text: query, ClassroomID: req.ClassID, TopK: materialsTopK,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prompt, err := prompts.Compose(prompts.Quiz, map[string]any{
		"title":               req.Title,
		"topic":               req.Topic,
		"difficulty":          string(req.Difficulty),
		"description":         req.Description,
		"number_of_questions": req.NumberOfQuestions,
		"syllabus":            syllabus,
		"materials":           materials,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("compose quiz prompt: %w", err)
	}

	var result llm.QuizResult
	if err := s.llm.Generate(ctx, prompt, &result); err != nil {
		return nil, err
	}
	if len(result.Questions) != req.NumberOfQuestions {
		return nil, apierr.Parse(fmt.Errorf("model returned %d questions, requested %d",
			len(result.Questions), req.NumberOfQuestions))
	}

	q := &model.Quiz{
		ClassroomID: req.ClassID,
		CreatorID:   creatorID,
		Title:       result.Title,
		Topic:       req.Topic,
		Description: result.Description,
		Difficulty:  req.Difficulty,
		Questions:   make([]model.Question, len(result.Questions)),
	}
	for i, gq := range result.Questions {
		q.Questions[i] = model.Question{Text: gq.Question, Options: gq.Options, Answer: gq.CorrectIndex}
	}
	id, err := s.store.CreateQuiz(ctx, q)
	if err != nil {
		return nil, err
	}
	slog.Info("quiz generated",
		"quiz_id", id,
		"classroom_id", req.ClassID,
		"questions", len(q.Questions),
		"syllabus_passages", len(syllabus),
		"material_passages", len(materials),
	)
	return s.store.GetQuiz(ctx, id)
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return apierr.Validation("title is required")
	case strings.TrimSpace(req.Topic) == "":
		return apierr.Validation("topic is required")
	case req.ClassID == "":
		return apierr.Validation("class_id is required")
	case req.NumberOfQuestions < 1 || req.NumberOfQuestions > maxQuestions:
		return apierr.Validation("number_of_questions must be between 1 and %d", maxQuestions)
	}
	switch req.Difficulty {
	case model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard:
		return nil
	}
	return apierr.Validation("difficulty must be EASY, MEDIUM or HARD")
}

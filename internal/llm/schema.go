package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Schema is a structured result the model must produce.
type Schema interface {
	// Validate checks invariants that struct tags cannot express.
	Validate() error
}

// QuizResult is the model output for the quiz template.
type QuizResult struct {
	Title       string         `json:"title" description:"Quiz title" validate:"required"`
	Description string         `json:"description" description:"One or two sentences describing the quiz" validate:"required"`
	Questions   []QuizQuestion `json:"questions" description:"The quiz questions in order" validate:"required,min=1,dive"`
}

// QuizQuestion is one generated multiple-choice question.
type QuizQuestion struct {
	Question     string   `json:"question" description:"The question text" validate:"required"`
	Options      []string `json:"options" description:"Answer options, between 2 and 6" validate:"min=2,max=6,dive,required"`
	CorrectIndex int      `json:"correct_index" description:"0-based index of the correct option" validate:"min=0"`
}

func (r *QuizResult) Validate() error {
	for i, q := range r.Questions {
		if q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("question %d: correct_index %d out of range for %d options", i, q.CorrectIndex, len(q.Options))
		}
	}
	return nil
}

// EvaluationResult is the model output for the eval template.
type EvaluationResult struct {
	Score        int      `json:"score" description:"Integer score from 0 to 100" validate:"min=0,max=100"`
	Feedback     string   `json:"feedback" description:"Constructive feedback addressed to the student" validate:"required"`
	Strengths    []string `json:"strengths" description:"What the answer does well" validate:"required,min=1,dive,required"`
	Improvements []string `json:"areas_for_improvement" description:"What the student should improve" validate:"required,min=1,dive,required"`
}

func (r *EvaluationResult) Validate() error { return nil }

// MermaidResult is the model output for the mermaid template.
type MermaidResult struct {
	MermaidCode *string `json:"mermaid_code,omitempty" description:"Mermaid diagram source, omitted when no diagram fits"`
	Description string  `json:"description" description:"Explanation of the diagram or why none was produced" validate:"required"`
}

func (r *MermaidResult) Validate() error {
	if r.MermaidCode != nil && *r.MermaidCode == "" {
		return fmt.Errorf("mermaid_code present but empty")
	}
	return nil
}

var (
	validate     = validator.New(validator.WithRequiredStructEnabled())
	schemaMu     sync.Mutex
	schemaCache  = map[string]*jsonschema.Definition{}
	schemaJSONMu sync.Mutex
	schemaJSON   = map[string]string{}
)

func schemaKey(v Schema) string {
	return fmt.Sprintf("%T", v)
}

// definitionFor returns the JSON schema of a result type.
func definitionFor(v Schema) (*jsonschema.Definition, error) {
	key := schemaKey(v)
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if d, ok := schemaCache[key]; ok {
		return d, nil
	}
	var target any = v
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		target = rv.Elem().Interface()
	}
	d, err := jsonschema.GenerateSchemaForType(target)
	if err != nil {
		return nil, fmt.Errorf("generate schema for %s: %w", key, err)
	}
	schemaCache[key] = d
	return d, nil
}

// SchemaText renders the JSON schema of a result type for embedding in a prompt.
func SchemaText(v Schema) (string, error) {
	key := schemaKey(v)
	schemaJSONMu.Lock()
	if s, ok := schemaJSON[key]; ok {
		schemaJSONMu.Unlock()
		return s, nil
	}
	schemaJSONMu.Unlock()

	d, err := definitionFor(v)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}

	schemaJSONMu.Lock()
	schemaJSON[key] = string(b)
	schemaJSONMu.Unlock()
	return string(b), nil
}

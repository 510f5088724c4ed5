package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/lyceum/internal/llm"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// TemplateID names an instruction template.
type TemplateID string

const (
	// Quiz generates a multiple-choice quiz from syllabus and materials.
	Quiz TemplateID = "quiz"
	// Eval grades a student's answer against a reference answer.
	Eval TemplateID = "eval"
	// Mermaid produces a diagram for a free-text request.
	Mermaid TemplateID = "mermaid"
	// Sufficiency asks whether retrieved context answers a question.
	Sufficiency TemplateID = "sufficiency"
	// Answer synthesizes the chatbot reply.
	Answer TemplateID = "answer"
	// Summary summarizes a meeting transcript.
	Summary TemplateID = "summary"
)

const (
	// MaxContextRunes bounds every joined context slot.
	MaxContextRunes = 12000
	// SufficiencyContextRunes bounds the context of the sufficiency check.
	SufficiencyContextRunes = 1500
	maxAnswerRunes          = 10000
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[TemplateID]*template.Template
)

// resultFor returns the output schema a template declares, or nil for
// templates answered in plain text.
func resultFor(id TemplateID) llm.Schema {
	switch id {
	case Quiz:
		return &llm.QuizResult{}
	case Eval:
		return &llm.EvaluationResult{}
	case Mermaid:
		return &llm.MermaidResult{}
	}
	return nil
}

// Load parses the embedded templates. It runs once; later calls return the
// first result.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[TemplateID]*template.Template)
		for _, id := range []TemplateID{Quiz, Eval, Mermaid, Sufficiency, Answer, Summary} {
			name := "templates/" + string(id) + ".tmpl"
			content, err := fs.ReadFile(templateFS, name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt template %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(id)).Option("missingkey=error").Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[id] = tmpl
		}
	})
	return loadErr
}

// Compose fills the template's slots from params and context. Slice values
// are joined with newlines and bounded like context. Generation templates
// receive the JSON schema of their result type in the schema slot.
func Compose(id TemplateID, params map[string]any, context []string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[id]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", id)
	}

	limit := MaxContextRunes
	if id == Sufficiency {
		limit = SufficiencyContextRunes
	}

	data := make(map[string]any, len(params)+2)
	for k, v := range params {
		if parts, ok := v.([]string); ok {
			v = bound(strings.Join(parts, "\n"), limit)
		}
		data[k] = v
	}
	data["context"] = bound(strings.Join(context, "\n"), limit)

	if id == Eval {
		answer, _ := data["answer"].(string)
		data["answer"] = sanitizeAnswer(answer)
	}

	if out := resultFor(id); out != nil {
		schema, err := llm.SchemaText(out)
		if err != nil {
			return "", err
		}
		data["schema"] = schema
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt template %s: %w", id, err)
	}
	return buf.String(), nil
}

// bound cuts s to at most n runes.
func bound(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}

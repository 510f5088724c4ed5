package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "QuizPublished"); got != "Quiz published." {
		t.Errorf("T(QuizPublished) = %q", got)
	}
	if got := T(ctx, "Health"); got != "Lyceum API is running" {
		t.Errorf("T(Health) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "QuizPublished"); got != "Тест опубликован." {
		t.Errorf("T(QuizPublished) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "Forces: 1 question"},
		{"en", 5, "Forces: 5 questions"},
		{"ru", 1, "Forces: 1 вопрос"},
		{"ru", 3, "Forces: 3 вопроса"},
		{"ru", 5, "Forces: 5 вопросов"},
	}
	for _, tt := range tests {
		ctx := initLang(t, tt.lang)
		if got := Tp(ctx, "QuizQuestions", tt.count, map[string]any{"Title": "Forces"}); got != tt.want {
			t.Errorf("Tp(%s, %d) = %q, want %q", tt.lang, tt.count, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "NotifyQuiz", map[string]any{"Class": "Physics"})
	if got != "New quiz in Physics" {
		t.Errorf("Td(NotifyQuiz) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "QuizSubmitted")
	}))

	tests := map[string]string{
		"ru-RU,ru;q=0.9,en;q=0.8": "Тест отправлен.",
		"de-DE":                   "Quiz submitted.",
		"":                        "Quiz submitted.",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Accept-Language", header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != want {
			t.Errorf("Accept-Language %q: got %q, want %q", header, got, want)
		}
	}
}

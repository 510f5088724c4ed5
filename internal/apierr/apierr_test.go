package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("quiz %s not found", "q1"), http.StatusNotFound},
		{"validation", Validation("Empty audio file."), http.StatusBadRequest},
		{"ingestion", Ingestion("unsupported file type", nil), http.StatusBadRequest},
		{"parse", Parse(errors.New("missing key")), http.StatusInternalServerError},
		{"upstream", Upstream("speech", errors.New("boom")), http.StatusInternalServerError},
		{"forbidden", Forbidden("User is not a teacher"), http.StatusForbidden},
		{"unauthenticated", Unauthenticated("missing token"), http.StatusUnauthorized},
		{"persistence", Persistence(errors.New("disk full")), http.StatusInternalServerError},
		{"plain", errors.New("x"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("create quiz: %w", NotFound("classroom not found")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDetailHidesServerCauses(t *testing.T) {
	e := &Error{Kind: KindUpstream, Err: errors.New("secret dsn")}
	if got := e.Detail(); got != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("Detail() = %q", got)
	}

	e = Upstream("speech", errors.New("quota"))
	if got := e.Detail(); got != "speech request failed" {
		t.Errorf("Detail() = %q", got)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Validation("already enrolled"))
	if !Is(err, KindValidation) {
		t.Error("expected validation kind")
	}
	if Is(err, KindNotFound) {
		t.Error("unexpected not_found kind")
	}
	if !errors.Is(Parse(errors.ErrUnsupported), errors.ErrUnsupported) {
		t.Error("Parse should unwrap to its cause")
	}
}

package media

import (
	"context"
	"slices"
	"strings"
	"testing"
)

func TestFlacArgs(t *testing.T) {
	got := flacArgs("/tmp/in.webm", "/tmp/out.flac")
	want := []string{"-y", "-i", "/tmp/in.webm", "-vn", "-ac", "1", "-ar", "16000", "-f", "flac", "/tmp/out.flac"}
	if !slices.Equal(got, want) {
		t.Errorf("flacArgs() = %v, want %v", got, want)
	}
}

func TestToFLACEmpty(t *testing.T) {
	f := NewFFmpeg("", t.TempDir())
	if _, err := f.ToFLAC(context.Background(), nil, ".webm"); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestMissingBinary(t *testing.T) {
	f := NewFFmpeg("lyceum-no-such-ffmpeg", t.TempDir())
	_, err := f.ToFLAC(context.Background(), []byte("RIFF"), "wav")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !strings.Contains(err.Error(), "missing required binary") {
		t.Errorf("error = %v", err)
	}
}

func TestTail(t *testing.T) {
	if got := tail([]byte("abcdef"), 3); got != "def" {
		t.Errorf("tail() = %q", got)
	}
	if got := tail([]byte("ab"), 3); got != "ab" {
		t.Errorf("tail() = %q", got)
	}
}

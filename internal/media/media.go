// Package media converts uploaded audio and meeting recordings with ffmpeg.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	sampleRateHz = 16000
	channels     = 1
)

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	path    string
	workDir string
	timeout time.Duration
}

// NewFFmpeg returns a converter using the binary at path ("ffmpeg" when
// empty). Temporary files go under workDir (os.TempDir when empty).
func NewFFmpeg(path, workDir string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FFmpeg{path: path, workDir: workDir, timeout: 10 * time.Minute}
}

// AssertReady checks that the binary is on PATH.
func (f *FFmpeg) AssertReady() error {
	if _, err := exec.LookPath(f.path); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", f.path, err)
	}
	return nil
}

// ToFLAC converts an audio payload to 16 kHz mono FLAC. ext is the original
// file extension and helps ffmpeg pick a demuxer.
func (f *FFmpeg) ToFLAC(ctx context.Context, data []byte, ext string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	if err := f.AssertReady(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(f.workDir, "lyceum-audio-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	in := filepath.Join(dir, "input"+ext)
	out := filepath.Join(dir, "output.flac")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write audio input: %w", err)
	}
	if err := f.ExtractAudio(ctx, in, out); err != nil {
		return nil, err
	}
	flac, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read flac output: %w", err)
	}
	return flac, nil
}

// ExtractAudio writes the audio track of inPath to outPath as FLAC.
func (f *FFmpeg) ExtractAudio(ctx context.Context, inPath, outPath string) error {
	if inPath == "" || outPath == "" {
		return fmt.Errorf("input and output paths are required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.path, flacArgs(inPath, outPath)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio failed: %w; out=%s", err, tail(out, 2048))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("audio output missing at %s", outPath)
	}
	return nil
}

func flacArgs(inPath, outPath string) []string {
	return []string{
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRateHz),
		"-f", "flac", outPath,
	}
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

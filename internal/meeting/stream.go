// Package meeting creates video calls on Stream and turns their recordings
// into stored transcripts and summaries.
package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL = "https://video.stream-io-api.com/video"
	// CallType is the Stream call type used for classroom meetings.
	CallType = "default"
	// TokenTTL is the lifetime of member tokens.
	TokenTTL = time.Hour
)

// StreamConfig holds the Stream application credentials.
type StreamConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
}

// Stream is a thin client for the Stream video REST API.
type Stream struct {
	apiKey  string
	secret  []byte
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewStream returns a client, or an error when the credentials are missing.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("stream api key and secret are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	slog.Info("stream video configured", "base_url", base)
	return &Stream{
		apiKey:  cfg.APIKey,
		secret:  []byte(cfg.APISecret),
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}, nil
}

// UserToken signs a member token for userID that expires after TokenTTL.
func (s *Stream) UserToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(TokenTTL).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign stream token: %w", err)
	}
	return tok, nil
}

func (s *Stream) serverToken() (string, error) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true}).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign stream server token: %w", err)
	}
	return tok, nil
}

// Call describes a call to create.
type Call struct {
	ID          string
	ClassroomID string
	Description string
	StartsAt    time.Time
}

// CallInfo is the part of Stream's call record the backend keeps.
type CallInfo struct {
	ID          string    `json:"id"`
	ClassroomID string    `json:"class_id"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
}

type callCustom struct {
	ClassID     string `json:"classId"`
	Description string `json:"description"`
}

type callEnvelope struct {
	Call struct {
		ID       string     `json:"id"`
		StartsAt time.Time  `json:"starts_at"`
		Custom   callCustom `json:"custom"`
	} `json:"call"`
}

// CreateCall creates (or fetches) a call on behalf of creatorID.
func (s *Stream) CreateCall(ctx context.Context, creatorID string, c Call) (*CallInfo, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("call id is required")
	}
	if c.StartsAt.IsZero() {
		c.StartsAt = s.now()
	}
	token, err := s.UserToken(creatorID)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"data": map[string]any{
			"custom":    callCustom{ClassID: c.ClassroomID, Description: c.Description},
			"video":     true,
			"starts_at": c.StartsAt.UTC().Format(time.RFC3339),
		},
		"video": true,
	}
	var out callEnvelope
	if err := s.do(ctx, http.MethodPost, "/call/"+CallType+"/"+url.PathEscape(c.ID), token, body, &out); err != nil {
		return nil, err
	}
	return &CallInfo{
		ID:          out.Call.ID,
		ClassroomID: out.Call.Custom.ClassID,
		Description: out.Call.Custom.Description,
		StartsAt:    out.Call.StartsAt,
	}, nil
}

// Recording is one finished session recording of a call.
type Recording struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	EndTime   time.Time `json:"end_time"`
}

// Recordings lists the recordings of a call.
func (s *Stream) Recordings(ctx context.Context, callID string) ([]Recording, error) {
	token, err := s.serverToken()
	if err != nil {
		return nil, err
	}
	var out struct {
		Recordings []Recording `json:"recordings"`
	}
	if err := s.do(ctx, http.MethodGet, "/call/"+CallType+"/"+url.PathEscape(callID)+"/recordings", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// Download streams a recording into w.
func (s *Stream) Download(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	// Recordings can be long; the client timeout only guards API calls.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download recording: status=%d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx Stream responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream %s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func (s *Stream) do(ctx context.Context, method, path, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal stream request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path+"?api_key="+url.QueryEscape(s.apiKey), rdr)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Stream-Auth-Type", "jwt")
	req.Header.Set("Authorization", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("stream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: method + " " + path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode stream response: %w", err)
	}
	return nil
}

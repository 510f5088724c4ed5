// Package vectorstore is a small Qdrant REST client. Logical collections
// (syllabus, materials) are namespaces inside one Qdrant collection.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	payloadNamespaceKey = "_ly_namespace"
	payloadVectorIDKey  = "_ly_vector_id"
	maxErrorBodyBytes   = 1024
)

var pointIDNamespace = uuid.MustParse("6f0c7a52-8f5e-4b3e-9a37-2d41c1a5be10")

// Config selects the Qdrant endpoint and collection.
type Config struct {
	URL             string
	APIKey          string
	Collection      string
	NamespacePrefix string
	VectorDim       int
	Timeout         time.Duration
}

// Point is one vector with its payload. ID is the caller's identifier; the
// Qdrant point ID is derived from it deterministically.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is one search hit.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Store talks to a single Qdrant collection.
type Store struct {
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type searchItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// New creates a store and checks that Qdrant is ready. The collection is
// created when it does not exist yet.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qdrant url is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant collection is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Store{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	if err := s.verifyReady(ctx); err != nil {
		return nil, err
	}
	slog.Info("qdrant vector store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"namespace_prefix", cfg.NamespacePrefix,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

// Upsert writes points into namespace and waits for Qdrant to apply them.
func (s *Store) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ns := s.qualify(namespace)
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return errors.New("upsert: point id is required")
		}
		if len(p.Vector) == 0 {
			return fmt.Errorf("upsert: point %q has an empty vector", id)
		}
		if s.cfg.VectorDim > 0 && len(p.Vector) != s.cfg.VectorDim {
			return fmt.Errorf("upsert: point %q dimension mismatch: expected=%d got=%d", id, s.cfg.VectorDim, len(p.Vector))
		}
		payload := make(map[string]any, len(p.Payload)+2)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadNamespaceKey] = ns
		payload[payloadVectorIDKey] = id
		body = append(body, map[string]any{
			"id":      s.pointID(ns, id),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	return s.doJSON(ctx, "upsert", http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

// Search returns up to topK matches in namespace whose payload equals every
// filter entry, highest score first.
func (s *Store) Search(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]Match, error) {
	if len(vector) == 0 {
		return nil, errors.New("search: query vector required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("search: topK must be positive, got %d", topK)
	}
	ns := s.qualify(namespace)
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
		"filter":       buildFilter(ns, filter),
	}
	var items []searchItem
	if err := s.doJSON(ctx, "search", http.MethodPost, s.collectionPath("/points/search"), req, &items); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(items))
	for _, it := range items {
		id, _ := it.Payload[payloadVectorIDKey].(string)
		if id == "" {
			id = decodePointID(it.ID)
		}
		delete(it.Payload, payloadNamespaceKey)
		delete(it.Payload, payloadVectorIDKey)
		out = append(out, Match{ID: id, Score: it.Score, Payload: it.Payload})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// DeleteIDs removes points by caller ID.
func (s *Store) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ns := s.qualify(namespace)
	seen := make(map[string]struct{}, len(ids))
	pointIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		pid := s.pointID(ns, id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	return s.doJSON(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": pointIDs}, nil)
}

// DeleteByFilter removes every point in namespace matching filter. An empty
// filter is refused so a namespace is never wiped by accident.
func (s *Store) DeleteByFilter(ctx context.Context, namespace string, filter map[string]string) error {
	if len(filter) == 0 {
		return errors.New("delete by filter: empty filter")
	}
	req := map[string]any{"filter": buildFilter(s.qualify(namespace), filter)}
	return s.doJSON(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

// Ping checks Qdrant readiness.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return fmt.Errorf("build ready request: %w", err)
	}
	s.authorize(req)
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ready check: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant ready check returned status=%d", resp.StatusCode)
	}
	return nil
}

func (s *Store) verifyReady(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, "bootstrap", http.MethodGet, s.collectionPath(""), nil, &result)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return s.createCollection(ctx)
	}
	if err != nil {
		return err
	}
	if size := result.Config.Params.Vectors.Size; size != 0 && s.cfg.VectorDim > 0 && size != s.cfg.VectorDim {
		return fmt.Errorf("qdrant collection %q vector size mismatch: expected=%d actual=%d", s.cfg.Collection, s.cfg.VectorDim, size)
	}
	return nil
}

func (s *Store) createCollection(ctx context.Context) error {
	if s.cfg.VectorDim <= 0 {
		return fmt.Errorf("qdrant collection %q does not exist and vector dim is unknown", s.cfg.Collection)
	}
	req := map[string]any{
		"vectors": map[string]any{"size": s.cfg.VectorDim, "distance": "Cosine"},
	}
	if err := s.doJSON(ctx, "create_collection", http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return err
	}
	slog.Info("qdrant collection created", "collection", s.cfg.Collection, "vector_dim", s.cfg.VectorDim)
	return nil
}

// StatusError is a non-2xx reply from Qdrant.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s: http status=%d body=%q", e.Op, e.StatusCode, e.Body)
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("qdrant %s: encode request: %w", op, err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("qdrant %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*maxErrorBodyBytes))
	if err != nil {
		return fmt.Errorf("qdrant %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("qdrant %s: decode envelope: %w", op, err)
	}
	if msg := envelopeError(env.Status); msg != "" {
		return fmt.Errorf("qdrant %s: %s", op, msg)
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("qdrant %s: decode result: %w", op, err)
	}
	return nil
}

func (s *Store) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *Store) qualify(namespace string) string {
	ns := strings.TrimSpace(namespace)
	prefix := strings.TrimSpace(s.cfg.NamespacePrefix)
	if prefix == "" {
		return ns
	}
	if ns == "" {
		return prefix
	}
	return prefix + ":" + ns
}

func (s *Store) pointID(ns, id string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(ns+"|"+id)).String()
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func buildFilter(ns string, filter map[string]string) map[string]any {
	keys := make([]string, 0, len(filter))
	for k, v := range filter {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	must := make([]any, 0, len(keys)+1)
	must = append(must, matchCondition(payloadNamespaceKey, ns))
	for _, k := range keys {
		must = append(must, matchCondition(k, filter[k]))
	}
	return map[string]any{"must": must}
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func envelopeError(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.EqualFold(str, "ok") {
			return ""
		}
		return fmt.Sprintf("status=%q", str)
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}
	return "status=" + status
}

func decodePointID(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.TrimSpace(string(raw))
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

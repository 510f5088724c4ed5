package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakePoint struct {
	id      string
	vector  []float32
	payload map[string]any
}

// fakeQdrant keeps points in memory and scores searches by dot product.
type fakeQdrant struct {
	mu      sync.Mutex
	exists  bool
	created int
	points  map[string]fakePoint
	failOn  string
}

func newFakeQdrant(t *testing.T, exists bool) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{exists: exists, points: map[string]fakePoint{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) reply(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOn != "" && strings.Contains(r.URL.Path, f.failOn) {
		http.Error(w, `{"status":{"error":"boom"}}`, http.StatusInternalServerError)
		return
	}

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.URL.Path == "/readyz":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/collections/lyceum" && r.Method == http.MethodGet:
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		f.reply(w, map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 3}}}})
	case r.URL.Path == "/collections/lyceum" && r.Method == http.MethodPut:
		f.exists = true
		f.created++
		f.reply(w, true)
	case r.URL.Path == "/collections/lyceum/points" && r.Method == http.MethodPut:
		for _, raw := range body["points"].([]any) {
			p := raw.(map[string]any)
			var vec []float32
			for _, x := range p["vector"].([]any) {
				vec = append(vec, float32(x.(float64)))
			}
			id := p["id"].(string)
			f.points[id] = fakePoint{id: id, vector: vec, payload: p["payload"].(map[string]any)}
		}
		f.reply(w, map[string]any{"status": "completed"})
	case r.URL.Path == "/collections/lyceum/points/search":
		var q []float32
		for _, x := range body["vector"].([]any) {
			q = append(q, float32(x.(float64)))
		}
		limit := int(body["limit"].(float64))
		filter := body["filter"].(map[string]any)
		var hits []map[string]any
		for _, p := range f.points {
			if !matches(p.payload, filter) {
				continue
			}
			var score float64
			for i := range q {
				score += float64(q[i] * p.vector[i])
			}
			hits = append(hits, map[string]any{"id": p.id, "score": score, "payload": p.payload})
		}
		if len(hits) > limit {
			hits = hits[:limit]
		}
		f.reply(w, hits)
	case r.URL.Path == "/collections/lyceum/points/delete":
		if ids, ok := body["points"].([]any); ok {
			for _, id := range ids {
				delete(f.points, id.(string))
			}
		}
		if filter, ok := body["filter"].(map[string]any); ok {
			for id, p := range f.points {
				if matches(p.payload, filter) {
					delete(f.points, id)
				}
			}
		}
		f.reply(w, map[string]any{"status": "completed"})
	default:
		http.NotFound(w, r)
	}
}

func matches(payload map[string]any, filter map[string]any) bool {
	for _, raw := range filter["must"].([]any) {
		c := raw.(map[string]any)
		want := c["match"].(map[string]any)["value"]
		if payload[c["key"].(string)] != want {
			return false
		}
	}
	return true
}

func newTestVectorStore(t *testing.T) (*fakeQdrant, *Store) {
	t.Helper()
	f, srv := newFakeQdrant(t, true)
	s, err := New(context.Background(), Config{URL: srv.URL, Collection: "lyceum", NamespacePrefix: "test", VectorDim: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, s
}

func TestNewCreatesMissingCollection(t *testing.T) {
	f, srv := newFakeQdrant(t, false)
	if _, err := New(context.Background(), Config{URL: srv.URL, Collection: "lyceum", VectorDim: 3}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.created != 1 {
		t.Errorf("collection created %d times, want 1", f.created)
	}
}

func TestNewDimensionMismatch(t *testing.T) {
	_, srv := newFakeQdrant(t, true)
	if _, err := New(context.Background(), Config{URL: srv.URL, Collection: "lyceum", VectorDim: 8}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestUpsertSearch(t *testing.T) {
	_, s := newTestVectorStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, "materials", []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"classroom_id": "c1", "text": "alpha"}},
		{ID: "b", Vector: []float32{0.5, 0.5, 0}, Payload: map[string]any{"classroom_id": "c1", "text": "beta"}},
		{ID: "c", Vector: []float32{1, 0, 0}, Payload: map[string]any{"classroom_id": "c2", "text": "gamma"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Search(ctx, "materials", []float32{1, 0, 0}, 5, map[string]string{"classroom_id": "c1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
	if _, leaked := got[0].Payload[payloadNamespaceKey]; leaked {
		t.Error("internal payload key returned to caller")
	}

	other, err := s.Search(ctx, "syllabus", []float32{1, 0, 0}, 5, map[string]string{"classroom_id": "c1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("namespace leak: %d matches in syllabus", len(other))
	}
}

func TestUpsertValidation(t *testing.T) {
	_, s := newTestVectorStore(t)
	tests := []struct {
		name  string
		point Point
	}{
		{"missing id", Point{Vector: []float32{1, 0, 0}}},
		{"empty vector", Point{ID: "x"}},
		{"wrong dimension", Point{ID: "x", Vector: []float32{1, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Upsert(context.Background(), "materials", []Point{tt.point}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDelete(t *testing.T) {
	f, s := newTestVectorStore(t)
	ctx := context.Background()
	_ = s.Upsert(ctx, "materials", []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"material_id": "m1"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"material_id": "m1"}},
		{ID: "c", Vector: []float32{0, 0, 1}, Payload: map[string]any{"material_id": "m2"}},
	})

	if err := s.DeleteIDs(ctx, "materials", []string{"a", "a"}); err != nil {
		t.Fatalf("DeleteIDs: %v", err)
	}
	if len(f.points) != 2 {
		t.Fatalf("points after DeleteIDs = %d, want 2", len(f.points))
	}
	if err := s.DeleteByFilter(ctx, "materials", map[string]string{"material_id": "m1"}); err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if len(f.points) != 1 {
		t.Fatalf("points after DeleteByFilter = %d, want 1", len(f.points))
	}
	if err := s.DeleteByFilter(ctx, "materials", nil); err == nil {
		t.Error("expected error for empty filter")
	}
}

func TestSearchServerError(t *testing.T) {
	f, s := newTestVectorStore(t)
	f.failOn = "/points/search"
	_, err := s.Search(context.Background(), "materials", []float32{1, 0, 0}, 3, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=500") {
		t.Errorf("error = %v", err)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	s := &Store{}
	if s.pointID("ns", "a") != s.pointID("ns", "a") {
		t.Error("point id not deterministic")
	}
	if s.pointID("ns", "a") == s.pointID("other", "a") {
		t.Error("point id ignores namespace")
	}
}

package rag

import (
	"context"
	"fmt"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

// Query scopes a similarity search. ClassroomID is required; MaterialID
// narrows it further when set.
type Query struct {
	Collection  model.Collection
	Text        string
	ClassroomID string
	MaterialID  string
	TopK        int
}

// Retriever finds the passages most similar to a query.
type Retriever struct {
	embedder Embedder
	index    Index
}

func NewRetriever(embedder Embedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Search returns chunk texts ordered by decreasing similarity. No match is
// an empty result, not an error.
func (r *Retriever) Search(ctx context.Context, q Query) ([]string, error) {
	chunks, err := r.Chunks(ctx, q)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	return texts, nil
}

// Chunks is Search with chunk metadata.
func (r *Retriever) Chunks(ctx context.Context, q Query) ([]model.Chunk, error) {
	if !q.Collection.Valid() {
		return nil, apierr.Validation("unknown collection %q", q.Collection)
	}
	if q.ClassroomID == "" {
		return nil, apierr.Validation("classroom id is required")
	}
	if q.TopK <= 0 {
		return nil, apierr.Validation("topK must be positive")
	}

	vecs, err := r.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, apierr.Upstream("embedding", fmt.Errorf("got %d vectors for 1 query", len(vecs)))
	}

	filter := map[string]string{keyClassroomID: q.ClassroomID}
	if q.MaterialID != "" {
		filter[keyMaterialID] = q.MaterialID
	}
	matches, err := r.index.Search(ctx, string(q.Collection), vecs[0], q.TopK, filter)
	if err != nil {
		return nil, apierr.Upstream("vector store", err)
	}

	chunks := make([]model.Chunk, 0, len(matches))
	for _, m := range matches {
		text, _ := m.Payload[keyText].(string)
		if text == "" {
			continue
		}
		c := model.Chunk{Text: text}
		c.SourceID, _ = m.Payload[keySourceID].(string)
		c.ClassroomID, _ = m.Payload[keyClassroomID].(string)
		c.MaterialID, _ = m.Payload[keyMaterialID].(string)
		switch p := m.Payload[keyPage].(type) {
		case float64:
			c.Page = int(p)
		case int:
			c.Page = p
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Package rag indexes classroom documents into the vector store and
// retrieves passages for prompts.
package rag

import (
	"context"

	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/vectorstore"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector store.
type Index interface {
	Upsert(ctx context.Context, namespace string, points []vectorstore.Point) error
	Search(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]vectorstore.Match, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
	DeleteByFilter(ctx context.Context, namespace string, filter map[string]string) error
}

// TextExtractor pulls page text out of binary documents such as PDFs.
type TextExtractor interface {
	ExtractPages(ctx context.Context, data []byte, mimeType string) ([]gcp.Page, error)
}

// Payload keys stored with every chunk.
const (
	keyText        = "text"
	keyClassroomID = "classroom_id"
	keyMaterialID  = "material_id"
	keySourceID    = "source_id"
	keyPage        = "page"
)

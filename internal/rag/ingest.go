package rag

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/gcp"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/vectorstore"
)

// Source describes the file being ingested.
type Source struct {
	Collection  model.Collection
	ClassroomID string
	MaterialID  string
	SourceID    string
	Filename    string
	MimeType    string
}

// Ingester extracts, chunks, embeds and indexes documents.
type Ingester struct {
	embedder  Embedder
	index     Index
	extractor TextExtractor
	chunkSize int
	overlap   int
}

// NewIngester creates an ingester. extractor may be nil, in which case only
// plain-text sources are accepted.
func NewIngester(embedder Embedder, index Index, extractor TextExtractor) *Ingester {
	return &Ingester{
		embedder:  embedder,
		index:     index,
		extractor: extractor,
		chunkSize: defaultChunkRunes,
		overlap:   defaultOverlapRunes,
	}
}

// Ingest indexes one file and returns its chunks. It returns only after the
// vector store acknowledged the write. Either every chunk is indexed or none
// is.
func (in *Ingester) Ingest(ctx context.Context, data []byte, src Source) ([]model.Chunk, error) {
	if !src.Collection.Valid() {
		return nil, apierr.Validation("unknown collection %q", src.Collection)
	}
	if src.ClassroomID == "" {
		return nil, apierr.Validation("classroom id is required")
	}
	if len(data) == 0 {
		return nil, apierr.Ingestion("Empty file.", nil)
	}
	if src.SourceID == "" {
		src.SourceID = src.MaterialID
	}
	if src.SourceID == "" {
		return nil, apierr.Validation("source id is required")
	}

	pages, err := in.extract(ctx, data, src)
	if err != nil {
		return nil, err
	}

	var chunks []model.Chunk
	for _, p := range pages {
		for _, text := range splitText(p.Text, in.chunkSize, in.overlap) {
			chunks = append(chunks, model.Chunk{
				Text:        text,
				SourceID:    src.SourceID,
				ClassroomID: src.ClassroomID,
				MaterialID:  src.MaterialID,
				Page:        p.Number,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, apierr.Ingestion("The document contains no extractable text.", nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, apierr.Ingestion("Could not embed the document.", err)
	}
	if len(vectors) != len(chunks) {
		return nil, apierr.Ingestion("Could not embed the document.",
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	points := make([]vectorstore.Point, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = fmt.Sprintf("%s:%d", c.SourceID, i)
		points[i] = vectorstore.Point{
			ID:     ids[i],
			Vector: vectors[i],
			Payload: map[string]any{
				keyText:        c.Text,
				keyClassroomID: c.ClassroomID,
				keyMaterialID:  c.MaterialID,
				keySourceID:    c.SourceID,
				keyPage:        c.Page,
			},
		}
	}

	ns := string(src.Collection)
	if err := in.index.Upsert(ctx, ns, points); err != nil {
		// Roll back whatever part of the batch may have landed.
		if derr := in.index.DeleteIDs(context.WithoutCancel(ctx), ns, ids); derr != nil {
			slog.Error("rollback of partial ingestion failed", "source_id", src.SourceID, "error", derr)
		}
		return nil, apierr.Ingestion("Could not index the document.", err)
	}

	slog.Info("document ingested",
		"collection", ns,
		"classroom_id", src.ClassroomID,
		"material_id", src.MaterialID,
		"pages", len(pages),
		"chunks", len(chunks),
	)
	return chunks, nil
}

func (in *Ingester) extract(ctx context.Context, data []byte, src Source) ([]gcp.Page, error) {
	switch kind := detectKind(src.Filename, src.MimeType); kind {
	case "pdf":
		if in.extractor == nil {
			return nil, apierr.Ingestion("PDF extraction is not configured.", nil)
		}
		pages, err := in.extractor.ExtractPages(ctx, data, "application/pdf")
		if err != nil {
			return nil, apierr.Ingestion("Could not read the PDF file.", err)
		}
		return pages, nil
	case "text":
		if !utf8.Valid(data) {
			return nil, apierr.Ingestion("Text file is not valid UTF-8.", nil)
		}
		return []gcp.Page{{Number: 1, Text: string(data)}}, nil
	default:
		return nil, apierr.Ingestion(fmt.Sprintf("Unsupported file type %q.", kind), nil)
	}
}

// detectKind classifies a file as "pdf" or "text" by MIME type, falling back
// to the extension.
func detectKind(filename, mimeType string) string {
	mt, _, _ := mime.ParseMediaType(mimeType)
	switch {
	case mt == "application/pdf":
		return "pdf"
	case strings.HasPrefix(mt, "text/"):
		return "text"
	}
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return "pdf"
	case ".txt", ".md", ".markdown", ".csv":
		return "text"
	case "":
		if mt != "" {
			return mt
		}
		return "unknown"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

// DeleteMaterial removes every chunk of a material from both collections.
func (in *Ingester) DeleteMaterial(ctx context.Context, materialID string) error {
	return in.deleteBy(ctx, keyMaterialID, materialID)
}

// DeleteClassroom removes every chunk of a classroom from both collections.
func (in *Ingester) DeleteClassroom(ctx context.Context, classroomID string) error {
	return in.deleteBy(ctx, keyClassroomID, classroomID)
}

func (in *Ingester) deleteBy(ctx context.Context, key, value string) error {
	if value == "" {
		return apierr.Validation("%s is required", key)
	}
	for _, c := range []model.Collection{model.CollectionSyllabus, model.CollectionMaterials} {
		if err := in.index.DeleteByFilter(ctx, string(c), map[string]string{key: value}); err != nil {
			return apierr.Upstream("vector store", fmt.Errorf("delete %s=%s from %s: %w", key, value, c, err))
		}
	}
	return nil
}

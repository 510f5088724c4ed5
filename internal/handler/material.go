package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/lyceum/internal/apierr"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/rag"
)

var errNoObjectStore = errors.New("object storage is not configured")

// upload is a file read from a multipart form.
type upload struct {
	Data     []byte
	Filename string
	MimeType string
}

// readUpload parses a multipart body bounded by the configured upload size
// and reads the named file part.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, field string) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierr.Validation("file exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apierr.Validation("invalid multipart form: %v", err)
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, apierr.Validation("%s: failed required", field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apierr.Validation("read %s: %v", field, err)
	}
	return &upload{
		Data:     data,
		Filename: filepath.Base(hdr.Filename),
		MimeType: hdr.Header.Get("Content-Type"),
	}, nil
}

type materialResponse struct {
	Detail   string          `json:"detail"`
	Material *model.Material `json:"material"`
}

func (h *Handler) handleUploadMaterial(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeError(w, r, apierr.Upstream("storage", errNoObjectStore))
		return
	}
	up, err := h.readUpload(w, r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind := model.Collection(strings.ToLower(strings.TrimSpace(r.FormValue("kind"))))
	if kind == "" {
		kind = model.CollectionMaterials
	}
	if !kind.Valid() {
		writeError(w, r, apierr.Validation("kind must be %q or %q", model.CollectionSyllabus, model.CollectionMaterials))
		return
	}
	c, err := h.owned(r, r.FormValue("class_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(up.Data) == 0 {
		writeError(w, r, apierr.Ingestion("Empty file.", nil))
		return
	}

	sum := sha256.Sum256(up.Data)
	sha := hex.EncodeToString(sum[:])
	exists, err := h.store.MaterialExists(r.Context(), c.ID, sha)
	if err != nil {
		writeError(w, r, apierr.Persistence(err))
		return
	}
	if exists {
		writeError(w, r, apierr.Validation("This file was already uploaded to the class"))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(up.Filename, filepath.Ext(up.Filename))
	}
	m := &model.Material{
		ID:          uuid.NewString(),
		ClassroomID: c.ID,
		Title:       title,
		Kind:        kind,
		Filename:    up.Filename,
		MimeType:    up.MimeType,
		SHA256:      sha,
	}
	m.ObjectKey = "materials/" + c.ID + "/" + m.ID + strings.ToLower(filepath.Ext(up.Filename))

	url, err := h.files.Upload(r.Context(), m.ObjectKey, bytes.NewReader(up.Data))
	if err != nil {
		writeError(w, r, apierr.Upstream("storage", err))
		return
	}
	m.URL = url

	chunks, err := h.ingester.Ingest(r.Context(), up.Data, rag.Source{
		Collection:  kind,
		ClassroomID: c.ID,
		MaterialID:  m.ID,
		Filename:    up.Filename,
		MimeType:    up.MimeType,
	})
	if err != nil {
		h.discardObject(r.Context(), m.ObjectKey)
		writeError(w, r, err)
		return
	}
	m.ChunkCount = len(chunks)

	if err := h.store.CreateMaterial(r.Context(), m); err != nil {
		if derr := h.ingester.DeleteMaterial(context.WithoutCancel(r.Context()), m.ID); derr != nil {
			slog.Error("failed to remove vectors of unsaved material", "material_id", m.ID, "error", derr)
		}
		h.discardObject(r.Context(), m.ObjectKey)
		writeError(w, r, err)
		return
	}
	slog.Info("material uploaded", "material_id", m.ID, "classroom_id", c.ID, "kind", kind, "chunks", m.ChunkCount)
	writeJSON(w, http.StatusCreated, materialResponse{
		Detail:   appI18n.T(r.Context(), "MaterialUploaded"),
		Material: m,
	})
}

func (h *Handler) discardObject(ctx context.Context, key string) {
	if err := h.files.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Error("failed to delete stored object", "key", key, "error", err)
	}
}

func (h *Handler) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	c, err := h.member(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	materials, err := h.store.ListMaterials(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

func (h *Handler) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMaterial(r.Context(), chi.URLParam(r, "materialID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.owned(r, m.ClassroomID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.ingester.DeleteMaterial(r.Context(), m.ID); err != nil {
		writeError(w, r, apierr.Upstream("vector store", err))
		return
	}
	if err := h.store.DeleteMaterial(r.Context(), m.ID); err != nil {
		writeError(w, r, err)
		return
	}
	if h.files != nil && m.ObjectKey != "" {
		h.discardObject(r.Context(), m.ObjectKey)
	}
	writeDetail(w, r, http.StatusOK, "MaterialDeleted")
}

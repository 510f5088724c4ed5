package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/rag"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [flags] FILE...",
		Short: "Index syllabus or material files into a classroom",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}
	f := cmd.Flags()
	f.String("class-id", "", "Classroom to ingest into (required)")
	f.String("kind", string(model.CollectionMaterials), "Collection: syllabus or materials")
	addDBFlag(f)
	addLLMFlags(f)
	addQdrantFlags(f)
	addGCPFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("class-id")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	kind := model.Collection(strings.ToLower(v.GetString("kind")))
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", kind)
	}

	svc, err := openCore(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()
	if err := svc.openStorage(ctx, v); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	class, err := svc.db.GetClassroom(ctx, v.GetString("class-id"))
	if err != nil {
		return fmt.Errorf("load classroom: %w", err)
	}
	in := svc.ingester()
	for _, path := range args {
		if err := ingestFile(ctx, svc, in, class, kind, path); err != nil {
			return err
		}
	}
	return nil
}

// ingestFile indexes one file unless the same content was imported before.
// A file that changed since its last import is skipped so existing chunks
// are never mixed with a new version.
func ingestFile(ctx context.Context, svc *services, in *rag.Ingester, class *model.Classroom, kind model.Collection, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	hash := sha256sum(data)
	storedHash, err := svc.db.GetImportedFileHash(ctx, class.ID, path)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("file unchanged, skipping", "path", path)
		return nil
	}
	if storedHash != "" {
		slog.Warn("file changed since last import, skipping; delete the material and import again", "path", path)
		return nil
	}
	exists, err := svc.db.MaterialExists(ctx, class.ID, hash)
	if err != nil {
		return fmt.Errorf("check material for %s: %w", path, err)
	}
	if exists {
		slog.Info("same content already uploaded, skipping", "path", path)
		return svc.db.SetImportedFileHash(ctx, class.ID, path, hash)
	}

	name := filepath.Base(path)
	m := &model.Material{
		ID:          uuid.NewString(),
		ClassroomID: class.ID,
		Title:       strings.TrimSuffix(name, filepath.Ext(name)),
		Kind:        kind,
		Filename:    name,
		MimeType:    mime.TypeByExtension(filepath.Ext(name)),
		SHA256:      hash,
	}
	if svc.bucket != nil {
		m.ObjectKey = "materials/" + class.ID + "/" + m.ID + strings.ToLower(filepath.Ext(name))
		if m.URL, err = svc.bucket.Upload(ctx, m.ObjectKey, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}

	chunks, err := in.Ingest(ctx, data, rag.Source{
		Collection:  kind,
		ClassroomID: class.ID,
		MaterialID:  m.ID,
		Filename:    name,
		MimeType:    m.MimeType,
	})
	if err != nil {
		discard(ctx, svc, m)
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	m.ChunkCount = len(chunks)
	if err := svc.db.CreateMaterial(ctx, m); err != nil {
		if derr := in.DeleteMaterial(ctx, m.ID); derr != nil {
			slog.Warn("could not remove indexed chunks", "material_id", m.ID, "error", derr)
		}
		discard(ctx, svc, m)
		return fmt.Errorf("record material for %s: %w", path, err)
	}
	if err := svc.db.SetImportedFileHash(ctx, class.ID, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("ingested file", "path", path, "classroom_id", class.ID, "kind", kind, "chunks", len(chunks))
	return nil
}

// discard removes an uploaded object whose material was never recorded.
func discard(ctx context.Context, svc *services, m *model.Material) {
	if svc.bucket == nil || m.ObjectKey == "" {
		return
	}
	if err := svc.bucket.Delete(context.WithoutCancel(ctx), m.ObjectKey); err != nil {
		slog.Warn("could not remove uploaded object", "key", m.ObjectKey, "error", err)
	}
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/lyceum/internal/store"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a classroom's quiz and assignment results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("class-id", "", "Classroom to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addDBFlag(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("class-id")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportClassroom(cmd.Context(), v.GetString("class-id"))
	if err != nil {
		return fmt.Errorf("export classroom: %w", err)
	}

	out := cmd.OutOrStdout()
	if path := v.GetString("output"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	slog.Info("exported classroom", "classroom_id", export.ClassroomID, "quizzes", len(export.Quizzes), "assignments", len(export.Assignments))
	return nil
}

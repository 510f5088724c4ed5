package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pavelanni/lyceum/internal/meeting"
)

func processMeetingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process-meetings",
		Short: "Transcribe and summarize recordings of completed meetings",
		RunE:  runProcessMeetings,
	}
	f := cmd.Flags()
	f.String("work-dir", "", "Directory for temporary recordings (default: system temp dir)")
	addDBFlag(f)
	addLLMFlags(f)
	addQdrantFlags(f)
	addGCPFlags(f)
	addStreamFlags(f)
	addLogFlags(f)
	return cmd
}

func runProcessMeetings(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	svc, err := openCore(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()
	if err := svc.openStorage(ctx, v); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	svc.openSpeech(ctx, v)
	svc.openStream(v)

	switch {
	case svc.stream == nil:
		return fmt.Errorf("stream credentials: %w", errMissing)
	case svc.bucket == nil:
		return fmt.Errorf("gcs bucket: %w", errMissing)
	case svc.speech == nil:
		return fmt.Errorf("speech-to-text: %w", errMissing)
	case svc.ffmpeg == nil:
		return fmt.Errorf("ffmpeg: %w", errMissing)
	}

	p := meeting.NewProcessor(svc.db, svc.stream, svc.ffmpeg, svc.bucket, svc.speech, svc.llm, v.GetString("work-dir"))
	stats, err := p.Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("meeting processing finished",
		"meetings", stats.Meetings,
		"processed", stats.Processed,
		"skipped", stats.Skipped,
	)
	return nil
}

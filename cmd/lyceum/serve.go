package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/lyceum/internal/auth"
	"github.com/pavelanni/lyceum/internal/chatbot"
	"github.com/pavelanni/lyceum/internal/grading"
	"github.com/pavelanni/lyceum/internal/handler"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/llm/prompts"
	"github.com/pavelanni/lyceum/internal/notify"
	"github.com/pavelanni/lyceum/internal/quiz"
	"github.com/pavelanni/lyceum/internal/rag"
	"github.com/pavelanni/lyceum/internal/search"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("jwt-secret", "", "HMAC secret for bearer tokens (at least 16 bytes)")
	f.Duration("token-ttl", 7*24*time.Hour, "Bearer token lifetime")
	f.Int64("max-upload-mb", 25, "Maximum upload size in megabytes")
	f.String("wikipedia-lang", "en", "Wikipedia edition used for external search")
	f.String("redis-addr", "", "Redis address for push notifications (empty logs them instead)")
	f.String("redis-password", "", "Redis password")
	f.String("redis-channel", notify.DefaultChannel, "Redis channel the push worker subscribes to")
	f.Duration("notify-timeout", 10*time.Second, "Timeout of one notification dispatch")
	addDBFlag(f)
	addLLMFlags(f)
	addQdrantFlags(f)
	addGCPFlags(f)
	addStreamFlags(f)
	addLogFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	tokens, err := auth.NewTokens(v.GetString("jwt-secret"), v.GetDuration("token-ttl"))
	if err != nil {
		return fmt.Errorf("configure tokens: %w", err)
	}

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

	dispatcher, err := newDispatcher(ctx, v)
	if err != nil {
		return err
	}
	if c, ok := dispatcher.(interface{ Close() error }); ok {
		defer c.Close()
	}
	notifier := notify.New(svc.db, dispatcher, v.GetDuration("notify-timeout"))
	defer notifier.Wait()

	h, err := newHandler(v, svc, tokens, notifier)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	go cleanupRevokedTokens(ctx, svc)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"qdrant_url", v.GetString("qdrant-url"),
		"lang", lang,
		"uploads", svc.bucket != nil,
		"pdf_ingestion", svc.docs != nil,
		"voice", svc.speech != nil,
		"meetings", svc.stream != nil,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newDispatcher publishes to Redis when an address is set and logs otherwise.
func newDispatcher(ctx context.Context, v *viper.Viper) (notify.Dispatcher, error) {
	addr := v.GetString("redis-addr")
	if addr == "" {
		slog.Warn("no Redis configured, push notifications are only logged")
		return notify.LogDispatcher{}, nil
	}
	d, err := notify.NewRedis(ctx, addr, v.GetString("redis-password"), v.GetString("redis-channel"))
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return d, nil
}

func newHandler(v *viper.Viper, svc *services, tokens *auth.Tokens, notifier *notify.Notifier) (*handler.Handler, error) {
	retriever := rag.NewRetriever(svc.llm, svc.vectors)

	var opts []grading.Option
	if svc.bucket != nil {
		opts = append(opts, grading.WithUploader(svc.bucket))
	}
	if svc.speech != nil {
		opts = append(opts, grading.WithTranscriber(svc.speech))
	}
	if svc.ffmpeg != nil {
		opts = append(opts, grading.WithConverter(svc.ffmpeg))
	}

	deps := handler.Deps{
		Store:    svc.db,
		Tokens:   tokens,
		Quizzes:  quiz.NewService(svc.db, retriever, svc.llm),
		Grader:   grading.NewService(svc.db, svc.llm, opts...),
		Bot:      chatbot.New(retriever, svc.llm, search.NewWikipedia(v.GetString("wikipedia-lang"), "")),
		Ingester: svc.ingester(),
		LLM:      svc.llm,
		Notifier: notifier,
	}
	if svc.bucket != nil {
		deps.Files = svc.bucket
	}
	if svc.stream != nil {
		deps.Calls = svc.stream
	}
	return handler.New(deps, handler.Config{MaxUploadBytes: v.GetInt64("max-upload-mb") << 20})
}

// cleanupRevokedTokens drops revocations of tokens that have expired anyway.
func cleanupRevokedTokens(ctx context.Context, svc *services) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := svc.db.CleanupRevokedTokens(ctx); err != nil {
				slog.Warn("failed to clean up revoked tokens", "error", err)
			}
		}
	}
}

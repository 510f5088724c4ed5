package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	// A .env file feeds the environment layer that viper reads.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lyceum",
		Short: "Classroom backend with retrieval-augmented quizzes, grading and chat",
	}

	serve := serveCmd()
	root.AddCommand(serve, ingestCmd(), processMeetingsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `lyceum --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addDBFlag(f *pflag.FlagSet) {
	f.String("db", "lyceum.db", "SQLite database path")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "Chat model name")
	f.String("embed-model", "nomic-embed-text", "Embedding model name")
	f.Int("embed-dim", 768, "Embedding vector dimension")
	f.Float32("llm-temperature", 0.2, "Sampling temperature")
}

func addQdrantFlags(f *pflag.FlagSet) {
	f.String("qdrant-url", "http://localhost:6333", "Qdrant base URL")
	f.String("qdrant-key", "", "Qdrant API key")
	f.String("qdrant-collection", "lyceum", "Qdrant collection holding every namespace")
}

func addGCPFlags(f *pflag.FlagSet) {
	f.String("gcp-credentials", "", "Service account JSON file (default: application default credentials)")
	f.String("gcs-bucket", "", "GCS bucket for uploaded files (empty disables uploads)")
	f.String("gcs-cdn-domain", "", "CDN domain serving the bucket")
	f.String("gcp-project", "", "GCP project for Document AI")
	f.String("documentai-location", "us", "Document AI processor location")
	f.String("documentai-processor", "", "Document AI OCR processor ID (empty disables PDF ingestion)")
	f.String("speech-language", "en-US", "Speech-to-Text language code")
	f.String("ffmpeg", "ffmpeg", "ffmpeg binary used for audio conversion")
}

func addStreamFlags(f *pflag.FlagSet) {
	f.String("stream-key", "", "Stream video API key (empty disables meetings)")
	f.String("stream-secret", "", "Stream video API secret")
	f.String("stream-url", "", "Stream video API base URL")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LYCEUM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lyceum")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lyceum")
	v.AddConfigPath("/etc/lyceum")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

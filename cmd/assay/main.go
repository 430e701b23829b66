// Command assay fuses per-source skill scores into explained assessments.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-assay/internal/application"
	"github.com/ahrav/go-assay/internal/ports"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "assay",
	Short: "Multi-source skill assessment with ranked evidence and explanations",
	Long: `assay combines model, text, interaction and human-rated scores for a
subject into one fused assessment with a confidence, attaches the most
relevant evidence and writes a short explanation under a cost budget.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "assay.yaml", "configuration file")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(fuseCmd, batchCmd, costCmd, weightsCmd, ingestCmd, serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", logFormat)
	}
}

// session is a loaded configuration plus the runtime built from it.
type session struct {
	cfg    *application.Config
	loader *application.FileConfigLoader
	rt     *application.Runtime
	logger *slog.Logger
}

func openSession(ctx context.Context, metrics ports.MetricsCollector) (*session, error) {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	loader := application.NewFileConfigLoader(configPath, application.WithLoaderLogger(logger))
	cfg := &application.Config{}
	if err := loader.Load(ctx, cfg); err != nil {
		return nil, err
	}

	rt, err := application.Build(ctx, cfg, application.Dependencies{
		Loader:  loader,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, loader: loader, rt: rt, logger: logger}, nil
}

func (s *session) Close() {
	if err := s.rt.Close(); err != nil {
		s.logger.Warn("shutdown", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docqa/internal/config"
	"docqa/internal/observability"
	"docqa/internal/server"
	"docqa/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about a document using semantic passage retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/docqa/config.yaml if not provided)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}

	var (
		file string
		k    int
	)
	askCmd := &cobra.Command{
		Use:   "ask --file FILE QUESTION...",
		Short: "Answer one question about a file and print the ranked passages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cfgPath, file, k, strings.Join(args, " "))
		},
	}
	askCmd.Flags().StringVarP(&file, "file", "f", "", "Document to ask about (.txt, .md, .pdf)")
	askCmd.Flags().IntVarP(&k, "k", "k", -1, "Number of passages to retrieve (default from config)")
	_ = askCmd.MarkFlagRequired("file")

	tuiCmd := &cobra.Command{
		Use:   "tui FILE",
		Short: "Open the terminal UI for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), cfgPath, args[0])
		},
	}

	rootCmd.AddCommand(serveCmd, askCmd, tuiCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration, installs the logger and starts tracing.
// The returned shutdown flushes spans.
func setup(ctx context.Context, cfgPath string, logOut io.Writer) (*config.AppConfig, *slog.Logger, func(), error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, logOut)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)

	tcfg := observability.DefaultTracingConfig()
	tcfg.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tcfg.Environment = cfg.Tracing.Environment
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tracing: %w", err)
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}
	return cfg, logger, shutdown, nil
}

func runServe(ctx context.Context, cfgPath string) error {
	cfg, logger, shutdown, err := setup(ctx, cfgPath, os.Stderr)
	if err != nil {
		return err
	}
	defer shutdown()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", "err", err)
		}
	}()

	srv := server.New(server.Config{Addr: cfg.Server.Addr}, a.service, a.extractor, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Stop(sctx); err != nil {
		return err
	}
	return <-errCh
}

func runAsk(ctx context.Context, out io.Writer, cfgPath, file string, k int, question string) error {
	cfg, logger, shutdown, err := setup(ctx, cfgPath, os.Stderr)
	if err != nil {
		return err
	}
	defer shutdown()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := upload(ctx, a, file)
	if err != nil {
		return err
	}
	if k < 0 {
		k = a.service.K()
	}
	ans, err := a.service.AskK(ctx, id, question, k)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", ans.Text)
	if len(ans.Passages) > 0 {
		fmt.Fprintln(out)
	}
	for i, p := range ans.Passages {
		fmt.Fprintf(out, "[%d] score=%.3f position=%d\n%s\n\n", i+1, p.Score, p.Position, p.Text)
	}
	return nil
}

func runTUI(ctx context.Context, cfgPath, file string) error {
	// The terminal belongs to the UI, so logs go to a temporary file.
	logFile, err := os.CreateTemp("", "docqa-tui-*.log")
	if err != nil {
		return err
	}
	defer logFile.Close()

	cfg, logger, shutdown, err := setup(ctx, cfgPath, logFile)
	if err != nil {
		return err
	}
	defer shutdown()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := upload(ctx, a, file)
	if err != nil {
		return err
	}
	summary, err := a.service.Summary(id)
	if err != nil {
		return err
	}

	m := tui.New(a.service, id, filepath.Base(file), summary)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func upload(ctx context.Context, a *app, file string) (string, error) {
	text, err := a.extractor.FromPath(file)
	if err != nil {
		return "", err
	}
	return a.service.Upload(ctx, filepath.Base(file), text)
}

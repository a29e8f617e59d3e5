package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("fatal error: %v", err)
	}
}

func run(args []string) error {
	cmd := "wizard"
	if len(args) > 0 && (!strings.HasPrefix(args[0], "-") || isTopLevelFlag(args[0])) {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "wizard":
		return runWizard(args)
	case "sessions":
		return runSessions(args)
	case "show":
		return runShow(args)
	case "download":
		return runDownload(args)
	case "voices":
		return runVoices(args)
	case "devserver":
		return runDevServer(args)
	case "tray":
		return runTray(args)
	case "version", "-v", "--version":
		fmt.Println(config.BuildInfo())
		return nil
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func isTopLevelFlag(arg string) bool {
	switch arg {
	case "-h", "--help", "-v", "--version":
		return true
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `reelforge turns an idea into a narrated video through a remote generation API.

Usage:
  reelforge [wizard]                         create a video step by step (default)
  reelforge sessions [--local [--limit n]]   browse sessions, or list those created here
  reelforge show <id> [--output text|json|yaml]
  reelforge download <id> [--kind final|subtitled | --artifact segment1/image_1.png] [-o path]
  reelforge voices [--filter text]
  reelforge devserver [--port n]             run a simulated generation API
  reelforge tray <id>                        follow a session from the system tray
  reelforge version`)
}

// app holds what every API-facing command needs.
type app struct {
	cfg    *config.EnvConfig
	logger *slog.Logger
	db     *store.DB
	repo   *store.SQLiteRepository
	api    *client.HTTPClient

	closers []io.Closer
}

// newApp loads config, opens the local store and builds the API client.
// Commands that own the terminal log to a file instead of stdout.
func newApp(logToFile bool) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	a := &app{cfg: cfg}
	if logToFile {
		logger, closer, err := logging.NewFileLogger(cfg.LogPath(), cfg.LogLevel())
		if err != nil {
			return nil, err
		}
		a.logger = logger
		a.closers = append(a.closers, closer)
	} else {
		a.logger = logging.NewLogger(cfg.LogLevel())
	}
	a.logger.Info("starting reelforge", "version", config.Version, "commit", config.GitCommit, "api", logging.SanitizeURL(cfg.APIBaseURL()))

	database, err := store.Open(cfg.DBPath(), a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = database
	a.closers = append(a.closers, database)
	a.repo = store.NewRepository(database.Conn())

	a.api = client.NewHTTPClient(cfg.APIBaseURL(), cfg.HTTPTimeout(), a.logger)
	clientID, err := store.EnsureClientID(context.Background(), a.repo)
	if err != nil {
		a.logger.Warn("failed to ensure client id", "error", err)
	} else {
		a.api.SetClientID(clientID)
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// shutdownContext is cancelled on SIGINT or SIGTERM.
func shutdownContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/devserver"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/tui"
	"github.com/reelforge/reelforge/internal/ui"
	"github.com/reelforge/reelforge/internal/wizard"
)

func runWizard(args []string) error {
	fs := flag.NewFlagSet("wizard", flag.ContinueOnError)
	fresh := fs.Bool("new", false, "discard the saved wizard and start over")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := shutdownContext(a.logger)
	defer cancel()

	if *fresh {
		if err := a.repo.ClearWizardState(ctx); err != nil {
			return fmt.Errorf("failed to clear wizard state: %w", err)
		}
	}

	changes := tui.NewSignal()
	ctrl := wizard.NewController(a.api, wizard.Options{
		Store:        a.repo,
		Logger:       a.logger,
		OnChange:     changes.Notify,
		DefaultVoice: a.cfg.DefaultVoice(),
		DefaultMode:  a.cfg.DefaultMode(),
	})
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to restore wizard: %w", err)
	}
	defer ctrl.Close()

	return runProgram(ctx, tui.NewWizard(ctx, ctrl, a.api, changes))
}

func runSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	local := fs.Bool("local", false, "print sessions created from this machine instead of browsing")
	limit := fs.Int("limit", 20, "with --local, how many sessions to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := shutdownContext(a.logger)
	defer cancel()

	if *local {
		recent, err := a.repo.ListRecentSessions(ctx, *limit)
		if err != nil {
			return fmt.Errorf("failed to list recent sessions: %w", err)
		}
		writeRecent(os.Stdout, recent, time.Now())
		return nil
	}

	m := tui.NewBrowser(ctx, a.api, a.repo, tui.NewSignal(), a.logger)
	defer m.Close()
	return runProgram(ctx, m)
}

func runProgram(ctx context.Context, m tea.Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	output := fs.String("output", "text", "output format: text, json or yaml")
	id, err := parseWithID(fs, args)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := shutdownContext(a.logger)
	defer cancel()

	s, err := a.api.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return writeSession(os.Stdout, s, *output, a.api.AbsoluteURL)
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	kind := fs.String("kind", string(client.ArtifactSubtitled), "artifact: final or subtitled")
	media := fs.String("artifact", "", "a per-segment artifact path instead, e.g. segment1/image_1.png")
	out := fs.String("o", "", "output file or directory (default <id>-<kind>.mp4)")
	id, err := parseWithID(fs, args)
	if err != nil {
		return err
	}
	k := client.ArtifactKind(*kind)
	if *media == "" && !k.Valid() {
		return fmt.Errorf("unknown artifact kind %q", *kind)
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := shutdownContext(a.logger)
	defer cancel()

	var res downloadResult
	if *media != "" {
		res, err = downloadMedia(ctx, a.api, id, *media, outputPath(*out, mediaFileName(id, *media)))
	} else {
		res, err = downloadArtifact(ctx, a.api, id, k, outputPath(*out, videoFileName(id, k)))
	}
	if err != nil {
		return err
	}
	fmt.Println(res)
	return nil
}

func runVoices(args []string) error {
	fs := flag.NewFlagSet("voices", flag.ContinueOnError)
	filter := fs.String("filter", "", "only voices whose name, language or region contains this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := shutdownContext(a.logger)
	defer cancel()

	resp, err := a.api.GetVoicesFlat(ctx)
	if err != nil {
		return err
	}

	matched := filterVoices(resp.Voices, *filter)
	if len(matched) == 0 {
		fmt.Printf("no voice matches %q\n", *filter)
		if s := suggestVoices(resp.Voices, *filter, 3); len(s) > 0 {
			fmt.Println("did you mean:")
			for _, name := range s {
				fmt.Println("  " + name)
			}
		}
		return nil
	}
	writeVoices(os.Stdout, matched)
	return nil
}

func runDevServer(args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fs := flag.NewFlagSet("devserver", flag.ContinueOnError)
	port := fs.Int("port", cfg.DevServerPort(), "listen port")
	step := fs.Duration("step", cfg.DevServerStep(), "time to produce one segment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel())
	srv := devserver.NewServer(devserver.ServerConfig{Port: *port, Step: *step, Logger: logger})

	l, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	fmt.Printf("simulated generation API on http://%s (one segment every %s)\n", l.Addr(), *step)

	ctx, cancel := shutdownContext(logger)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func runTray(args []string) error {
	fs := flag.NewFlagSet("tray", flag.ContinueOnError)
	id, err := parseWithID(fs, args)
	if err != nil {
		return err
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Headless() {
		a.logger.Info("running in headless mode (no system tray)")
		return nil
	}

	ctx, cancel := shutdownContext(a.logger)
	defer cancel()

	tray := ui.NewTray(ui.TrayConfig{
		API:       a.api,
		SessionID: id,
		Logger:    a.logger,
		OnQuit:    cancel,
	})
	tray.Run(ctx)
	return nil
}

// parseWithID parses flags around a single positional session id, which may
// come before or after the flags.
func parseWithID(fs *flag.FlagSet, args []string) (string, error) {
	var id string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if id == "" {
		id = fs.Arg(0)
	}
	if id == "" {
		return "", errors.New("missing session id")
	}
	return id, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/edexd/internal/api"
	"github.com/user/edexd/internal/archive"
	"github.com/user/edexd/internal/host"
	"github.com/user/edexd/internal/hub"
	"github.com/user/edexd/internal/parser"
	"github.com/user/edexd/internal/server"
	"github.com/user/edexd/internal/shell"
	"github.com/user/edexd/internal/telemetry"
)

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.EnsureToken(); err != nil {
		return err
	}

	var argv []string
	if cfg.Shell != "" {
		argv, err = shell.ParseCommand(cfg.Shell)
		if err != nil {
			return fmt.Errorf("invalid shell command: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   *archive.DB
		journal *archive.Journal
	)
	if cfg.ArchivePath != "" {
		store, err = archive.Open(ctx, cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close archive", "error", err)
			}
		}()
		journal = archive.NewJournal(store.SQL(), cfg.ArchiveRetention, nil)
		logger.Info("telemetry archive enabled", "path", cfg.ArchivePath, "retention", cfg.ArchiveRetention)
	}

	h := host.New(host.Options{
		Shell: shell.Options{
			Command: argv,
			WorkDir: cfg.WorkDir,
		},
		Reconstructor: parser.Options{
			FlushDelay: cfg.FlushDelay,
			Scrollback: cfg.ScrollbackLines,
		},
		Sampler: telemetry.Options{
			Interval: cfg.PollInterval,
			Timeout:  cfg.SampleTimeout,
		},
		Journal: journal,
		Logger:  logger,
	})
	defer h.Close()

	wsHub := hub.New(h, cfg.Token, hub.Options{Logger: logger})
	go wsHub.Run(ctx)

	srv := server.New(cfg.ListenAddr(), wsHub.HandleWebSocket, api.NewRouter(h, cfg.Token), logger)

	if cfg.PrintToken {
		fmt.Printf("\nedexd running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	} else {
		fmt.Printf("\nedexd running at http://localhost:%d (token in %s)\n\n", cfg.Port, cfg.ConfigPath)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}

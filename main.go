package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkeller/imapfetch/config"
	"github.com/mkeller/imapfetch/fetch"
	"github.com/mkeller/imapfetch/filter"
	"github.com/mkeller/imapfetch/imap"
	"github.com/mkeller/imapfetch/progress"
	"github.com/mkeller/imapfetch/stats"
	"github.com/mkeller/imapfetch/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "imapfetch",
		Short: "Download every message of a mailbox into .eml files over IMAP/TLS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting imapfetch",
				"host", cfg.Host, "mailbox", cfg.Mailbox, "out", cfg.OutDir,
				"maxConcurrent", cfg.MaxConcurrent)

			return run(cmd.Context(), cfg, logger)
		},
	}
	config.RegisterFlags(rootCmd)

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Connect, select the mailbox and print its message count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDiscoveryConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			dialer := &imap.TLSDialer{Host: cfg.Host, Port: cfg.Port, Timeout: cfg.Timeout}
			creds := imap.Credentials{User: cfg.User, Pass: cfg.Pass}
			count, err := fetch.Discover(cmd.Context(), dialer, creds, cfg.Mailbox, cfg.Timeout, logger)
			if err != nil {
				return fmt.Errorf("discover mailbox: %w", err)
			}
			fmt.Printf("%s has %d messages\n", cfg.Mailbox, count)
			return nil
		},
	}
	config.RegisterFlags(countCmd)
	rootCmd.AddCommand(countCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	dir, err := store.NewDir(cfg.OutDir)
	if err != nil {
		return err
	}

	var archive *store.Archive
	if cfg.MboxArchive != "" {
		archive, err = store.NewArchive(cfg.MboxArchive)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Warn("closing mbox archive", "err", err)
			}
		}()
	}

	msgFilter, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return err
	}

	dialer := &imap.TLSDialer{Host: cfg.Host, Port: cfg.Port, Timeout: cfg.Timeout}
	creds := imap.Credentials{User: cfg.User, Pass: cfg.Pass}

	count, err := fetch.Discover(ctx, dialer, creds, cfg.Mailbox, cfg.Timeout, logger)
	if err != nil {
		return fmt.Errorf("discover mailbox: %w", err)
	}

	orch, err := fetch.New(fetch.Options{
		Dialer:        dialer,
		Creds:         creds,
		Mailbox:       cfg.Mailbox,
		Timeout:       cfg.Timeout,
		BatchSize:     uint32(cfg.BatchSize),
		MaxConcurrent: cfg.MaxConcurrent,
		LaunchDelay:   cfg.LaunchDelay,
		Store:         dir,
		Archive:       archive,
		Filter:        msgFilter,
	}, logger)
	if err != nil {
		return err
	}

	reporter := stats.NewReporter(orch, logger)
	bar := progress.New(int(count), cfg.LogLevel)
	orch.Subscribe("progress-bar", bar.Subscriber)

	summary, err := orch.Run(ctx, count)
	if err != nil {
		return err
	}
	bar.Stop(reporter.Summary())

	for _, failure := range summary.Failures {
		logger.Warn("unfetched range", "range", failure.Range.String(), "err", failure.Err)
	}
	logger.Info("done", "saved", summary.Saved, "errored", summary.Errored, "out", cfg.OutDir)
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("imapfetch-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}

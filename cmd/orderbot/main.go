// CLAUDE:SUMMARY CLI entry point for orderbot: flags over YAML config, operator prompt for the site URL, one pipeline run.
// Command orderbot submits every order from the orders CSV through the
// robot order site and zips the PDF receipts.
//
// Usage:
//
//	orderbot -site-url https://robotsparebinindustries.com/#/robot-order
//	orderbot -config orderbot.yaml -output ./out -on-failure skip
//	orderbot                      # asks for the site URL on the terminal
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/orderbot/orderbot"
)

type options struct {
	configPath string
	siteURL    string
	ordersURL  string
	outputDir  string
	onFailure  string
	journal    string
	headful    bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to orderbot.yaml config file")
	flag.StringVar(&o.siteURL, "site-url", "", "order site URL (asked on the terminal when empty)")
	flag.StringVar(&o.ordersURL, "orders-url", "", "orders CSV URL (default "+orderbot.DefaultOrdersURL+")")
	flag.StringVar(&o.outputDir, "output", "", "output directory (default ./output)")
	flag.StringVar(&o.onFailure, "on-failure", "", "failing order policy: abort or skip")
	flag.StringVar(&o.journal, "journal", "", "run journal path, \"none\" disables")
	flag.BoolVar(&o.headful, "headful", false, "run Chrome with a visible window (Xvfb)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		if errors.Is(err, orderbot.ErrPromptAborted) {
			fmt.Fprintln(os.Stderr, "aborted")
		} else {
			logger.Error("orderbot: fatal", "error", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg := orderbot.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = orderbot.LoadConfig(o.configPath); err != nil {
			return err
		}
	}
	applyFlags(cfg, o)
	cfg.Logger = logger

	if cfg.SiteURL == "" {
		u, err := orderbot.AskSiteURL(ctx)
		if err != nil {
			return err
		}
		cfg.SiteURL = u
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var opts []orderbot.Option
	if path := cfg.Journal(); path != "" {
		rec, closeDB, err := orderbot.OpenJournal(path, cfg.JournalBusyTimeout)
		if err != nil {
			return err
		}
		defer closeDB()
		opts = append(opts, orderbot.WithRecorder(rec))
	}

	report, err := orderbot.New(cfg, opts...).Run(ctx)
	if report != nil {
		logger.Info("orderbot: run finished",
			"run_id", report.RunID,
			"orders", report.Orders,
			"receipts", len(report.Receipts),
			"failed", len(report.Failures),
			"archive", report.ArchivePath)
	}
	return err
}

func applyFlags(cfg *orderbot.Config, o options) {
	if o.siteURL != "" {
		cfg.SiteURL = o.siteURL
	}
	if o.ordersURL != "" {
		cfg.OrdersURL = o.ordersURL
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.onFailure != "" {
		cfg.OnFailure = o.onFailure
	}
	if o.journal != "" {
		cfg.JournalPath = o.journal
	}
	if o.headful {
		cfg.Browser.Headful = true
	}
}

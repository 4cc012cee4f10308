// CLAUDE:SUMMARY Pipeline orchestrator: load orders, drive one browser session through every order, archive receipts.
// Package orderbot automates the robot order workflow of an ordering site:
// download the orders CSV, submit each order through the site's form,
// keep a PDF receipt with an embedded screenshot per order, and zip the
// receipts at the end.
//
// Usage:
//
//	cfg := orderbot.DefaultConfig()
//	cfg.SiteURL = "https://robotsparebinindustries.com/#/robot-order"
//	report, err := orderbot.New(cfg).Run(ctx)
package orderbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/orderbot/internal/horosafe"
	"github.com/hazyhaar/orderbot/orderbot/internal/archive"
	"github.com/hazyhaar/orderbot/orderbot/internal/browser"
	"github.com/hazyhaar/orderbot/orderbot/internal/journal"
	"github.com/hazyhaar/orderbot/orderbot/internal/receipt"
	"github.com/hazyhaar/orderbot/orderbot/internal/source"
)

// Session is the browser capability the order loop needs. One Session is
// opened per run and passed explicitly to every step.
type Session interface {
	receipt.Renderer
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	Check(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Visible(ctx context.Context, selector string) (bool, error)
	Close() error
}

var _ Session = (*browser.Session)(nil)

// Opener opens a Session on the order site.
type Opener func(ctx context.Context, siteURL string) (Session, error)

// Loader fetches the orders CSV to dest and parses it.
type Loader func(ctx context.Context, url, dest string) ([]source.Order, error)

// Recorder receives run and order outcomes. *journal.Journal implements it.
type Recorder interface {
	StartRun(ctx context.Context, info journal.RunInfo) (string, error)
	SetTotal(ctx context.Context, runID string, total int) error
	RecordOrder(ctx context.Context, ev journal.OrderEvent) error
	FinishRun(ctx context.Context, runID string, s journal.RunSummary) error
}

var _ Recorder = (*journal.Journal)(nil)

// Report summarises a run.
type Report struct {
	RunID       string
	Orders      int
	Receipts    []receipt.Receipt
	Failures    []*OrderError
	ArchivePath string
	Archived    int
}

// Bot runs the pipeline. A Bot is single-use per Run call and not safe for
// concurrent Runs.
type Bot struct {
	cfg     *Config
	logger  *slog.Logger
	open    Opener
	load    Loader
	rec     Recorder
	builder *receipt.Builder
	mgr     *browser.Manager
}

// Option configures a Bot.
type Option func(*Bot)

// WithOpener replaces the Chrome-backed session opener.
func WithOpener(o Opener) Option { return func(b *Bot) { b.open = o } }

// WithLoader replaces the HTTP CSV loader.
func WithLoader(l Loader) Option { return func(b *Bot) { b.load = l } }

// WithRecorder sets the run journal. Default: none.
func WithRecorder(r Recorder) Option { return func(b *Bot) { b.rec = r } }

// New creates a Bot. cfg is completed with defaults.
func New(cfg *Config, opts ...Option) *Bot {
	cfg.applyDefaults()
	b := &Bot{
		cfg:    cfg,
		logger: cfg.Logger,
		rec:    nopRecorder{},
		builder: receipt.New(receipt.Config{
			ReceiptsDir:          cfg.ReceiptsDir(),
			ScreenshotsDir:       cfg.ScreenshotsDir(),
			Selector:             cfg.Site.Receipt,
			ConfirmationSelector: cfg.Site.Confirmation,
			Logger:               cfg.Logger,
		}),
	}
	fc := source.Config{
		Timeout:  cfg.Fetch.Timeout,
		MaxBytes: cfg.Fetch.MaxBytes,
	}
	if cfg.Fetch.BlockPrivateHosts {
		fc.URLValidator = horosafe.ValidateURL
	}
	f := source.New(fc)
	b.load = f.Load
	b.open = b.openBrowser
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run executes the pipeline once. Orders are loaded before any browser is
// started, so a failed download never touches the site. With zero orders
// no browser is opened and an empty archive is written.
//
// Under FailAbort the first failing order ends the run with its
// *OrderError and no archive. Under FailSkip failures are collected, the
// archive is written, and a *RunError is returned alongside the report.
func (b *Bot) Run(ctx context.Context) (report *Report, err error) {
	cfg := b.cfg
	log := b.logger
	report = &Report{}

	runID, rerr := b.rec.StartRun(ctx, journal.RunInfo{OrdersURL: cfg.OrdersURL, SiteURL: cfg.SiteURL})
	if rerr != nil {
		log.Warn("orderbot: journal start failed, continuing without it", "error", rerr)
		b.rec = nopRecorder{}
	}
	report.RunID = runID
	defer func() { b.finish(ctx, report, err) }()

	orders, err := b.load(ctx, cfg.OrdersURL, cfg.OrdersFile())
	if err != nil {
		return report, fmt.Errorf("orderbot: load orders: %w", err)
	}
	report.Orders = len(orders)
	b.journal("set total", b.rec.SetTotal(ctx, runID, len(orders)))
	log.Info("orderbot: orders loaded", "count", len(orders), "url", cfg.OrdersURL)

	if len(orders) > 0 {
		if err := b.runOrders(ctx, report, orders); err != nil {
			return report, err
		}
	}

	n, err := archive.Directory(ctx, cfg.ReceiptsDir(), cfg.ArchivePath())
	if err != nil {
		return report, fmt.Errorf("orderbot: %w", err)
	}
	report.ArchivePath = cfg.ArchivePath()
	report.Archived = n
	log.Info("orderbot: receipts archived", "path", report.ArchivePath, "files", n)

	if len(report.Failures) > 0 {
		return report, &RunError{Failures: report.Failures}
	}
	return report, nil
}

func (b *Bot) runOrders(ctx context.Context, report *Report, orders []source.Order) error {
	cfg := b.cfg
	sess, err := b.open(ctx, cfg.SiteURL)
	if err != nil {
		b.closeBrowser()
		return fmt.Errorf("orderbot: open %s: %w", cfg.SiteURL, err)
	}
	defer func() {
		sess.Close()
		b.closeBrowser()
	}()

	for _, o := range orders {
		rec, attempts, oerr := b.processOrder(ctx, sess, o)
		if oerr == nil {
			report.Receipts = append(report.Receipts, rec)
			b.journal("record order", b.rec.RecordOrder(ctx, journal.OrderEvent{
				RunID: report.RunID, OrderNumber: rec.OrderNumber, Status: journal.StatusDone,
				Attempts: attempts, Confirmation: rec.Confirmation, ReceiptPath: rec.PDFPath, ScreenshotPath: rec.ScreenshotPath,
				ReceiptHTML: rec.Markup,
			}))
			b.logger.Info("orderbot: order completed", "order", rec.OrderNumber, "attempts", attempts,
				"confirmation", rec.Confirmation, "receipt", rec.PDFPath)
			continue
		}

		b.journal("record order", b.rec.RecordOrder(ctx, journal.OrderEvent{
			RunID: report.RunID, OrderNumber: oerr.Number, Status: journal.StatusFailed,
			Attempts: attempts, Err: oerr.Err,
		}))
		if cfg.OnFailure != FailSkip || ctx.Err() != nil {
			return oerr
		}
		report.Failures = append(report.Failures, oerr)
		b.logger.Warn("orderbot: order skipped", "order", oerr.Number, "step", oerr.Step, "error", oerr.Err)

		// Start the next order from a clean page.
		if err := sess.Navigate(ctx, cfg.SiteURL); err != nil {
			return fmt.Errorf("orderbot: reload %s: %w", cfg.SiteURL, err)
		}
	}
	return nil
}

func (b *Bot) openBrowser(ctx context.Context, siteURL string) (Session, error) {
	bc := b.cfg.Browser
	b.mgr = browser.NewManager(browser.Config{
		RemoteURL:         bc.Remote,
		Headful:           bc.Headful,
		XvfbDisplay:       bc.XvfbDisplay,
		DisableStealth:    bc.DisableStealth,
		ResourceBlocking:  bc.ResourceBlocking,
		NavigationTimeout: bc.NavigationTimeout,
		ActionTimeout:     bc.ActionTimeout,
		VerifyTimeout:     bc.VerifyTimeout,
		Logger:            b.logger,
	})
	if _, err := b.mgr.Start(ctx); err != nil {
		return nil, err
	}
	s, err := browser.Open(ctx, b.mgr, siteURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Bot) closeBrowser() {
	if b.mgr != nil {
		b.mgr.Close()
		b.mgr = nil
	}
}

func (b *Bot) finish(ctx context.Context, report *Report, err error) {
	status := journal.RunSucceeded
	var runErr *RunError
	switch {
	case errors.As(err, &runErr):
		status = journal.RunPartial
	case err != nil:
		status = journal.RunFailed
	}
	// The run context may already be cancelled; the journal row should
	// still be closed.
	b.journal("finish run", b.rec.FinishRun(context.WithoutCancel(ctx), report.RunID, journal.RunSummary{
		Status: status, ArchivePath: report.ArchivePath, Err: err,
	}))
}

func (b *Bot) journal(op string, err error) {
	if err != nil {
		b.logger.Warn("orderbot: journal "+op+" failed", "error", err)
	}
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, journal.RunInfo) (string, error) {
	return "", nil
}

func (nopRecorder) SetTotal(context.Context, string, int) error { return nil }

func (nopRecorder) RecordOrder(context.Context, journal.OrderEvent) error { return nil }

func (nopRecorder) FinishRun(context.Context, string, journal.RunSummary) error { return nil }

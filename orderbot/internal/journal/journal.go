// CLAUDE:SUMMARY SQLite run journal: one row per run, one event per processed order, receipt text kept as Markdown.
// Package journal records runs and per-order outcomes in SQLite.
//
// The journal is an audit trail only; the pipeline never reads it back to
// resume work.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/orderbot/internal/dbopen"
	"github.com/hazyhaar/orderbot/internal/idgen"
)

// Order statuses.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// RunInfo describes a run at start.
type RunInfo struct {
	OrdersURL string
	SiteURL   string
	Total     int
}

// RunSummary describes a run at finish.
type RunSummary struct {
	Status      string
	ArchivePath string
	Err         error
}

// OrderEvent is the outcome of one order.
type OrderEvent struct {
	RunID          string
	OrderNumber    string
	Status         string
	Attempts       int
	Confirmation   string
	ReceiptPath    string
	ScreenshotPath string
	// ReceiptHTML is converted to Markdown before storage.
	ReceiptHTML string
	Err         error
}

// StoredEvent is an order event read back from the journal.
type StoredEvent struct {
	EventID        string
	OrderNumber    string
	Status         string
	Attempts       int
	Confirmation   string
	ReceiptPath    string
	ScreenshotPath string
	ReceiptText    string
	Error          string
	CreatedAt      time.Time
}

// Journal writes to the runs and order_events tables.
type Journal struct {
	db       *sql.DB
	newRunID idgen.Generator
	newEvtID idgen.Generator
	md       *converter.Converter
	now      func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator replaces the run and event ID generators.
func WithIDGenerator(run, evt idgen.Generator) Option {
	return func(j *Journal) {
		j.newRunID = run
		j.newEvtID = evt
	}
}

// New wraps an initialised database.
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:       db,
		newRunID: idgen.Prefixed("run_", idgen.Default),
		newEvtID: idgen.Prefixed("evt_", idgen.Default),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		now: time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Open opens (creating if needed) the journal database at path. A
// positive busyTimeout replaces the dbopen default for lock waits.
func Open(path string, busyTimeout time.Duration) (*sql.DB, error) {
	opts := []dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}
	if busyTimeout > 0 {
		opts = append(opts, dbopen.WithBusyTimeout(int(busyTimeout.Milliseconds())))
	}
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return db, nil
}

// StartRun inserts a run row and returns its ID.
func (j *Journal) StartRun(ctx context.Context, info RunInfo) (string, error) {
	id := j.newRunID()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, orders_url, site_url, status, orders_total, started_at)
		VALUES (?,?,?,?,?,?)`,
		id, info.OrdersURL, info.SiteURL, RunRunning, info.Total, j.now().Unix())
	if err != nil {
		return "", fmt.Errorf("journal: start run: %w", err)
	}
	return id, nil
}

// SetTotal updates the order count once the CSV is parsed.
func (j *Journal) SetTotal(ctx context.Context, runID string, total int) error {
	_, err := j.db.ExecContext(ctx, `UPDATE runs SET orders_total = ? WHERE run_id = ?`, total, runID)
	if err != nil {
		return fmt.Errorf("journal: set total: %w", err)
	}
	return nil
}

// RecordOrder inserts an order event and bumps the run counters in one
// transaction.
func (j *Journal) RecordOrder(ctx context.Context, ev OrderEvent) error {
	text := j.markdown(ev.ReceiptHTML)
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	counter := "orders_done"
	if ev.Status == StatusFailed {
		counter = "orders_failed"
	}

	return dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_events (
				event_id, run_id, order_number, status, attempts, confirmation,
				receipt_path, screenshot_path, receipt_text, error, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			j.newEvtID(), ev.RunID, ev.OrderNumber, ev.Status, ev.Attempts, ev.Confirmation,
			ev.ReceiptPath, ev.ScreenshotPath, text, errText, j.now().Unix())
		if err != nil {
			return fmt.Errorf("journal: record order %s: %w", ev.OrderNumber, err)
		}
		// counter is one of two constants above.
		q := fmt.Sprintf(`UPDATE runs SET %s = %s + 1 WHERE run_id = ?`, counter, counter)
		if _, err := tx.ExecContext(ctx, q, ev.RunID); err != nil {
			return fmt.Errorf("journal: bump %s: %w", counter, err)
		}
		return nil
	})
}

// FinishRun stamps the final status of a run.
func (j *Journal) FinishRun(ctx context.Context, runID string, s RunSummary) error {
	errText := ""
	if s.Err != nil {
		errText = s.Err.Error()
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, archive_path = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		s.Status, s.ArchivePath, errText, j.now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// Orders returns the events of a run in insertion order.
func (j *Journal) Orders(ctx context.Context, runID string) ([]StoredEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, order_number, status, attempts, COALESCE(confirmation, ''),
		       COALESCE(receipt_path, ''), COALESCE(screenshot_path, ''),
		       COALESCE(receipt_text, ''), COALESCE(error, ''), created_at
		FROM order_events
		WHERE run_id = ?
		ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: list orders: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var ts int64
		if err := rows.Scan(&e.EventID, &e.OrderNumber, &e.Status, &e.Attempts, &e.Confirmation,
			&e.ReceiptPath, &e.ScreenshotPath, &e.ReceiptText, &e.Error, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) markdown(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	md, err := j.md.ConvertString(html)
	if err != nil || strings.TrimSpace(md) == "" {
		return html
	}
	return strings.TrimSpace(md)
}

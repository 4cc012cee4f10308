package orderbot

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/orderbot/internal/dbopen"
	"github.com/hazyhaar/orderbot/internal/horosafe"
	"github.com/hazyhaar/orderbot/orderbot/internal/journal"
	"github.com/hazyhaar/orderbot/orderbot/internal/receipt"
	"github.com/hazyhaar/orderbot/orderbot/internal/receipt/receipttest"
	"github.com/hazyhaar/orderbot/orderbot/internal/source"
)

const threeOrders = `Order number,Head,Body,Legs,Address
1,1,2,3,Address 1
2,3,4,5,Address 2
3,6,1,2,Address 3
`

// fakeSession emulates the order site. Orders are told apart by the
// address typed into the form.
type fakeSession struct {
	png, pdf []byte

	// failBefore[address] = clicks on #order that do not confirm.
	failBefore map[string]int
	// never[address] = the order is never confirmed.
	never map[string]bool

	calls       []string
	address     string
	orderClicks int
	completed   bool
	navigations int
	closed      bool
}

func newFakeSession(t *testing.T) *fakeSession {
	return &fakeSession{
		png:        receipttest.PNG(t),
		pdf:        receipttest.PDF(t),
		failBefore: map[string]int{},
		never:      map[string]bool{},
	}
}

func (f *fakeSession) log(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSession) reset() {
	f.completed = false
	f.orderClicks = 0
	f.address = ""
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.log("navigate %s", url)
	f.navigations++
	f.reset()
	return nil
}

func (f *fakeSession) Click(_ context.Context, sel string) error {
	f.log("click %s", sel)
	switch sel {
	case "#order":
		f.orderClicks++
		if !f.never[f.address] && f.orderClicks > f.failBefore[f.address] {
			f.completed = true
		}
	case "#order-another":
		if !f.completed {
			return errors.New("#order-another not present")
		}
		f.reset()
	}
	return nil
}

func (f *fakeSession) ClickText(_ context.Context, sel, text string) error {
	f.log("clicktext %s %s", sel, text)
	return nil
}

func (f *fakeSession) SelectOption(_ context.Context, sel, value string) error {
	f.log("select %s %s", sel, value)
	return nil
}

func (f *fakeSession) Check(_ context.Context, sel string) error {
	f.log("check %s", sel)
	return nil
}

func (f *fakeSession) Fill(_ context.Context, sel, value string) error {
	f.log("fill %s %s", sel, value)
	if sel == "#address" {
		f.address = value
	}
	return nil
}

func (f *fakeSession) Visible(_ context.Context, sel string) (bool, error) {
	f.log("visible %s", sel)
	return sel == "#order-completion" && f.completed, nil
}

func (f *fakeSession) InnerHTML(_ context.Context, sel string) (string, error) {
	if !f.completed {
		return "", errors.New("no confirmation on page")
	}
	return `<h3>Receipt</h3><p class="badge badge-success">RSB-` + strings.ReplaceAll(f.address, " ", "-") +
		"</p><p>" + f.address + "</p>", nil
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) { return f.png, nil }

func (f *fakeSession) RenderPDF(context.Context, string) ([]byte, error) { return f.pdf, nil }

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSession) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.SiteURL = "https://robots.example/#/robot-order"
	cfg.OutputDir = t.TempDir()
	cfg.Submit.Attempts = 3
	cfg.Submit.Backoff = time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func csvLoader(data string) Loader {
	return func(context.Context, string, string) ([]source.Order, error) {
		return source.Parse(strings.NewReader(data))
	}
}

type botHarness struct {
	bot    *Bot
	sess   *fakeSession
	opened int
}

func newHarness(t *testing.T, cfg *Config, data string, opts ...Option) *botHarness {
	h := &botHarness{sess: newFakeSession(t)}
	opener := func(_ context.Context, url string) (Session, error) {
		h.opened++
		h.sess.log("open %s", url)
		return h.sess, nil
	}
	opts = append([]Option{WithOpener(opener), WithLoader(csvLoader(data))}, opts...)
	h.bot = New(cfg, opts...)
	return h
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestRun_ProducesReceiptPerOrder(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, threeOrders)

	report, err := h.bot.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.opened != 1 || !h.sess.closed {
		t.Fatalf("opened=%d closed=%v", h.opened, h.sess.closed)
	}
	if report.Orders != 3 || len(report.Receipts) != 3 || report.Archived != 3 {
		t.Fatalf("report = %+v", report)
	}

	for i, rec := range report.Receipts {
		n := fmt.Sprint(i + 1)
		if rec.OrderNumber != n {
			t.Errorf("receipt %d order = %q", i, rec.OrderNumber)
		}
		if rec.Confirmation != "RSB-Address-"+n {
			t.Errorf("receipt %d confirmation = %q", i, rec.Confirmation)
		}
		if rec.PDFPath != filepath.Join(cfg.ReceiptsDir(), "receipt-"+n+".pdf") {
			t.Errorf("pdf path = %q", rec.PDFPath)
		}
		if _, err := os.Stat(filepath.Join(cfg.ScreenshotsDir(), "screenshot-"+n+".png")); err != nil {
			t.Errorf("screenshot %s: %v", n, err)
		}
		pages, err := receipt.PageCount(rec.PDFPath)
		if err != nil || pages != 2 {
			t.Errorf("receipt %s pages = %d, %v", n, pages, err)
		}
	}

	want := []string{"receipt-1.pdf", "receipt-2.pdf", "receipt-3.pdf"}
	if diff := cmp.Diff(want, zipNames(t, report.ArchivePath)); diff != "" {
		t.Fatalf("archive mismatch (-want +got):\n%s", diff)
	}

	first := []string{
		"open https://robots.example/#/robot-order",
		"clicktext button OK",
		"select #head 1",
		"check #id-body-2",
		`fill input[placeholder="Enter the part number for the legs"] 3`,
		"fill #address Address 1",
		"click #order",
		"visible #order-completion",
		"click #order-another",
	}
	if diff := cmp.Diff(first, h.sess.calls[:len(first)]); diff != "" {
		t.Fatalf("first order steps (-want +got):\n%s", diff)
	}
}

func TestRun_RetriesUntilConfirmed(t *testing.T) {
	cfg := testConfig(t)
	db := dbopen.OpenMemory(t, dbopen.WithSchema(journal.Schema))
	j := journal.New(db)
	h := newHarness(t, cfg, threeOrders, WithRecorder(j))
	h.sess.failBefore["Address 2"] = 1

	report, err := h.bot.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Receipts) != 3 {
		t.Fatalf("receipts = %d, want 3", len(report.Receipts))
	}
	if got := h.sess.count("click #order"); got != 4 {
		t.Fatalf("order clicks = %d, want 4", got)
	}

	events, err := j.Orders(context.Background(), report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var attempts []int
	for _, e := range events {
		attempts = append(attempts, e.Attempts)
		if e.Status != journal.StatusDone {
			t.Errorf("order %s status = %s", e.OrderNumber, e.Status)
		}
	}
	if diff := cmp.Diff([]int{1, 2, 1}, attempts); diff != "" {
		t.Fatalf("attempts mismatch (-want +got):\n%s", diff)
	}
	if events[1].Confirmation != "RSB-Address-2" {
		t.Fatalf("confirmation = %q", events[1].Confirmation)
	}
	if !strings.Contains(events[1].ReceiptText, "Address 2") {
		t.Fatalf("receipt text = %q", events[1].ReceiptText)
	}
}

func TestRun_SubmitExhaustedAborts(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, threeOrders)
	h.sess.never["Address 2"] = true

	report, err := h.bot.Run(context.Background())
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}
	var se *SubmitError
	if !errors.As(err, &se) || se.Attempts != 3 || se.Number != "2" {
		t.Fatalf("submit error = %+v", se)
	}
	if !errors.Is(err, errNotConfirmed) {
		t.Fatalf("cause not kept: %v", err)
	}
	var oe *OrderError
	if !errors.As(err, &oe) || oe.Step != "submit" {
		t.Fatalf("order error = %+v", oe)
	}
	// 1 click for order 1, 3 for order 2, none for order 3.
	if got := h.sess.count("click #order"); got != 4 {
		t.Fatalf("order clicks = %d, want 4", got)
	}
	if len(report.Receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(report.Receipts))
	}
	if _, err := os.Stat(cfg.ArchivePath()); !os.IsNotExist(err) {
		t.Fatal("aborted run must not leave an archive")
	}
}

func TestRun_SkipPolicyContinues(t *testing.T) {
	cfg := testConfig(t)
	cfg.OnFailure = FailSkip
	h := newHarness(t, cfg, threeOrders)
	h.sess.never["Address 2"] = true

	report, err := h.bot.Run(context.Background())
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if len(runErr.Failures) != 1 || runErr.Failures[0].Number != "2" {
		t.Fatalf("failures = %+v", runErr.Failures)
	}
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatal("RunError should expose the submit failure")
	}
	if h.sess.navigations != 1 {
		t.Fatalf("navigations = %d, want 1 reload", h.sess.navigations)
	}
	want := []string{"receipt-1.pdf", "receipt-3.pdf"}
	if diff := cmp.Diff(want, zipNames(t, report.ArchivePath)); diff != "" {
		t.Fatalf("archive mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_MissingFieldIsAttributed(t *testing.T) {
	cfg := testConfig(t)
	data := "Order number,Head,Body,Legs,Address\n1,1,2,3,Address 1\n2,3,4,,Address 2\n"
	h := newHarness(t, cfg, data)

	_, err := h.bot.Run(context.Background())
	var fe *source.FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *source.FieldError, got %v", err)
	}
	if fe.Column != source.ColLegs || fe.Number != "2" {
		t.Fatalf("field error = %+v", fe)
	}
	if !strings.Contains(err.Error(), "order 2") || !strings.Contains(err.Error(), "Legs") {
		t.Fatalf("error not attributable: %v", err)
	}
	if h.sess.count("fill #address Address 2") != 0 || h.sess.count("click #order") != 1 {
		t.Fatalf("incomplete order touched the form: %v", h.sess.calls)
	}
}

func TestRun_ZeroOrders(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, "Order number,Head,Body,Legs,Address\n")

	report, err := h.bot.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.opened != 0 || len(h.sess.calls) != 0 {
		t.Fatalf("browser used with zero orders: %v", h.sess.calls)
	}
	if report.Archived != 0 || len(zipNames(t, report.ArchivePath)) != 0 {
		t.Fatalf("expected empty archive, report = %+v", report)
	}
}

func TestRun_DownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t)
	cfg.OrdersURL = srv.URL + "/orders.csv"
	opened := false
	bot := New(cfg, WithOpener(func(context.Context, string) (Session, error) {
		opened = true
		return nil, errors.New("must not be called")
	}))

	_, err := bot.Run(context.Background())
	var se *source.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if opened {
		t.Fatal("site opened after failed download")
	}
	if _, err := os.Stat(cfg.ArchivePath()); !os.IsNotExist(err) {
		t.Fatal("no archive expected")
	}
}

func TestRun_BlockPrivateHostsRefusesLoopback(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("Order number,Head,Body,Legs,Address\n1,1,1,1,Somewhere\n"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.OrdersURL = srv.URL + "/orders.csv"
	cfg.Fetch.BlockPrivateHosts = true
	opened := false
	bot := New(cfg, WithOpener(func(context.Context, string) (Session, error) {
		opened = true
		return nil, errors.New("must not be called")
	}))

	_, err := bot.Run(context.Background())
	if !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("expected ErrSSRF, got %v", err)
	}
	if hits != 0 || opened {
		t.Fatalf("hits=%d opened=%v, want no request and no browser", hits, opened)
	}
	if _, err := os.Stat(cfg.OrdersFile()); !os.IsNotExist(err) {
		t.Fatal("orders.csv written despite refused URL")
	}
}

func TestRun_DownloadsWithDefaultLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Order number,Head,Body,Legs,Address\n9,1,1,1,Somewhere\n"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.OrdersURL = srv.URL + "/orders.csv"
	sess := newFakeSession(t)
	bot := New(cfg, WithOpener(func(context.Context, string) (Session, error) { return sess, nil }))

	report, err := bot.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Receipts) != 1 || report.Receipts[0].OrderNumber != "9" {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(cfg.OrdersFile()); err != nil {
		t.Fatalf("orders.csv not kept: %v", err)
	}
}

func TestRun_RerunOverwrites(t *testing.T) {
	cfg := testConfig(t)
	for i := 0; i < 2; i++ {
		h := newHarness(t, cfg, threeOrders)
		if _, err := h.bot.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	pdfs, _ := filepath.Glob(filepath.Join(cfg.ReceiptsDir(), "*.pdf"))
	pngs, _ := filepath.Glob(filepath.Join(cfg.ScreenshotsDir(), "*.png"))
	if len(pdfs) != 3 || len(pngs) != 3 {
		t.Fatalf("pdfs=%d pngs=%d, want 3/3", len(pdfs), len(pngs))
	}
	for _, p := range pdfs {
		if n, err := receipt.PageCount(p); err != nil || n != 2 {
			t.Fatalf("%s pages = %d, %v", p, n, err)
		}
	}
	if got := len(zipNames(t, cfg.ArchivePath())); got != 3 {
		t.Fatalf("archive entries = %d, want 3", got)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.Submit.Attempts = 10
	cfg.Submit.Backoff = time.Hour
	h := newHarness(t, cfg, threeOrders)
	h.sess.never["Address 1"] = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.bot.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := h.sess.count("click #order"); got != 1 {
		t.Fatalf("order clicks = %d, want 1", got)
	}
}

func TestSubmit_NoBackoffWhenZero(t *testing.T) {
	cfg := testConfig(t)
	cfg.Submit.Backoff = 0
	h := newHarness(t, cfg, threeOrders)
	h.sess.address = "x"
	h.sess.failBefore["x"] = 2

	attempts, err := h.bot.submit(context.Background(), h.sess, "1")
	if err != nil || attempts != 3 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
}

func TestOpenJournal_RecordsRun(t *testing.T) {
	cfg := testConfig(t)
	rec, closeDB, err := OpenJournal(cfg.Journal(), cfg.JournalBusyTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB()

	h := newHarness(t, cfg, threeOrders, WithRecorder(rec))
	report, err := h.bot.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(report.RunID, "run_") {
		t.Fatalf("run id = %q", report.RunID)
	}

	events, err := rec.(*journal.Journal).Orders(context.Background(), report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
}

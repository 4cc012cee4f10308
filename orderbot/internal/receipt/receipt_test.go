package receipt

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/hazyhaar/orderbot/orderbot/internal/receipt/receipttest"
)

type fakeRenderer struct {
	markup   string
	png      []byte
	pdf      []byte
	rendered string
	selector string
	shotErr  error
}

func (f *fakeRenderer) InnerHTML(_ context.Context, selector string) (string, error) {
	f.selector = selector
	return f.markup, nil
}

func (f *fakeRenderer) Screenshot(context.Context) ([]byte, error) {
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return f.png, nil
}

func (f *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	f.rendered = html
	return f.pdf, nil
}

func newBuilder(t *testing.T) *Builder {
	dir := t.TempDir()
	return New(Config{ReceiptsDir: dir + "/receipts", ScreenshotsDir: dir + "/screenshots"})
}

func newRenderer(t *testing.T) *fakeRenderer {
	return &fakeRenderer{
		markup: `<h3>Receipt</h3><p id="parts" onclick="steal()">Head: 1</p><script>alert(1)</script>`,
		png:    receipttest.PNG(t),
		pdf:    receipttest.PDF(t),
	}
}

func TestBuild(t *testing.T) {
	b := newBuilder(t)
	r := newRenderer(t)

	rec, err := b.Build(context.Background(), r, "17")
	if err != nil {
		t.Fatal(err)
	}
	if r.selector != "#order-completion" {
		t.Errorf("selector = %q", r.selector)
	}
	if !strings.HasSuffix(rec.PDFPath, "receipts/receipt-17.pdf") {
		t.Errorf("PDFPath = %q", rec.PDFPath)
	}
	if !strings.HasSuffix(rec.ScreenshotPath, "screenshots/screenshot-17.png") {
		t.Errorf("ScreenshotPath = %q", rec.ScreenshotPath)
	}
	if _, err := os.Stat(rec.ScreenshotPath); err != nil {
		t.Fatalf("screenshot missing: %v", err)
	}

	n, err := PageCount(rec.PDFPath)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("pages = %d, want 2 (confirmation + screenshot)", n)
	}

	if strings.Contains(r.rendered, "<script") || strings.Contains(r.rendered, "onclick") {
		t.Errorf("unsanitised markup rendered: %s", r.rendered)
	}
	if !strings.Contains(r.rendered, `<p id="parts">Head: 1</p>`) {
		t.Errorf("markup lost: %s", r.rendered)
	}
	if !strings.Contains(r.rendered, "<title>Receipt 17</title>") {
		t.Errorf("document title missing: %s", r.rendered)
	}
}

func TestBuild_OverwritesPreviousReceipt(t *testing.T) {
	b := newBuilder(t)
	r := newRenderer(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Build(ctx, r, "5"); err != nil {
			t.Fatalf("build %d: %v", i, err)
		}
	}
	n, err := PageCount(b.PDFPath("5"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("pages = %d after rebuild, want 2", n)
	}
}

func TestBuild_RejectsUnsafeOrderNumber(t *testing.T) {
	b := newBuilder(t)
	for _, n := range []string{"", "../5", "a/b"} {
		if _, err := b.Build(context.Background(), newRenderer(t), n); err == nil {
			t.Errorf("Build(%q): expected error", n)
		}
	}
}

func TestBuild_MergeFailureLeavesBasePDF(t *testing.T) {
	b := newBuilder(t)
	r := newRenderer(t)
	r.png = []byte("not a png")

	_, err := b.Build(context.Background(), r, "9")
	if err == nil {
		t.Fatal("expected embed error")
	}
	n, err := PageCount(b.PDFPath("9"))
	if err != nil {
		t.Fatalf("base pdf should remain readable: %v", err)
	}
	if n != 1 {
		t.Fatalf("pages = %d, want 1", n)
	}
}

func TestBuild_ScreenshotError(t *testing.T) {
	b := newBuilder(t)
	r := newRenderer(t)
	boom := errors.New("tab crashed")
	r.shotErr = boom

	if _, err := b.Build(context.Background(), r, "3"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped screenshot error, got %v", err)
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize(`  <div class="alert"><a href="javascript:x()">go</a><img src="/r.png" onerror="x()"></div> `)
	if strings.Contains(got, "javascript:") || strings.Contains(got, "onerror") {
		t.Fatalf("Sanitize kept unsafe content: %s", got)
	}
	if !strings.HasPrefix(got, `<div class="alert">`) {
		t.Fatalf("Sanitize dropped allowed markup: %s", got)
	}
}

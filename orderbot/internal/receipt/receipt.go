// CLAUDE:SUMMARY Builds per-order PDF receipts: sanitised confirmation markup rendered by Chrome, screenshot appended with pdfcpu.
// Package receipt turns an order confirmation into a PDF receipt with the
// page screenshot appended as a final page.
//
// Files are keyed by order number:
//
//	<ReceiptsDir>/receipt-<n>.pdf
//	<ScreenshotsDir>/screenshot-<n>.png
//
// Both are overwritten on every build; nothing accumulates across runs.
package receipt

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/orderbot/internal/horosafe"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// Renderer is the browser capability the builder needs. The page must be
// positioned on the completed order confirmation.
type Renderer interface {
	InnerHTML(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Config configures a Builder.
type Config struct {
	ReceiptsDir    string // Default: "output/receipts".
	ScreenshotsDir string // Default: "output/screenshots".
	// Selector of the confirmation region. Default: "#order-completion".
	Selector string
	// ConfirmationSelector locates the site-assigned order reference
	// inside the region. Default: ".badge-success".
	ConfirmationSelector string
	Logger               *slog.Logger
}

func (c *Config) defaults() {
	if c.ReceiptsDir == "" {
		c.ReceiptsDir = filepath.Join("output", "receipts")
	}
	if c.ScreenshotsDir == "" {
		c.ScreenshotsDir = filepath.Join("output", "screenshots")
	}
	if c.Selector == "" {
		c.Selector = "#order-completion"
	}
	if c.ConfirmationSelector == "" {
		c.ConfirmationSelector = ".badge-success"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Receipt describes the files produced for one order. Later stages use
// these paths rather than re-deriving them from the order number.
type Receipt struct {
	OrderNumber    string
	PDFPath        string
	ScreenshotPath string
	// Markup is the sanitised confirmation HTML that was rendered.
	Markup string
	// Confirmation is the reference the site printed on the receipt, if found.
	Confirmation string
}

// Builder writes receipts. It holds no per-order state.
type Builder struct {
	cfg Config
}

// New creates a Builder.
func New(cfg Config) *Builder {
	cfg.defaults()
	return &Builder{cfg: cfg}
}

// PDFPath returns the receipt path for an order number.
func (b *Builder) PDFPath(orderNumber string) string {
	return filepath.Join(b.cfg.ReceiptsDir, "receipt-"+orderNumber+".pdf")
}

// ScreenshotPath returns the screenshot path for an order number.
func (b *Builder) ScreenshotPath(orderNumber string) string {
	return filepath.Join(b.cfg.ScreenshotsDir, "screenshot-"+orderNumber+".png")
}

// Build captures the confirmation, writes the base PDF and the screenshot,
// then appends the screenshot to the PDF in place. If the append fails the
// base PDF is left on disk without the screenshot page.
func (b *Builder) Build(ctx context.Context, r Renderer, orderNumber string) (Receipt, error) {
	if err := horosafe.ValidateIdentifier(orderNumber); err != nil {
		return Receipt{}, fmt.Errorf("receipt: order number %q: %w", orderNumber, err)
	}
	rec := Receipt{
		OrderNumber:    orderNumber,
		PDFPath:        b.PDFPath(orderNumber),
		ScreenshotPath: b.ScreenshotPath(orderNumber),
	}

	raw, err := r.InnerHTML(ctx, b.cfg.Selector)
	if err != nil {
		return rec, fmt.Errorf("receipt: capture %s: %w", b.cfg.Selector, err)
	}
	rec.Markup = Sanitize(raw)
	rec.Confirmation = Confirmation(rec.Markup, b.cfg.ConfirmationSelector)

	doc, err := Document(orderNumber, rec.Markup)
	if err != nil {
		return rec, err
	}
	pdf, err := r.RenderPDF(ctx, doc)
	if err != nil {
		return rec, fmt.Errorf("receipt: render pdf: %w", err)
	}
	if err := writeFile(rec.PDFPath, pdf); err != nil {
		return rec, err
	}

	png, err := r.Screenshot(ctx)
	if err != nil {
		return rec, fmt.Errorf("receipt: screenshot: %w", err)
	}
	if err := writeFile(rec.ScreenshotPath, png); err != nil {
		return rec, err
	}

	if err := AppendImage(rec.PDFPath, rec.ScreenshotPath); err != nil {
		return rec, err
	}

	b.cfg.Logger.Debug("receipt: written",
		"order", orderNumber, "confirmation", rec.Confirmation,
		"pdf", rec.PDFPath, "screenshot", rec.ScreenshotPath)
	return rec, nil
}

// AppendImage appends imgPath as a new page of the PDF at pdfPath,
// rewriting it in place.
func AppendImage(pdfPath, imgPath string) error {
	conf := model.NewDefaultConfiguration()
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile([]string{imgPath}, pdfPath, imp, conf); err != nil {
		os.Remove(pdfPath + ".tmp")
		return fmt.Errorf("receipt: embed %s into %s: %w", imgPath, pdfPath, err)
	}
	return nil
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("receipt: page count %s: %w", path, err)
	}
	return n, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("receipt: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("receipt: write %s: %w", path, err)
	}
	return nil
}

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// Sanitize strips scripts, event handlers and remote references from the
// confirmation markup before it is handed back to the browser for printing.
func Sanitize(raw string) string {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("class", "id").Globally()
		p.AllowElements("section", "article", "header", "footer")
		policy = p
	})
	return strings.TrimSpace(policy.Sanitize(raw))
}

var docTmpl = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Receipt {{.Number}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Document wraps sanitised markup in a standalone HTML page.
func Document(orderNumber, markup string) (string, error) {
	var buf bytes.Buffer
	err := docTmpl.Execute(&buf, struct {
		Number string
		Body   template.HTML
	}{orderNumber, template.HTML(markup)})
	if err != nil {
		return "", fmt.Errorf("receipt: document: %w", err)
	}
	return buf.String(), nil
}

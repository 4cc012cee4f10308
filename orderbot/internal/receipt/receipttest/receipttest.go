// Package receipttest produces small valid PNG and PDF payloads for tests
// that fake the browser.
package receipttest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PNG returns an 8x8 opaque PNG.
func PNG(t testing.TB) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 30), B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("receipttest: encode png: %v", err)
	}
	return buf.Bytes()
}

// PDF returns a one-page PDF built from PNG.
func PDF(t testing.TB) []byte {
	t.Helper()
	api.DisableConfigDir()
	dir := t.TempDir()
	img := filepath.Join(dir, "page.png")
	if err := os.WriteFile(img, PNG(t), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "page.pdf")
	if err := api.ImportImagesFile([]string{img}, out, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		t.Fatalf("receipttest: build pdf: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// CLAUDE:SUMMARY HTTP downloader for the orders CSV: single GET, status check, bounded body, charset decoding, file write.
package source

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/orderbot/internal/horosafe"
)

// Config configures the Fetcher.
type Config struct {
	Timeout  time.Duration // HTTP timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect.
	// Default: horosafe.ValidateHTTPURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "orderbot/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateHTTPURL
	}
}

// StatusError is returned when the server answers outside 2xx.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: GET %s: http %d", e.URL, e.StatusCode)
}

// Fetcher downloads the orders CSV. There is no retry: a failed download
// aborts the run.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher that validates redirect targets.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Download fetches url and writes the body to dest, creating parent
// directories. It returns dest.
func (f *Fetcher) Download(ctx context.Context, url, dest string) (string, error) {
	if err := f.config.URLValidator(url); err != nil {
		return "", fmt.Errorf("source: URL rejected: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("source: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("source: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("source: read body: %w", err)
	}
	if body, err = toUTF8(body, resp.Header.Get("Content-Type")); err != nil {
		return "", fmt.Errorf("source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("source: mkdir: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("source: write %s: %w", dest, err)
	}
	return dest, nil
}

// toUTF8 transcodes a body whose Content-Type declares a legacy charset.
// Bodies without a charset parameter are stored as received.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return body, nil
	}
	enc, name := charset.Lookup(params["charset"])
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", params["charset"])
	}
	if name == "utf-8" {
		return body, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}

// Load downloads url to dest and parses it.
func (f *Fetcher) Load(ctx context.Context, url, dest string) ([]Order, error) {
	path, err := f.Download(ctx, url, dest)
	if err != nil {
		return nil, err
	}
	return ParseFile(path)
}

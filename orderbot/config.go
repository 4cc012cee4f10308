// CLAUDE:SUMMARY orderbot configuration: YAML file merged over defaults, site selector contract, derived output paths.
package orderbot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/orderbot/internal/horosafe"
)

// Failure policies for an order that cannot be completed.
const (
	// FailAbort stops the run at the first failing order. No archive is written.
	FailAbort = "abort"
	// FailSkip records the failure, reloads the site and continues.
	FailSkip = "skip"
)

// DefaultOrdersURL is the CSV published by the RobotSpareBin training site.
const DefaultOrdersURL = "https://robotsparebinindustries.com/orders.csv"

// JournalDisabled as journal_path turns the run journal off.
const JournalDisabled = "none"

// Config is the top-level orderbot configuration.
type Config struct {
	OrdersURL   string        `yaml:"orders_url"`
	SiteURL     string        `yaml:"site_url"`
	OutputDir   string        `yaml:"output_dir"`
	JournalPath string        `yaml:"journal_path"` // default <output_dir>/orderbot.db, "none" disables
	OnFailure   string        `yaml:"on_failure"`   // abort | skip
	Submit      SubmitConfig  `yaml:"submit"`
	Fetch       FetchConfig   `yaml:"fetch"`
	Browser     BrowserConfig `yaml:"browser"`
	Site        SiteConfig    `yaml:"site"`

	// JournalBusyTimeout bounds waits on a locked journal database.
	JournalBusyTimeout time.Duration `yaml:"journal_busy_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

// SubmitConfig bounds the order-button retry loop.
type SubmitConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"` // doubled after each failed attempt
}

// FetchConfig controls the CSV download.
type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
	// BlockPrivateHosts refuses orders URLs and redirects that resolve to
	// loopback or private addresses.
	BlockPrivateHosts bool `yaml:"block_private_hosts"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Headful           bool          `yaml:"headful"`
	XvfbDisplay       string        `yaml:"xvfb_display"`
	DisableStealth    bool          `yaml:"disable_stealth"`
	ResourceBlocking  []string      `yaml:"resource_blocking"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	VerifyTimeout     time.Duration `yaml:"verify_timeout"`
}

// SiteConfig is the element contract of the order site.
type SiteConfig struct {
	ModalButton     string `yaml:"modal_button"` // selector of the modal's buttons
	ModalText       string `yaml:"modal_text"`   // label of the acknowledgement button
	Head            string `yaml:"head"`
	BodyPrefix      string `yaml:"body_prefix"` // + Body value
	LegsPlaceholder string `yaml:"legs_placeholder"`
	Address         string `yaml:"address"`
	Order           string `yaml:"order"`
	Completion      string `yaml:"completion"`
	Receipt         string `yaml:"receipt"`      // region captured into the PDF
	Confirmation    string `yaml:"confirmation"` // order reference inside Receipt
	OrderAnother    string `yaml:"order_another"`
}

// DefaultSite returns the RobotSpareBin selectors.
func DefaultSite() SiteConfig {
	return SiteConfig{
		ModalButton:     "button",
		ModalText:       "OK",
		Head:            "#head",
		BodyPrefix:      "#id-body-",
		LegsPlaceholder: "Enter the part number for the legs",
		Address:         "#address",
		Order:           "#order",
		Completion:      "#order-completion",
		Receipt:         "#order-completion",
		Confirmation:    ".badge-success",
		OrderAnother:    "#order-another",
	}
}

// DefaultConfig returns sane defaults. SiteURL stays empty: it is asked
// from the operator when no flag or file provides it.
func DefaultConfig() *Config {
	return &Config{
		OrdersURL: DefaultOrdersURL,
		OutputDir: "output",
		OnFailure: FailAbort,
		Submit: SubmitConfig{
			Attempts: 5,
			Backoff:  250 * time.Millisecond,
		},
		Fetch: FetchConfig{
			Timeout:  30 * time.Second,
			MaxBytes: 10 << 20,
		},
		Browser: BrowserConfig{
			NavigationTimeout: 30 * time.Second,
			ActionTimeout:     15 * time.Second,
			VerifyTimeout:     3 * time.Second,
		},
		Site: DefaultSite(),

		JournalBusyTimeout: 10 * time.Second,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file or a literal.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.OrdersURL == "" {
		c.OrdersURL = def.OrdersURL
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.OnFailure == "" {
		c.OnFailure = def.OnFailure
	}
	if c.Submit.Attempts <= 0 {
		c.Submit.Attempts = def.Submit.Attempts
	}
	if c.Submit.Backoff < 0 {
		c.Submit.Backoff = 0
	}
	if c.JournalBusyTimeout <= 0 {
		c.JournalBusyTimeout = def.JournalBusyTimeout
	}
	s, d := &c.Site, def.Site
	orDefault(&s.ModalButton, d.ModalButton)
	orDefault(&s.ModalText, d.ModalText)
	orDefault(&s.Head, d.Head)
	orDefault(&s.BodyPrefix, d.BodyPrefix)
	orDefault(&s.LegsPlaceholder, d.LegsPlaceholder)
	orDefault(&s.Address, d.Address)
	orDefault(&s.Order, d.Order)
	orDefault(&s.Completion, d.Completion)
	orDefault(&s.Receipt, d.Receipt)
	orDefault(&s.Confirmation, d.Confirmation)
	orDefault(&s.OrderAnother, d.OrderAnother)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func orDefault(v *string, d string) {
	if *v == "" {
		*v = d
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if err := horosafe.ValidateHTTPURL(c.OrdersURL); err != nil {
		return fmt.Errorf("orders_url: %w", err)
	}
	if c.SiteURL == "" {
		return fmt.Errorf("site_url is required")
	}
	if err := horosafe.ValidateHTTPURL(c.SiteURL); err != nil {
		return fmt.Errorf("site_url: %w", err)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	switch c.OnFailure {
	case FailAbort, FailSkip:
	default:
		return fmt.Errorf("unsupported on_failure %q (use %s or %s)", c.OnFailure, FailAbort, FailSkip)
	}
	if c.Submit.Attempts < 1 {
		return fmt.Errorf("submit.attempts must be >= 1")
	}
	return nil
}

// OrdersFile is where the downloaded CSV is written.
func (c *Config) OrdersFile() string { return filepath.Join(c.OutputDir, "orders.csv") }

// ReceiptsDir holds receipt-<n>.pdf files.
func (c *Config) ReceiptsDir() string { return filepath.Join(c.OutputDir, "receipts") }

// ScreenshotsDir holds screenshot-<n>.png files.
func (c *Config) ScreenshotsDir() string { return filepath.Join(c.OutputDir, "screenshots") }

// ArchivePath is the final zip of the receipts directory.
func (c *Config) ArchivePath() string { return filepath.Join(c.OutputDir, "receipts.zip") }

// Journal returns the journal database path, "" when disabled.
func (c *Config) Journal() string {
	switch c.JournalPath {
	case JournalDisabled:
		return ""
	case "":
		return filepath.Join(c.OutputDir, "orderbot.db")
	}
	return c.JournalPath
}

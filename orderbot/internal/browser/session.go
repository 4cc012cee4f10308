// CLAUDE:SUMMARY Session wraps one Rod tab on the order site: form actions, visibility checks, capture and print-to-PDF.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Session is one tab on the order site. It is owned by the caller and
// passed explicitly to every step; nothing in this package keeps a
// process-wide current page.
type Session struct {
	Page    *rod.Page
	PageURL string
	mgr     *Manager
	blocker *blocker
}

// Open creates a new tab, navigates to pageURL and waits for load.
func Open(ctx context.Context, mgr *Manager, pageURL string) (*Session, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.DisableStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	s := &Session{Page: page, PageURL: pageURL, mgr: mgr}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		s.blocker = newBlocker(mgr.cfg.ResourceBlocking)
		s.blocker.attach(page)
	}

	if err := s.Navigate(ctx, pageURL); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Navigate loads pageURL in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigationTimeout)
	defer cancel()

	p := s.Page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	s.PageURL = pageURL
	return nil
}

// with runs fn on the first element matching selector. The lookup waits
// up to ActionTimeout for the element to exist.
func (s *Session) with(ctx context.Context, selector string, fn func(*rod.Element) error) error {
	p := s.Page.Context(ctx).Timeout(s.mgr.cfg.ActionTimeout)
	defer p.CancelTimeout()

	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	return fn(el)
}

// Click clicks the element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.with(ctx, selector, func(el *rod.Element) error {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("browser: click %s: %w", selector, err)
		}
		return nil
	})
}

// ClickText clicks the first element matching selector whose text is
// exactly text (surrounding whitespace ignored).
func (s *Session) ClickText(ctx context.Context, selector, text string) error {
	p := s.Page.Context(ctx).Timeout(s.mgr.cfg.ActionTimeout)
	defer p.CancelTimeout()

	el, err := p.ElementR(selector, textPattern(text))
	if err != nil {
		return fmt.Errorf("browser: find %s %q: %w", selector, text, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s %q: %w", selector, text, err)
	}
	return nil
}

// SelectOption selects the <option> whose value attribute equals value.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	return s.with(ctx, selector, func(el *rod.Element) error {
		opt := []string{optionSelector(value)}
		if err := el.Select(opt, true, rod.SelectorTypeCSSSector); err != nil {
			return fmt.Errorf("browser: select %s=%q: %w", selector, value, err)
		}
		return nil
	})
}

// Check ensures the checkbox or radio matching selector is checked.
func (s *Session) Check(ctx context.Context, selector string) error {
	return s.with(ctx, selector, func(el *rod.Element) error {
		checked, err := el.Property("checked")
		if err != nil {
			return fmt.Errorf("browser: read %s: %w", selector, err)
		}
		if checked.Bool() {
			return nil
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("browser: check %s: %w", selector, err)
		}
		return nil
	})
}

// Fill replaces the value of the input matching selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.with(ctx, selector, func(el *rod.Element) error {
		if err := el.SelectAllText(); err != nil {
			return fmt.Errorf("browser: clear %s: %w", selector, err)
		}
		if err := el.Input(value); err != nil {
			return fmt.Errorf("browser: fill %s: %w", selector, err)
		}
		return nil
	})
}

// Visible reports whether an element matching selector becomes visible
// within VerifyTimeout. Absence is not an error.
func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p := s.Page.Context(ctx).Timeout(s.mgr.cfg.VerifyTimeout)
	defer p.CancelTimeout()

	el, err := p.Element(selector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, fmt.Errorf("browser: visible %s: %w", selector, err)
}

// InnerHTML returns the inner markup of the element matching selector.
func (s *Session) InnerHTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := s.with(ctx, selector, func(el *rod.Element) error {
		res, err := el.Eval(`() => this.innerHTML`)
		if err != nil {
			return fmt.Errorf("browser: inner html %s: %w", selector, err)
		}
		html = res.Value.Str()
		return nil
	})
	return html, err
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.Page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// RenderPDF prints html to PDF in a scratch tab, leaving the order tab
// untouched.
func (s *Session) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	b := s.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	scratch, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("browser: create print tab: %w", err)
	}
	defer scratch.Close()

	p := scratch.Context(ctx).Timeout(s.mgr.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	if err := p.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("browser: set document: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		s.mgr.cfg.Logger.Debug("browser: print tab load", "error", err)
	}

	r, err := p.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, fmt.Errorf("browser: print to pdf: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("browser: read pdf: %w", err)
	}
	return data, nil
}

// Close stops request interception and closes the tab.
func (s *Session) Close() error {
	if s.blocker != nil {
		if counts := s.blocker.stop(); len(counts) > 0 {
			s.mgr.cfg.Logger.Debug("browser: blocked requests", append([]any{"url", s.PageURL}, counts...)...)
		}
		s.blocker = nil
	}
	if s.Page != nil {
		return s.Page.Close()
	}
	return nil
}

func textPattern(text string) string {
	return `^\s*` + regexp.QuoteMeta(text) + `\s*$`
}

func optionSelector(value string) string {
	return fmt.Sprintf("option[value=%q]", value)
}

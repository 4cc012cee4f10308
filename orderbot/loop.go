// CLAUDE:SUMMARY Per-order steps: validate row, dismiss modal, fill form, bounded submit retry, receipt, next order.
package orderbot

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/orderbot/internal/horosafe"
	"github.com/hazyhaar/orderbot/orderbot/internal/receipt"
	"github.com/hazyhaar/orderbot/orderbot/internal/source"
)

// processOrder runs every step for one row. It returns the number of
// submit attempts made (0 if submission was never reached).
func (b *Bot) processOrder(ctx context.Context, s Session, o source.Order) (receipt.Receipt, int, *OrderError) {
	site := b.cfg.Site
	fail := func(step string, err error) *OrderError {
		return &OrderError{Number: o.Number(), Line: o.Line, Step: step, Err: err}
	}

	// Nothing is typed into the page for an incomplete row.
	if err := o.Require(source.RequiredColumns...); err != nil {
		return receipt.Receipt{}, 0, fail("validate", err)
	}
	if err := horosafe.ValidateIdentifier(o.Number()); err != nil {
		return receipt.Receipt{}, 0, fail("validate", fmt.Errorf("order number: %w", err))
	}

	if err := s.ClickText(ctx, site.ModalButton, site.ModalText); err != nil {
		return receipt.Receipt{}, 0, fail("modal", err)
	}
	if err := b.fillForm(ctx, s, o); err != nil {
		return receipt.Receipt{}, 0, fail("form", err)
	}

	attempts, err := b.submit(ctx, s, o.Number())
	if err != nil {
		return receipt.Receipt{}, attempts, fail("submit", err)
	}

	rec, err := b.builder.Build(ctx, s, o.Number())
	if err != nil {
		return rec, attempts, fail("receipt", err)
	}

	if err := s.Click(ctx, site.OrderAnother); err != nil {
		return rec, attempts, fail("next", err)
	}
	return rec, attempts, nil
}

// fillForm expects a row that passed Require.
func (b *Bot) fillForm(ctx context.Context, s Session, o source.Order) error {
	site := b.cfg.Site
	head, _ := o.Get(source.ColHead)
	body, _ := o.Get(source.ColBody)
	legs, _ := o.Get(source.ColLegs)
	addr, _ := o.Get(source.ColAddress)

	// Body becomes part of an element id selector.
	if err := horosafe.ValidateIdentifier(body); err != nil {
		return fmt.Errorf("body %q: %w", body, err)
	}

	if err := s.SelectOption(ctx, site.Head, head); err != nil {
		return err
	}
	if err := s.Check(ctx, site.BodyPrefix+body); err != nil {
		return err
	}
	if err := s.Fill(ctx, placeholderSelector(site.LegsPlaceholder), legs); err != nil {
		return err
	}
	return s.Fill(ctx, site.Address, addr)
}

// submit clicks the order button until the completion marker is visible,
// at most Submit.Attempts times, doubling Submit.Backoff between tries.
// It returns the number of attempts made.
func (b *Bot) submit(ctx context.Context, s Session, number string) (int, error) {
	site := b.cfg.Site
	limit := b.cfg.Submit.Attempts
	wait := b.cfg.Submit.Backoff

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		err := s.Click(ctx, site.Order)
		if err == nil {
			var ok bool
			ok, err = s.Visible(ctx, site.Completion)
			if err == nil && ok {
				return attempt, nil
			}
			if err == nil {
				err = errNotConfirmed
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt == limit {
			break
		}

		b.logger.WarnContext(ctx, "orderbot: order not confirmed, retrying",
			"order", number,
			"attempt", attempt,
			"max_attempts", limit,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		if err := sleepCtx(ctx, wait); err != nil {
			return attempt, err
		}
		wait *= 2
	}
	return limit, &SubmitError{Number: number, Attempts: limit, Cause: lastErr}
}

func placeholderSelector(placeholder string) string {
	return fmt.Sprintf("input[placeholder=%q]", placeholder)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CLAUDE:SUMMARY Blocking terminal prompt for the order site URL, built on survey/v2.
// Package prompt asks the operator for configuration values on the
// terminal. It is only used when a value was not supplied by flag or file.
package prompt

import (
	"context"
	"errors"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/hazyhaar/orderbot/internal/horosafe"
)

// ErrAborted signals the operator aborted input (Ctrl+C).
var ErrAborted = errors.New("prompt: aborted")

// InputConfig configures a text input prompt.
type InputConfig struct {
	Message   string
	Default   string
	Help      string
	Validator func(string) error
}

// Driver abstracts the terminal so callers can be tested without one.
type Driver interface {
	Input(ctx context.Context, cfg InputConfig) (string, error)
}

// Survey is the terminal Driver.
type Survey struct {
	// Opts are passed to every survey.AskOne call (stdio overrides in tests).
	Opts []survey.AskOpt
}

// Input shows a single-line prompt and blocks until the operator submits.
func (d *Survey) Input(ctx context.Context, cfg InputConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	p := &survey.Input{
		Message: cfg.Message,
		Help:    cfg.Help,
		Default: cfg.Default,
	}
	opts := append([]survey.AskOpt{}, d.Opts...)
	if cfg.Validator != nil {
		opts = append(opts, survey.WithValidator(func(ans interface{}) error {
			s, _ := ans.(string)
			return cfg.Validator(strings.TrimSpace(s))
		}))
	}
	if err := survey.AskOne(p, &out, opts...); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return "", ErrAborted
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// URL prompts for an http(s) URL.
func URL(ctx context.Context, d Driver, message, def string) (string, error) {
	if d == nil {
		d = &Survey{}
	}
	return d.Input(ctx, InputConfig{
		Message:   message,
		Default:   def,
		Help:      "Full http(s) URL, e.g. https://robotsparebinindustries.com/#/robot-order",
		Validator: horosafe.ValidateHTTPURL,
	})
}

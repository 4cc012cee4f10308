package orderbot

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSubmitFailed matches every *SubmitError.
var ErrSubmitFailed = errors.New("orderbot: order submission failed")

// errNotConfirmed is the cause recorded when the order button was clicked
// but the completion marker never showed.
var errNotConfirmed = errors.New("completion marker not visible")

// SubmitError is returned when the order was not confirmed after the
// configured number of attempts.
type SubmitError struct {
	Number   string
	Attempts int
	Cause    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("orderbot: order %s not confirmed after %d attempt(s): %v", e.Number, e.Attempts, e.Cause)
}

func (e *SubmitError) Unwrap() error { return e.Cause }

func (e *SubmitError) Is(target error) bool { return target == ErrSubmitFailed }

// OrderError attributes a failure to one order row and pipeline step.
type OrderError struct {
	Number string
	Line   int
	Step   string // validate | modal | form | submit | receipt | next
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("orderbot: order %s: %s: %v", e.label(), e.Step, e.Err)
}

// label is the order number, or the CSV row for rows without one.
func (e *OrderError) label() string {
	if e.Number == "" {
		return fmt.Sprintf("row %d", e.Line)
	}
	return e.Number
}

func (e *OrderError) Unwrap() error { return e.Err }

// RunError is returned by Run under the skip policy when some orders
// failed but the run itself completed.
type RunError struct {
	Failures []*OrderError
}

func (e *RunError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.label()
	}
	return fmt.Sprintf("orderbot: %d order(s) failed: %s", len(e.Failures), strings.Join(ids, ", "))
}

// Unwrap exposes every failure to errors.Is / errors.As.
func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

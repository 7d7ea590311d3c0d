package worker

import (
	"errors"

	"commercepulse/internal/models"
)

// maxErrorMessageLen caps error_message on the run row, truncation
// indicator included.
const (
	maxErrorMessageLen = 1000
	truncationSuffix   = "... (truncated)"
)

// coded is satisfied by the client error types; RunCode returns one of the
// models.ErrCode* values.
type coded interface {
	RunCode() string
}

// runError attaches a code to failures raised inside a handler, e.g.
// warehouse write errors.
type runError struct {
	code string
	err  error
}

func (e *runError) Error() string   { return e.err.Error() }
func (e *runError) RunCode() string { return e.code }
func (e *runError) Unwrap() error   { return e.err }

// classify maps a handler failure to the (error_code, error_message) pair
// stored on the run. Errors without a code land as worker_error.
func classify(err error) (code, message string) {
	message = truncateMessage(err.Error())
	var c coded
	if errors.As(err, &c) {
		return c.RunCode(), message
	}
	return models.ErrCodeWorker, message
}

func truncateMessage(s string) string {
	r := []rune(s)
	if len(r) <= maxErrorMessageLen {
		return s
	}
	keep := maxErrorMessageLen - len(truncationSuffix)
	return string(r[:keep]) + truncationSuffix
}

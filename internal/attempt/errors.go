// File: internal/attempt/errors.go
package attempt

import (
	"context"
	"errors"
	"fmt"
)

// Attempt-scoped failures. Each aborts at most one target; the orchestrator
// records it and moves on. None is retried internally.
var (
	// ErrEntryNotFound means the start/continue control never appeared. The
	// test may already be finished, or the page layout is foreign.
	ErrEntryNotFound = errors.New("entry control missing")

	// ErrFinishControlNotFound means the attempt reached its last page but
	// the submit control could not be clicked.
	ErrFinishControlNotFound = errors.New("finish control missing")

	// ErrNavigationTimeout means the target page never finished loading.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrElementNotReady means a single element wait elapsed. Question-scoped
	// occurrences are downgraded to skip-and-continue by the driver.
	ErrElementNotReady = errors.New("element not ready")
)

// notReady folds a session wait failure into ErrElementNotReady, unless the
// caller's context is what killed the wait, in which case the cancellation
// must propagate as-is so the attempt aborts instead of skipping questions.
func notReady(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrElementNotReady, err)
}

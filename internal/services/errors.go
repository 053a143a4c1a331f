package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks recoverable failures (network, timeouts) that the
	// task queue should retry with backoff.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks unrecoverable failures (malformed content,
	// unsupported format) that must not be retried.
	ErrPermanent = errors.New("permanent failure")
	// ErrDuplicate marks idempotent no-ops such as re-discovering a known
	// article. Never surfaced as a stage failure.
	ErrDuplicate = errors.New("duplicate item")
	// ErrContention marks a lost claim race; callers simply retry the claim.
	ErrContention = errors.New("queue contention")
	// ErrConfiguration marks invalid configuration. Fatal at startup only.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups of unknown items or tasks.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later retry classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error should go back through the queue's
// backoff policy. Unclassified errors are treated as transient so that flaky
// collaborators get their full retry budget.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPermanent),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrContentFiltered is returned by providers that refused the prompt or reply on safety grounds.
	ErrContentFiltered = errors.New("content filtered")
	// ErrQuotaExceeded is returned by providers when the account quota or rate limit is exhausted.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// FailureKind enumerates the ways a completion can fail.
type FailureKind string

const (
	FailureContentFiltered FailureKind = "content_filtered"
	FailureQuotaExceeded   FailureKind = "quota_exceeded"
	FailureTimeout         FailureKind = "timeout"
	FailureUnknown         FailureKind = "unknown"
)

// Message is the user presentable text for the kind.
func (k FailureKind) Message() string {
	switch k {
	case FailureContentFiltered:
		return "Message blocked for safety reasons."
	case FailureQuotaExceeded:
		return "API quota exceeded. Try again later."
	case FailureTimeout:
		return "Request timeout. Please try again."
	default:
		return "Sorry, I encountered an error. Please try again."
	}
}

// FailureError is the single error type surfaced by the completion gateway.
type FailureError struct {
	Kind FailureKind
	Err  error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion failed: %s", e.Kind)
	}
	return fmt.Sprintf("completion failed: %s: %v", e.Kind, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Description is the user-facing rendering of an error: what happened, whether a
// retry could help, and what to tell the user.
type Description struct {
	Message    string `json:"error"`
	Retryable  bool   `json:"retryable"`
	Suggestion string `json:"suggestion"`
}

// MapError maps provider and transport errors onto the chorus taxonomy.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	// Already categorized. ErrModelCall and ErrInternal are too coarse to stop at,
	// the wrapped provider message decides.
	for _, category := range []error{
		ErrPermissionDenied, ErrInvalidInput, ErrNotFound, ErrTransient,
		ErrInvalidModelOutput, ErrToolFailed, ErrQuotaTracking, ErrQuotaExceeded,
	} {
		if errors.Is(err, category) {
			return err
		}
	}

	// Propagate context errors as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "forbidden"), strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "authentication"), strings.Contains(errStr, "401"), strings.Contains(errStr, "403"):
		return fmt.Errorf("access denied: %w", ErrPermissionDenied)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "overloaded"), strings.Contains(errStr, "429"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "invalid model output"), strings.Contains(errStr, "malformed json"), strings.Contains(errStr, "invalid json"):
		return fmt.Errorf("invalid model output: %w", ErrInvalidModelOutput)

	case strings.Contains(errStr, "invalid input"), strings.Contains(errStr, "invalid request"), strings.Contains(errStr, "bad request"):
		return fmt.Errorf("invalid request: %w", ErrInvalidInput)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("network error: %w", ErrTransient)

	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable reports whether offering the user a retry makes sense.
// Anything resembling an authorization failure is final; everything else is worth
// another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(MapError(err), ErrPermissionDenied)
}

// Describe renders err for the wire-level error frame.
func Describe(err error) Description {
	if err == nil {
		return Description{}
	}

	mapped := MapError(err)
	desc := Description{
		Message:   err.Error(),
		Retryable: IsRetryable(err),
	}

	switch {
	case errors.Is(mapped, ErrPermissionDenied):
		desc.Suggestion = "The assistant is not authorized to answer right now. Please contact support."
	case errors.Is(mapped, ErrQuotaExceeded):
		desc.Suggestion = "You have used all messages for this session. Start a new session to continue."
	case errors.Is(mapped, ErrInvalidInput):
		desc.Suggestion = "The assistant could not process this request. Try again, or rephrase your message."
	case errors.Is(mapped, ErrTransient):
		desc.Suggestion = "The assistant is busy. Wait a moment and try again."
	case errors.Is(mapped, ErrQuotaTracking):
		desc.Suggestion = "We could not record your message. Please try again shortly."
	default:
		desc.Suggestion = "Something went wrong while generating the response. Please try again."
	}

	return desc
}

// Category returns the chorus error category name for an error
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "ErrPermissionDenied"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrModelCall):
		return "ErrModelCall"
	case errors.Is(err, ErrInvalidModelOutput):
		return "ErrInvalidModelOutput"
	case errors.Is(err, ErrToolFailed):
		return "ErrToolFailed"
	case errors.Is(err, ErrQuotaTracking):
		return "ErrQuotaTracking"
	case errors.Is(err, ErrQuotaExceeded):
		return "ErrQuotaExceeded"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a category while keeping the cause in the chain
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %w", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// PermissionDenied wraps error as permission denied
func PermissionDenied(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPermissionDenied)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// InvalidModelOutput wraps error as invalid model output
func InvalidModelOutput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidModelOutput)
}

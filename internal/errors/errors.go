package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrPermissionDenied - caller is not allowed to do this (never retryable)
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput - request is malformed or missing required fields
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error (network, rate limit, timeout)
	ErrTransient = errors.New("transient error")

	// ErrModelCall - the LLM client failed; fatal to the current run
	ErrModelCall = errors.New("model call failed")

	// ErrInvalidModelOutput - model returned a response we cannot interpret
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrToolFailed - a single tool failed; recorded in the result batch, never fatal
	ErrToolFailed = errors.New("tool execution failed")

	// ErrQuotaTracking - the message counter could not be updated; requests fail closed
	ErrQuotaTracking = errors.New("quota tracking failed")

	// ErrQuotaExceeded - the session used up its message allowance (business outcome)
	ErrQuotaExceeded = errors.New("message limit reached")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)

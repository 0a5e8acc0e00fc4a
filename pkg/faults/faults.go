// Package faults distinguishes the two error kinds that drive the worker's
// queue behavior: retryable infrastructure faults (message left for
// redelivery) and non-retryable data/config faults (terminal, message
// deleted).
package faults

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// RetryableError marks an infrastructure fault that may succeed on retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks a deterministic fault that must not be retried.
// Code is the run-level error code written to the run record.
type NonRetryableError struct {
	Code    string
	Message string
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable wraps err as a retryable fault.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// NonRetryable builds a terminal fault with a run-level error code.
func NonRetryable(code, message string) error {
	return &NonRetryableError{Code: code, Message: message}
}

// IsRetryable reports whether err is tagged retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsNonRetryable reports whether err is tagged non-retryable.
func IsNonRetryable(err error) bool {
	var ne *NonRetryableError
	return errors.As(err, &ne)
}

// FromStore classifies an error returned by an AWS-backed adapter. Service
// API errors, transport faults, and context cancellation all count as
// retryable infrastructure faults.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) || IsNonRetryable(err) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return Retryable(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Retryable(err)
	}
	return Retryable(err)
}

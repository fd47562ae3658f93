package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// ActionError is the canonical failure envelope. Every non-success outcome
// surfaces as exactly one ActionError.
type ActionError struct {
	Code          types.ErrorCode     `json:"code"`
	Message       string              `json:"message"`
	Details       map[string]any      `json:"details,omitempty"`
	CorrelationID types.CorrelationID `json:"correlation_id,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	RetryAfter    *int                `json:"retry_after,omitempty"`
	RetryCount    int                 `json:"retry_count,omitempty"`
}

// Error implements error
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the pipeline may retry the failed attempt
func (e *ActionError) Retryable() bool {
	return e.Code.Retryable()
}

// Detail returns a single details entry
func (e *ActionError) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// Copy returns a copy that can be stamped without affecting the original
func (e *ActionError) Copy() *ActionError {
	if e == nil {
		return nil
	}
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	if e.RetryAfter != nil {
		v := *e.RetryAfter
		c.RetryAfter = &v
	}
	return &c
}

// ActionErrorOption configures NewActionError
type ActionErrorOption func(*ActionError)

// WithDetails merges details into the error
func WithDetails(details map[string]any) ActionErrorOption {
	return func(e *ActionError) {
		for k, v := range details {
			e.Details[k] = v
		}
	}
}

// WithDetail sets a single details entry
func WithDetail(key string, value any) ActionErrorOption {
	return func(e *ActionError) {
		e.Details[key] = value
	}
}

// WithRetryAfter sets retry_after in seconds. Negative values are ignored.
func WithRetryAfter(seconds int) ActionErrorOption {
	return func(e *ActionError) {
		if seconds < 0 {
			return
		}
		e.RetryAfter = &seconds
	}
}

// WithCorrelationID echoes the inbound correlation id
func WithCorrelationID(id types.CorrelationID) ActionErrorOption {
	return func(e *ActionError) {
		e.CorrelationID = id
	}
}

// WithRetryCount records the number of attempts made
func WithRetryCount(n int) ActionErrorOption {
	return func(e *ActionError) {
		e.RetryCount = n
	}
}

// NewActionError builds an ActionError stamped with the current UTC time
func NewActionError(code types.ErrorCode, message string, opts ...ActionErrorOption) *ActionError {
	e := &ActionError{
		Code:      code,
		Message:   message,
		Details:   map[string]any{},
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.Details) == 0 {
		e.Details = nil
	}
	return e
}

// ActionErrorFrom extracts an ActionError from a wrapped error chain
func ActionErrorFrom(err error) (*ActionError, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ErrorResponse is the wire shape of a failed request
type ErrorResponse struct {
	Error *ActionError `json:"error"`
}

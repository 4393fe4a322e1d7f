// Package errors defines the error taxonomy shared by every candlecache
// component.
//
// This file provides:
// - Sentinel errors for the four failure categories (validation, fetch,
//   integrity, lock) and for provider failure classes
// - Typed errors carrying the key, range or partition that failed
// - Category checking functions, including IsRetriable for the fetcher
// - Error wrapping utilities and a validation error collector
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Categories surfaced to callers.
	ErrValidation = errors.New("validation error")
	ErrFetch      = errors.New("fetch error")
	ErrIntegrity  = errors.New("integrity error")
	ErrLock       = errors.New("lock error")

	// Validation details
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrInvalidRange     = errors.New("invalid range")
	ErrInvalidSource    = errors.New("invalid source")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingField     = errors.New("missing required field")

	// Provider failure classes
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("timeout")
	ErrTransient   = errors.New("transient provider failure")
	ErrUpstream    = errors.New("upstream error")

	// Lifecycle
	ErrClosed   = errors.New("closed")
	ErrReadOnly = errors.New("catalog is read-only")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrInvalidTimeframe) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsFetch returns true if err reports an exhausted or terminal fetch.
func IsFetch(err error) bool {
	return errors.Is(err, ErrFetch)
}

// IsIntegrity returns true if err reports a catalog/partition inconsistency.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsLock returns true if err reports a catalog lock conflict.
func IsLock(err error) bool {
	return errors.Is(err, ErrLock) || errors.Is(err, ErrReadOnly)
}

// IsRetriable returns true if a provider failure is worth another attempt.
// Anything not positively identified as transient is terminal.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrInvalidTimeframe) {
		return false
	}
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// ============================================================================
// Typed errors
// ============================================================================

// FetchError reports a sub-range that could not be retrieved.
type FetchError struct {
	Key      string
	Start    time.Time
	End      time.Time
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s [%s..%s] failed after %d attempt(s): %v",
		e.Key, e.Start.Format(time.DateOnly), e.End.Format(time.DateOnly), e.Attempts, e.Err)
}

// Unwrap exposes both the category and the provider cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

// IntegrityError reports a partition that disagrees with the catalog.
type IntegrityError struct {
	Key    string
	Date   string
	Path   string
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	b.WriteString("integrity: ")
	b.WriteString(e.Key)
	if e.Date != "" {
		b.WriteString(" ")
		b.WriteString(e.Date)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntegrity}
	}
	return []error{ErrIntegrity, e.Err}
}

// NewIntegrity creates an integrity error for one partition.
func NewIntegrity(key, date, path, reason string, err error) error {
	return &IntegrityError{Key: key, Date: date, Path: path, Reason: reason, Err: err}
}

// NewLock wraps a lock conflict.
func NewLock(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", reason, ErrLock)
	}
	return fmt.Errorf("%s: %w: %w", reason, ErrLock, err)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrValidation)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w: %w", field, ErrMissingField, ErrValidation)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrValidation)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes every collected error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}

package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoActiveScope = errors.New("no active tenancy scope")
)

var (
	ErrUnknownDomain         = errors.New("unknown domain")
	ErrImpersonationDisabled = errors.New("impersonation disabled")
	ErrTokenNotFound         = errors.New("impersonation token not found")
	ErrTokenExpired          = errors.New("impersonation token expired")
	ErrTokenAlreadyUsed      = errors.New("impersonation token already used")
	ErrTooManyAttempts       = errors.New("too many attempts")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrPanelAccessDenied     = errors.New("panel access denied")
)

// ThrottleError is returned by the authentication gate while a key is
// throttled. It matches ErrTooManyAttempts.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %d seconds", e.Seconds())
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

// Seconds rounds the retry hint up to whole seconds, never below one.
func (e *ThrottleError) Seconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// ValidationError collects per-field messages. It matches ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func FieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
)

// The router's error taxonomy. Every failure surfaced by the core falls
// into one of these families so that callers (the API layer) can map them
// to transport-level responses without string matching:
//
//   - InputError: the caller's request is invalid. Rejected immediately,
//     no side effects.
//   - UpstreamError: an external collaborator (embedding, completion,
//     sentiment service) failed. Carries the upstream kind and whether a
//     retry is worthwhile.
//   - PersistenceError: the store failed. Non-critical read paths degrade
//     instead of propagating these; cache writes never propagate them.

// UpstreamKind classifies external service failures.
type UpstreamKind string

const (
	// UpstreamRateLimited means the service throttled us; retryable after
	// a delay.
	UpstreamRateLimited UpstreamKind = "rate_limited"

	// UpstreamInvalidInput means the service rejected the request content;
	// never retryable.
	UpstreamInvalidInput UpstreamKind = "invalid_input"

	// UpstreamUnavailable means the service could not be reached or
	// returned a server error; retryable.
	UpstreamUnavailable UpstreamKind = "unavailable"
)

// InputError indicates an invalid caller request (missing or empty required
// fields). Operations return it before any side effect occurs.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// NewInputError creates an InputError for a named field.
func NewInputError(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// UpstreamError indicates a failure in an external collaborator.
type UpstreamError struct {
	Service string
	Kind    UpstreamKind
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream failure (%s): %v", e.Service, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the call may succeed.
func (e *UpstreamError) Retryable() bool {
	return e.Kind == UpstreamRateLimited || e.Kind == UpstreamUnavailable
}

// NewUpstreamError wraps an external service failure.
func NewUpstreamError(service string, kind UpstreamKind, err error) *UpstreamError {
	return &UpstreamError{Service: service, Kind: kind, Err: err}
}

// IsUpstreamError reports whether err is (or wraps) an UpstreamError,
// returning it for kind inspection.
func IsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsRateLimited reports whether err is an upstream rate-limit failure.
func IsRateLimited(err error) bool {
	ue, ok := IsUpstreamError(err)
	return ok && ue.Kind == UpstreamRateLimited
}

// PersistenceError indicates a store read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps a store failure with the failing operation name.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

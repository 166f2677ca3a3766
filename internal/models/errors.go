package models

import (
	"errors"
	"fmt"
)

// ErrorKind partitions probe failures by how the strategy should react.
type ErrorKind string

const (
	ErrTransientNetwork ErrorKind = "transient_network"
	ErrProtocolRefusal  ErrorKind = "protocol_refusal"
	ErrProviderThrottle ErrorKind = "provider_throttle"
	ErrParseAmbiguous   ErrorKind = "parse_ambiguous"
	ErrConfigMissing    ErrorKind = "configuration_missing"
	ErrFatalInternal    ErrorKind = "fatal_internal"
)

// ProbeError wraps an underlying failure with its classification.
type ProbeError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// NewProbeError builds a classified error. A nil cause is allowed for
// conditions like missing configuration where there is no lower error.
func NewProbeError(kind ErrorKind, err error) *ProbeError {
	return &ProbeError{Kind: kind, Err: err}
}

// KindOf reports the classification of err, or ErrFatalInternal when the
// error carries no classification.
func KindOf(err error) ErrorKind {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrFatalInternal
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return KindOf(err) == ErrTransientNetwork
}

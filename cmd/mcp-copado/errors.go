package main

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures. The kind decides whether a live
// failure falls back to the fixture or reaches the caller.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// GatewayError is returned by CopadoClient, FixtureStore and Remote.
type GatewayError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func validationError(op, format string, args ...interface{}) error {
	return &GatewayError{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func notFoundError(op, format string, args ...interface{}) error {
	return &GatewayError{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

func transportError(op string, err error) error {
	return &GatewayError{Kind: KindTransport, Op: op, Err: err}
}

func errorKind(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return 0
}

// IsValidation reports whether err is a caller-input failure.
func IsValidation(err error) bool {
	return errorKind(err) == KindValidation
}

// IsNotFound reports whether err names a missing record.
func IsNotFound(err error) bool {
	return errorKind(err) == KindNotFound
}

// IsTransport reports whether err came from the remote service.
func IsTransport(err error) bool {
	return errorKind(err) == KindTransport
}

// ConfigError represents a configuration problem that should fail fast.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

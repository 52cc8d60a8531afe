// Package fxerrors defines the typed error taxonomy used across foxbuild, so
// callers can distinguish configuration mistakes from sandbox failures from
// ordinary nonzero exits without parsing error strings.
package fxerrors

import "fmt"

// Code identifies the broad class of failure a FoxError represents.
type Code string

const (
	CodeConfiguration Code = "configuration_error"
	CodeCheckout      Code = "checkout_error"
	CodeNix           Code = "nix_error"
	CodeSandbox       Code = "sandbox_error"
	CodeShutdown      Code = "shutdown_error"
	CodeSpawn         Code = "spawn_error"
	CodeInternal      Code = "internal_error"
)

// FoxError is the common error type returned by foxbuild's internal packages.
type FoxError struct {
	Code    Code
	Message string
	Err     error
}

func (e *FoxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FoxError) Unwrap() error {
	return e.Err
}

func New(code Code, message string) *FoxError {
	return &FoxError{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *FoxError {
	return &FoxError{Code: code, Message: message, Err: err}
}

func Configuration(format string, args ...any) *FoxError {
	return New(CodeConfiguration, fmt.Sprintf(format, args...))
}

func Checkout(err error, format string, args ...any) *FoxError {
	return Wrap(err, CodeCheckout, fmt.Sprintf(format, args...))
}

func Nix(err error, format string, args ...any) *FoxError {
	return Wrap(err, CodeNix, fmt.Sprintf(format, args...))
}

func Sandbox(err error, format string, args ...any) *FoxError {
	return Wrap(err, CodeSandbox, fmt.Sprintf(format, args...))
}

func Shutdown(err error, format string, args ...any) *FoxError {
	return Wrap(err, CodeShutdown, fmt.Sprintf(format, args...))
}

func Internal(err error, format string, args ...any) *FoxError {
	return Wrap(err, CodeInternal, fmt.Sprintf(format, args...))
}

// NonZeroExit reports that a spawned process ran to completion but returned a
// nonzero exit code. It is a distinct type (not a FoxError) because callers
// frequently need to inspect Code and Stderr without string-matching.
type NonZeroExit struct {
	Argv   []string
	Code   int
	Stderr string
}

func (e *NonZeroExit) Error() string {
	return fmt.Sprintf("command %v exited with code %d", e.Argv, e.Code)
}

// SpawnError reports that a process could not be started at all (binary
// missing, permission denied, etc.), as opposed to running and failing.
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %v: %v", e.Argv, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Package faults carries the error taxonomy shared by the scheduler, the run
// coordinator and the capability boundaries. A capability tags its errors with
// a class; the coordinator treats the tag as authoritative.
package faults

import (
	"errors"
	"fmt"
)

// Class partitions failures by how the run coordinator must react.
type Class uint8

const (
	// Transient failures (network, timeout, rate limit) are retried within
	// the state's attempt budget.
	Transient Class = iota
	// Configuration failures (cyclic stage graph, unknown layer tag,
	// malformed payload) are setup defects and never retried.
	Configuration
	// Exhausted marks a retry budget consumed for the current state.
	Exhausted
	// Terminal marks an explicit cancellation.
	Terminal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	case Exhausted:
		return "exhausted"
	case Terminal:
		return "terminal"
	}
	return "unknown"
}

// Fault wraps an error with its class.
type Fault struct {
	Class Class
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Class, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// TransientErr tags err as retryable.
func TransientErr(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: Transient, Err: err}
}

// ConfigErr tags err as a configuration defect.
func ConfigErr(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: Configuration, Err: err}
}

// Configf formats a configuration fault.
func Configf(format string, args ...any) error {
	return &Fault{Class: Configuration, Err: fmt.Errorf(format, args...)}
}

// ExhaustedErr tags err as a consumed retry budget.
func ExhaustedErr(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: Exhausted, Err: err}
}

// TerminalErr tags err as an explicit cancellation.
func TerminalErr(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: Terminal, Err: err}
}

// ClassOf returns the class an error was tagged with. Untagged errors are
// treated as Transient: the per-state budget bounds them, so a persistently
// failing capability still converges to Exhausted.
func ClassOf(err error) Class {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return Transient
}

// Retryable reports whether err should stay in its state and be retried.
func Retryable(err error) bool {
	return ClassOf(err) == Transient
}

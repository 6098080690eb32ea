// Package apperr defines the behavioral error kinds shared by every engine
// and runtime component: configuration, initialization, execution, bus
// integrity, timeout, and cancellation. Callers discriminate with
// errors.As against the typed wrappers, never by string-matching messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the behavioral category of a failure, independent of
// its Go type name.
type Kind int

const (
	// KindConfiguration covers out-of-range or missing configuration,
	// surfaced at initialize; fatal for the node that raised it.
	KindConfiguration Kind = iota
	// KindInitialization covers failure to acquire an external resource
	// (assumption table, credentials); fatal for the node, policy-dependent
	// for the pipeline.
	KindInitialization
	// KindExecution covers a runtime failure inside run_chunk (I/O,
	// malformed input); policy-dependent.
	KindExecution
	// KindIntegrity covers a CRC mismatch on a bus segment; always fatal.
	KindIntegrity
	// KindTimeout covers a node exceeding its timeout_ms; treated as
	// KindExecution by the pipeline's error policy.
	KindTimeout
	// KindCancelled covers a cooperative stop; not an error, reported as
	// a status.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInitialization:
		return "initialization"
	case KindExecution:
		return "execution"
	case KindIntegrity:
		return "integrity"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried by pipeline execution records.
// NodeID is empty when the error did not originate inside a pipeline node.
type Error struct {
	Kind    Kind
	NodeID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind, wrapping err if provided.
func New(kind Kind, nodeID, message string, err error) *Error {
	return &Error{Kind: kind, NodeID: nodeID, Message: message, Err: err}
}

// Configurationf builds a KindConfiguration error.
func Configurationf(nodeID, format string, args ...any) *Error {
	return New(KindConfiguration, nodeID, fmt.Sprintf(format, args...), nil)
}

// Initializationf builds a KindInitialization error.
func Initializationf(nodeID, format string, args ...any) *Error {
	return New(KindInitialization, nodeID, fmt.Sprintf(format, args...), nil)
}

// Executionf builds a KindExecution error.
func Executionf(nodeID, format string, args ...any) *Error {
	return New(KindExecution, nodeID, fmt.Sprintf(format, args...), nil)
}

// Integrityf builds a KindIntegrity error.
func Integrityf(nodeID, format string, args ...any) *Error {
	return New(KindIntegrity, nodeID, fmt.Sprintf(format, args...), nil)
}

// Timeoutf builds a KindTimeout error.
func Timeoutf(nodeID, format string, args ...any) *Error {
	return New(KindTimeout, nodeID, fmt.Sprintf(format, args...), nil)
}

// IsKind reports whether err (or something it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Package perrors defines the closed set of error kinds the core
// distinguishes between, and how the driver is expected to react to each.
package perrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for driver-level routing. It is a closed set:
// new kinds are a deliberate design change, not an extension point.
type Kind int

const (
	// KindUnknown is never returned by Wrap; it exists so the zero value is
	// not mistaken for a real kind.
	KindUnknown Kind = iota
	// KindConfig marks a malformed descriptor, unknown class, or missing
	// required field. Fatal: the driver exits before any reader opens.
	KindConfig
	// KindSourceIORetryable marks a transient read failure eligible for
	// backoff and retry; the reader stays live.
	KindSourceIORetryable
	// KindSourceIOPermanent marks a read failure beyond retry; the reader
	// is marked exhausted but the run continues.
	KindSourceIOPermanent
	// KindOutOfOrder marks incoming data violating buffer monotonicity.
	// The offending item is discarded; the run continues.
	KindOutOfOrder
	// KindEnhancerFailure marks a user-supplied enhancer or collecter
	// panic/error. The trial is emitted with partial augments.
	KindEnhancerFailure
	// KindSinkFailure marks a write failure to a trial-file sink.
	KindSinkFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindSourceIORetryable:
		return "SourceIO/Retryable"
	case KindSourceIOPermanent:
		return "SourceIO/Permanent"
	case KindOutOfOrder:
		return "OutOfOrder"
	case KindEnhancerFailure:
		return "Enhancer/Collecter"
	case KindSinkFailure:
		return "Sink"
	default:
		return "Unknown"
	}
}

// kindedError pairs a Kind with a causal chain built by pkg/errors, so
// callers can both switch on Kind() and walk Cause() to the root error.
type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindedError) Cause() error  { return e.err }
func (e *kindedError) Unwrap() error { return e.err }

// Wrap annotates err with a Kind and a message, preserving the causal chain
// so errors.Cause(err) still reaches the original error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: errors.Wrapf(err, format, args...)}
}

// New creates a new error of the given kind with no wrapped cause.
func New(kind Kind, msg string) error {
	return &kindedError{kind: kind, err: errors.New(msg)}
}

// KindOf extracts the Kind from err, or KindUnknown if err was not produced
// by this package.
func KindOf(err error) Kind {
	var ke *kindedError
	for err != nil {
		if k, ok := err.(*kindedError); ok {
			ke = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ke == nil {
		return KindUnknown
	}
	return ke.kind
}

// Is reports whether err (or anything in its chain) was wrapped with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether a driver encountering err must exit non-zero
// rather than log-and-continue, per the propagation rule in the error
// handling design: Config errors are always fatal, Sink errors are fatal
// only once the sink's own single retry has already failed (callers signal
// that by wrapping with KindSinkFailure only after the retry — see Retry).
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindConfig, KindSinkFailure:
		return true
	default:
		return false
	}
}

// Retry calls fn once; if it fails, fn is called a second time. A success
// on either attempt returns nil. A second failure is wrapped with kind and
// returned, so Fatal(err) reports true exactly once the retry is
// exhausted, never on the first attempt alone. This is the single-retry
// contract Fatal's doc comment describes, factored out so every sink
// implements it the same way.
func Retry(kind Kind, msg string, fn func() error) error {
	if err := fn(); err == nil {
		return nil
	}
	if err := fn(); err != nil {
		return Wrap(kind, err, msg)
	}
	return nil
}

// Package fault classifies the fatal conditions of a kernel run.
//
// No stage retries. Every error that leaves the runner either carries a Kind,
// which selects the process exit code, or is treated as a generic failure.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a fatal condition
type Kind int

const (
	// Configuration covers bad or missing option values, ambiguous launch
	// specifications and unknown kernel keys
	Configuration Kind = iota + 1
	// Validation covers missing required buffers/scalars/definitions and
	// input combinations a descriptor rejects
	Validation
	// Compilation means the native compiler rejected the kernel source
	Compilation
	// Device covers missing devices, bad device/platform indices and
	// backend API failures
	Device
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case Validation:
		return "validation error"
	case Compilation:
		return "compilation error"
	case Device:
		return "device error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a classified fatal condition
type Error struct {
	Kind Kind
	Msg  string
	Err  error
	Log  string // Compiler output; only set for Compilation
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Configurationf returns a Configuration error
func Configurationf(format string, args ...interface{}) error {
	return &Error{Kind: Configuration, Msg: fmt.Sprintf(format, args...)}
}

// Validationf returns a Validation error
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: Validation, Msg: fmt.Sprintf(format, args...)}
}

// Devicef returns a Device error
func Devicef(format string, args ...interface{}) error {
	return &Error{Kind: Device, Msg: fmt.Sprintf(format, args...)}
}

// CompilationFailed returns a Compilation error carrying the compiler log
func CompilationFailed(log string, cause error) error {
	return &Error{Kind: Compilation, Msg: "kernel build failed", Err: cause, Log: log}
}

// Wrap classifies cause under kind
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf reports the Kind of the first classified error in err's chain
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether err's chain holds an error of the given kind
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case Configuration:
		return 2
	case Validation:
		return 3
	case Compilation:
		return 4
	case Device:
		return 5
	default:
		return 1
	}
}

package diffeq

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/diffeq-wasm/internal/compiler"
	"github.com/woxQAQ/diffeq-wasm/internal/wasm"
)

// Errors from the lower layers, re-exported so callers can match them with
// errors.As without importing internal packages.
type (
	// TransportError: the compilation service could not be reached.
	TransportError = compiler.TransportError
	// CompilationError: the service rejected the model. Error() is the
	// service's diagnostic text.
	CompilationError = compiler.CompilationError
	// LinkError: the module lacks an export or declares it differently.
	LinkError = wasm.LinkError
	// CallError: a call into the module trapped.
	CallError = wasm.CallError
	// MemoryAccessError: a view or address fell outside module memory.
	MemoryAccessError = wasm.MemoryAccessError
)

var (
	// ErrStaleView is returned by views read after module memory moved.
	ErrStaleView = wasm.ErrStaleView

	// ErrDestroyed is returned when a handle is used after Destroy.
	ErrDestroyed = errors.New("diffeq: handle already destroyed")

	// ErrClosed is returned when the Diffeq has been closed.
	ErrClosed = errors.New("diffeq: closed")
)

// InvalidArgumentError is a precondition failure detected before calling
// into the module.
type InvalidArgumentError struct {
	Op     string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument to %s: %s", e.Op, e.Reason)
}

// SolveError carries a non-zero status returned by the integrator. The
// status is opaque.
type SolveError struct {
	Op     string
	Status int32
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("solver %s failed with status %d", e.Op, e.Status)
}

// StateError occurs when a solver is used in the wrong lifecycle state.
type StateError struct {
	Op    string
	State SolverState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: solver is %s", e.Op, e.State)
}

// EnumValueError occurs when the module reports an option value outside the
// known range.
type EnumValueError struct {
	Field string
	Value int32
}

func (e *EnumValueError) Error() string {
	return fmt.Sprintf("unknown %s value %d", e.Field, e.Value)
}

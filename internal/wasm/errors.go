package wasm

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/diffeq-wasm/internal/abi"
)

// ErrStaleView is returned when a view is read after module memory may have
// moved. Derive a new view and try again.
var ErrStaleView = errors.New("memory view is stale: module memory changed since it was derived")

// CompilationError occurs when the engine rejects a wasm binary.
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	Digest string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.Digest)
}

// InstanceLimitError occurs when the runtime already holds MaxInstances.
type InstanceLimitError struct {
	Max int
}

func (e *InstanceLimitError) Error() string {
	return fmt.Sprintf("instance limit reached (max=%d)", e.Max)
}

// LinkError occurs when a module does not provide an export the host needs,
// or provides it with a different signature. The instance is unusable.
type LinkError struct {
	Op     abi.Op
	Export string
	Reason string
}

func (e *LinkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("link failed for export '%s': %s", e.Export, e.Reason)
	}
	return fmt.Sprintf("link failed for export '%s' (op=%s): %s", e.Export, e.Op, e.Reason)
}

// CallError occurs when a call into the module traps or returns an
// unexpected number of results.
type CallError struct {
	Export string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to '%s' failed: %v", e.Export, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): %v",
		e.Operation, e.Address, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

var errOutOfRange = errors.New("out of range")

package compiler

import (
	"fmt"
)

// CompilationError occurs when the service rejects a model. The message is
// the service's diagnostic body, unchanged.
type CompilationError struct {
	StatusCode int
	Diagnostic string
}

func (e *CompilationError) Error() string {
	return e.Diagnostic
}

// TransportError occurs when the service cannot be reached or the response
// cannot be read.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("compile request to '%s' failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

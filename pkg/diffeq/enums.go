package diffeq

import (
	"fmt"
)

// LinearSolver selects the linear-algebra strategy for implicit steps.
type LinearSolver int32

const (
	LinearSolverDense LinearSolver = iota
	LinearSolverKLU
	LinearSolverSPBCGS
	LinearSolverSPFGMR
	LinearSolverSPGMR
	LinearSolverSPTFQMR
)

var linearSolverNames = []string{"dense", "klu", "spbcgs", "spfgmr", "spgmr", "sptfqmr"}

func (s LinearSolver) String() string {
	if s.Valid() {
		return linearSolverNames[s]
	}
	return fmt.Sprintf("LinearSolver(%d)", int32(s))
}

// Valid reports whether s is a known solver.
func (s LinearSolver) Valid() bool {
	return s >= 0 && int(s) < len(linearSolverNames)
}

// ParseLinearSolver parses a name such as "klu".
func ParseLinearSolver(name string) (LinearSolver, error) {
	i, err := parseEnum("linear solver", name, linearSolverNames)
	return LinearSolver(i), err
}

// Preconditioner selects the preconditioning side for iterative solvers.
type Preconditioner int32

const (
	PreconditionerNone Preconditioner = iota
	PreconditionerLeft
	PreconditionerRight
)

var preconditionerNames = []string{"none", "left", "right"}

func (p Preconditioner) String() string {
	if p.Valid() {
		return preconditionerNames[p]
	}
	return fmt.Sprintf("Preconditioner(%d)", int32(p))
}

// Valid reports whether p is a known preconditioner.
func (p Preconditioner) Valid() bool {
	return p >= 0 && int(p) < len(preconditionerNames)
}

// ParsePreconditioner parses a name such as "left".
func ParsePreconditioner(name string) (Preconditioner, error) {
	i, err := parseEnum("preconditioner", name, preconditionerNames)
	return Preconditioner(i), err
}

// Jacobian selects the Jacobian representation.
type Jacobian int32

const (
	JacobianDense Jacobian = iota
	JacobianSparse
	JacobianMatrixFree
	JacobianNone
)

var jacobianNames = []string{"dense", "sparse", "matrix_free", "none"}

func (j Jacobian) String() string {
	if j.Valid() {
		return jacobianNames[j]
	}
	return fmt.Sprintf("Jacobian(%d)", int32(j))
}

// Valid reports whether j is a known Jacobian strategy.
func (j Jacobian) Valid() bool {
	return j >= 0 && int(j) < len(jacobianNames)
}

// ParseJacobian parses a name such as "matrix_free".
func ParseJacobian(name string) (Jacobian, error) {
	i, err := parseEnum("jacobian", name, jacobianNames)
	return Jacobian(i), err
}

func parseEnum(kind, name string, names []string) (int32, error) {
	for i, n := range names {
		if n == name {
			return int32(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q (must be one of: %v)", kind, name, names)
}

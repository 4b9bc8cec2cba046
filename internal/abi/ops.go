package abi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// Op names one host-side operation on the module, e.g. "solver.solve".
type Op string

// Namespace groups ops the way the module groups its exports.
type Namespace string

const (
	NamespaceSolver  Namespace = "solver"
	NamespaceOptions Namespace = "options"
	NamespaceVector  Namespace = "vector"
)

// Solver lifecycle.
const (
	OpSolverCreate          Op = "solver.create"
	OpSolverDestroy         Op = "solver.destroy"
	OpSolverInit            Op = "solver.init"
	OpSolverSolve           Op = "solver.solve"
	OpSolverNumberOfStates  Op = "solver.number_of_states"
	OpSolverNumberOfInputs  Op = "solver.number_of_inputs"
	OpSolverNumberOfOutputs Op = "solver.number_of_outputs"
)

// Options lifecycle. Field accessors are built with GetOp and SetOp.
const (
	OpOptionsCreate  Op = "options.create"
	OpOptionsDestroy Op = "options.destroy"
)

// Vector lifecycle.
const (
	OpVectorCreate             Op = "vector.create"
	OpVectorCreateWithCapacity Op = "vector.create_with_capacity"
	OpVectorDestroy            Op = "vector.destroy"
	OpVectorGet                Op = "vector.get"
	OpVectorGetLength          Op = "vector.get_length"
	OpVectorResize             Op = "vector.resize"
	OpVectorGetData            Op = "vector.get_data"
	OpVectorLinspaceCreate     Op = "vector.linspace_create"
	OpVectorPush               Op = "vector.push"
)

// Namespace returns the part of the op before the first dot.
func (o Op) Namespace() Namespace {
	ns, _, _ := strings.Cut(string(o), ".")
	return Namespace(ns)
}

// Field is one recognized solver option.
type Field string

const (
	FieldFixedTimes          Field = "fixed_times"
	FieldPrintStats          Field = "print_stats"
	FieldFwdSens             Field = "fwd_sens"
	FieldAtol                Field = "atol"
	FieldRtol                Field = "rtol"
	FieldLinearSolver        Field = "linear_solver"
	FieldPreconditioner      Field = "preconditioner"
	FieldJacobian            Field = "jacobian"
	FieldLinsolMaxIterations Field = "linsol_max_iterations"
	FieldDebug               Field = "debug"
)

// FieldKind is how a field travels across the boundary.
type FieldKind int

const (
	KindBool  FieldKind = iota // i32, 0 or 1
	KindFloat                  // f64
	KindEnum                   // i32 discriminant
	KindInt                    // i32
)

// Fields lists every option field in declaration order.
var Fields = []Field{
	FieldFixedTimes,
	FieldPrintStats,
	FieldFwdSens,
	FieldAtol,
	FieldRtol,
	FieldLinearSolver,
	FieldPreconditioner,
	FieldJacobian,
	FieldLinsolMaxIterations,
	FieldDebug,
}

var fieldKinds = map[Field]FieldKind{
	FieldFixedTimes:          KindBool,
	FieldPrintStats:          KindBool,
	FieldFwdSens:             KindBool,
	FieldAtol:                KindFloat,
	FieldRtol:                KindFloat,
	FieldLinearSolver:        KindEnum,
	FieldPreconditioner:      KindEnum,
	FieldJacobian:            KindEnum,
	FieldLinsolMaxIterations: KindInt,
	FieldDebug:               KindBool,
}

// Kind returns the wire kind of the field.
func (f Field) Kind() FieldKind {
	return fieldKinds[f]
}

// GetOp returns the getter op for a field.
func GetOp(f Field) Op {
	return Op("options.get." + string(f))
}

// SetOp returns the setter op for a field.
func SetOp(f Field) Op {
	return Op("options.set." + string(f))
}

// Signature is the parameter and result types of an export.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether both signatures have the same types in the same order.
func (s Signature) Equal(o Signature) bool {
	return equalTypes(s.Params, o.Params) && equalTypes(s.Results, o.Results)
}

func (s Signature) String() string {
	return "(" + typeList(s.Params) + ") -> (" + typeList(s.Results) + ")"
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeList(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// ParseValueType maps a manifest type name to a wasm value type.
func ParseValueType(name string) (api.ValueType, error) {
	switch name {
	case "i32":
		return api.ValueTypeI32, nil
	case "i64":
		return api.ValueTypeI64, nil
	case "f32":
		return api.ValueTypeF32, nil
	case "f64":
		return api.ValueTypeF64, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", name)
	}
}

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

func sig(params []api.ValueType, results ...api.ValueType) Signature {
	return Signature{Params: params, Results: results}
}

func types(t ...api.ValueType) []api.ValueType { return t }

// conventions is how the host calls each op. Handles and lengths are i32
// because the module targets wasm32.
var conventions = func() map[Op]Signature {
	c := map[Op]Signature{
		OpSolverCreate:          sig(nil, i32),
		OpSolverDestroy:         sig(types(i32)),
		OpSolverInit:            sig(types(i32, i32), i32),
		OpSolverSolve:           sig(types(i32, i32, i32, i32, i32, i32), i32),
		OpSolverNumberOfStates:  sig(types(i32), i32),
		OpSolverNumberOfInputs:  sig(types(i32), i32),
		OpSolverNumberOfOutputs: sig(types(i32), i32),

		OpOptionsCreate:  sig(nil, i32),
		OpOptionsDestroy: sig(types(i32)),

		OpVectorCreate:             sig(nil, i32),
		OpVectorCreateWithCapacity: sig(types(i32, i32), i32),
		OpVectorDestroy:            sig(types(i32)),
		OpVectorGet:                sig(types(i32, i32), f64),
		OpVectorGetLength:          sig(types(i32), i32),
		OpVectorResize:             sig(types(i32, i32)),
		OpVectorGetData:            sig(types(i32), i32),
		OpVectorLinspaceCreate:     sig(types(f64, f64, i32), i32),
		OpVectorPush:               sig(types(i32, f64)),
	}
	for _, f := range Fields {
		wire := i32
		if f.Kind() == KindFloat {
			wire = f64
		}
		c[GetOp(f)] = sig(types(i32), wire)
		c[SetOp(f)] = sig(types(i32, wire))
	}
	return c
}()

// allocating ops may allocate, free or move module memory, so their
// manifest entries must be marked as mutating.
var allocating = map[Op]bool{
	OpSolverCreate:             true,
	OpSolverDestroy:            true,
	OpSolverInit:               true,
	OpSolverSolve:              true,
	OpOptionsCreate:            true,
	OpOptionsDestroy:           true,
	OpVectorCreate:             true,
	OpVectorCreateWithCapacity: true,
	OpVectorDestroy:            true,
	OpVectorResize:             true,
	OpVectorLinspaceCreate:     true,
	OpVectorPush:               true,
}

// MustMutate reports whether op has to be declared as mutating.
func MustMutate(op Op) bool {
	return allocating[op]
}

// Convention returns the signature the host uses for op.
func Convention(op Op) (Signature, bool) {
	s, ok := conventions[op]
	return s, ok
}

// RequiredOps returns every op the host binds, sorted.
func RequiredOps() []Op {
	ops := make([]Op, 0, len(conventions))
	for op := range conventions {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

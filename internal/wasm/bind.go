package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"go.uber.org/zap"
)

// Function is a callable module export. api.Function satisfies it.
type Function interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// ExportSource resolves export names to functions and their declared types.
type ExportSource interface {
	Lookup(name string) (Function, abi.Signature, bool)
}

type moduleExports struct {
	mod api.Module
}

// ModuleExports adapts an instantiated module to ExportSource.
func ModuleExports(mod api.Module) ExportSource {
	return moduleExports{mod: mod}
}

func (m moduleExports) Lookup(name string) (Function, abi.Signature, bool) {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, abi.Signature{}, false
	}
	def := fn.Definition()
	return fn, abi.Signature{Params: def.ParamTypes(), Results: def.ResultTypes()}, true
}

// Export is one bound module function.
type Export struct {
	Op      abi.Op
	Name    string
	Mutates bool

	fn     Function
	sig    abi.Signature
	memory *Memory
	logger *zap.Logger
	debug  bool
}

// Signature returns the checked signature of the export.
func (e *Export) Signature() abi.Signature {
	return e.sig
}

// Call invokes the export. Calls that may grow memory invalidate existing
// views whether or not they succeed.
func (e *Export) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if e.debug {
		e.logger.Debug("Calling export",
			zap.String("export", e.Name),
			zap.Uint64s("params", params),
		)
	}

	results, err := e.fn.Call(ctx, params...)
	if e.Mutates && e.memory != nil {
		e.memory.Invalidate()
	}
	if err != nil {
		return nil, &CallError{Export: e.Name, Err: err}
	}
	if len(results) != len(e.sig.Results) {
		return nil, &CallError{
			Export: e.Name,
			Err:    fmt.Errorf("got %d results, want %d", len(results), len(e.sig.Results)),
		}
	}

	if e.debug {
		e.logger.Debug("Export returned",
			zap.String("export", e.Name),
			zap.Uint64s("results", results),
		)
	}

	return results, nil
}

// CallVoid invokes an export that returns nothing.
func (e *Export) CallVoid(ctx context.Context, params ...uint64) error {
	_, err := e.Call(ctx, params...)
	return err
}

// CallI32 invokes an export returning one i32, read as unsigned.
func (e *Export) CallI32(ctx context.Context, params ...uint64) (uint32, error) {
	results, err := e.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(results[0]), nil
}

// CallF64 invokes an export returning one f64.
func (e *Export) CallF64(ctx context.Context, params ...uint64) (float64, error) {
	results, err := e.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	return api.DecodeF64(results[0]), nil
}

// SolverExports is the solver lifecycle namespace.
type SolverExports struct {
	Create          *Export
	Destroy         *Export
	Init            *Export
	Solve           *Export
	NumberOfStates  *Export
	NumberOfInputs  *Export
	NumberOfOutputs *Export
}

// OptionsExports is the options lifecycle namespace.
type OptionsExports struct {
	Create  *Export
	Destroy *Export
	Get     map[abi.Field]*Export
	Set     map[abi.Field]*Export
}

// VectorExports is the vector lifecycle namespace.
type VectorExports struct {
	Create             *Export
	CreateWithCapacity *Export
	Destroy            *Export
	Get                *Export
	GetLength          *Export
	Resize             *Export
	GetData            *Export
	LinspaceCreate     *Export
	Push               *Export
}

// Exports is the full call table of a model instance.
type Exports struct {
	Solver   SolverExports
	Options  OptionsExports
	Vector   VectorExports
	Manifest *abi.Manifest
}

// BindOptions tune how exports are wrapped.
type BindOptions struct {
	Logger *zap.Logger
	// Debug logs every call.
	Debug bool
}

// Bind resolves every op of manifest in src and checks each signature
// against the host calling convention. The first missing or mismatched
// export is returned as a *LinkError.
func Bind(src ExportSource, memory *Memory, manifest *abi.Manifest, opts BindOptions) (*Exports, error) {
	if manifest == nil {
		manifest = abi.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "wasm-bind"))

	bound := make(map[abi.Op]*Export)
	for _, op := range abi.RequiredOps() {
		entry, ok := manifest.Lookup(op)
		if !ok {
			return nil, &LinkError{Op: op, Reason: "op not in manifest"}
		}
		want, _ := abi.Convention(op)

		fn, got, ok := src.Lookup(entry.Name)
		if !ok {
			return nil, &LinkError{Op: op, Export: entry.Name, Reason: "export not found"}
		}
		if !got.Equal(want) {
			return nil, &LinkError{
				Op:     op,
				Export: entry.Name,
				Reason: fmt.Sprintf("signature %s, want %s", got, want),
			}
		}

		bound[op] = &Export{
			Op:      op,
			Name:    entry.Name,
			Mutates: entry.Mutates,
			fn:      fn,
			sig:     want,
			memory:  memory,
			logger:  logger,
			debug:   opts.Debug,
		}
	}

	exports := &Exports{
		Manifest: manifest,
		Solver: SolverExports{
			Create:          bound[abi.OpSolverCreate],
			Destroy:         bound[abi.OpSolverDestroy],
			Init:            bound[abi.OpSolverInit],
			Solve:           bound[abi.OpSolverSolve],
			NumberOfStates:  bound[abi.OpSolverNumberOfStates],
			NumberOfInputs:  bound[abi.OpSolverNumberOfInputs],
			NumberOfOutputs: bound[abi.OpSolverNumberOfOutputs],
		},
		Options: OptionsExports{
			Create:  bound[abi.OpOptionsCreate],
			Destroy: bound[abi.OpOptionsDestroy],
			Get:     make(map[abi.Field]*Export, len(abi.Fields)),
			Set:     make(map[abi.Field]*Export, len(abi.Fields)),
		},
		Vector: VectorExports{
			Create:             bound[abi.OpVectorCreate],
			CreateWithCapacity: bound[abi.OpVectorCreateWithCapacity],
			Destroy:            bound[abi.OpVectorDestroy],
			Get:                bound[abi.OpVectorGet],
			GetLength:          bound[abi.OpVectorGetLength],
			Resize:             bound[abi.OpVectorResize],
			GetData:            bound[abi.OpVectorGetData],
			LinspaceCreate:     bound[abi.OpVectorLinspaceCreate],
			Push:               bound[abi.OpVectorPush],
		},
	}
	for _, f := range abi.Fields {
		exports.Options.Get[f] = bound[abi.GetOp(f)]
		exports.Options.Set[f] = bound[abi.SetOp(f)]
	}

	logger.Debug("Exports bound",
		zap.Int("exports", len(bound)),
		zap.String("manifest", manifest.Path()),
	)

	return exports, nil
}

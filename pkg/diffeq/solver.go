package diffeq

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"go.uber.org/zap"
)

// SolverState is where a solver is in its lifecycle.
type SolverState int

const (
	SolverUninitialized SolverState = iota
	SolverReady
	SolverDestroyed
)

func (s SolverState) String() string {
	switch s {
	case SolverUninitialized:
		return "uninitialized"
	case SolverReady:
		return "ready"
	case SolverDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("SolverState(%d)", int(s))
	}
}

// Solver is an integrator instance living in the module.
type Solver struct {
	d      *Diffeq
	handle SolverHandle
	seq    uint64
	state  SolverState

	options *Options

	numberOfStates  int
	numberOfInputs  int
	numberOfOutputs int

	// passed in unused sensitivity slots when the manifest asks for a vector
	sentinel *Vector
}

// CreateSolver creates an uninitialised solver.
func (d *Diffeq) CreateSolver(ctx context.Context) (*Solver, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	h, err := d.exports.Solver.Create.CallI32(ctx)
	if err != nil {
		return nil, err
	}
	s := &Solver{d: d, handle: SolverHandle(h)}
	s.seq = d.handles.add(s)
	return s, nil
}

// NewSolver creates a solver and initialises it with opts. The solver is
// destroyed if initialisation fails.
func (d *Diffeq) NewSolver(ctx context.Context, opts *Options) (*Solver, error) {
	s, err := d.CreateSolver(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx, opts); err != nil {
		s.Destroy(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Solver) kind() Kind    { return KindSolver }
func (s *Solver) token() uint32 { return uint32(s.handle) }

// Handle returns the module token.
func (s *Solver) Handle() SolverHandle {
	return s.handle
}

// State returns the lifecycle state.
func (s *Solver) State() SolverState {
	return s.state
}

// Options returns the options the solver was initialised with.
func (s *Solver) Options() *Options {
	return s.options
}

// NumberOfStates is fixed at Init; 0 before.
func (s *Solver) NumberOfStates() int {
	return s.numberOfStates
}

// NumberOfInputs is fixed at Init; 0 before.
func (s *Solver) NumberOfInputs() int {
	return s.numberOfInputs
}

// NumberOfOutputs is fixed at Init; 0 before.
func (s *Solver) NumberOfOutputs() int {
	return s.numberOfOutputs
}

func (s *Solver) param() uint64 {
	return api.EncodeU32(uint32(s.handle))
}

func (s *Solver) require(op string, want SolverState) error {
	if s.state == SolverDestroyed {
		return ErrDestroyed
	}
	if err := s.d.check(); err != nil {
		return err
	}
	if s.state != want {
		return &StateError{Op: op, State: s.state}
	}
	return nil
}

// Init binds opts and reads the model's dimensions. The integrator reads
// opts once here.
func (s *Solver) Init(ctx context.Context, opts *Options) error {
	if err := s.require("init", SolverUninitialized); err != nil {
		return err
	}
	if opts == nil || opts.d != s.d {
		return &InvalidArgumentError{Op: "init", Reason: "options must belong to the same module"}
	}
	if err := opts.check(); err != nil {
		return err
	}

	status, err := s.d.exports.Solver.Init.CallI32(ctx, s.param(), opts.param())
	if err != nil {
		return err
	}
	if code := int32(status); code != 0 {
		return &SolveError{Op: "init", Status: code}
	}

	counts := []struct {
		fn  func(context.Context, ...uint64) (uint32, error)
		dst *int
	}{
		{s.d.exports.Solver.NumberOfStates.CallI32, &s.numberOfStates},
		{s.d.exports.Solver.NumberOfInputs.CallI32, &s.numberOfInputs},
		{s.d.exports.Solver.NumberOfOutputs.CallI32, &s.numberOfOutputs},
	}
	for _, c := range counts {
		n, err := c.fn(ctx, s.param())
		if err != nil {
			return err
		}
		*c.dst = int(n)
	}

	if s.d.sentinel == abi.SentinelEmptyVector {
		v, err := s.d.newSentinelVector(ctx)
		if err != nil {
			return err
		}
		s.sentinel = v
	}

	s.options = opts
	opts.bound++
	s.state = SolverReady

	s.d.logger.Info("Solver initialized",
		zap.Uint32("solver", uint32(s.handle)),
		zap.Int("states", s.numberOfStates),
		zap.Int("inputs", s.numberOfInputs),
		zap.Int("outputs", s.numberOfOutputs),
	)

	return nil
}

func (s *Solver) sentinelParam() uint64 {
	if s.sentinel == nil {
		return api.EncodeU32(0)
	}
	return s.sentinel.param()
}

// checkVectors validates ownership and liveness of every argument.
func (s *Solver) checkVectors(op string, vs ...*Vector) error {
	for _, v := range vs {
		if err := s.d.owns(v); err != nil {
			return &InvalidArgumentError{Op: op, Reason: err.Error()}
		}
		if err := v.check(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) checkInputs(ctx context.Context, op string, inputs *Vector) error {
	n, err := inputs.Len(ctx)
	if err != nil {
		return err
	}
	if n != s.numberOfInputs {
		return &InvalidArgumentError{
			Op:     op,
			Reason: fmt.Sprintf("expected %d inputs, got %d", s.numberOfInputs, n),
		}
	}
	return nil
}

func (s *Solver) checkTimes(ctx context.Context, op string, times *Vector) error {
	n, err := times.Len(ctx)
	if err != nil {
		return err
	}
	if n < 2 {
		return &InvalidArgumentError{
			Op:     op,
			Reason: fmt.Sprintf("times must have at least two elements, got %d", n),
		}
	}
	return nil
}

// Solve integrates over times with the given inputs and writes one result
// per time point into outputs. Argument errors are reported before any
// mutating module call. Views of module memory taken before Solve are stale
// afterwards.
func (s *Solver) Solve(ctx context.Context, times, inputs, outputs *Vector) error {
	const op = "solve"
	if err := s.require(op, SolverReady); err != nil {
		return err
	}
	if err := s.checkVectors(op, times, inputs, outputs); err != nil {
		return err
	}
	if err := s.checkInputs(ctx, op, inputs); err != nil {
		return err
	}
	if err := s.checkTimes(ctx, op, times); err != nil {
		return err
	}

	sentinel := s.sentinelParam()
	return s.solve(ctx, op, times.param(), inputs.param(), sentinel, outputs.param(), sentinel, outputs)
}

// SolveWithSensitivities is Solve plus forward sensitivities: dinputs seeds
// one direction per input and doutputs receives the sensitivity trajectory.
func (s *Solver) SolveWithSensitivities(ctx context.Context, times, inputs, dinputs, outputs, doutputs *Vector) error {
	const op = "solve with sensitivities"
	if err := s.require(op, SolverReady); err != nil {
		return err
	}
	if err := s.checkVectors(op, times, inputs, dinputs, outputs, doutputs); err != nil {
		return err
	}
	if err := s.checkInputs(ctx, op, inputs); err != nil {
		return err
	}
	nd, err := dinputs.Len(ctx)
	if err != nil {
		return err
	}
	if nd != s.numberOfInputs {
		return &InvalidArgumentError{
			Op:     op,
			Reason: fmt.Sprintf("expected %d dinputs, got %d", s.numberOfInputs, nd),
		}
	}
	if err := s.checkTimes(ctx, op, times); err != nil {
		return err
	}

	return s.solve(ctx, op, times.param(), inputs.param(), dinputs.param(), outputs.param(), doutputs.param(), outputs, doutputs)
}

func (s *Solver) solve(ctx context.Context, op string, t, in, din, out, dout uint64, written ...*Vector) error {
	status, err := s.d.exports.Solver.Solve.CallI32(ctx, s.param(), t, in, din, out, dout)
	for _, v := range written {
		v.forgetLength()
	}
	if err != nil {
		return err
	}
	if code := int32(status); code != 0 {
		return &SolveError{Op: op, Status: code}
	}
	return nil
}

// Destroy releases the solver and its sentinel vector. A second call
// returns ErrDestroyed.
func (s *Solver) Destroy(ctx context.Context) error {
	if s.state == SolverDestroyed {
		return ErrDestroyed
	}
	if err := s.d.check(); err != nil {
		return err
	}

	s.state = SolverDestroyed
	s.d.handles.remove(s.seq)
	if s.options != nil {
		s.options.bound--
	}

	err := s.d.exports.Solver.Destroy.CallVoid(ctx, s.param())
	if s.sentinel != nil {
		if verr := s.sentinel.Destroy(ctx); verr != nil && err == nil {
			err = verr
		}
	}
	return err
}

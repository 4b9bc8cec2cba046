package diffeq

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"go.uber.org/zap"
)

// OptionsRecord is every solver option.
type OptionsRecord struct {
	FixedTimes          bool
	PrintStats          bool
	FwdSens             bool
	Atol                float64
	Rtol                float64
	LinearSolver        LinearSolver
	Preconditioner      Preconditioner
	Jacobian            Jacobian
	LinsolMaxIterations int32
	Debug               bool
}

// DefaultOptionsRecord returns the integrator defaults.
func DefaultOptionsRecord() OptionsRecord {
	return OptionsRecord{
		Atol:                1e-6,
		Rtol:                1e-6,
		LinearSolver:        LinearSolverDense,
		Preconditioner:      PreconditionerNone,
		Jacobian:            JacobianDense,
		LinsolMaxIterations: 100,
	}
}

// wire encodes each field of r.
func (r OptionsRecord) wire() map[abi.Field]uint64 {
	return map[abi.Field]uint64{
		abi.FieldFixedTimes:          encodeBool(r.FixedTimes),
		abi.FieldPrintStats:          encodeBool(r.PrintStats),
		abi.FieldFwdSens:             encodeBool(r.FwdSens),
		abi.FieldAtol:                api.EncodeF64(r.Atol),
		abi.FieldRtol:                api.EncodeF64(r.Rtol),
		abi.FieldLinearSolver:        api.EncodeI32(int32(r.LinearSolver)),
		abi.FieldPreconditioner:      api.EncodeI32(int32(r.Preconditioner)),
		abi.FieldJacobian:            api.EncodeI32(int32(r.Jacobian)),
		abi.FieldLinsolMaxIterations: api.EncodeI32(r.LinsolMaxIterations),
		abi.FieldDebug:               encodeBool(r.Debug),
	}
}

func encodeBool(b bool) uint64 {
	if b {
		return api.EncodeI32(1)
	}
	return api.EncodeI32(0)
}

// Options is a solver configuration record living in the module.
type Options struct {
	d      *Diffeq
	handle OptionsHandle
	seq    uint64

	// solvers initialised with these options
	bound int

	destroyed bool
}

// NewOptions creates an options record and sets every field of rec.
func (d *Diffeq) NewOptions(ctx context.Context, rec OptionsRecord) (*Options, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	h, err := d.exports.Options.Create.CallI32(ctx)
	if err != nil {
		return nil, err
	}

	o := &Options{d: d, handle: OptionsHandle(h)}
	o.seq = d.handles.add(o)

	if err := o.Apply(ctx, rec); err != nil {
		o.Destroy(ctx)
		return nil, err
	}
	return o, nil
}

func (o *Options) kind() Kind    { return KindOptions }
func (o *Options) token() uint32 { return uint32(o.handle) }

// Handle returns the module token.
func (o *Options) Handle() OptionsHandle {
	return o.handle
}

func (o *Options) check() error {
	if o.destroyed {
		return ErrDestroyed
	}
	return o.d.check()
}

func (o *Options) param() uint64 {
	return api.EncodeU32(uint32(o.handle))
}

// Apply sets every field of rec, one call per field.
func (o *Options) Apply(ctx context.Context, rec OptionsRecord) error {
	values := rec.wire()
	for _, f := range abi.Fields {
		if err := o.set(ctx, f, values[f]); err != nil {
			return err
		}
	}
	return nil
}

// Record reads every field.
func (o *Options) Record(ctx context.Context) (OptionsRecord, error) {
	var (
		rec OptionsRecord
		err error
	)
	if rec.FixedTimes, err = o.FixedTimes(ctx); err != nil {
		return rec, err
	}
	if rec.PrintStats, err = o.PrintStats(ctx); err != nil {
		return rec, err
	}
	if rec.FwdSens, err = o.FwdSens(ctx); err != nil {
		return rec, err
	}
	if rec.Atol, err = o.Atol(ctx); err != nil {
		return rec, err
	}
	if rec.Rtol, err = o.Rtol(ctx); err != nil {
		return rec, err
	}
	if rec.LinearSolver, err = o.LinearSolver(ctx); err != nil {
		return rec, err
	}
	if rec.Preconditioner, err = o.Preconditioner(ctx); err != nil {
		return rec, err
	}
	if rec.Jacobian, err = o.Jacobian(ctx); err != nil {
		return rec, err
	}
	if rec.LinsolMaxIterations, err = o.LinsolMaxIterations(ctx); err != nil {
		return rec, err
	}
	if rec.Debug, err = o.Debug(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

func (o *Options) set(ctx context.Context, f abi.Field, raw uint64) error {
	if err := o.check(); err != nil {
		return err
	}
	if o.bound > 0 {
		o.d.logger.Warn("Option set after solver init; the integrator may ignore it",
			zap.String("field", string(f)),
			zap.Uint32("options", uint32(o.handle)),
		)
	}
	return o.d.exports.Options.Set[f].CallVoid(ctx, o.param(), raw)
}

func (o *Options) get(ctx context.Context, f abi.Field) (uint64, error) {
	if err := o.check(); err != nil {
		return 0, err
	}
	results, err := o.d.exports.Options.Get[f].Call(ctx, o.param())
	if err != nil {
		return 0, err
	}
	return results[0], nil
}

func (o *Options) getBool(ctx context.Context, f abi.Field) (bool, error) {
	raw, err := o.get(ctx, f)
	return api.DecodeI32(raw) == 1, err
}

func (o *Options) getInt(ctx context.Context, f abi.Field) (int32, error) {
	raw, err := o.get(ctx, f)
	return api.DecodeI32(raw), err
}

func (o *Options) getFloat(ctx context.Context, f abi.Field) (float64, error) {
	raw, err := o.get(ctx, f)
	return api.DecodeF64(raw), err
}

// FixedTimes reports whether output is restricted to the requested times.
func (o *Options) FixedTimes(ctx context.Context) (bool, error) {
	return o.getBool(ctx, abi.FieldFixedTimes)
}

func (o *Options) SetFixedTimes(ctx context.Context, v bool) error {
	return o.set(ctx, abi.FieldFixedTimes, encodeBool(v))
}

// PrintStats reports whether solve statistics are printed.
func (o *Options) PrintStats(ctx context.Context) (bool, error) {
	return o.getBool(ctx, abi.FieldPrintStats)
}

func (o *Options) SetPrintStats(ctx context.Context, v bool) error {
	return o.set(ctx, abi.FieldPrintStats, encodeBool(v))
}

// FwdSens reports whether forward sensitivities are computed.
func (o *Options) FwdSens(ctx context.Context) (bool, error) {
	return o.getBool(ctx, abi.FieldFwdSens)
}

func (o *Options) SetFwdSens(ctx context.Context, v bool) error {
	return o.set(ctx, abi.FieldFwdSens, encodeBool(v))
}

// Atol is the absolute tolerance.
func (o *Options) Atol(ctx context.Context) (float64, error) {
	return o.getFloat(ctx, abi.FieldAtol)
}

func (o *Options) SetAtol(ctx context.Context, v float64) error {
	return o.set(ctx, abi.FieldAtol, api.EncodeF64(v))
}

// Rtol is the relative tolerance.
func (o *Options) Rtol(ctx context.Context) (float64, error) {
	return o.getFloat(ctx, abi.FieldRtol)
}

func (o *Options) SetRtol(ctx context.Context, v float64) error {
	return o.set(ctx, abi.FieldRtol, api.EncodeF64(v))
}

// LinearSolver is the linear-algebra strategy.
func (o *Options) LinearSolver(ctx context.Context) (LinearSolver, error) {
	n, err := o.getInt(ctx, abi.FieldLinearSolver)
	if err != nil {
		return 0, err
	}
	if v := LinearSolver(n); v.Valid() {
		return v, nil
	}
	return 0, &EnumValueError{Field: string(abi.FieldLinearSolver), Value: n}
}

func (o *Options) SetLinearSolver(ctx context.Context, v LinearSolver) error {
	return o.set(ctx, abi.FieldLinearSolver, api.EncodeI32(int32(v)))
}

// Preconditioner is the preconditioning side.
func (o *Options) Preconditioner(ctx context.Context) (Preconditioner, error) {
	n, err := o.getInt(ctx, abi.FieldPreconditioner)
	if err != nil {
		return 0, err
	}
	if v := Preconditioner(n); v.Valid() {
		return v, nil
	}
	return 0, &EnumValueError{Field: string(abi.FieldPreconditioner), Value: n}
}

func (o *Options) SetPreconditioner(ctx context.Context, v Preconditioner) error {
	return o.set(ctx, abi.FieldPreconditioner, api.EncodeI32(int32(v)))
}

// Jacobian is the Jacobian strategy.
func (o *Options) Jacobian(ctx context.Context) (Jacobian, error) {
	n, err := o.getInt(ctx, abi.FieldJacobian)
	if err != nil {
		return 0, err
	}
	if v := Jacobian(n); v.Valid() {
		return v, nil
	}
	return 0, &EnumValueError{Field: string(abi.FieldJacobian), Value: n}
}

func (o *Options) SetJacobian(ctx context.Context, v Jacobian) error {
	return o.set(ctx, abi.FieldJacobian, api.EncodeI32(int32(v)))
}

// LinsolMaxIterations caps linear-solver iterations per step.
func (o *Options) LinsolMaxIterations(ctx context.Context) (int32, error) {
	return o.getInt(ctx, abi.FieldLinsolMaxIterations)
}

func (o *Options) SetLinsolMaxIterations(ctx context.Context, v int32) error {
	return o.set(ctx, abi.FieldLinsolMaxIterations, api.EncodeI32(v))
}

// Debug reports whether module diagnostics are enabled.
func (o *Options) Debug(ctx context.Context) (bool, error) {
	return o.getBool(ctx, abi.FieldDebug)
}

func (o *Options) SetDebug(ctx context.Context, v bool) error {
	return o.set(ctx, abi.FieldDebug, encodeBool(v))
}

// Destroy releases the module-side record. A second call returns
// ErrDestroyed.
func (o *Options) Destroy(ctx context.Context) error {
	if err := o.check(); err != nil {
		return err
	}
	if o.bound > 0 {
		o.d.logger.Warn("Destroying options still bound to a solver",
			zap.Uint32("options", uint32(o.handle)),
			zap.Int("solvers", o.bound),
		)
	}
	o.destroyed = true
	o.d.handles.remove(o.seq)
	return o.d.exports.Options.Destroy.CallVoid(ctx, o.param())
}

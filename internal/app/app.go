package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"github.com/woxQAQ/diffeq-wasm/internal/config"
	"github.com/woxQAQ/diffeq-wasm/internal/wasm"
	"github.com/woxQAQ/diffeq-wasm/pkg/diffeq"
	"go.uber.org/zap"
)

// App holds the shared runtime and configuration behind the CLI.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	wasmRuntime *wasm.Runtime
	manifest    *abi.Manifest
}

// Request describes one solve.
type Request struct {
	// Exactly one of ModelPath (model text) and WasmPath (compiled module).
	ModelPath string
	WasmPath  string

	TEnd          float64
	Points        int
	Inputs        []float64
	Sensitivities bool
}

func (r *Request) validate() error {
	if (r.ModelPath == "") == (r.WasmPath == "") {
		return errors.New("exactly one of model and wasm path is required")
	}
	if r.Points < 2 {
		return fmt.Errorf("need at least two time points, got %d", r.Points)
	}
	if r.TEnd <= 0 {
		return fmt.Errorf("end time must be positive, got %g", r.TEnd)
	}
	return nil
}

// Result is a solved trajectory. Outputs holds NumberOfOutputs values per
// time point, time-major.
type Result struct {
	Model           string
	Times           []float64
	Outputs         []float64
	DOutputs        []float64
	NumberOfOutputs int
}

// Validate checks that Outputs, and DOutputs when present, hold
// NumberOfOutputs values for every time point.
func (r *Result) Validate() error {
	n := r.NumberOfOutputs
	if n <= 0 {
		return fmt.Errorf("model has %d outputs", n)
	}
	want := n * len(r.Times)
	if len(r.Outputs) != want {
		return fmt.Errorf("solver wrote %d outputs, want %d (%d time points x %d outputs)",
			len(r.Outputs), want, len(r.Times), n)
	}
	if r.DOutputs != nil && len(r.DOutputs) != want {
		return fmt.Errorf("solver wrote %d output sensitivities, want %d (%d time points x %d outputs)",
			len(r.DOutputs), want, len(r.Times), n)
	}
	return nil
}

// Row returns the outputs at time index i.
func (r *Result) Row(i int) []float64 {
	n := r.NumberOfOutputs
	return r.Outputs[i*n : (i+1)*n]
}

// SensitivityRow returns the output sensitivities at time index i, or nil.
func (r *Result) SensitivityRow(i int) []float64 {
	if r.DOutputs == nil {
		return nil
	}
	n := r.NumberOfOutputs
	return r.DOutputs[i*n : (i+1)*n]
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	manifest, err := cfg.LoadManifest()
	if err != nil {
		return nil, err
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, cfg.RuntimeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	logger.Info("Application initialized",
		zap.String("compiler", cfg.Compiler.BaseURL),
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
	)

	return &App{
		cfg:         cfg,
		logger:      logger,
		wasmRuntime: wasmRuntime,
		manifest:    manifest,
	}, nil
}

func (a *App) diffeqConfig() diffeq.Config {
	return diffeq.Config{
		Compiler: a.cfg.CompilerConfig(),
		Runtime:  a.wasmRuntime,
		Host:     a.cfg.HostConfig(),
		Manifest: a.manifest,
		Logger:   a.logger,
	}
}

// Open compiles or loads the requested model.
func (a *App) Open(ctx context.Context, req *Request) (*diffeq.Diffeq, error) {
	if req.WasmPath != "" {
		return diffeq.LoadFile(ctx, req.WasmPath, a.diffeqConfig())
	}

	text, err := os.ReadFile(req.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	if timeout := a.cfg.Compiler.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return diffeq.New(ctx, string(text), a.diffeqConfig())
}

// Run opens the model, solves it over linspace(0, TEnd, Points) and copies
// the trajectory out of module memory. Every handle is destroyed before
// returning.
func (a *App) Run(ctx context.Context, req *Request) (res *Result, err error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	rec, err := a.cfg.Solver.Record()
	if err != nil {
		return nil, err
	}
	if req.Sensitivities {
		rec.FwdSens = true
	}

	d, err := a.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, d.Close(ctx))
	}()

	var handles []interface{ Destroy(context.Context) error }
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			err = errors.Join(err, handles[i].Destroy(ctx))
		}
	}()

	opts, err := d.NewOptions(ctx, rec)
	if err != nil {
		return nil, err
	}
	handles = append(handles, opts)

	solver, err := d.NewSolver(ctx, opts)
	if err != nil {
		return nil, err
	}
	handles = append(handles, solver)

	vector := func(values []float64) (*diffeq.Vector, error) {
		v, err := d.VectorFrom(ctx, values)
		if err == nil {
			handles = append(handles, v)
		}
		return v, err
	}

	times, err := d.Linspace(ctx, 0, req.TEnd, req.Points)
	if err != nil {
		return nil, err
	}
	handles = append(handles, times)

	inputs, err := vector(req.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := vector(nil)
	if err != nil {
		return nil, err
	}

	res = &Result{Model: d.Name(), NumberOfOutputs: solver.NumberOfOutputs()}

	if req.Sensitivities {
		seeds := make([]float64, len(req.Inputs))
		for i := range seeds {
			seeds[i] = 1
		}
		dinputs, err := vector(seeds)
		if err != nil {
			return nil, err
		}
		doutputs, err := vector(nil)
		if err != nil {
			return nil, err
		}
		if err := solver.SolveWithSensitivities(ctx, times, inputs, dinputs, outputs, doutputs); err != nil {
			return nil, err
		}
		if res.DOutputs, err = doutputs.Float64s(ctx); err != nil {
			return nil, err
		}
	} else if err := solver.Solve(ctx, times, inputs, outputs); err != nil {
		return nil, err
	}

	if res.Times, err = times.Float64s(ctx); err != nil {
		return nil, err
	}
	if res.Outputs, err = outputs.Float64s(ctx); err != nil {
		return nil, err
	}

	if err := res.Validate(); err != nil {
		return nil, err
	}

	a.logger.Info("Model solved",
		zap.String("model", res.Model),
		zap.Int("points", len(res.Times)),
		zap.Int("outputs", res.NumberOfOutputs),
		zap.Bool("sensitivities", req.Sensitivities),
	)

	return res, nil
}

// Close shuts down the shared runtime.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down")

	if err := a.wasmRuntime.Close(ctx); err != nil {
		a.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	return nil
}

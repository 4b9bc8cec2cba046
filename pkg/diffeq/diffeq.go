// Package diffeq runs compiled battery models: it sends model text to the
// compilation service, loads the returned wasm module, and drives the
// module's vectors, options and solvers through typed handles.
//
// A Diffeq owns one module instance. It is not safe for concurrent use;
// create one Diffeq per goroutine.
package diffeq

import (
	"context"
	"errors"

	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"github.com/woxQAQ/diffeq-wasm/internal/compiler"
	"github.com/woxQAQ/diffeq-wasm/internal/wasm"
	"go.uber.org/zap"
)

// Re-exported configuration types.
type (
	CompilerConfig = compiler.Config
	RuntimeConfig  = wasm.RuntimeConfig
	HostConfig     = wasm.HostConfig
	Manifest       = abi.Manifest
	Runtime        = wasm.Runtime
	View           = wasm.Float64View
)

// Module is an instantiated model with its bound call table.
// *wasm.Instance implements it.
type Module interface {
	Exports() *wasm.Exports
	Memory() *wasm.Memory
	Close(ctx context.Context) error
}

// Config holds everything needed to go from model text to a running module.
type Config struct {
	Compiler CompilerConfig

	// Runtime, if set, is shared and left open by Close. Otherwise a runtime
	// is created from RuntimeConfig and owned by the Diffeq.
	Runtime       *Runtime
	RuntimeConfig *RuntimeConfig

	// Host defaults to inheriting stdio, args and environment.
	Host *HostConfig

	// Manifest defaults to the embedded export manifest.
	Manifest *Manifest

	Logger *zap.Logger
}

// Diffeq owns one module instance and every handle created through it.
type Diffeq struct {
	name     string
	module   Module
	exports  *wasm.Exports
	memory   *wasm.Memory
	sentinel abi.Sentinel

	// owned runtime, closed with the Diffeq
	runtime *Runtime

	handles *registry
	logger  *zap.Logger
	closed  bool
}

// New compiles modelText with the compilation service and loads the result.
// A rejected model is a *CompilationError whose message is the service's
// diagnostic; an unreachable service is a *TransportError.
func New(ctx context.Context, modelText string, cfg Config) (*Diffeq, error) {
	client := compiler.NewClient(cfg.Compiler, cfg.Logger)
	return LoadSource(ctx, compiler.NewSource(client, modelText), cfg)
}

// Load instantiates an already compiled module.
func Load(ctx context.Context, wasmBytes []byte, cfg Config) (*Diffeq, error) {
	name := cfg.Compiler.ModelName
	if name == "" {
		name = "model"
	}
	return LoadSource(ctx, &wasm.MemoryModuleSource{ModuleName: name, Data: wasmBytes}, cfg)
}

// LoadFile instantiates a compiled module read from path.
func LoadFile(ctx context.Context, path string, cfg Config) (*Diffeq, error) {
	return LoadSource(ctx, &wasm.FileModuleSource{Path: path}, cfg)
}

// LoadSource loads, instantiates and binds a module from any source.
func LoadSource(ctx context.Context, src wasm.ModuleSource, cfg Config) (*Diffeq, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runtime := cfg.Runtime
	var owned *Runtime
	if runtime == nil {
		var err error
		runtime, err = wasm.NewRuntime(ctx, logger, cfg.RuntimeConfig)
		if err != nil {
			return nil, err
		}
		owned = runtime
	}
	fail := func(err error) (*Diffeq, error) {
		if owned != nil {
			owned.Close(ctx)
		}
		return nil, err
	}

	compiled, err := wasm.NewModuleLoader(runtime, logger).LoadModule(ctx, src)
	if err != nil {
		return fail(err)
	}

	hostCfg := wasm.DefaultHostConfig()
	if cfg.Host != nil {
		hostCfg = *cfg.Host
	}
	host := wasm.NewHostEnvironment(hostCfg, logger)

	inst, err := wasm.NewInstanceManager(runtime, host, logger).Instantiate(ctx, &wasm.InstanceConfig{
		ModuleDigest: compiled.Digest,
		Manifest:     cfg.Manifest,
	})
	if err != nil {
		return fail(err)
	}

	d := Attach(inst, cfg)
	d.name = src.Name()
	d.runtime = owned

	d.logger.Info("Model loaded",
		zap.String("model", d.name),
		zap.String("digest", compiled.Digest),
		zap.String("instance_id", inst.ID),
	)

	return d, nil
}

// Attach wraps a module that is already instantiated and bound. Closing the
// Diffeq closes the module.
func Attach(mod Module, cfg Config) *Diffeq {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "diffeq"))

	exports := mod.Exports()
	sentinel := abi.SentinelEmptyVector
	if exports.Manifest != nil {
		sentinel = exports.Manifest.SensitivitySentinel
	}

	return &Diffeq{
		name:     "model",
		module:   mod,
		exports:  exports,
		memory:   mod.Memory(),
		sentinel: sentinel,
		handles:  newRegistry(logger),
		logger:   logger,
	}
}

// Name returns the model name.
func (d *Diffeq) Name() string {
	return d.name
}

// Live reports handles created through d and not yet destroyed.
func (d *Diffeq) Live() LiveHandles {
	return d.handles.counts()
}

// Close destroys any handles still alive, newest first, then releases the
// module. Safe to call twice.
func (d *Diffeq) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}

	var errs []error
	for _, res := range d.handles.newestFirst() {
		d.logger.Warn("Destroying leaked handle",
			zap.String("kind", string(res.kind())),
			zap.Uint32("handle", res.token()),
		)
		if err := res.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	d.closed = true

	if err := d.module.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if d.runtime != nil {
		if err := d.runtime.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	d.logger.Info("Model closed", zap.String("model", d.name))

	return errors.Join(errs...)
}

// Memory returns the linear-memory accessor.
func (d *Diffeq) Memory() *wasm.Memory {
	return d.memory
}

// MemoryView returns the module memory without copying. It is only valid
// until the next call that may grow memory.
func (d *Diffeq) MemoryView() []byte {
	return d.memory.Bytes()
}

// MemorySize returns the module memory size in bytes.
func (d *Diffeq) MemorySize() uint32 {
	return d.memory.Size()
}

// AddressOf returns the host address of a module memory offset.
func (d *Diffeq) AddressOf(offset uint32) (uintptr, error) {
	return d.memory.AddressOf(offset)
}

// Exports returns the raw call table.
func (d *Diffeq) Exports() *wasm.Exports {
	return d.exports
}

func (d *Diffeq) check() error {
	if d.closed {
		return ErrClosed
	}
	return nil
}

package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"go.uber.org/zap"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	host    *HostEnvironment
	logger  *zap.Logger

	// unscoped; Bind adds its own component
	bindLogger *zap.Logger
}

// NewInstanceManager creates a new instance manager. A nil host gets the
// default grant.
func NewInstanceManager(runtime *Runtime, host *HostEnvironment, logger *zap.Logger) *InstanceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if host == nil {
		host = NewHostEnvironment(DefaultHostConfig(), logger)
	}
	return &InstanceManager{
		runtime:    runtime,
		host:       host,
		logger:     logger.With(zap.String("component", "wasm-instance")),
		bindLogger: logger,
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Digest of a module previously compiled by a ModuleLoader.
	ModuleDigest string

	// Instance ID (if empty, one is generated).
	InstanceID string

	// Manifest to bind against (defaults to the embedded one).
	Manifest *abi.Manifest
}

// Instance represents an instantiated model module with its call table.
type Instance struct {
	// wazero module instance.
	module api.Module

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	exports *Exports
	memory  *Memory

	runtime   *Runtime
	closeOnce sync.Once
	closeErr  error
}

// Instantiate creates a new instance from a compiled module, runs its start
// functions, and binds its exports. A module that fails to link is closed
// and a *LinkError returned.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleDigest)
	if !ok {
		return nil, &ModuleNotFoundError{Digest: config.ModuleDigest}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &InstanceLimitError{Max: limit}
	}

	manifest := config.Manifest
	if manifest == nil {
		manifest = abi.Default()
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", compiled.Name),
		zap.String("instance_id", instanceID),
	)

	// Start functions the module does not export are skipped.
	moduleConfig := m.host.ModuleConfig(instanceID).
		WithStartFunctions(manifest.StartFunctions...)

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: compiled.Name,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	mem := module.ExportedMemory(manifest.Memory)
	if mem == nil {
		module.Close(ctx)
		return nil, &LinkError{Export: manifest.Memory, Reason: "memory export not found"}
	}
	memory := NewMemory(mem)

	exports, err := Bind(ModuleExports(module), memory, manifest, BindOptions{
		Logger: m.bindLogger,
		Debug:  m.runtime.config.DebugEnabled,
	})
	if err != nil {
		module.Close(ctx)
		return nil, err
	}

	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      compiled.Name,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
		memory:    memory,
		runtime:   m.runtime,
	}

	m.runtime.storeInstance(instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Uint32("memory_bytes", memory.Size()),
	)

	return instance, nil
}

// Exports returns the bound call table.
func (i *Instance) Exports() *Exports {
	return i.exports
}

// Memory returns the linear-memory accessor.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Close closes the instance and stops tracking it. Safe to call twice.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.runtime.deleteInstance(i.ID)
		i.closeErr = i.module.Close(ctx)
	})
	return i.closeErr
}

var instanceSeq atomic.Uint64

// generateID returns a process-unique instance ID.
func generateID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}

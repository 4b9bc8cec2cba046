package wasm

import (
	"crypto/rand"
	"io"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// HostConfig says which parts of the host process a module may see.
type HostConfig struct {
	InheritStdio bool
	InheritArgs  bool
	InheritEnv   bool
}

// DefaultHostConfig grants everything. The solver prints its statistics and
// diagnostics through the inherited streams.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		InheritStdio: true,
		InheritArgs:  true,
		InheritEnv:   true,
	}
}

// HostEnvironment is the WASI view of the host process given to each
// instance.
type HostEnvironment struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Args   []string
	Env    []string // KEY=VALUE

	logger *zap.Logger
}

// NewHostEnvironment captures the current process according to cfg.
// Streams that are not inherited are discarded.
func NewHostEnvironment(cfg HostConfig, logger *zap.Logger) *HostEnvironment {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &HostEnvironment{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
	if cfg.InheritStdio {
		h.Stdin, h.Stdout, h.Stderr = os.Stdin, os.Stdout, os.Stderr
	}
	if cfg.InheritArgs {
		h.Args = os.Args
	}
	if cfg.InheritEnv {
		h.Env = os.Environ()
	}

	h.logger.Debug("Host environment prepared",
		zap.Bool("stdio", cfg.InheritStdio),
		zap.Int("args", len(h.Args)),
		zap.Int("env", len(h.Env)),
	)

	return h
}

// ModuleConfig builds the wazero module config for one instance.
func (h *HostEnvironment) ModuleConfig(name string) wazero.ModuleConfig {
	mc := wazero.NewModuleConfig().
		WithName(name).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	if h.Stdin != nil {
		mc = mc.WithStdin(h.Stdin)
	}
	if h.Stdout != nil {
		mc = mc.WithStdout(h.Stdout)
	}
	if h.Stderr != nil {
		mc = mc.WithStderr(h.Stderr)
	}
	if len(h.Args) > 0 {
		mc = mc.WithArgs(h.Args...)
	}
	for _, kv := range h.Env {
		k, v, ok := strings.Cut(kv, "=")
		// WASI forbids empty keys and '=' in keys; Windows keeps "=C:" style entries.
		if !ok || k == "" {
			continue
		}
		mc = mc.WithEnv(k, v)
	}

	return mc
}

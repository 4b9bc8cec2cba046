package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"github.com/woxQAQ/diffeq-wasm/internal/compiler"
	"github.com/woxQAQ/diffeq-wasm/internal/wasm"
	"github.com/woxQAQ/diffeq-wasm/pkg/diffeq"
)

// EnvPrefix is prepended to environment overrides, e.g.
// DIFFEQ_COMPILER_BASE_URL.
const EnvPrefix = "DIFFEQ"

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Wasm     WasmConfig     `mapstructure:"wasm"`
	Solver   SolverConfig   `mapstructure:"solver"`
}

// CompilerConfig configures the compilation service client.
type CompilerConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	ModelName string `mapstructure:"model_name"`
	// Applied by the caller to its own context; zero means no deadline.
	Timeout time.Duration `mapstructure:"timeout"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable per-call debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory; empty keeps the cache in memory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Export manifest path; empty uses the embedded one.
	Manifest string `mapstructure:"manifest"`

	InheritStdio bool `mapstructure:"inherit_stdio"`
	InheritArgs  bool `mapstructure:"inherit_args"`
	InheritEnv   bool `mapstructure:"inherit_env"`
}

// SolverConfig mirrors diffeq.OptionsRecord with enums spelled by name.
type SolverConfig struct {
	FixedTimes          bool    `mapstructure:"fixed_times"`
	PrintStats          bool    `mapstructure:"print_stats"`
	FwdSens             bool    `mapstructure:"fwd_sens"`
	Atol                float64 `mapstructure:"atol"`
	Rtol                float64 `mapstructure:"rtol"`
	LinearSolver        string  `mapstructure:"linear_solver"`
	Preconditioner      string  `mapstructure:"preconditioner"`
	Jacobian            string  `mapstructure:"jacobian"`
	LinsolMaxIterations int32   `mapstructure:"linsol_max_iterations"`
	Debug               bool    `mapstructure:"debug"`
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")

	// Compiler defaults
	v.SetDefault("compiler.base_url", compiler.DefaultBaseURL)
	v.SetDefault("compiler.model_name", "unknown")
	v.SetDefault("compiler.timeout", time.Duration(0))

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 4096) // 256MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.manifest", "")
	v.SetDefault("wasm.inherit_stdio", true)
	v.SetDefault("wasm.inherit_args", true)
	v.SetDefault("wasm.inherit_env", true)

	// Solver defaults
	rec := diffeq.DefaultOptionsRecord()
	v.SetDefault("solver.fixed_times", rec.FixedTimes)
	v.SetDefault("solver.print_stats", rec.PrintStats)
	v.SetDefault("solver.fwd_sens", rec.FwdSens)
	v.SetDefault("solver.atol", rec.Atol)
	v.SetDefault("solver.rtol", rec.Rtol)
	v.SetDefault("solver.linear_solver", rec.LinearSolver.String())
	v.SetDefault("solver.preconditioner", rec.Preconditioner.String())
	v.SetDefault("solver.jacobian", rec.Jacobian.String())
	v.SetDefault("solver.linsol_max_iterations", rec.LinsolMaxIterations)
	v.SetDefault("solver.debug", rec.Debug)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if _, err := cfg.Solver.Record(); err != nil {
		return nil, fmt.Errorf("invalid solver section: %w", err)
	}

	return &cfg, nil
}

// Record converts the section to an options record.
func (s SolverConfig) Record() (diffeq.OptionsRecord, error) {
	ls, err := diffeq.ParseLinearSolver(s.LinearSolver)
	if err != nil {
		return diffeq.OptionsRecord{}, err
	}
	pc, err := diffeq.ParsePreconditioner(s.Preconditioner)
	if err != nil {
		return diffeq.OptionsRecord{}, err
	}
	jac, err := diffeq.ParseJacobian(s.Jacobian)
	if err != nil {
		return diffeq.OptionsRecord{}, err
	}

	return diffeq.OptionsRecord{
		FixedTimes:          s.FixedTimes,
		PrintStats:          s.PrintStats,
		FwdSens:             s.FwdSens,
		Atol:                s.Atol,
		Rtol:                s.Rtol,
		LinearSolver:        ls,
		Preconditioner:      pc,
		Jacobian:            jac,
		LinsolMaxIterations: s.LinsolMaxIterations,
		Debug:               s.Debug,
	}, nil
}

// CompilerConfig returns the client configuration.
func (c *Config) CompilerConfig() compiler.Config {
	return compiler.Config{
		BaseURL:   c.Compiler.BaseURL,
		ModelName: c.Compiler.ModelName,
	}
}

// RuntimeConfig returns the runtime configuration.
func (c *Config) RuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:  c.Wasm.MemoryPages,
		DebugEnabled: c.Wasm.Debug,
		CacheDir:     c.Wasm.CacheDir,
		MaxInstances: c.Wasm.MaxInstances,
	}
}

// HostConfig returns what the module may see of the host process.
func (c *Config) HostConfig() *wasm.HostConfig {
	return &wasm.HostConfig{
		InheritStdio: c.Wasm.InheritStdio,
		InheritArgs:  c.Wasm.InheritArgs,
		InheritEnv:   c.Wasm.InheritEnv,
	}
}

// LoadManifest reads the configured manifest, or returns nil for the
// embedded one.
func (c *Config) LoadManifest() (*abi.Manifest, error) {
	if c.Wasm.Manifest == "" {
		return nil, nil
	}
	return abi.ParseManifestFile(c.Wasm.Manifest)
}

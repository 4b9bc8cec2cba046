package abi

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifest []byte

// DefaultManifestPath is reported in errors about the embedded manifest.
const DefaultManifestPath = "<embedded>/manifest.yaml"

// Sentinel says what the host passes for sensitivity slots a plain solve does
// not use.
type Sentinel string

const (
	// SentinelEmptyVector passes a solver-owned empty vector.
	SentinelEmptyVector Sentinel = "empty_vector"
	// SentinelNull passes handle 0.
	SentinelNull Sentinel = "null_handle"
)

// Manifest represents the export manifest structure.
type Manifest struct {
	Version             int      `yaml:"version"`
	Memory              string   `yaml:"memory"`
	StartFunctions      []string `yaml:"start_functions"`
	SensitivitySentinel Sentinel `yaml:"sensitivity_sentinel"`
	Exports             []Export `yaml:"exports"`

	// Internal fields
	path string
	byOp map[Op]Export
}

// Export is one entry of the manifest.
type Export struct {
	Op      Op       `yaml:"op"`
	Name    string   `yaml:"name"`
	Params  []string `yaml:"params"`
	Results []string `yaml:"results"`
	Mutates bool     `yaml:"mutates"`
}

// Signature decodes the declared parameter and result types.
func (e Export) Signature() (Signature, error) {
	var s Signature
	for _, name := range e.Params {
		t, err := ParseValueType(name)
		if err != nil {
			return Signature{}, err
		}
		s.Params = append(s.Params, t)
	}
	for _, name := range e.Results {
		t, err := ParseValueType(name)
		if err != nil {
			return Signature{}, err
		}
		s.Results = append(s.Results, t)
	}
	return s, nil
}

var (
	defaultOnce sync.Once
	defaultM    *Manifest
)

// Default returns the embedded manifest. It panics if the embedded file is
// invalid, which only a broken build can cause. Treat the result as read-only.
func Default() *Manifest {
	defaultOnce.Do(func() {
		m, err := ParseManifest(defaultManifest, DefaultManifestPath)
		if err != nil {
			panic(fmt.Sprintf("abi: embedded manifest: %v", err))
		}
		defaultM = m
	})
	return defaultM
}

// ParseManifestFile reads and parses a manifest from disk.
func ParseManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: path,
			Err:  err,
		}
	}
	return ParseManifest(data, path)
}

// ParseManifest parses and validates manifest YAML. path is only used in
// error messages.
func ParseManifest(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: path,
			Err:  err,
		}
	}

	m.path = path

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields and indexes exports by op.
func (m *Manifest) Validate() error {
	if m.Version < 1 {
		return &ManifestValidationError{
			Path:    m.path,
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Memory == "" {
		return &ManifestValidationError{
			Path:    m.path,
			Field:   "memory",
			Message: "memory export name is required",
		}
	}

	switch m.SensitivitySentinel {
	case "":
		m.SensitivitySentinel = SentinelEmptyVector
	case SentinelEmptyVector, SentinelNull:
	default:
		return &ManifestValidationError{
			Path:    m.path,
			Field:   "sensitivity_sentinel",
			Message: fmt.Sprintf("unknown sentinel: %s (must be one of: empty_vector, null_handle)", m.SensitivitySentinel),
		}
	}

	byOp := make(map[Op]Export, len(m.Exports))
	names := make(map[string]Op, len(m.Exports))
	for _, e := range m.Exports {
		want, ok := Convention(e.Op)
		if !ok {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports",
				Message: fmt.Sprintf("unknown op: %s", e.Op),
			}
		}
		if _, dup := byOp[e.Op]; dup {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports",
				Message: fmt.Sprintf("op %s listed twice", e.Op),
			}
		}
		if e.Name == "" {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports.name",
				Message: fmt.Sprintf("op %s has no export name", e.Op),
			}
		}
		if other, dup := names[e.Name]; dup {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports.name",
				Message: fmt.Sprintf("export %s bound to both %s and %s", e.Name, other, e.Op),
			}
		}
		got, err := e.Signature()
		if err != nil {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports",
				Message: fmt.Sprintf("op %s: %v", e.Op, err),
			}
		}
		if !got.Equal(want) {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports",
				Message: fmt.Sprintf("op %s declares %s, host calls it as %s", e.Op, got, want),
			}
		}
		if MustMutate(e.Op) && !e.Mutates {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports.mutates",
				Message: fmt.Sprintf("op %s may move memory and must be marked mutates: true", e.Op),
			}
		}
		byOp[e.Op] = e
		names[e.Name] = e.Op
	}

	for _, op := range RequiredOps() {
		if _, ok := byOp[op]; !ok {
			return &ManifestValidationError{
				Path:    m.path,
				Field:   "exports",
				Message: fmt.Sprintf("required op %s is missing", op),
			}
		}
	}

	m.byOp = byOp
	return nil
}

// Lookup returns the export bound to op.
func (m *Manifest) Lookup(op Op) (Export, bool) {
	e, ok := m.byOp[op]
	return e, ok
}

// Path returns where the manifest was read from.
func (m *Manifest) Path() string {
	return m.path
}

package abi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/api"
)

func TestDefaultManifest(t *testing.T) {
	m := Default()

	if m.Version != 1 {
		t.Errorf("expected Version 1, got %d", m.Version)
	}

	if m.Memory != "memory" {
		t.Errorf("expected Memory 'memory', got '%s'", m.Memory)
	}

	if m.SensitivitySentinel != SentinelEmptyVector {
		t.Errorf("expected sentinel %s, got %s", SentinelEmptyVector, m.SensitivitySentinel)
	}

	if len(m.Exports) != len(RequiredOps()) {
		t.Errorf("expected %d exports, got %d", len(RequiredOps()), len(m.Exports))
	}

	solve, ok := m.Lookup(OpSolverSolve)
	if !ok {
		t.Fatal("solver.solve not bound")
	}
	if solve.Name != "Sundials_solve" {
		t.Errorf("expected Sundials_solve, got %s", solve.Name)
	}
	if !solve.Mutates {
		t.Error("solver.solve should be marked as mutating")
	}

	get, ok := m.Lookup(OpVectorGet)
	if !ok {
		t.Fatal("vector.get not bound")
	}
	if get.Mutates {
		t.Error("vector.get should not be marked as mutating")
	}
}

func TestDefaultManifestCoversEveryField(t *testing.T) {
	m := Default()
	for _, f := range Fields {
		for _, op := range []Op{GetOp(f), SetOp(f)} {
			e, ok := m.Lookup(op)
			if !ok {
				t.Errorf("op %s missing", op)
				continue
			}
			if !strings.HasPrefix(e.Name, "Options_") {
				t.Errorf("op %s bound to %s, want Options_ prefix", op, e.Name)
			}
		}
	}
}

func TestFieldAccessorSignatures(t *testing.T) {
	atol, _ := Convention(GetOp(FieldAtol))
	if len(atol.Results) != 1 || atol.Results[0] != api.ValueTypeF64 {
		t.Errorf("atol getter = %s, want f64 result", atol)
	}

	debug, _ := Convention(SetOp(FieldDebug))
	if len(debug.Params) != 2 || debug.Params[1] != api.ValueTypeI32 {
		t.Errorf("debug setter = %s, want (i32, i32)", debug)
	}
}

func TestOpNamespace(t *testing.T) {
	cases := map[Op]Namespace{
		OpSolverSolve:          NamespaceSolver,
		GetOp(FieldJacobian):   NamespaceOptions,
		OpVectorLinspaceCreate: NamespaceVector,
	}
	for op, want := range cases {
		if got := op.Namespace(); got != want {
			t.Errorf("%s.Namespace() = %s, want %s", op, got, want)
		}
	}
}

// withEdit returns the default manifest text with old replaced by new.
func withEdit(t *testing.T, old, new string) []byte {
	t.Helper()
	text := string(defaultManifest)
	if !strings.Contains(text, old) {
		t.Fatalf("default manifest does not contain %q", old)
	}
	return []byte(strings.Replace(text, old, new, 1))
}

func TestParseManifest_MissingOp(t *testing.T) {
	data := withEdit(t,
		"  - {op: vector.push, name: Vector_push, params: [i32, f64], results: [], mutates: true}\n", "")

	_, err := ParseManifest(data, "test.yaml")
	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T (%v)", err, err)
	}

	if !strings.Contains(validationErr.Message, "vector.push") {
		t.Errorf("expected message to name vector.push, got '%s'", validationErr.Message)
	}
}

func TestParseManifest_SignatureMismatch(t *testing.T) {
	data := withEdit(t,
		"name: Vector_get, params: [i32, i32], results: [f64]",
		"name: Vector_get, params: [i32, i32], results: [f32]")

	_, err := ParseManifest(data, "test.yaml")
	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T", err)
	}

	if validationErr.Field != "exports" {
		t.Errorf("expected Field 'exports', got '%s'", validationErr.Field)
	}
}

func TestParseManifest_AllocatingOpMustMutate(t *testing.T) {
	for _, op := range []string{"vector.push", "vector.resize", "solver.solve"} {
		text := string(defaultManifest)
		start := strings.Index(text, "{op: "+op+",")
		if start < 0 {
			t.Fatalf("default manifest does not list %s", op)
		}
		end := start + strings.Index(text[start:], "}")
		line := text[start:end]
		data := withEdit(t, line, strings.Replace(line, "mutates: true", "mutates: false", 1))

		_, err := ParseManifest(data, "test.yaml")
		validationErr, ok := err.(*ManifestValidationError)
		if !ok {
			t.Fatalf("%s: expected ManifestValidationError, got %T (%v)", op, err, err)
		}
		if validationErr.Field != "exports.mutates" {
			t.Errorf("%s: expected Field 'exports.mutates', got '%s'", op, validationErr.Field)
		}
	}
}

func TestParseManifest_ReadOnlyOpMayMutate(t *testing.T) {
	data := withEdit(t,
		"name: Vector_get, params: [i32, i32], results: [f64]}",
		"name: Vector_get, params: [i32, i32], results: [f64], mutates: true}")

	m, err := ParseManifest(data, "test.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}
	if e, _ := m.Lookup(OpVectorGet); !e.Mutates {
		t.Error("vector.get should keep mutates: true")
	}
}

func TestParseManifest_UnknownValueType(t *testing.T) {
	data := withEdit(t,
		"name: Sundials_create, params: [], results: [i32]",
		"name: Sundials_create, params: [], results: [ptr]")

	_, err := ParseManifest(data, "test.yaml")
	if _, ok := err.(*ManifestValidationError); !ok {
		t.Fatalf("expected ManifestValidationError, got %T", err)
	}
}

func TestParseManifest_DuplicateName(t *testing.T) {
	data := withEdit(t, "name: Sundials_destroy,", "name: Sundials_create,")

	_, err := ParseManifest(data, "test.yaml")
	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T", err)
	}

	if validationErr.Field != "exports.name" {
		t.Errorf("expected Field 'exports.name', got '%s'", validationErr.Field)
	}
}

func TestParseManifest_BadSentinel(t *testing.T) {
	data := withEdit(t, "sensitivity_sentinel: empty_vector", "sensitivity_sentinel: zero")

	_, err := ParseManifest(data, "test.yaml")
	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T", err)
	}

	if validationErr.Field != "sensitivity_sentinel" {
		t.Errorf("expected Field 'sensitivity_sentinel', got '%s'", validationErr.Field)
	}
}

func TestParseManifest_NullSentinel(t *testing.T) {
	data := withEdit(t, "sensitivity_sentinel: empty_vector", "sensitivity_sentinel: null_handle")

	m, err := ParseManifest(data, "test.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if m.SensitivitySentinel != SentinelNull {
		t.Errorf("expected sentinel null_handle, got %s", m.SensitivitySentinel)
	}
}

func TestParseManifest_RenamedExport(t *testing.T) {
	data := withEdit(t, "name: Sundials_solve,", "name: Solver_solve,")

	m, err := ParseManifest(data, "test.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	e, _ := m.Lookup(OpSolverSolve)
	if e.Name != "Solver_solve" {
		t.Errorf("expected Solver_solve, got %s", e.Name)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	_, err := ParseManifest([]byte("version: [1\nexports: {"), "broken.yaml")
	if _, ok := err.(*ManifestParseError); !ok {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_MissingVersion(t *testing.T) {
	data := withEdit(t, "version: 1\n", "")

	_, err := ParseManifest(data, "test.yaml")
	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T", err)
	}

	if validationErr.Field != "version" {
		t.Errorf("expected Field 'version', got '%s'", validationErr.Field)
	}
}

func TestParseManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, defaultManifest, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseManifestFile(path)
	if err != nil {
		t.Fatalf("ParseManifestFile() failed: %v", err)
	}

	if m.Path() != path {
		t.Errorf("expected Path '%s', got '%s'", path, m.Path())
	}
}

func TestParseManifestFile_NotFound(t *testing.T) {
	_, err := ParseManifestFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, ok := err.(*ManifestNotFoundError); !ok {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

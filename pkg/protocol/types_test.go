package protocol

import (
	"encoding/json"
	"testing"
)

func TestCompileRequestFieldNames(t *testing.T) {
	data, err := json.Marshal(CompileRequest{Text: "in = [] u { y = 1 }", Name: DefaultModelName})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(fields) != 2 {
		t.Errorf("Field count mismatch: got %d, want 2", len(fields))
	}
	if fields["text"] != "in = [] u { y = 1 }" {
		t.Errorf("text mismatch: got %q", fields["text"])
	}
	if fields["name"] != "unknown" {
		t.Errorf("name mismatch: got %q, want unknown", fields["name"])
	}
}

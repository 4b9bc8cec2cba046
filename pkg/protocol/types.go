package protocol

// Wire types shared between the compiler client and anything that talks to the
// compilation service.

// CompilePath is the service route that turns model text into a wasm module.
const CompilePath = "/compile"

// DefaultModelName is sent when the caller does not name the model.
const DefaultModelName = "unknown"

// CompileRequest is the JSON body of a compile request.
type CompileRequest struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

// ContentType of a compile request body.
const ContentType = "application/json"

// WasmContentType is what the service reports for a successful compile.
// The client does not require it; the status code alone decides success.
const WasmContentType = "application/wasm"

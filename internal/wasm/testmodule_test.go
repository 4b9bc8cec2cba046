package wasm

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
)

// testFunc is one exported function of a test module. body holds the
// instructions without the trailing end; nil returns zero values.
type testFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	body    []byte
}

func writeLEB128(buf *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeName(buf *bytes.Buffer, name string) {
	writeLEB128(buf, uint32(len(name)))
	buf.WriteString(name)
}

func writeSection(out *bytes.Buffer, id byte, contents *bytes.Buffer) {
	out.WriteByte(id)
	writeLEB128(out, uint32(contents.Len()))
	out.Write(contents.Bytes())
}

func writeTypes(buf *bytes.Buffer, types []api.ValueType) {
	writeLEB128(buf, uint32(len(types)))
	buf.Write(types)
}

// zeroBody pushes a zero of every result type.
func zeroBody(results []api.ValueType) []byte {
	var body []byte
	for _, t := range results {
		switch t {
		case api.ValueTypeI32:
			body = append(body, 0x41, 0x00)
		case api.ValueTypeI64:
			body = append(body, 0x42, 0x00)
		case api.ValueTypeF32:
			body = append(body, 0x43, 0, 0, 0, 0)
		case api.ValueTypeF64:
			body = append(body, 0x44, 0, 0, 0, 0, 0, 0, 0, 0)
		}
	}
	return body
}

// buildModule assembles a module with one page of memory exported as
// memoryName (none if empty) and the given functions.
func buildModule(memoryName string, funcs []testFunc) []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d}) // \0asm
	out.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	var types, functions, memory, exports, code bytes.Buffer

	writeLEB128(&types, uint32(len(funcs)))
	writeLEB128(&functions, uint32(len(funcs)))
	for i, f := range funcs {
		types.WriteByte(0x60)
		writeTypes(&types, f.params)
		writeTypes(&types, f.results)
		writeLEB128(&functions, uint32(i))
	}

	exportCount := len(funcs)
	if memoryName != "" {
		exportCount++
		writeLEB128(&memory, 1)
		memory.Write([]byte{0x00, 0x01}) // min 1 page, no max
	}

	writeLEB128(&exports, uint32(exportCount))
	for i, f := range funcs {
		writeName(&exports, f.name)
		exports.WriteByte(0x00)
		writeLEB128(&exports, uint32(i))
	}
	if memoryName != "" {
		writeName(&exports, memoryName)
		exports.WriteByte(0x02)
		writeLEB128(&exports, 0)
	}

	writeLEB128(&code, uint32(len(funcs)))
	for _, f := range funcs {
		body := f.body
		if body == nil {
			body = zeroBody(f.results)
		}
		var entry bytes.Buffer
		writeLEB128(&entry, 0) // no locals
		entry.Write(body)
		entry.WriteByte(0x0b)
		writeLEB128(&code, uint32(entry.Len()))
		code.Write(entry.Bytes())
	}

	writeSection(&out, 1, &types)
	writeSection(&out, 3, &functions)
	if memoryName != "" {
		writeSection(&out, 5, &memory)
	}
	writeSection(&out, 7, &exports)
	writeSection(&out, 10, &code)

	return out.Bytes()
}

// modelFuncs returns a function for every op of the default manifest with
// the host calling convention, after applying edits.
func modelFuncs(edits ...func(map[abi.Op]*testFunc)) []testFunc {
	m := abi.Default()
	byOp := make(map[abi.Op]*testFunc)
	for _, op := range abi.RequiredOps() {
		e, _ := m.Lookup(op)
		sig, _ := abi.Convention(op)
		byOp[op] = &testFunc{name: e.Name, params: sig.Params, results: sig.Results}
	}
	for _, edit := range edits {
		edit(byOp)
	}

	var funcs []testFunc
	for _, op := range abi.RequiredOps() {
		if f, ok := byOp[op]; ok {
			funcs = append(funcs, *f)
		}
	}
	return funcs
}

// growBody grows memory by one page and discards the old size.
var growBody = []byte{0x41, 0x01, 0x40, 0x00, 0x1a}

// storeMarkerBody writes 42 to address 0.
var storeMarkerBody = []byte{0x41, 0x00, 0x41, 0x2a, 0x36, 0x02, 0x00}

package diffeq

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/diffeq-wasm/internal/abi"
	"github.com/woxQAQ/diffeq-wasm/internal/wasm"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const stubPage = 65536

type stubFunc func(params []uint64) []uint64

type stubVector struct {
	ptr, length, capacity uint32
}

// stubModel is an in-process stand-in for a compiled model. It keeps a
// counting handle table and a byte-slice linear memory that grows by pages,
// and it solves y' = -k*y, y(0) = 1 for every output.
type stubModel struct {
	buf  []byte
	heap uint32
	next uint32

	vectors map[uint32]*stubVector
	options map[uint32]map[abi.Field]uint64
	solvers map[uint32]uint32 // solver -> options, 0 until init

	inputs, outputs, states uint32
	initStatus              int32

	calls          []string
	doubleDestroys int
	lastSolve      []uint32

	funcs map[string]stubFunc
}

func newStubModel() *stubModel {
	m := &stubModel{
		buf:     make([]byte, stubPage),
		heap:    8,
		vectors: make(map[uint32]*stubVector),
		options: make(map[uint32]map[abi.Field]uint64),
		solvers: make(map[uint32]uint32),
		outputs: 1,
		states:  1,
	}
	m.register(abi.Default())
	return m
}

// handleCount is the size of the module-side handle table.
func (m *stubModel) handleCount() int {
	return len(m.vectors) + len(m.options) + len(m.solvers)
}

func (m *stubModel) callCount(name string) int {
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Region

func (m *stubModel) Size() uint32 { return uint32(len(m.buf)) }

func (m *stubModel) Read(offset, n uint32) ([]byte, bool) {
	if uint64(offset)+uint64(n) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset : offset+n : offset+n], true
}

func (m *stubModel) ReadFloat64Le(offset uint32) (float64, bool) {
	b, ok := m.Read(offset, 8)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), true
}

func (m *stubModel) WriteFloat64Le(offset uint32, v float64) bool {
	b, ok := m.Read(offset, 8)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return true
}

// ExportSource

func (m *stubModel) Lookup(name string) (wasm.Function, abi.Signature, bool) {
	fn, ok := m.funcs[name]
	if !ok {
		return nil, abi.Signature{}, false
	}
	for _, e := range abi.Default().Exports {
		if e.Name == name {
			sig, _ := abi.Convention(e.Op)
			return recorder{m: m, name: name, fn: fn}, sig, true
		}
	}
	return nil, abi.Signature{}, false
}

type recorder struct {
	m    *stubModel
	name string
	fn   stubFunc
}

func (r recorder) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	r.m.calls = append(r.m.calls, r.name)
	return r.fn(params), nil
}

// memory management

func (m *stubModel) alloc(n uint32) uint32 {
	ptr := m.heap
	m.heap += (n + 7) &^ 7
	for int(m.heap) > len(m.buf) {
		m.buf = append(m.buf, make([]byte, stubPage)...)
	}
	return ptr
}

func (m *stubModel) newHandle() uint32 {
	m.next++
	return m.next
}

func (m *stubModel) reserve(v *stubVector, n uint32) {
	if n <= v.capacity {
		return
	}
	capacity := max(4, v.capacity*2, n)
	ptr := m.alloc(capacity * 8)
	copy(m.buf[ptr:], m.buf[v.ptr:v.ptr+v.length*8])
	v.ptr, v.capacity = ptr, capacity
}

func (m *stubModel) at(v *stubVector, i uint32) float64 {
	f, _ := m.ReadFloat64Le(v.ptr + i*8)
	return f
}

func (m *stubModel) values(h uint32) []float64 {
	v := m.vectors[h]
	if v == nil {
		return nil
	}
	out := make([]float64, v.length)
	for i := range out {
		out[i] = m.at(v, uint32(i))
	}
	return out
}

func (m *stubModel) setValues(h uint32, xs []float64) {
	v := m.vectors[h]
	m.reserve(v, uint32(len(xs)))
	v.length = uint32(len(xs))
	for i, x := range xs {
		m.WriteFloat64Le(v.ptr+uint32(i)*8, x)
	}
}

func u32(x uint64) uint32 { return api.DecodeU32(x) }

func ret(xs ...uint64) []uint64 { return xs }

func (m *stubModel) register(manifest *abi.Manifest) {
	name := func(op abi.Op) string {
		e, _ := manifest.Lookup(op)
		return e.Name
	}
	destroy := func(p []uint64, table func(uint32) bool) []uint64 {
		if !table(u32(p[0])) {
			m.doubleDestroys++
		}
		return nil
	}

	m.funcs = map[string]stubFunc{
		name(abi.OpVectorCreate): func(p []uint64) []uint64 {
			h := m.newHandle()
			m.vectors[h] = &stubVector{ptr: m.heap}
			return ret(api.EncodeU32(h))
		},
		name(abi.OpVectorCreateWithCapacity): func(p []uint64) []uint64 {
			h := m.newHandle()
			v := &stubVector{ptr: m.heap}
			m.vectors[h] = v
			m.reserve(v, u32(p[1]))
			v.length = u32(p[0])
			return ret(api.EncodeU32(h))
		},
		name(abi.OpVectorDestroy): func(p []uint64) []uint64 {
			return destroy(p, func(h uint32) bool {
				_, ok := m.vectors[h]
				delete(m.vectors, h)
				return ok
			})
		},
		name(abi.OpVectorGet): func(p []uint64) []uint64 {
			v, i := m.vectors[u32(p[0])], api.DecodeI32(p[1])
			if v == nil || i < 0 || uint32(i) >= v.length {
				return ret(api.EncodeF64(math.NaN()))
			}
			return ret(api.EncodeF64(m.at(v, uint32(i))))
		},
		name(abi.OpVectorGetLength): func(p []uint64) []uint64 {
			return ret(api.EncodeU32(m.vectors[u32(p[0])].length))
		},
		name(abi.OpVectorResize): func(p []uint64) []uint64 {
			v, n := m.vectors[u32(p[0])], u32(p[1])
			m.reserve(v, n)
			for i := v.length; i < n; i++ {
				m.WriteFloat64Le(v.ptr+i*8, 0)
			}
			v.length = n
			return nil
		},
		name(abi.OpVectorGetData): func(p []uint64) []uint64 {
			return ret(api.EncodeU32(m.vectors[u32(p[0])].ptr))
		},
		name(abi.OpVectorLinspaceCreate): func(p []uint64) []uint64 {
			start, stop, n := api.DecodeF64(p[0]), api.DecodeF64(p[1]), u32(p[2])
			h := m.newHandle()
			m.vectors[h] = &stubVector{ptr: m.heap}
			xs := make([]float64, n)
			for i := range xs {
				if n > 1 {
					xs[i] = start + (stop-start)*float64(i)/float64(n-1)
				} else {
					xs[i] = start
				}
			}
			m.setValues(h, xs)
			return ret(api.EncodeU32(h))
		},
		name(abi.OpVectorPush): func(p []uint64) []uint64 {
			v := m.vectors[u32(p[0])]
			m.reserve(v, v.length+1)
			m.WriteFloat64Le(v.ptr+v.length*8, api.DecodeF64(p[1]))
			v.length++
			return nil
		},

		name(abi.OpOptionsCreate): func(p []uint64) []uint64 {
			h := m.newHandle()
			m.options[h] = make(map[abi.Field]uint64)
			return ret(api.EncodeU32(h))
		},
		name(abi.OpOptionsDestroy): func(p []uint64) []uint64 {
			return destroy(p, func(h uint32) bool {
				_, ok := m.options[h]
				delete(m.options, h)
				return ok
			})
		},

		name(abi.OpSolverCreate): func(p []uint64) []uint64 {
			h := m.newHandle()
			m.solvers[h] = 0
			return ret(api.EncodeU32(h))
		},
		name(abi.OpSolverDestroy): func(p []uint64) []uint64 {
			return destroy(p, func(h uint32) bool {
				_, ok := m.solvers[h]
				delete(m.solvers, h)
				return ok
			})
		},
		name(abi.OpSolverInit): func(p []uint64) []uint64 {
			if m.initStatus != 0 {
				return ret(api.EncodeI32(m.initStatus))
			}
			m.solvers[u32(p[0])] = u32(p[1])
			return ret(api.EncodeI32(0))
		},
		name(abi.OpSolverNumberOfStates): func(p []uint64) []uint64 {
			return ret(api.EncodeU32(m.states))
		},
		name(abi.OpSolverNumberOfInputs): func(p []uint64) []uint64 {
			return ret(api.EncodeU32(m.inputs))
		},
		name(abi.OpSolverNumberOfOutputs): func(p []uint64) []uint64 {
			return ret(api.EncodeU32(m.outputs))
		},
		name(abi.OpSolverSolve): func(p []uint64) []uint64 {
			return ret(api.EncodeI32(m.solve(u32(p[1]), u32(p[2]), u32(p[3]), u32(p[4]), u32(p[5]))))
		},
	}

	for _, f := range abi.Fields {
		f := f
		m.funcs[name(abi.GetOp(f))] = func(p []uint64) []uint64 {
			return ret(m.options[u32(p[0])][f])
		}
		m.funcs[name(abi.SetOp(f))] = func(p []uint64) []uint64 {
			m.options[u32(p[0])][f] = p[1]
			return nil
		}
	}
}

// solve writes exp(-k t) scaled by (output index + 1) for every time point,
// with k the first input or 1. Sensitivities are written when the two
// sensitivity slots hold different vectors.
func (m *stubModel) solve(t, in, din, out, dout uint32) int32 {
	m.lastSolve = []uint32{t, in, din, out, dout}

	times := m.values(t)
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return 1
		}
	}

	k, dk := 1.0, 0.0
	if xs := m.values(in); len(xs) > 0 {
		k = xs[0]
	}
	if xs := m.values(din); len(xs) > 0 {
		dk = xs[0]
	}

	ys := make([]float64, 0, len(times)*int(m.outputs))
	dys := make([]float64, 0, len(times)*int(m.outputs))
	for _, tt := range times {
		for o := 0; o < int(m.outputs); o++ {
			y := float64(o+1) * math.Exp(-k*tt)
			ys = append(ys, y)
			dys = append(dys, -tt*y*dk)
		}
	}
	m.setValues(out, ys)
	if din != dout && m.vectors[dout] != nil {
		m.setValues(dout, dys)
	}
	return 0
}

type stubInstance struct {
	exports *wasm.Exports
	memory  *wasm.Memory
	closed  int
}

func (s *stubInstance) Exports() *wasm.Exports          { return s.exports }
func (s *stubInstance) Memory() *wasm.Memory            { return s.memory }
func (s *stubInstance) Close(ctx context.Context) error { s.closed++; return nil }

// newTestDiffeq attaches a Diffeq to model. manifest may be nil.
func newTestDiffeq(t *testing.T, model *stubModel, manifest *abi.Manifest, logger *zap.Logger) (*Diffeq, *stubInstance) {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}

	mem := wasm.NewMemory(model)
	exports, err := wasm.Bind(model, mem, manifest, wasm.BindOptions{Logger: logger, Debug: true})
	if err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}

	inst := &stubInstance{exports: exports, memory: mem}
	return Attach(inst, Config{Logger: logger}), inst
}

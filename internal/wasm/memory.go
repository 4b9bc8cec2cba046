package wasm

import (
	"fmt"
	"unsafe"

	"github.com/tetratelabs/wazero/api"
)

// Region is the part of a module memory the accessor needs. api.Memory
// satisfies it.
type Region interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	ReadFloat64Le(offset uint32) (float64, bool)
	WriteFloat64Le(offset uint32, v float64) bool
}

var _ Region = api.Memory(nil)

// Memory is a live accessor over a module's linear memory.
//
// Nothing here copies: Bytes and Float64View alias the module's buffer, which
// moves whenever the module grows its memory. Memory counts such moves in a
// generation number. Calls that may grow memory bump it through Invalidate,
// and a size change seen on any access bumps it too. A view derived under an
// older generation refuses to read.
type Memory struct {
	region     Region
	generation uint64
	size       uint32
}

// NewMemory wraps a module memory.
func NewMemory(region Region) *Memory {
	return &Memory{region: region, size: region.Size()}
}

// Generation returns the current generation.
func (m *Memory) Generation() uint64 {
	if size := m.region.Size(); size != m.size {
		m.size = size
		m.generation++
	}
	return m.generation
}

// Invalidate marks every outstanding view stale.
func (m *Memory) Invalidate() {
	m.generation++
	m.size = m.region.Size()
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint32 {
	return m.region.Size()
}

// Bytes returns the whole memory. The slice aliases module memory and is only
// valid until the next call that may grow it.
func (m *Memory) Bytes() []byte {
	buf, _ := m.region.Read(0, m.region.Size())
	return buf
}

// AddressOf returns the host address of offset in module memory. Like Bytes,
// the address is only valid until memory moves.
func (m *Memory) AddressOf(offset uint32) (uintptr, error) {
	buf, ok := m.region.Read(offset, 1)
	if !ok {
		return 0, &MemoryAccessError{
			Operation: "address",
			Address:   offset,
			Length:    1,
			Err:       errOutOfRange,
		}
	}
	return uintptr(unsafe.Pointer(&buf[0])), nil
}

// Float64View interprets length float64 values starting at offset.
func (m *Memory) Float64View(offset, length uint32) (*Float64View, error) {
	byteLen := uint64(length) * 8
	if uint64(offset)+byteLen > uint64(m.region.Size()) {
		return nil, &MemoryAccessError{
			Operation: "view",
			Address:   offset,
			Length:    uint32(min(byteLen, uint64(^uint32(0)))),
			Err:       errOutOfRange,
		}
	}
	return &Float64View{
		mem:        m,
		offset:     offset,
		length:     length,
		generation: m.Generation(),
	}, nil
}

// Float64View is a zero-copy window of float64 values in module memory,
// valid for one memory generation.
type Float64View struct {
	mem        *Memory
	offset     uint32
	length     uint32
	generation uint64
}

// Len returns the number of elements.
func (v *Float64View) Len() int {
	return int(v.length)
}

// Offset returns the byte offset of element 0.
func (v *Float64View) Offset() uint32 {
	return v.offset
}

// Generation returns the memory generation the view was derived under.
func (v *Float64View) Generation() uint64 {
	return v.generation
}

// Valid reports whether the view can still be read.
func (v *Float64View) Valid() bool {
	return v.mem.Generation() == v.generation
}

func (v *Float64View) check(op string, i int) (uint32, error) {
	if !v.Valid() {
		return 0, ErrStaleView
	}
	if i < 0 || i >= int(v.length) {
		return 0, &MemoryAccessError{
			Operation: op,
			Address:   v.offset,
			Length:    v.length * 8,
			Err:       fmt.Errorf("index %d %w for length %d", i, errOutOfRange, v.length),
		}
	}
	return v.offset + uint32(i)*8, nil
}

// At returns element i.
func (v *Float64View) At(i int) (float64, error) {
	addr, err := v.check("read", i)
	if err != nil {
		return 0, err
	}
	f, ok := v.mem.region.ReadFloat64Le(addr)
	if !ok {
		return 0, &MemoryAccessError{Operation: "read", Address: addr, Length: 8, Err: errOutOfRange}
	}
	return f, nil
}

// Set overwrites element i in module memory.
func (v *Float64View) Set(i int, f float64) error {
	addr, err := v.check("write", i)
	if err != nil {
		return err
	}
	if !v.mem.region.WriteFloat64Le(addr, f) {
		return &MemoryAccessError{Operation: "write", Address: addr, Length: 8, Err: errOutOfRange}
	}
	return nil
}

// Bytes returns the raw little-endian bytes behind the view, aliasing module
// memory.
func (v *Float64View) Bytes() ([]byte, error) {
	if !v.Valid() {
		return nil, ErrStaleView
	}
	buf, ok := v.mem.region.Read(v.offset, v.length*8)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: v.offset, Length: v.length * 8, Err: errOutOfRange}
	}
	return buf, nil
}

// Float64s copies the view into a new slice.
func (v *Float64View) Float64s() ([]float64, error) {
	if !v.Valid() {
		return nil, ErrStaleView
	}
	out := make([]float64, v.length)
	for i := range out {
		f, err := v.At(i)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

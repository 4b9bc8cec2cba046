package diffeq

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Vector is a growable float64 array living in module memory.
type Vector struct {
	d      *Diffeq
	handle VectorHandle
	seq    uint64

	// length cache; only trusted while every mutation went through the host
	length      int
	lengthKnown bool

	destroyed bool
}

// NewVector creates an empty vector.
func (d *Diffeq) NewVector(ctx context.Context) (*Vector, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	h, err := d.exports.Vector.Create.CallI32(ctx)
	if err != nil {
		return nil, err
	}
	return d.trackVector(VectorHandle(h), 0, true), nil
}

// NewVectorWithCapacity creates an empty vector with room for reserve
// elements.
func (d *Diffeq) NewVectorWithCapacity(ctx context.Context, reserve int) (*Vector, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if reserve < 0 {
		return nil, &InvalidArgumentError{Op: "vector create", Reason: fmt.Sprintf("negative capacity %d", reserve)}
	}
	h, err := d.exports.Vector.CreateWithCapacity.CallI32(ctx, api.EncodeU32(0), api.EncodeU32(uint32(reserve)))
	if err != nil {
		return nil, err
	}
	return d.trackVector(VectorHandle(h), 0, true), nil
}

// VectorFrom creates a vector holding values, pushing them one at a time.
func (d *Diffeq) VectorFrom(ctx context.Context, values []float64) (*Vector, error) {
	v, err := d.NewVectorWithCapacity(ctx, len(values))
	if err != nil {
		return nil, err
	}
	for _, x := range values {
		if err := v.Push(ctx, x); err != nil {
			v.Destroy(ctx)
			return nil, err
		}
	}
	return v, nil
}

// Linspace creates a vector of n evenly spaced values from start to stop.
func (d *Diffeq) Linspace(ctx context.Context, start, stop float64, n int) (*Vector, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &InvalidArgumentError{Op: "linspace", Reason: fmt.Sprintf("negative length %d", n)}
	}
	h, err := d.exports.Vector.LinspaceCreate.CallI32(ctx,
		api.EncodeF64(start), api.EncodeF64(stop), api.EncodeU32(uint32(n)))
	if err != nil {
		return nil, err
	}
	// The module fills the vector; ask it for the length when needed.
	return d.trackVector(VectorHandle(h), 0, false), nil
}

func (d *Diffeq) trackVector(h VectorHandle, length int, known bool) *Vector {
	v := &Vector{d: d, handle: h, length: length, lengthKnown: known}
	v.seq = d.handles.add(v)
	return v
}

// newSentinelVector creates an empty vector that is not tracked; its owner
// destroys it.
func (d *Diffeq) newSentinelVector(ctx context.Context) (*Vector, error) {
	h, err := d.exports.Vector.Create.CallI32(ctx)
	if err != nil {
		return nil, err
	}
	return &Vector{d: d, handle: VectorHandle(h), lengthKnown: true}, nil
}

func (v *Vector) kind() Kind    { return KindVector }
func (v *Vector) token() uint32 { return uint32(v.handle) }

// Handle returns the module token.
func (v *Vector) Handle() VectorHandle {
	return v.handle
}

func (v *Vector) check() error {
	if v.destroyed {
		return ErrDestroyed
	}
	return v.d.check()
}

func (v *Vector) param() uint64 {
	return api.EncodeU32(uint32(v.handle))
}

// Push appends x. The module may move the backing storage.
func (v *Vector) Push(ctx context.Context, x float64) error {
	if err := v.check(); err != nil {
		return err
	}
	if err := v.d.exports.Vector.Push.CallVoid(ctx, v.param(), api.EncodeF64(x)); err != nil {
		v.lengthKnown = false
		return err
	}
	v.length++
	return nil
}

// Resize sets the length to n. New elements hold whatever the module puts
// there.
func (v *Vector) Resize(ctx context.Context, n int) error {
	if err := v.check(); err != nil {
		return err
	}
	if n < 0 {
		return &InvalidArgumentError{Op: "resize", Reason: fmt.Sprintf("negative length %d", n)}
	}
	if err := v.d.exports.Vector.Resize.CallVoid(ctx, v.param(), api.EncodeU32(uint32(n))); err != nil {
		v.lengthKnown = false
		return err
	}
	v.length, v.lengthKnown = n, true
	return nil
}

// Len returns the number of elements.
func (v *Vector) Len(ctx context.Context) (int, error) {
	if err := v.check(); err != nil {
		return 0, err
	}
	if v.lengthKnown {
		return v.length, nil
	}
	n, err := v.d.exports.Vector.GetLength.CallI32(ctx, v.param())
	if err != nil {
		return 0, err
	}
	v.length, v.lengthKnown = int(n), true
	return v.length, nil
}

// Get returns element i. The index is not checked by the host; out of range
// reads return whatever the module returns.
func (v *Vector) Get(ctx context.Context, i int) (float64, error) {
	if err := v.check(); err != nil {
		return 0, err
	}
	return v.d.exports.Vector.Get.CallF64(ctx, v.param(), api.EncodeI32(int32(i)))
}

// View returns a zero-copy view of the elements. It goes stale after any
// call that may grow module memory.
func (v *Vector) View(ctx context.Context) (*View, error) {
	n, err := v.Len(ctx)
	if err != nil {
		return nil, err
	}
	ptr, err := v.d.exports.Vector.GetData.CallI32(ctx, v.param())
	if err != nil {
		return nil, err
	}
	return v.d.memory.Float64View(ptr, uint32(n))
}

// Float64s copies the elements out of module memory.
func (v *Vector) Float64s(ctx context.Context) ([]float64, error) {
	view, err := v.View(ctx)
	if err != nil {
		return nil, err
	}
	return view.Float64s()
}

// Destroy releases the module-side vector. A second call returns
// ErrDestroyed.
func (v *Vector) Destroy(ctx context.Context) error {
	if err := v.check(); err != nil {
		return err
	}
	v.destroyed = true
	if v.seq != 0 {
		v.d.handles.remove(v.seq)
	}
	return v.d.exports.Vector.Destroy.CallVoid(ctx, v.param())
}

// forgetLength drops the cached length after the module wrote the vector.
func (v *Vector) forgetLength() {
	v.lengthKnown = false
}

func (d *Diffeq) owns(v *Vector) error {
	if v == nil {
		return fmt.Errorf("nil vector")
	}
	if v.d != d {
		return fmt.Errorf("vector %d belongs to another module", v.handle)
	}
	return nil
}

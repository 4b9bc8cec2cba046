package diffeq

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Kind names a kind of module-side object.
type Kind string

const (
	KindVector  Kind = "vector"
	KindOptions Kind = "options"
	KindSolver  Kind = "solver"
)

// VectorHandle is the module's token for a vector.
type VectorHandle uint32

// OptionsHandle is the module's token for an options record.
type OptionsHandle uint32

// SolverHandle is the module's token for a solver.
type SolverHandle uint32

// resource is a host wrapper that owns one module handle.
type resource interface {
	kind() Kind
	token() uint32
	Destroy(ctx context.Context) error
}

// LiveHandles counts handles created through a Diffeq and not yet destroyed.
type LiveHandles struct {
	Vectors int
	Options int
	Solvers int
}

// Total returns the sum over all kinds.
func (l LiveHandles) Total() int {
	return l.Vectors + l.Options + l.Solvers
}

// registry tracks live wrappers in creation order.
type registry struct {
	sync.Mutex
	next   uint64
	live   map[uint64]resource
	count  map[Kind]int
	logger *zap.Logger
}

func newRegistry(logger *zap.Logger) *registry {
	return &registry{
		live:   make(map[uint64]resource),
		count:  make(map[Kind]int),
		logger: logger,
	}
}

// add starts tracking r and returns its sequence number.
func (r *registry) add(res resource) uint64 {
	r.Lock()
	defer r.Unlock()

	r.next++
	r.live[r.next] = res
	r.count[res.kind()]++

	r.logger.Debug("Handle created",
		zap.String("kind", string(res.kind())),
		zap.Uint32("handle", res.token()),
	)

	return r.next
}

// remove stops tracking seq.
func (r *registry) remove(seq uint64) {
	r.Lock()
	defer r.Unlock()

	res, ok := r.live[seq]
	if !ok {
		return
	}
	delete(r.live, seq)
	r.count[res.kind()]--

	r.logger.Debug("Handle destroyed",
		zap.String("kind", string(res.kind())),
		zap.Uint32("handle", res.token()),
	)
}

// counts returns live handles per kind.
func (r *registry) counts() LiveHandles {
	r.Lock()
	defer r.Unlock()

	return LiveHandles{
		Vectors: r.count[KindVector],
		Options: r.count[KindOptions],
		Solvers: r.count[KindSolver],
	}
}

// newestFirst returns live wrappers, most recently created first.
func (r *registry) newestFirst() []resource {
	r.Lock()
	defer r.Unlock()

	seqs := make([]uint64, 0, len(r.live))
	for seq := range r.live {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })

	result := make([]resource, len(seqs))
	for i, seq := range seqs {
		result[i] = r.live[seq]
	}
	return result
}

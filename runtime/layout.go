package runtime

import (
	"sync"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/errors"
)

// regionAlign is the alignment of stack tops and TLS blocks.
const regionAlign = 16

// Region is the memory a single thread owns.
//
//	Base          StackPtr        End
//	| stack (grows down) | TLS block |
type Region struct {
	Index    int
	Base     uint32
	StackPtr uint32
	TLSPtr   uint32
	End      uint32
}

// Layout hands out disjoint per-thread regions, one after another.
type Layout struct {
	base      uint64
	stackSize uint64
	tlsSize   uint64
	next      int
	mu        sync.Mutex
}

// NewLayout creates a layout from cfg. Sizes are rounded up to 16 bytes.
func NewLayout(cfg config.Layout) *Layout {
	return &Layout{
		base:      alignUp(uint64(cfg.Base)),
		stackSize: alignUp(uint64(cfg.StackSize)),
		tlsSize:   alignUp(uint64(cfg.TLSSize)),
	}
}

// Stride returns the size of one region.
func (l *Layout) Stride() uint64 {
	return l.stackSize + l.tlsSize
}

// Region computes region i without reserving it.
func (l *Layout) Region(i int, memSize uint32) (Region, error) {
	if i < 0 {
		return Region{}, errors.InvalidInput(errors.PhaseRuntime, "negative region index")
	}
	base := l.base + uint64(i)*l.Stride()
	end := base + l.Stride()
	if end > uint64(memSize) {
		return Region{}, errors.OutOfBounds(errors.PhaseRuntime, base, l.Stride(), uint64(memSize))
	}
	return Region{
		Index:    i,
		Base:     uint32(base),
		StackPtr: uint32(base + l.stackSize),
		TLSPtr:   uint32(base + l.stackSize),
		End:      uint32(end),
	}, nil
}

// Next reserves the next free region. A region that does not fit is not
// reserved.
func (l *Layout) Next(memSize uint32) (Region, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.Region(l.next, memSize)
	if err != nil {
		return Region{}, err
	}
	l.next++
	return r, nil
}

// Capacity returns how many regions fit in memSize bytes.
func (l *Layout) Capacity(memSize uint32) int {
	if l.Stride() == 0 || uint64(memSize) < l.base {
		return 0
	}
	return int((uint64(memSize) - l.base) / l.Stride())
}

func alignUp(v uint64) uint64 {
	return (v + regionAlign - 1) &^ (regionAlign - 1)
}

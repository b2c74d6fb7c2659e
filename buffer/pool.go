package buffer

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// pools is a process-wide, size-keyed registry of block allocators. A
// single Connector drives its buffers from one goroutine and never
// contends internally, but nothing in spec stops a process from running
// several Connectors concurrently in different goroutines; this lets
// them share freed block memory instead of each keeping a private pool.
var pools = xsync.NewMapOf[int, *sync.Pool]()

// Pool allocates and releases fixed-size block payloads for one size
// class. Buffer's block arithmetic always assumes BlockSize-byte payloads,
// so a pool handed to NewBuffer works only if it came from
// NewPool(BlockSize).
type Pool struct {
	size int
	pool *sync.Pool
}

// NewPool returns the process-wide pool for the given block size,
// creating it on first use.
func NewPool(size int) *Pool {
	p, _ := pools.LoadOrCompute(size, func() *sync.Pool {
		return &sync.Pool{New: func() any {
			return make([]byte, size)
		}}
	})
	return &Pool{size: size, pool: p}
}

// DefaultPool is the shared pool for the standard block size, the one a
// Buffer uses when NewBuffer is given a nil pool.
var DefaultPool = NewPool(BlockSize)

func (p *Pool) get() []byte {
	b := p.pool.Get().([]byte)
	if len(b) != p.size {
		// defend against a pool shared with a mismatched size class
		b = make([]byte, p.size)
	}
	return b
}

func (p *Pool) put(b []byte) {
	p.pool.Put(b)
}

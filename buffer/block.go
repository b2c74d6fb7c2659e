package buffer

// BlockSize is the fixed payload capacity of one buffer block, matching
// the default block size of the protocol this library speaks
// (tnt::Buffer<16*1024> in the original client).
const BlockSize = 16 * 1024

// block is one link in a Buffer's chain. Blocks are never shared between
// buffers and are returned to a Pool once fully consumed.
type block struct {
	next, prev *block
	id         uint64
	data       []byte // always len(data) == BlockSize
}

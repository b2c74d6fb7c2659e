package iproto

import (
	"sync/atomic"

	"github.com/vkolb/tntgo/buffer"
	"github.com/vkolb/tntgo/msgpack"
)

// nextSync is a process-wide monotonic counter: every request gets a
// sync value unique across every Connector and Connection in the
// process, mirroring how the base transport hands out request IDs via
// atomic.AddUint64 on a shared counter (rpc/transport/base/client.go).
var nextSync uint64

// NextSync returns the next unused sync value. Sync values identify a
// request/response pair; a caller matches a Response back to its
// request by comparing Response.Header.Sync against the value returned
// here when the request was encoded.
func NextSync() uint64 {
	return atomic.AddUint64(&nextSync, 1)
}

// RequestEncoder writes IPROTO requests into a buffer.Buffer: the
// 5-byte size prefix, the header map, and the body map. The size prefix
// is reserved before the body is known and patched in afterward, the Go
// equivalent of the original's reserve<N>()-then-set() specificator
// pair (see msgpack.Encoder.Reserve/Track).
type RequestEncoder struct {
	buf *buffer.Buffer
	enc *msgpack.Encoder
}

// NewRequestEncoder returns an encoder that appends requests to buf.
func NewRequestEncoder(buf *buffer.Buffer) *RequestEncoder {
	return &RequestEncoder{buf: buf, enc: msgpack.NewEncoder(buf)}
}

// begin reserves the size prefix and writes the header map common to
// every request, returning the iterator at the first reserved byte
// (where the size gets patched in) and the sync value assigned.
func (r *RequestEncoder) begin(op Op) (sizeIt *buffer.Iterator, sync uint64) {
	sizeIt = r.enc.Reserve(sizePrefixLen)
	sync = NextSync()

	r.enc.EncodeMapHeader(2)
	r.enc.EncodeUint(keyRequestType)
	r.enc.EncodeUint(uint64(op))
	r.enc.EncodeUint(keySync)
	r.enc.EncodeUint(sync)
	return sizeIt, sync
}

// finish patches the size prefix now that the whole message (header +
// body) has been written, using Buffer.Distance from just after the
// prefix to the end iterator Track returned for the body.
func (r *RequestEncoder) finish(sizeIt, bodyEnd *buffer.Iterator) {
	afterPrefix := r.buf.Clone(sizeIt)
	afterPrefix.Advance(sizePrefixLen)
	size := uint32(r.buf.Distance(afterPrefix, bodyEnd))
	afterPrefix.Close()

	patch := make([]byte, sizePrefixLen)
	patch[0] = sizeTag
	patch[1] = byte(size >> 24)
	patch[2] = byte(size >> 16)
	patch[3] = byte(size >> 8)
	patch[4] = byte(size)
	r.buf.Set(sizeIt, patch)
}

// Ping encodes a PING request (empty body) and returns its sync value.
func (r *RequestEncoder) Ping() uint64 {
	sizeIt, sync := r.begin(OpPing)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(0)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Select encodes a SELECT request over space/index spaceID/indexID,
// returning limit rows starting at offset, matching key via it.
func (r *RequestEncoder) Select(spaceID, indexID uint32, limit, offset uint32, it IteratorType, key []any) uint64 {
	sizeIt, sync := r.begin(OpSelect)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(5)
		r.enc.EncodeUint(keySpaceID)
		r.enc.EncodeUint(uint64(spaceID))
		r.enc.EncodeUint(keyIndexID)
		r.enc.EncodeUint(uint64(indexID))
		r.enc.EncodeUint(keyLimit)
		r.enc.EncodeUint(uint64(limit))
		r.enc.EncodeUint(keyOffset)
		r.enc.EncodeUint(uint64(offset))
		r.enc.EncodeUint(keyIterator)
		r.enc.EncodeUint(uint64(it))
		r.enc.EncodeUint(keyKey)
		_ = r.enc.EncodeAny(key)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Insert encodes an INSERT request of tuple into spaceID.
func (r *RequestEncoder) Insert(spaceID uint32, tuple []any) uint64 {
	return r.insertOrReplace(OpInsert, spaceID, tuple)
}

// Replace encodes a REPLACE request of tuple into spaceID.
func (r *RequestEncoder) Replace(spaceID uint32, tuple []any) uint64 {
	return r.insertOrReplace(OpReplace, spaceID, tuple)
}

func (r *RequestEncoder) insertOrReplace(op Op, spaceID uint32, tuple []any) uint64 {
	sizeIt, sync := r.begin(op)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(2)
		r.enc.EncodeUint(keySpaceID)
		r.enc.EncodeUint(uint64(spaceID))
		r.enc.EncodeUint(keyTuple)
		_ = r.enc.EncodeAny(tuple)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Update encodes an UPDATE request: ops is the list of update
// operations, each itself encoded via EncodeAny (e.g. []any{"=", 1, 42}).
func (r *RequestEncoder) Update(spaceID, indexID uint32, key []any, ops []any) uint64 {
	sizeIt, sync := r.begin(OpUpdate)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(4)
		r.enc.EncodeUint(keySpaceID)
		r.enc.EncodeUint(uint64(spaceID))
		r.enc.EncodeUint(keyIndexID)
		r.enc.EncodeUint(uint64(indexID))
		r.enc.EncodeUint(keyKey)
		_ = r.enc.EncodeAny(key)
		r.enc.EncodeUint(keyOps)
		_ = r.enc.EncodeAny(ops)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Delete encodes a DELETE request matching key on indexID.
func (r *RequestEncoder) Delete(spaceID, indexID uint32, key []any) uint64 {
	sizeIt, sync := r.begin(OpDelete)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(3)
		r.enc.EncodeUint(keySpaceID)
		r.enc.EncodeUint(uint64(spaceID))
		r.enc.EncodeUint(keyIndexID)
		r.enc.EncodeUint(uint64(indexID))
		r.enc.EncodeUint(keyKey)
		_ = r.enc.EncodeAny(key)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Upsert encodes an UPSERT request: insert tuple, or apply ops if a row
// with the same primary key already exists.
func (r *RequestEncoder) Upsert(spaceID uint32, tuple []any, ops []any, indexBase uint32) uint64 {
	sizeIt, sync := r.begin(OpUpsert)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(4)
		r.enc.EncodeUint(keySpaceID)
		r.enc.EncodeUint(uint64(spaceID))
		r.enc.EncodeUint(keyTuple)
		_ = r.enc.EncodeAny(tuple)
		r.enc.EncodeUint(keyOps)
		_ = r.enc.EncodeAny(ops)
		r.enc.EncodeUint(keyIndexBase)
		r.enc.EncodeUint(uint64(indexBase))
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Call encodes a CALL request invoking a stored function by name with
// args.
func (r *RequestEncoder) Call(functionName string, args []any) uint64 {
	return r.callOrEval(OpCall, keyFunctionName, functionName, args)
}

// Eval encodes an EVAL request, running a raw expression with args.
// Shares CALL's wire shape: only the key carrying the code differs.
func (r *RequestEncoder) Eval(expr string, args []any) uint64 {
	return r.callOrEval(OpEval, keyExpr, expr, args)
}

func (r *RequestEncoder) callOrEval(op Op, codeKey int, code string, args []any) uint64 {
	sizeIt, sync := r.begin(op)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(2)
		r.enc.EncodeUint(uint64(codeKey))
		r.enc.EncodeString(code)
		r.enc.EncodeUint(keyTuple) // tarantool reuses IPROTO_TUPLE to carry call/eval args
		_ = r.enc.EncodeAny(args)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

// Auth encodes an AUTH request for user with an already-computed
// scramble. The scramble itself (PAP/CHAP-style hashing against the
// server's greeting salt) is out of scope here: callers compute it
// however they see fit and this only carries it over the wire.
func (r *RequestEncoder) Auth(user string, scramble []byte) uint64 {
	sizeIt, sync := r.begin(OpAuth)
	defer sizeIt.Close()

	bodyBegin, bodyEnd := r.enc.Track(func() {
		r.enc.EncodeMapHeader(2)
		r.enc.EncodeUint(keyUserName)
		r.enc.EncodeString(user)
		r.enc.EncodeUint(keyTuple)
		r.enc.EncodeArrayHeader(2)
		r.enc.EncodeString("chap-sha1")
		r.enc.EncodeBinary(scramble)
	})
	r.finish(sizeIt, bodyEnd)
	bodyEnd.Close()
	bodyBegin.Close()
	return sync
}

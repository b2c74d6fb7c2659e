package testserver

import (
	"github.com/vkolb/tntgo/buffer"
	"github.com/vkolb/tntgo/msgpack"
)

// Wire constants duplicated from iproto's unexported ones: this package
// sits on the other end of the same protocol, not inside the client's
// package, so it names the same IPROTO_* values independently rather
// than reaching across the package boundary.
const (
	sizeTag       = 0xce
	sizePrefixLen = 5

	opSelect  = 0x01
	opInsert  = 0x02
	opReplace = 0x03
	opUpdate  = 0x04
	opDelete  = 0x05
	opAuth    = 0x07
	opEval    = 0x08
	opUpsert  = 0x09
	opCall    = 0x0a
	opPing    = 0x40

	keyRequestType   = 0x00
	keySync          = 0x01
	keySchemaVersion = 0x05

	keySpaceID      = 0x10
	keyIndexID      = 0x11
	keyLimit        = 0x12
	keyOffset       = 0x13
	keyIterator     = 0x14
	keyIndexBase    = 0x15
	keyKey          = 0x20
	keyTuple        = 0x21
	keyFunctionName = 0x22
	keyUserName     = 0x23
	keyExpr         = 0x27
	keyOps          = 0x28
	keyData         = 0x30
	keyError        = 0x52

	keyErrType    = 0x00
	keyErrFile    = 0x01
	keyErrLine    = 0x02
	keyErrMessage = 0x03
	keyErrErrno   = 0x04
	keyErrErrCode = 0x05
)

// request is one decoded client message: the header's op/sync plus the
// body's fields, keyed the same way the wire does it. Array-valued
// fields (key, tuple, ops, args) decode one level deep, which is all a
// handler needs to match keys and build response tuples.
type request struct {
	op   uint64
	sync uint64

	spaceID   uint64
	indexID   uint64
	limit     uint64
	offset    uint64
	iterator  uint64
	indexBase uint64
	key       []msgpack.Value
	tuple     []msgpack.Value
	ops       []msgpack.Value
	function  string
	expr      string
	args      []msgpack.Value
	user      string
}

// decodeRequest mirrors iproto.DecodeResponse's shape (size prefix,
// header map, body map) but for the opposite direction of the wire: a
// client's request rather than a server's response. Returns (nil,
// false) on anything less than a complete frame; callers loop reading
// more bytes and retrying.
func decodeRequest(buf *buffer.Buffer, pos *buffer.Iterator) (*request, bool) {
	if !buf.Has(pos, sizePrefixLen) {
		return nil, false
	}
	prefix := make([]byte, sizePrefixLen)
	buf.Get(pos, prefix)
	if prefix[0] != sizeTag {
		return nil, false
	}
	size := uint32(prefix[1])<<24 | uint32(prefix[2])<<16 | uint32(prefix[3])<<8 | uint32(prefix[4])
	total := sizePrefixLen + int(size)
	if !buf.Has(pos, total) {
		return nil, false
	}

	scratch := buf.Clone(pos)
	defer scratch.Close()
	scratch.Advance(sizePrefixLen)

	dec := msgpack.NewDecoder(buf, scratch)

	header := &msgpack.Collector{}
	hr := &msgpack.Descend{Decoder: dec, Expect: msgpack.TypeMap, Child: header}
	dec.SetReader(false, hr)
	if dec.Read() != msgpack.StatusSuccess {
		return nil, false
	}

	req := &request{}
	for i := 0; i+1 < len(header.Values); i += 2 {
		switch header.Values[i].Uint {
		case keyRequestType:
			req.op = header.Values[i+1].Uint
		case keySync:
			req.sync = header.Values[i+1].Uint
		}
	}

	body := &bodyFields{decoder: dec}
	br := &msgpack.Descend{Decoder: dec, Expect: msgpack.TypeMap, Child: body}
	dec.SetReader(false, br)
	if dec.Read() != msgpack.StatusSuccess {
		return nil, false
	}
	body.apply(req)

	pos.Advance(total)
	return req, true
}

// bodyFields reads a request body's flat key/value pairs, descending
// one level into whichever field turns out to be an array (key, tuple,
// ops, args all are).
type bodyFields struct {
	decoder *msgpack.Decoder
	haveKey bool
	key     uint64

	scalarKeys []uint64
	scalars    []msgpack.Value

	arrayKeys []uint64
	arrays    []*msgpack.Collector
}

func (b *bodyFields) Value(v msgpack.Value) error {
	if !b.haveKey {
		b.key = v.Uint
		b.haveKey = true
		return nil
	}
	b.haveKey = false

	if v.Type == msgpack.TypeArray {
		elems := &msgpack.Collector{}
		if v.Len > 0 {
			b.decoder.PushReader(elems, v.Len)
		}
		b.arrayKeys = append(b.arrayKeys, b.key)
		b.arrays = append(b.arrays, elems)
		return nil
	}

	b.scalarKeys = append(b.scalarKeys, b.key)
	b.scalars = append(b.scalars, v)
	return nil
}

// apply copies the decoded fields onto req once Read has fully drained
// every nested array frame (guaranteed by the time decodeRequest's Read
// call returns, since the decoder resolves a pushed frame before
// resuming the frame that pushed it).
func (b *bodyFields) apply(req *request) {
	for i, k := range b.scalarKeys {
		v := b.scalars[i]
		switch k {
		case keySpaceID:
			req.spaceID = v.Uint
		case keyIndexID:
			req.indexID = v.Uint
		case keyLimit:
			req.limit = v.Uint
		case keyOffset:
			req.offset = v.Uint
		case keyIterator:
			req.iterator = v.Uint
		case keyIndexBase:
			req.indexBase = v.Uint
		case keyFunctionName:
			req.function = string(v.Bytes)
		case keyExpr:
			req.expr = string(v.Bytes)
		case keyUserName:
			req.user = string(v.Bytes)
		}
	}
	for i, k := range b.arrayKeys {
		values := b.arrays[i].Values
		switch k {
		case keyKey:
			req.key = values
		case keyTuple:
			// CALL/EVAL's args are encoded under the same key (0x21) as
			// INSERT/REPLACE's tuple by RequestEncoder.callOrEval; which
			// field a handler reads depends on req.op, not on the key.
			req.tuple = values
			req.args = values
		case keyOps:
			req.ops = values
		}
	}
}

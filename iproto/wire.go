// Package iproto encodes requests and decodes responses of the Tarantool
// binary protocol (IPROTO) on top of buffer.Buffer and msgpack. It knows
// nothing about sockets or scheduling — that is tntgo's job.
package iproto

// sizeTag is the MessagePack tag every IPROTO message's 5-byte size
// prefix must use, regardless of how small the size is (spec requires
// the uint32 tag even when the value would fit narrower).
const sizeTag = 0xce

// sizePrefixLen is the width in bytes of the fixed size prefix: one tag
// byte plus four big-endian length bytes.
const sizePrefixLen = 5

// Op identifies an IPROTO request type (the IPROTO_REQUEST_TYPE body
// of the header map).
type Op uint8

const (
	OpSelect  Op = 0x01
	OpInsert  Op = 0x02
	OpReplace Op = 0x03
	OpUpdate  Op = 0x04
	OpDelete  Op = 0x05
	OpAuth    Op = 0x07
	OpEval    Op = 0x08
	OpUpsert  Op = 0x09
	OpCall    Op = 0x0a
	OpPing    Op = 0x40
)

func (o Op) String() string {
	switch o {
	case OpSelect:
		return "SELECT"
	case OpInsert:
		return "INSERT"
	case OpReplace:
		return "REPLACE"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpAuth:
		return "AUTH"
	case OpEval:
		return "EVAL"
	case OpUpsert:
		return "UPSERT"
	case OpCall:
		return "CALL"
	case OpPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Header and body map keys. Named per the IPROTO_* constants of the
// wire protocol being implemented.
const (
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
)

// Error frame field keys, nested inside each element of the key 0x52
// error stack.
const (
	keyErrType    = 0x00
	keyErrFile    = 0x01
	keyErrLine    = 0x02
	keyErrMessage = 0x03
	keyErrErrno   = 0x04
	keyErrErrCode = 0x05
)

// IteratorType selects how a SELECT's key is matched against an index,
// mirroring the server's iterator type enum.
type IteratorType uint8

const (
	IterEQ           IteratorType = 0
	IterREQ          IteratorType = 1
	IterAll          IteratorType = 2
	IterLT           IteratorType = 3
	IterLE           IteratorType = 4
	IterGE           IteratorType = 5
	IterGT           IteratorType = 6
	IterBitsAllSet   IteratorType = 7
	IterBitsAnySet   IteratorType = 8
	IterBitsAllNotSet IteratorType = 9
	IterOverlaps     IteratorType = 10
	IterNeighbor     IteratorType = 11
)

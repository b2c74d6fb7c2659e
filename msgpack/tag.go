// Package msgpack implements a MessagePack encoder and a streaming pull
// decoder that write into, and read out of, a buffer.Buffer directly —
// no intermediate []byte allocation for the wire representation itself.
package msgpack

// MessagePack format tags (see the MessagePack specification). Named
// here rather than inlined so the encoder and decoder agree on one
// vocabulary.
const (
	tagNil      = 0xc0
	tagFalse    = 0xc2
	tagTrue     = 0xc3
	tagBin8     = 0xc4
	tagBin16    = 0xc5
	tagBin32    = 0xc6
	tagExt8     = 0xc7
	tagExt16    = 0xc8
	tagExt32    = 0xc9
	tagFloat32  = 0xca
	tagFloat64  = 0xcb
	tagUint8    = 0xcc
	tagUint16   = 0xcd
	tagUint32   = 0xce
	tagUint64   = 0xcf
	tagInt8     = 0xd0
	tagInt16    = 0xd1
	tagInt32    = 0xd2
	tagInt64    = 0xd3
	tagFixExt1  = 0xd4
	tagFixExt2  = 0xd5
	tagFixExt4  = 0xd6
	tagFixExt8  = 0xd7
	tagFixExt16 = 0xd8
	tagStr8     = 0xd9
	tagStr16    = 0xda
	tagStr32    = 0xdb
	tagArray16  = 0xdc
	tagArray32  = 0xdd
	tagMap16    = 0xde
	tagMap32    = 0xdf

	fixMapMask    = 0x80
	fixArrayMask  = 0x90
	fixStrMask    = 0xa0
	fixIntMaxPos  = 0x7f
	fixIntMinNeg  = -32
	fixMapMaxLen  = 0x0f
	fixArrMaxLen  = 0x0f
	fixStrMaxLen  = 0x1f
)

// CompactType classifies a decoded value the way spec's "compact_type"
// does: enough to dispatch on, independent of which of the several wire
// tags produced it (e.g. a fixstr and a str32 both report TypeStr).
type CompactType int

const (
	TypeNil CompactType = iota
	TypeBool
	TypeInt
	TypeUint
	TypeFloat32
	TypeFloat64
	TypeStr
	TypeBin
	TypeArray
	TypeMap
	TypeExt
)

func (t CompactType) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeUint:
		return "uint"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeStr:
		return "str"
	case TypeBin:
		return "bin"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	case TypeExt:
		return "ext"
	default:
		return "unknown"
	}
}

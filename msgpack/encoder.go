package msgpack

import (
	"fmt"
	"math"

	"github.com/vkolb/tntgo/buffer"
)

// Encoder writes canonical MessagePack directly into a buffer.Buffer.
// Every Encode* method appends at the buffer's current end; there is no
// internal cursor distinct from the buffer's own.
//
// The original client expresses "fixed-width override" and "reserve a
// range to patch later" as compile-time specificator types
// (as_fixed<T>, Reserve<N>). Go has no equivalent of a type that carries
// its own encoding strategy at compile time, so this encoder exposes
// those as ordinary methods instead (EncodeUint32Tag for the forced-width
// case iproto needs, Reserve for the back-patch case) rather than a
// generic wrapper-type hierarchy.
type Encoder struct {
	buf *buffer.Buffer
}

// NewEncoder returns an encoder that appends to buf.
func NewEncoder(buf *buffer.Buffer) *Encoder {
	return &Encoder{buf: buf}
}

func (e *Encoder) putByte(b byte) {
	it := e.buf.AppendBack(1)
	e.buf.Set(it, []byte{b})
	it.Close()
}

func (e *Encoder) putBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	it := e.buf.AppendBack(len(b))
	e.buf.Set(it, b)
	it.Close()
}

func (e *Encoder) putTagAndBytes(tag byte, payload []byte) {
	it := e.buf.AppendBack(1 + len(payload))
	buf := make([]byte, 1+len(payload))
	buf[0] = tag
	copy(buf[1:], payload)
	e.buf.Set(it, buf)
	it.Close()
}

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func be32(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }
func be64(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// EncodeNil writes a MessagePack nil.
func (e *Encoder) EncodeNil() {
	e.putByte(tagNil)
}

// EncodeBool writes a MessagePack bool.
func (e *Encoder) EncodeBool(v bool) {
	if v {
		e.putByte(tagTrue)
	} else {
		e.putByte(tagFalse)
	}
}

// EncodeInt writes v using the narrowest signed tag that represents it
// exactly, falling back to EncodeUint for non-negative values so they get
// the narrowest unsigned tag instead (canonical MessagePack practice).
func (e *Encoder) EncodeInt(v int64) {
	if v >= 0 {
		e.EncodeUint(uint64(v))
		return
	}
	switch {
	case v >= fixIntMinNeg:
		e.putByte(byte(v))
	case v >= math.MinInt8:
		e.putTagAndBytes(tagInt8, []byte{byte(v)})
	case v >= math.MinInt16:
		e.putTagAndBytes(tagInt16, be16(uint16(v)))
	case v >= math.MinInt32:
		e.putTagAndBytes(tagInt32, be32(uint32(v)))
	default:
		e.putTagAndBytes(tagInt64, be64(uint64(v)))
	}
}

// EncodeUint writes v using the narrowest unsigned tag that represents it.
func (e *Encoder) EncodeUint(v uint64) {
	switch {
	case v <= fixIntMaxPos:
		e.putByte(byte(v))
	case v <= math.MaxUint8:
		e.putTagAndBytes(tagUint8, []byte{byte(v)})
	case v <= math.MaxUint16:
		e.putTagAndBytes(tagUint16, be16(uint16(v)))
	case v <= math.MaxUint32:
		e.putTagAndBytes(tagUint32, be32(uint32(v)))
	default:
		e.putTagAndBytes(tagUint64, be64(v))
	}
}

// EncodeUint32Tag forces the uint32 tag (0xce) regardless of how small v
// is. Required wherever a length field must be patched later with a
// value not yet known (the IPROTO size prefix is always encoded this
// way, per spec) and is the Go-idiom stand-in for as_fixed<uint32>.
func (e *Encoder) EncodeUint32Tag(v uint32) {
	e.putTagAndBytes(tagUint32, be32(v))
}

// EncodeFloat32 writes v as a MessagePack float32.
func (e *Encoder) EncodeFloat32(v float32) {
	e.putTagAndBytes(tagFloat32, be32(math.Float32bits(v)))
}

// EncodeFloat64 writes v as a MessagePack float64.
func (e *Encoder) EncodeFloat64(v float64) {
	e.putTagAndBytes(tagFloat64, be64(math.Float64bits(v)))
}

// EncodeString writes s as a MessagePack str.
func (e *Encoder) EncodeString(s string) {
	e.encodeStrLike(tagStr8, tagStr16, tagStr32, fixStrMask, fixStrMaxLen, []byte(s))
}

// EncodeBinary writes b as a MessagePack bin. Unlike EncodeString this
// never takes the fixstr-style short form: bin has no "fix" encoding.
func (e *Encoder) EncodeBinary(b []byte) {
	n := len(b)
	switch {
	case n <= math.MaxUint8:
		e.putTagAndBytes(tagBin8, append([]byte{byte(n)}, b...))
	case n <= math.MaxUint16:
		e.putTagAndBytes(tagBin16, append(be16(uint16(n)), b...))
	default:
		e.putTagAndBytes(tagBin32, append(be32(uint32(n)), b...))
	}
}

func (e *Encoder) encodeStrLike(tag8, tag16, tag32 byte, fixMask byte, fixMax int, b []byte) {
	n := len(b)
	switch {
	case n <= fixMax:
		e.putTagAndBytes(fixMask|byte(n), b)
	case n <= math.MaxUint8:
		e.putTagAndBytes(tag8, append([]byte{byte(n)}, b...))
	case n <= math.MaxUint16:
		e.putTagAndBytes(tag16, append(be16(uint16(n)), b...))
	default:
		e.putTagAndBytes(tag32, append(be32(uint32(n)), b...))
	}
}

// EncodeExt writes a MessagePack ext value of the given application type
// and payload.
func (e *Encoder) EncodeExt(typ int8, payload []byte) {
	n := len(payload)
	switch n {
	case 1:
		e.putTagAndBytes(tagFixExt1, append([]byte{byte(typ)}, payload...))
		return
	case 2:
		e.putTagAndBytes(tagFixExt2, append([]byte{byte(typ)}, payload...))
		return
	case 4:
		e.putTagAndBytes(tagFixExt4, append([]byte{byte(typ)}, payload...))
		return
	case 8:
		e.putTagAndBytes(tagFixExt8, append([]byte{byte(typ)}, payload...))
		return
	case 16:
		e.putTagAndBytes(tagFixExt16, append([]byte{byte(typ)}, payload...))
		return
	}
	switch {
	case n <= math.MaxUint8:
		e.putTagAndBytes(tagExt8, append([]byte{byte(n), byte(typ)}, payload...))
	case n <= math.MaxUint16:
		e.putTagAndBytes(tagExt16, append(append(be16(uint16(n)), byte(typ)), payload...))
	default:
		e.putTagAndBytes(tagExt32, append(append(be32(uint32(n)), byte(typ)), payload...))
	}
}

// EncodeArrayHeader writes an array header for n upcoming elements; the
// caller is responsible for then writing exactly n values.
func (e *Encoder) EncodeArrayHeader(n int) {
	switch {
	case n <= fixArrMaxLen:
		e.putByte(fixArrayMask | byte(n))
	case n <= math.MaxUint16:
		e.putTagAndBytes(tagArray16, be16(uint16(n)))
	default:
		e.putTagAndBytes(tagArray32, be32(uint32(n)))
	}
}

// EncodeMapHeader writes a map header for n upcoming key/value pairs.
func (e *Encoder) EncodeMapHeader(n int) {
	switch {
	case n <= fixMapMaxLen:
		e.putByte(fixMapMask | byte(n))
	case n <= math.MaxUint16:
		e.putTagAndBytes(tagMap16, be16(uint16(n)))
	default:
		e.putTagAndBytes(tagMap32, be32(uint32(n)))
	}
}

// EncodeRaw copies already-encoded MessagePack bytes through verbatim,
// used when a caller pre-serializes a sub-value (e.g. a precomputed key
// tuple) and just wants it spliced into the stream.
func (e *Encoder) EncodeRaw(b []byte) {
	e.putBytes(b)
}

// Reserve advances the buffer by n bytes without writing, returning an
// iterator to the first reserved byte. Used to reserve the IPROTO size
// prefix before the body's length is known, then patch it afterward with
// buf.Set through the returned iterator (the Go equivalent of reserve<N>
// paired with a later set()).
func (e *Encoder) Reserve(n int) *buffer.Iterator {
	return e.buf.AppendBack(n)
}

// EncodeAny marshals v using the narrowest MessagePack representation
// for its dynamic type. It is the Go-idiom stand-in for a polymorphic
// array-like/map-like/string-like input classifier: callers that build
// tuples, keys, call arguments, or update operations from loosely typed
// data (e.g. driven by a config file or by another encoding such as
// JSON) get one entry point instead of switching on shape themselves.
//
// Supported dynamic types: nil, bool, every built-in integer and float
// type, string, []byte, []any (encoded as an array, recursively), and
// map[string]any (encoded as a map with string keys, recursively). Any
// other type is a decode-time-unrecoverable caller error and returns an
// error rather than silently dropping data.
func (e *Encoder) EncodeAny(v any) error {
	switch val := v.(type) {
	case nil:
		e.EncodeNil()
	case bool:
		e.EncodeBool(val)
	case int:
		e.EncodeInt(int64(val))
	case int8:
		e.EncodeInt(int64(val))
	case int16:
		e.EncodeInt(int64(val))
	case int32:
		e.EncodeInt(int64(val))
	case int64:
		e.EncodeInt(val)
	case uint:
		e.EncodeUint(uint64(val))
	case uint8:
		e.EncodeUint(uint64(val))
	case uint16:
		e.EncodeUint(uint64(val))
	case uint32:
		e.EncodeUint(uint64(val))
	case uint64:
		e.EncodeUint(val)
	case float32:
		e.EncodeFloat32(val)
	case float64:
		e.EncodeFloat64(val)
	case string:
		e.EncodeString(val)
	case []byte:
		e.EncodeBinary(val)
	case []any:
		e.EncodeArrayHeader(len(val))
		for _, elem := range val {
			if err := e.EncodeAny(elem); err != nil {
				return err
			}
		}
	case map[string]any:
		e.EncodeMapHeader(len(val))
		for k, elem := range val {
			e.EncodeString(k)
			if err := e.EncodeAny(elem); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("msgpack: EncodeAny: unsupported type %T", v)
	}
	return nil
}

// Track runs fn, which must only append to e's buffer, and returns
// iterators bracketing the bytes fn wrote — the begin/end pair a caller
// needs to compute the byte range of a just-encoded object (the request
// encoder brackets the body with it and uses the end iterator to
// size-prefix the header+body it just wrote).
func (e *Encoder) Track(fn func()) (begin, end *buffer.Iterator) {
	begin = e.buf.End()
	fn()
	end = e.buf.End()
	return begin, end
}

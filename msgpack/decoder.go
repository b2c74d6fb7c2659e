package msgpack

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vkolb/tntgo/buffer"
)

// Status is the outcome of one Decoder.Read call.
type Status int

const (
	StatusSuccess Status = iota
	StatusNeedMore
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNeedMore:
		return "NEED_MORE"
	case StatusError:
		return "ERROR"
	default:
		return "?"
	}
}

// State mirrors the three phases spec describes a decoder cycling
// through; exposed for diagnostics and tests, not used as decoder
// control flow (a token's tag and payload are decoded as one atomic
// step once its tag byte is available — see nextToken). Decoder.State
// only ever reports AwaitTag or AwaitChild.
type State int

const (
	AwaitTag State = iota
	AwaitPayload
	AwaitChild
)

// Value is one decoded MessagePack token. Bytes is populated (and owned
// by the caller, safe to retain) for Str/Bin/Ext; Len carries the
// element count for Array/Map and the byte length for Str/Bin/Ext.
type Value struct {
	Type    CompactType
	Bool    bool
	Int     int64
	Uint    uint64
	F32     float32
	F64     float64
	Bytes   []byte
	ExtType int8
	Len     int
}

// Reader receives decoded values. A Reader whose Value callback sees an
// Array or Map should call Decoder.PushReader before returning, to
// supply the reader that will handle the array's elements or the map's
// key/value pairs; if it doesn't, the decoder does not descend: the
// children are not counted as part of that value, and are decoded as
// the next tokens of the enclosing frame (or left unread when that frame
// is already complete).
//
// spec's decoder additionally calls back with WrongType(expected, got)
// when a reader rejects a token; this implementation folds that into an
// ordinary error return from Value, which is the idiomatic Go shape for
// a single fallible callback instead of two.
type Reader interface {
	Value(v Value) error
}

type frame struct {
	reader    Reader
	remaining int
}

// Decoder is a streaming pull decoder over a buffer.Buffer. It decodes
// one complete top-level value per successful Read call (including the
// nested children its readers push a Reader for), re-entrantly: a Read call that
// returns StatusNeedMore has consumed nothing net-new beyond whatever
// tokens were already fully available, and a later Read call with more
// bytes appended picks up exactly where it left off.
type Decoder struct {
	buf     *buffer.Buffer
	pos     *buffer.Iterator
	root    Reader
	haveRoot bool
	pending *frame
	stack   []frame
}

// NewDecoder returns a decoder starting at pos, which it owns (it will
// Advance pos as it consumes bytes). Callers should not mutate pos
// externally once handed to a Decoder.
func NewDecoder(buf *buffer.Buffer, pos *buffer.Iterator) *Decoder {
	return &Decoder{buf: buf, pos: pos}
}

// SetPosition repoints the decoder at a new position, discarding any
// in-progress nested decode state, for a caller that knows it is
// starting a fresh top-level value at pos.
func (d *Decoder) SetPosition(pos *buffer.Iterator) {
	d.pos = pos
	d.stack = nil
	d.pending = nil
	d.haveRoot = false
}

// Position returns the decoder's current cursor.
func (d *Decoder) Position() *buffer.Iterator {
	return d.pos
}

// SetReader arms the decoder to decode exactly one top-level value with
// r. If replace is true and a frame is already on top of the stack (the
// decoder is mid-array/map), r replaces that frame's reader for its
// remaining slots instead of arming a new top-level read.
func (d *Decoder) SetReader(replace bool, r Reader) {
	if replace && len(d.stack) > 0 {
		d.stack[len(d.stack)-1].reader = r
		return
	}
	d.root = r
	d.haveRoot = true
}

// PushReader descends into a just-announced array (count elements) or
// map (count key/value pairs, so count should already be doubled by the
// caller if pairs, or callers can push once per key and once per value —
// this implementation pushes per-slot, so an n-pair map reader is pushed
// with remaining = 2*n). Must be called from within a Reader.Value
// callback that just received a TypeArray or TypeMap value.
func (d *Decoder) PushReader(r Reader, remaining int) {
	d.pending = &frame{reader: r, remaining: remaining}
}

// State reports which phase the decoder is in, for diagnostics.
func (d *Decoder) State() State {
	if len(d.stack) > 0 {
		return AwaitChild
	}
	return AwaitTag
}

// Read decodes as much as is available, driving callbacks on the
// currently armed readers, until a complete top-level value has been
// delivered (StatusSuccess), the buffer runs short (StatusNeedMore), or
// a reader/format error occurs (StatusError).
func (d *Decoder) Read() Status {
	if !d.haveRoot && len(d.stack) == 0 {
		return StatusError
	}
	for {
		if len(d.stack) == 0 {
			if !d.haveRoot {
				return StatusSuccess
			}
			v, status := d.nextToken()
			if status != StatusSuccess {
				return status
			}
			d.haveRoot = false
			if err := d.root.Value(v); err != nil {
				return StatusError
			}
			d.applyPending()
			if len(d.stack) == 0 {
				return StatusSuccess
			}
			continue
		}

		top := &d.stack[len(d.stack)-1]
		if top.remaining == 0 {
			d.stack = d.stack[:len(d.stack)-1]
			continue
		}
		reader := top.reader
		v, status := d.nextToken()
		if status != StatusSuccess {
			return status
		}
		top.remaining--
		if err := reader.Value(v); err != nil {
			return StatusError
		}
		d.applyPending()
	}
}

func (d *Decoder) applyPending() {
	if d.pending == nil {
		return
	}
	if d.pending.remaining > 0 {
		d.stack = append(d.stack, *d.pending)
	}
	d.pending = nil
}

func (d *Decoder) need(n int) ([]byte, bool) {
	if !d.buf.Has(d.pos, n) {
		return nil, false
	}
	raw := make([]byte, n)
	d.buf.Get(d.pos, raw)
	return raw, true
}

func (d *Decoder) advance(n int) {
	d.pos.Advance(n)
}

func beUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// nextToken decodes one MessagePack value at the decoder's current
// position atomically: either every byte the token needs (tag, length
// fields, and payload) is already available and gets consumed, or
// nothing is consumed and StatusNeedMore is returned.
func (d *Decoder) nextToken() (Value, Status) {
	head, ok := d.need(1)
	if !ok {
		return Value{}, StatusNeedMore
	}
	tag := head[0]

	switch {
	case tag <= fixIntMaxPos:
		d.advance(1)
		return Value{Type: TypeUint, Uint: uint64(tag)}, StatusSuccess
	case int8(tag) < 0 && tag >= 0xe0:
		d.advance(1)
		return Value{Type: TypeInt, Int: int64(int8(tag))}, StatusSuccess
	case tag&0xf0 == fixMapMask:
		d.advance(1)
		return Value{Type: TypeMap, Len: int(tag & fixMapMaxLen)}, StatusSuccess
	case tag&0xf0 == fixArrayMask:
		d.advance(1)
		return Value{Type: TypeArray, Len: int(tag & fixArrMaxLen)}, StatusSuccess
	case tag&0xe0 == fixStrMask:
		return d.readFixedPayload(TypeStr, 1, int(tag&fixStrMaxLen))
	case tag == tagNil:
		d.advance(1)
		return Value{Type: TypeNil}, StatusSuccess
	case tag == tagFalse:
		d.advance(1)
		return Value{Type: TypeBool, Bool: false}, StatusSuccess
	case tag == tagTrue:
		d.advance(1)
		return Value{Type: TypeBool, Bool: true}, StatusSuccess
	case tag == tagBin8:
		return d.readLenPrefixedPayload(TypeBin, 1)
	case tag == tagBin16:
		return d.readLenPrefixedPayload(TypeBin, 2)
	case tag == tagBin32:
		return d.readLenPrefixedPayload(TypeBin, 4)
	case tag == tagStr8:
		return d.readLenPrefixedPayload(TypeStr, 1)
	case tag == tagStr16:
		return d.readLenPrefixedPayload(TypeStr, 2)
	case tag == tagStr32:
		return d.readLenPrefixedPayload(TypeStr, 4)
	case tag == tagExt8:
		return d.readExt(1)
	case tag == tagExt16:
		return d.readExt(2)
	case tag == tagExt32:
		return d.readExt(4)
	case tag == tagFixExt1:
		return d.readFixExt(1)
	case tag == tagFixExt2:
		return d.readFixExt(2)
	case tag == tagFixExt4:
		return d.readFixExt(4)
	case tag == tagFixExt8:
		return d.readFixExt(8)
	case tag == tagFixExt16:
		return d.readFixExt(16)
	case tag == tagFloat32:
		raw, ok := d.need(5)
		if !ok {
			return Value{}, StatusNeedMore
		}
		d.advance(5)
		bits := binary.BigEndian.Uint32(raw[1:])
		return Value{Type: TypeFloat32, F32: math.Float32frombits(bits)}, StatusSuccess
	case tag == tagFloat64:
		raw, ok := d.need(9)
		if !ok {
			return Value{}, StatusNeedMore
		}
		d.advance(9)
		bits := binary.BigEndian.Uint64(raw[1:])
		return Value{Type: TypeFloat64, F64: math.Float64frombits(bits)}, StatusSuccess
	case tag == tagUint8:
		return d.readUint(1)
	case tag == tagUint16:
		return d.readUint(2)
	case tag == tagUint32:
		return d.readUint(4)
	case tag == tagUint64:
		return d.readUint(8)
	case tag == tagInt8:
		return d.readInt(1)
	case tag == tagInt16:
		return d.readInt(2)
	case tag == tagInt32:
		return d.readInt(4)
	case tag == tagInt64:
		return d.readInt(8)
	case tag == tagArray16:
		return d.readLenHeader(TypeArray, 2)
	case tag == tagArray32:
		return d.readLenHeader(TypeArray, 4)
	case tag == tagMap16:
		return d.readLenHeader(TypeMap, 2)
	case tag == tagMap32:
		return d.readLenHeader(TypeMap, 4)
	default:
		return Value{}, StatusError
	}
}

func (d *Decoder) readFixedPayload(t CompactType, tagLen, n int) (Value, Status) {
	raw, ok := d.need(tagLen + n)
	if !ok {
		return Value{}, StatusNeedMore
	}
	payload := append([]byte(nil), raw[tagLen:]...)
	d.advance(tagLen + n)
	return Value{Type: t, Bytes: payload, Len: n}, StatusSuccess
}

func (d *Decoder) readLenPrefixedPayload(t CompactType, lenBytes int) (Value, Status) {
	head, ok := d.need(1 + lenBytes)
	if !ok {
		return Value{}, StatusNeedMore
	}
	n := int(beUint(head[1:]))
	full, ok := d.need(1 + lenBytes + n)
	if !ok {
		return Value{}, StatusNeedMore
	}
	payload := append([]byte(nil), full[1+lenBytes:]...)
	d.advance(1 + lenBytes + n)
	return Value{Type: t, Bytes: payload, Len: n}, StatusSuccess
}

func (d *Decoder) readLenHeader(t CompactType, lenBytes int) (Value, Status) {
	head, ok := d.need(1 + lenBytes)
	if !ok {
		return Value{}, StatusNeedMore
	}
	n := int(beUint(head[1:]))
	d.advance(1 + lenBytes)
	return Value{Type: t, Len: n}, StatusSuccess
}

func (d *Decoder) readExt(lenBytes int) (Value, Status) {
	head, ok := d.need(1 + lenBytes)
	if !ok {
		return Value{}, StatusNeedMore
	}
	n := int(beUint(head[1:]))
	full, ok := d.need(1 + lenBytes + 1 + n)
	if !ok {
		return Value{}, StatusNeedMore
	}
	typ := int8(full[1+lenBytes])
	payload := append([]byte(nil), full[1+lenBytes+1:]...)
	d.advance(1 + lenBytes + 1 + n)
	return Value{Type: TypeExt, ExtType: typ, Bytes: payload, Len: n}, StatusSuccess
}

func (d *Decoder) readFixExt(n int) (Value, Status) {
	full, ok := d.need(1 + 1 + n)
	if !ok {
		return Value{}, StatusNeedMore
	}
	typ := int8(full[1])
	payload := append([]byte(nil), full[2:]...)
	d.advance(1 + 1 + n)
	return Value{Type: TypeExt, ExtType: typ, Bytes: payload, Len: n}, StatusSuccess
}

func (d *Decoder) readUint(n int) (Value, Status) {
	raw, ok := d.need(1 + n)
	if !ok {
		return Value{}, StatusNeedMore
	}
	d.advance(1 + n)
	return Value{Type: TypeUint, Uint: beUint(raw[1:])}, StatusSuccess
}

func (d *Decoder) readInt(n int) (Value, Status) {
	raw, ok := d.need(1 + n)
	if !ok {
		return Value{}, StatusNeedMore
	}
	d.advance(1 + n)
	u := beUint(raw[1:])
	var v int64
	switch n {
	case 1:
		v = int64(int8(u))
	case 2:
		v = int64(int16(u))
	case 4:
		v = int64(int32(u))
	case 8:
		v = int64(u)
	}
	return Value{Type: TypeInt, Int: v}, StatusSuccess
}

// ErrWrongType is the conventional error a Reader returns from Value
// when it receives a token of a type it doesn't accept.
func ErrWrongType(expected, got CompactType) error {
	return fmt.Errorf("msgpack: wrong type: expected %s, got %s", expected, got)
}

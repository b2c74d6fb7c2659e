package iproto

import (
	"fmt"

	"github.com/vkolb/tntgo/buffer"
	"github.com/vkolb/tntgo/msgpack"
)

// Status reports the outcome of decoding one response, distinct from
// msgpack.Status: a decode error here additionally distinguishes a
// corrupted size prefix (the connection cannot recover position and
// must be torn down) from a malformed header/body on an otherwise
// correctly-sized message (that one message is lost, the connection
// survives).
type Status int

const (
	StatusSuccess Status = iota
	StatusNeedMore
	StatusDecodeErr
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNeedMore:
		return "NEED_MORE"
	case StatusDecodeErr:
		return "DECODE_ERROR"
	case StatusFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Header is the IPROTO header map common to every response.
type Header struct {
	RequestType    Op
	Sync           uint64
	SchemaVersion  uint64
	Code           uint32 // 0 on success; response taken as an error otherwise
}

// Tuple is one row of a SELECT/INSERT/REPLACE/UPDATE/DELETE response,
// decoded as a slice of loosely typed fields rather than a fixed struct
// (the server doesn't tell a client the schema, so neither does this
// type).
type Tuple []msgpack.Value

// ErrorFrame is one frame of a server-side error stack (body key 0x52).
type ErrorFrame struct {
	Msg, File, TypeName string
	Line                uint32
	SavedErrno          uint32
	ErrCode             uint32
}

// Response is one fully decoded IPROTO message.
type Response struct {
	Size   uint32
	Header Header
	Data   []Tuple      // body key 0x30, nil if absent
	Errors []ErrorFrame // body key 0x52, nil if absent (Header.Code == 0)
}

// FrameSize peeks the 5-byte size prefix at pos without consuming it,
// returning the total byte length (prefix + header + body) of the
// message starting there. Callers that get StatusDecodeErr from
// DecodeResponse use this to compute how far to skip pos forward to
// resynchronize on the next message, per spec's "skip the message
// (advance cursor by size)" recovery rule — DecodeResponse itself
// leaves pos untouched on error so a caller that wants to inspect the
// raw bytes first still can.
func FrameSize(buf *buffer.Buffer, pos *buffer.Iterator) (total int, ok bool) {
	if !buf.Has(pos, sizePrefixLen) {
		return 0, false
	}
	prefix := make([]byte, sizePrefixLen)
	buf.Get(pos, prefix)
	if prefix[0] != sizeTag {
		return 0, false
	}
	size := uint32(prefix[1])<<24 | uint32(prefix[2])<<16 | uint32(prefix[3])<<8 | uint32(prefix[4])
	total = sizePrefixLen + int(size)
	if !buf.Has(pos, total) {
		return 0, false
	}
	return total, true
}

// DecodeResponse attempts to decode one full response starting at pos.
// On StatusSuccess, pos is advanced past the message (ready for the
// next DecodeResponse call). On StatusNeedMore or StatusDecodeErr, pos
// is left exactly where it was — DecodeResponse itself never consumes a
// partially readable message, and a bad header/body inside an
// otherwise-correctly-sized message still leaves pos at the start of
// the next message once the caller skips size+prefix bytes forward
// (callers that get StatusDecodeErr should advance pos by
// sizePrefixLen+size themselves to resynchronize). StatusFatal means
// the size prefix itself is corrupt (its tag byte isn't 0xce) and the
// stream can no longer be trusted; pos is left untouched and the caller
// should close the connection.
func DecodeResponse(buf *buffer.Buffer, pos *buffer.Iterator) (*Response, Status) {
	if !buf.Has(pos, sizePrefixLen) {
		return nil, StatusNeedMore
	}

	prefix := make([]byte, sizePrefixLen)
	buf.Get(pos, prefix)
	if prefix[0] != sizeTag {
		return nil, StatusFatal
	}
	size := uint32(prefix[1])<<24 | uint32(prefix[2])<<16 | uint32(prefix[3])<<8 | uint32(prefix[4])

	total := sizePrefixLen + int(size)
	if !buf.Has(pos, total) {
		return nil, StatusNeedMore
	}

	// Decode against a scratch cursor so a malformed body never corrupts
	// the real position: only advance pos once decoding fully succeeds.
	scratch := buf.Clone(pos)
	defer scratch.Close()
	scratch.Advance(sizePrefixLen)

	resp := &Response{Size: size}

	dec := msgpack.NewDecoder(buf, scratch)
	headerFields := &msgpack.Collector{}
	hr := &msgpack.Descend{Decoder: dec, Expect: msgpack.TypeMap, Child: headerFields}
	dec.SetReader(false, hr)
	if st := dec.Read(); st != msgpack.StatusSuccess {
		return nil, StatusDecodeErr
	}
	if err := parseHeader(headerFields.Values, &resp.Header); err != nil {
		return nil, StatusDecodeErr
	}

	br := &bodyReader{decoder: dec}
	bodyRoot := &msgpack.Descend{Decoder: dec, Expect: msgpack.TypeMap, Child: br}
	dec.SetReader(false, bodyRoot)
	if st := dec.Read(); st != msgpack.StatusSuccess {
		return nil, StatusDecodeErr
	}
	resp.Data = br.tuples()
	var err error
	resp.Errors, err = br.errorFrames()
	if err != nil {
		return nil, StatusDecodeErr
	}

	pos.Advance(total)
	return resp, StatusSuccess
}

// parseHeader interprets a Collector's flat key/value pairs as the
// header map's fields. Unknown keys are ignored (forward compatible
// with servers that add header fields this client doesn't know about).
func parseHeader(pairs []msgpack.Value, h *Header) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		key, val := pairs[i], pairs[i+1]
		if key.Type != msgpack.TypeUint && key.Type != msgpack.TypeInt {
			return fmt.Errorf("iproto: header key is not an integer: %v", key.Type)
		}
		switch key.Uint {
		case keyRequestType:
			// In a response this field doubles as a status: its high bit
			// (IPROTO_TYPE_ERROR, 0x8000) set means the request failed and
			// the low bits carry the error code.
			const errorFlag = 0x8000
			h.RequestType = Op(val.Uint)
			if val.Uint&errorFlag != 0 {
				h.Code = uint32(val.Uint &^ errorFlag)
			}
		case keySync:
			h.Sync = val.Uint
		case keySchemaVersion:
			h.SchemaVersion = val.Uint
		}
	}
	return nil
}

// bodyReader reads the flat alternating key/value stream of the body
// map, descending into the data array or error stack when it
// recognizes those keys, and leaving any other value as an opaque
// scalar (there is nothing useful to do with an unrecognized key).
type bodyReader struct {
	decoder *Decoder
	haveKey bool
	key     uint64

	data   *tupleArrayReader
	errors *errorStackReader
}

// Decoder is a thin alias for msgpack.Decoder; bodyReader needs to call
// PushReader on whichever *msgpack.Decoder drives it.
type Decoder = msgpack.Decoder

func (b *bodyReader) Value(v msgpack.Value) error {
	if !b.haveKey {
		b.key = v.Uint
		b.haveKey = true
		return nil
	}
	b.haveKey = false

	switch b.key {
	case keyData:
		if v.Type != msgpack.TypeArray {
			return msgpack.ErrWrongType(msgpack.TypeArray, v.Type)
		}
		b.data = &tupleArrayReader{decoder: b.decoder}
		if v.Len > 0 {
			b.decoder.PushReader(b.data, v.Len)
		}
	case keyError:
		if v.Type != msgpack.TypeArray {
			return msgpack.ErrWrongType(msgpack.TypeArray, v.Type)
		}
		b.errors = &errorStackReader{decoder: b.decoder}
		if v.Len > 0 {
			b.decoder.PushReader(b.errors, v.Len)
		}
	}
	return nil
}

func (b *bodyReader) tuples() []Tuple {
	if b.data == nil {
		return nil
	}
	out := make([]Tuple, len(b.data.elems))
	for i, c := range b.data.elems {
		out[i] = Tuple(c.Values)
	}
	return out
}

func (b *bodyReader) errorFrames() ([]ErrorFrame, error) {
	if b.errors == nil {
		return nil, nil
	}
	out := make([]ErrorFrame, len(b.errors.frames))
	for i, c := range b.errors.frames {
		if err := parseErrorFrame(c.Values, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// tupleArrayReader collects each element of the data array as its own
// Collector (one per tuple), deferring conversion to []Tuple until the
// whole response has finished decoding — a Collector's Values slice may
// still be reallocated by later appends while decoding continues.
type tupleArrayReader struct {
	decoder *Decoder
	elems   []*msgpack.Collector
}

func (t *tupleArrayReader) Value(v msgpack.Value) error {
	c := &msgpack.Collector{}
	t.elems = append(t.elems, c)
	if v.Type != msgpack.TypeArray {
		// A tuple is conventionally an array, but a scalar row shape is
		// tolerated: record it as a single-element tuple.
		c.Values = append(c.Values, v)
		return nil
	}
	if v.Len > 0 {
		t.decoder.PushReader(c, v.Len)
	}
	return nil
}

// errorStackReader collects each frame of the error stack (body key
// 0x52) as its own Collector of flat key/value pairs.
type errorStackReader struct {
	decoder *Decoder
	frames  []*msgpack.Collector
}

func (e *errorStackReader) Value(v msgpack.Value) error {
	if v.Type != msgpack.TypeMap {
		return msgpack.ErrWrongType(msgpack.TypeMap, v.Type)
	}
	c := &msgpack.Collector{}
	e.frames = append(e.frames, c)
	if v.Len > 0 {
		e.decoder.PushReader(c, v.Len*2)
	}
	return nil
}

// parseErrorFrame interprets a Collector's flat key/value pairs as one
// error stack frame's fields.
func parseErrorFrame(pairs []msgpack.Value, f *ErrorFrame) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		key, val := pairs[i], pairs[i+1]
		switch key.Uint {
		case keyErrType:
			f.TypeName = string(val.Bytes)
		case keyErrFile:
			f.File = string(val.Bytes)
		case keyErrLine:
			f.Line = uint32(val.Uint)
		case keyErrMessage:
			f.Msg = string(val.Bytes)
		case keyErrErrno:
			f.SavedErrno = uint32(val.Uint)
		case keyErrErrCode:
			f.ErrCode = uint32(val.Uint)
		}
	}
	return nil
}

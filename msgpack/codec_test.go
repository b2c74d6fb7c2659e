package msgpack

import (
	"bytes"
	"testing"

	"github.com/vkolb/tntgo/buffer"
)

// recordingReader captures every Value it receives, in order. It never
// descends into children itself; tests that need nested structures wire
// up a dedicated reader per level.
type recordingReader struct {
	values []Value
}

func (r *recordingReader) Value(v Value) error {
	r.values = append(r.values, v)
	return nil
}

func decodeOne(t *testing.T, buf *buffer.Buffer, r Reader) Status {
	t.Helper()
	dec := NewDecoder(buf, buf.Begin())
	dec.SetReader(false, r)
	return dec.Read()
}

// TestScalarRoundTrips runs the round-trip table: for every supported MessagePack
// type, encode then decode must yield the original value back.
func TestScalarRoundTrips(t *testing.T) {
	cases := []struct {
		name   string
		encode func(e *Encoder)
		want   Value
	}{
		{"nil", func(e *Encoder) { e.EncodeNil() }, Value{Type: TypeNil}},
		{"bool-true", func(e *Encoder) { e.EncodeBool(true) }, Value{Type: TypeBool, Bool: true}},
		{"bool-false", func(e *Encoder) { e.EncodeBool(false) }, Value{Type: TypeBool, Bool: false}},
		{"fixint-pos", func(e *Encoder) { e.EncodeInt(42) }, Value{Type: TypeUint, Uint: 42}},
		{"fixint-neg", func(e *Encoder) { e.EncodeInt(-5) }, Value{Type: TypeInt, Int: -5}},
		{"int8", func(e *Encoder) { e.EncodeInt(-100) }, Value{Type: TypeInt, Int: -100}},
		{"int64", func(e *Encoder) { e.EncodeInt(-1 << 40) }, Value{Type: TypeInt, Int: -1 << 40}},
		{"uint32", func(e *Encoder) { e.EncodeUint(1 << 20) }, Value{Type: TypeUint, Uint: 1 << 20}},
		{"uint64", func(e *Encoder) { e.EncodeUint(1 << 40) }, Value{Type: TypeUint, Uint: 1 << 40}},
		{"uint32-tag-forced", func(e *Encoder) { e.EncodeUint32Tag(7) }, Value{Type: TypeUint, Uint: 7}},
		{"float32", func(e *Encoder) { e.EncodeFloat32(3.25) }, Value{Type: TypeFloat32, F32: 3.25}},
		{"float64", func(e *Encoder) { e.EncodeFloat64(-2.5) }, Value{Type: TypeFloat64, F64: -2.5}},
		{"fixstr", func(e *Encoder) { e.EncodeString("hi") }, Value{Type: TypeStr, Bytes: []byte("hi"), Len: 2}},
		{"str32", func(e *Encoder) { e.EncodeString(string(make([]byte, 1<<17))) }, Value{Type: TypeStr, Bytes: make([]byte, 1<<17), Len: 1 << 17}},
		{"bin8", func(e *Encoder) { e.EncodeBinary([]byte{1, 2, 3}) }, Value{Type: TypeBin, Bytes: []byte{1, 2, 3}, Len: 3}},
		{"ext-fixext1", func(e *Encoder) { e.EncodeExt(5, []byte{0xAB}) }, Value{Type: TypeExt, ExtType: 5, Bytes: []byte{0xAB}, Len: 1}},
		{"ext-ext8", func(e *Encoder) { e.EncodeExt(9, bytes.Repeat([]byte{0xCD}, 40)) }, Value{Type: TypeExt, ExtType: 9, Bytes: bytes.Repeat([]byte{0xCD}, 40), Len: 40}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := buffer.NewBuffer(nil)
			e := NewEncoder(buf)
			tc.encode(e)

			r := &recordingReader{}
			status := decodeOne(t, buf, r)
			if status != StatusSuccess {
				t.Fatalf("decode status = %v, want SUCCESS", status)
			}
			if len(r.values) != 1 {
				t.Fatalf("got %d values, want 1", len(r.values))
			}
			got := r.values[0]
			if got.Type != tc.want.Type {
				t.Errorf("type = %v, want %v", got.Type, tc.want.Type)
			}
			if got.Bool != tc.want.Bool || got.Int != tc.want.Int || got.Uint != tc.want.Uint ||
				got.F32 != tc.want.F32 || got.F64 != tc.want.F64 || got.ExtType != tc.want.ExtType ||
				got.Len != tc.want.Len || !bytes.Equal(got.Bytes, tc.want.Bytes) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

// TestArrayDescendsIntoElements checks that a Collector pushed onto an
// array collects every scalar element of it.
func TestArrayDescendsIntoElements(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	e := NewEncoder(buf)
	e.EncodeArrayHeader(3)
	e.EncodeUint(1)
	e.EncodeUint(2)
	e.EncodeUint(3)

	dec := NewDecoder(buf, buf.Begin())
	elems := &Collector{}
	root := &Descend{Decoder: dec, Expect: TypeArray, Child: elems}
	dec.SetReader(false, root)

	status := dec.Read()
	if status != StatusSuccess {
		t.Fatalf("decode status = %v, want SUCCESS", status)
	}
	if len(elems.Values) != 3 {
		t.Fatalf("got %d elements, want 3", len(elems.Values))
	}
	for i, v := range elems.Values {
		if v.Uint != uint64(i+1) {
			t.Errorf("element %d = %d, want %d", i, v.Uint, i+1)
		}
	}
}

func TestMapDescendsIntoKeyValuePairs(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	e := NewEncoder(buf)
	e.EncodeMapHeader(2)
	e.EncodeString("a")
	e.EncodeUint(1)
	e.EncodeString("b")
	e.EncodeUint(2)

	dec := NewDecoder(buf, buf.Begin())
	pairs := &Collector{}
	root := &Descend{Decoder: dec, Expect: TypeMap, Child: pairs}
	dec.SetReader(false, root)

	status := dec.Read()
	if status != StatusSuccess {
		t.Fatalf("decode status = %v, want SUCCESS", status)
	}
	if len(pairs.Values) != 4 {
		t.Fatalf("got %d key/value tokens, want 4", len(pairs.Values))
	}
	if string(pairs.Values[0].Bytes) != "a" || pairs.Values[1].Uint != 1 {
		t.Errorf("first pair wrong: %+v %+v", pairs.Values[0], pairs.Values[1])
	}
	if string(pairs.Values[2].Bytes) != "b" || pairs.Values[3].Uint != 2 {
		t.Errorf("second pair wrong: %+v %+v", pairs.Values[2], pairs.Values[3])
	}
}

func TestDecodeIsReentrantAcrossNeedMore(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	e := NewEncoder(buf)
	e.EncodeString("hello world, this needs several bytes")

	// Feed the decoder a buffer containing only the first 3 bytes of the
	// encoded value, then the rest, mirroring scenario 4 (partial read).
	all := readAllBytes(t, buf)

	partial := buffer.NewBuffer(nil)
	w := NewEncoder(partial)
	w.EncodeRaw(all[:3])

	r := &recordingReader{}
	dec := NewDecoder(partial, partial.Begin())
	dec.SetReader(false, r)

	if status := dec.Read(); status != StatusNeedMore {
		t.Fatalf("status with partial bytes = %v, want NEED_MORE", status)
	}

	appendIt := partial.AppendBack(len(all) - 3)
	partial.Set(appendIt, all[3:])

	if status := dec.Read(); status != StatusSuccess {
		t.Fatalf("status after feeding rest = %v, want SUCCESS", status)
	}
	if len(r.values) != 1 || string(r.values[0].Bytes) != "hello world, this needs several bytes" {
		t.Fatalf("got %+v", r.values)
	}
}

func readAllBytes(t *testing.T, b *buffer.Buffer) []byte {
	t.Helper()
	begin, end := b.Begin(), b.End()
	defer begin.Close()
	defer end.Close()
	n := 0
	for _, chunk := range b.GetIOV(begin, 8) {
		n += len(chunk)
	}
	out := make([]byte, n)
	b.Get(begin, out)
	return out
}

func TestEncodeAnyRoundTripsNestedValues(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	e := NewEncoder(buf)
	in := []any{
		"hello",
		int64(42),
		map[string]any{"ok": true},
	}
	if err := e.EncodeAny(in); err != nil {
		t.Fatalf("EncodeAny: %v", err)
	}

	elems := &Collector{}
	root := &Descend{Decoder: nil, Expect: TypeArray, Child: elems}
	dec := NewDecoder(buf, buf.Begin())
	root.Decoder = dec
	dec.SetReader(false, root)

	if status := dec.Read(); status != StatusSuccess {
		t.Fatalf("decode status = %v, want SUCCESS", status)
	}
	if len(elems.Values) != 3 {
		t.Fatalf("got %d top-level elements, want 3", len(elems.Values))
	}
	if string(elems.Values[0].Bytes) != "hello" {
		t.Errorf("element 0 = %+v, want string hello", elems.Values[0])
	}
	if elems.Values[1].Uint != 42 {
		t.Errorf("element 1 = %+v, want uint 42", elems.Values[1])
	}
	if elems.Values[2].Type != TypeMap {
		t.Errorf("element 2 type = %v, want map", elems.Values[2].Type)
	}
}

func TestEncodeAnyRejectsUnsupportedType(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	e := NewEncoder(buf)
	if err := e.EncodeAny(struct{ X int }{1}); err == nil {
		t.Fatal("expected an error encoding an unsupported type")
	}
}

func TestUnknownTagIsDecodeError(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	it := buf.AppendBack(1)
	buf.Set(it, []byte{0xc1}) // never-assigned MessagePack tag

	r := &recordingReader{}
	status := decodeOne(t, buf, r)
	if status != StatusError {
		t.Fatalf("status = %v, want ERROR", status)
	}
}

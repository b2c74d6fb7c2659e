package msgpack

// Collector gathers every Value it receives, in the order decoded. It
// never itself descends into a nested array/map — pair it with Descend
// when a level needs to recurse.
type Collector struct {
	Values []Value
}

func (c *Collector) Value(v Value) error {
	c.Values = append(c.Values, v)
	return nil
}

// Descend is a one-shot Reader: it expects exactly one token of Expect's
// type, then pushes Child onto dec to consume that value's elements (or,
// for a map, its key/value pairs — the slot count is doubled
// automatically). Compose Descend/Collector per nesting level to walk an
// arbitrarily deep document without writing a bespoke Reader for levels
// that don't need custom logic.
type Descend struct {
	Decoder *Decoder
	Expect  CompactType
	Child   Reader
}

func (d *Descend) Value(v Value) error {
	if v.Type != d.Expect {
		return ErrWrongType(d.Expect, v.Type)
	}
	n := v.Len
	if v.Type == TypeMap {
		n *= 2
	}
	if n > 0 {
		d.Decoder.PushReader(d.Child, n)
	}
	return nil
}

package testserver

import (
	"sync"

	"github.com/vkolb/tntgo/msgpack"
)

// space is an in-memory table keyed by its first tuple field, the
// simplest possible stand-in for a real storage engine's primary index.
// It exists purely so SELECT/INSERT/REPLACE/DELETE have something to
// act on in integration tests.
type space struct {
	mu   sync.Mutex
	rows map[any][]any
}

func newSpace() *space {
	return &space{rows: make(map[any][]any)}
}

func valueToAny(v msgpack.Value) any {
	switch v.Type {
	case msgpack.TypeNil:
		return nil
	case msgpack.TypeBool:
		return v.Bool
	case msgpack.TypeInt:
		return v.Int
	case msgpack.TypeUint:
		return v.Uint
	case msgpack.TypeFloat32:
		return v.F32
	case msgpack.TypeFloat64:
		return v.F64
	case msgpack.TypeStr:
		return string(v.Bytes)
	case msgpack.TypeBin:
		return append([]byte(nil), v.Bytes...)
	default:
		return nil
	}
}

func tupleToAny(tuple []msgpack.Value) []any {
	out := make([]any, len(tuple))
	for i, v := range tuple {
		out[i] = valueToAny(v)
	}
	return out
}

func (s *space) replace(tuple []any) {
	if len(tuple) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tuple[0]] = tuple
}

// insert behaves like replace for this fake server: conflict detection
// against an existing primary key isn't something any §8 scenario
// exercises, so both ops share the same path.
func (s *space) insert(tuple []any) {
	s.replace(tuple)
}

func (s *space) delete(key any) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if ok {
		delete(s.rows, key)
	}
	return row, ok
}

// selectEQ returns at most limit rows matching key by equality, the
// only iterator type the fake server implements — enough to cover
// every §8 scenario, which all probe by exact primary key.
func (s *space) selectEQ(key any, limit uint64) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok || limit == 0 {
		return nil
	}
	return [][]any{row}
}

// selectAll returns every row, in no particular order, used by the
// iproto.IterAll scenario.
func (s *space) selectAll(limit uint64) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, 0, len(s.rows))
	for _, row := range s.rows {
		if uint64(len(out)) >= limit {
			break
		}
		out = append(out, row)
	}
	return out
}

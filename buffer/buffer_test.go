package buffer

import (
	"bytes"
	"testing"
)

func readAll(t *testing.T, b *Buffer) []byte {
	t.Helper()
	begin, end := b.Begin(), b.End()
	defer begin.Close()
	defer end.Close()
	out := make([]byte, distance(begin.cur, end.cur))
	b.Get(begin, out)
	return out
}

func TestNewBufferIsEmpty(t *testing.T) {
	b := NewBuffer(nil)
	if !b.Empty() {
		t.Fatal("fresh buffer should be empty")
	}
	if !b.Begin().Equal(b.End()) {
		t.Error("begin should equal end on an empty buffer")
	}
}

func TestAppendBackWritesContiguousBytes(t *testing.T) {
	b := NewBuffer(nil)
	want := []byte("hello, tarantool")

	it := b.AppendBack(len(want))
	b.Set(it, want)

	got := readAll(t, b)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAppendBackAcrossBlockBoundary(t *testing.T) {
	b := NewBuffer(nil)
	want := bytes.Repeat([]byte{0xAB}, BlockSize+100)

	it := b.AppendBack(len(want))
	b.Set(it, want)

	got := readAll(t, b)
	if !bytes.Equal(got, want) {
		t.Fatalf("cross-block append corrupted data (len %d vs %d)", len(got), len(want))
	}
}

func TestDropFrontAndDropBack(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))
	it.Close()

	if err := b.DropFront(3); err != nil {
		t.Fatalf("DropFront failed: %v", err)
	}
	if err := b.DropBack(2); err != nil {
		t.Fatalf("DropBack failed: %v", err)
	}

	got := readAll(t, b)
	if string(got) != "34567" {
		t.Fatalf("got %q, want %q", got, "34567")
	}
}

func TestDropFrontRejectsLiveIteratorInsideRegion(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))

	inside := b.Begin()
	inside.Advance(2)
	defer inside.Close()

	if err := b.DropFront(5); err == nil {
		t.Fatal("expected DropFront to reject a live iterator inside the dropped region")
	}

	got := readAll(t, b)
	if string(got) != "0123456789" {
		t.Fatalf("buffer mutated despite rejected DropFront: got %q", got)
	}
}

func TestDropBackRejectsLiveIteratorInsideRegion(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))

	inside := b.Begin()
	inside.Advance(7)
	defer inside.Close()

	if err := b.DropBack(5); err == nil {
		t.Fatal("expected DropBack to reject a live iterator inside the dropped region")
	}

	got := readAll(t, b)
	if string(got) != "0123456789" {
		t.Fatalf("buffer mutated despite rejected DropBack: got %q", got)
	}
}

func TestDropFrontFreesBlocksAcrossBoundary(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(3 * BlockSize)
	b.Set(it, bytes.Repeat([]byte{0x11}, 3*BlockSize))
	it.Close()

	if err := b.DropFront(2*BlockSize + 5); err != nil {
		t.Fatalf("DropFront failed: %v", err)
	}

	got := readAll(t, b)
	if len(got) != BlockSize-5 {
		t.Fatalf("got len %d, want %d", len(got), BlockSize-5)
	}
	if b.head != b.tail {
		t.Error("expected exactly one block to remain")
	}
}

func TestHasReportsAvailableBytes(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(BlockSize + 10)
	begin := b.Begin()
	defer begin.Close()

	if !b.Has(begin, BlockSize+10) {
		t.Error("Has should report the full appended length available")
	}
	if b.Has(begin, BlockSize+11) {
		t.Error("Has should not report more bytes than were appended")
	}
	_ = it
}

func TestIteratorSurvivesAppendBack(t *testing.T) {
	b := NewBuffer(nil)
	first := b.AppendBack(5)
	b.Set(first, []byte("alpha"))

	second := b.AppendBack(5)
	b.Set(second, []byte("beta0"))

	readBack := make([]byte, 5)
	b.Get(first, readBack)
	if string(readBack) != "alpha" {
		t.Fatalf("first iterator no longer points at its original bytes: got %q", readBack)
	}
}

// TestInsertShiftsTrailingBytesAndOpensGap exercises the scenario of
// inserting into the middle of already-written data: bytes after the
// insertion point must shift right, and the gap itself is left
// uninitialized until the caller writes into it.
func TestInsertShiftsTrailingBytesAndOpensGap(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))

	mid := b.Begin()
	mid.Advance(4)
	defer mid.Close()

	b.Insert(mid, 3)
	b.Set(mid, []byte("XYZ"))

	got := readAll(t, b)
	if string(got) != "0123XYZ456789" {
		t.Fatalf("got %q, want %q", got, "0123XYZ456789")
	}
}

func TestInsertAdvancesLaterIteratorsNotEarlierOrEqual(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))

	before := b.Begin()
	before.Advance(2)
	defer before.Close()

	at := b.Begin()
	at.Advance(5)
	defer at.Close()

	tied := b.Begin()
	tied.Advance(5)
	defer tied.Close()

	after := b.Begin()
	after.Advance(8)
	defer after.Close()

	b.Insert(at, 4)

	if distance(b.Begin().cur, before.cur) != 2 {
		t.Error("iterator before the insertion point should not move")
	}
	if distance(b.Begin().cur, tied.cur) != 5 {
		t.Error("iterator tied with the insertion point should not move")
	}
	if distance(b.Begin().cur, after.cur) != 12 {
		t.Error("iterator after the insertion point should advance by the inserted size")
	}
}

func TestReleaseShrinksAndShiftsIteratorsBack(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))

	start := b.Begin()
	start.Advance(3)
	defer start.Close()

	tail := b.Begin()
	tail.Advance(8)
	defer tail.Close()

	if err := b.Release(start, 3); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	got := readAll(t, b)
	if string(got) != "0126789" {
		t.Fatalf("got %q, want %q", got, "0126789")
	}
	if distance(b.Begin().cur, tail.cur) != 5 {
		t.Error("iterator past the released region should retreat by the released size")
	}
}

func TestReleaseRejectsLiveIteratorInsideRegion(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(10)
	b.Set(it, []byte("0123456789"))

	start := b.Begin()
	start.Advance(2)
	defer start.Close()

	inside := b.Begin()
	inside.Advance(4)
	defer inside.Close()

	if err := b.Release(start, 5); err == nil {
		t.Fatal("expected Release to reject a live iterator inside the released region")
	}

	// the buffer must be untouched after the rejected release
	got := readAll(t, b)
	if string(got) != "0123456789" {
		t.Fatalf("buffer mutated despite rejected Release: got %q", got)
	}
}

func TestResizeGrowsAndShrinks(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(4)
	b.Set(it, []byte("ABCD"))
	it.Close()

	start := b.Begin()
	defer start.Close()

	if err := b.Resize(start, 4, 6); err != nil {
		t.Fatalf("grow resize failed: %v", err)
	}
	if b.Empty() || distance(start.cur, b.End().cur) != 6 {
		t.Fatal("resize did not grow the region by the requested amount")
	}

	if err := b.Resize(start, 6, 2); err != nil {
		t.Fatalf("shrink resize failed: %v", err)
	}
	if distance(start.cur, b.End().cur) != 2 {
		t.Fatal("resize did not shrink the region by the requested amount")
	}
}

func TestGetIOVProjectsAcrossBlocks(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(BlockSize + 42)
	b.Set(it, bytes.Repeat([]byte{0x7}, BlockSize+42))

	begin := b.Begin()
	defer begin.Close()
	iov := b.GetIOV(begin, 8)

	total := 0
	for _, chunk := range iov {
		total += len(chunk)
	}
	if total != BlockSize+42 {
		t.Fatalf("GetIOV slices summed to %d bytes, want %d", total, BlockSize+42)
	}
	if len(iov) != 2 {
		t.Fatalf("expected exactly 2 iov entries for a buffer spanning 2 blocks, got %d", len(iov))
	}
}

func TestCloneTracksSamePositionIndependently(t *testing.T) {
	b := NewBuffer(nil)
	it := b.AppendBack(4)
	b.Set(it, []byte("ABCD"))

	mark := b.Begin()
	defer mark.Close()
	scratch := b.Clone(mark)
	defer scratch.Close()

	if b.Distance(mark, scratch) != 0 {
		t.Fatal("clone did not start at the same position as the original")
	}

	scratch.Advance(2)
	if b.Distance(mark, scratch) != 2 {
		t.Fatalf("distance after advancing clone = %d, want 2", b.Distance(mark, scratch))
	}
	if d := distance(mark.cur, b.Begin().cur); d != 0 {
		t.Fatal("advancing the clone moved the original iterator")
	}
	b.Begin().Close()
}

func TestDistanceMatchesAppendedLength(t *testing.T) {
	b := NewBuffer(nil)
	start := b.Begin()
	defer start.Close()
	b.AppendBack(BlockSize + 10)

	end := b.End()
	defer end.Close()
	if got := b.Distance(start, end); got != BlockSize+10 {
		t.Fatalf("Distance = %d, want %d", got, BlockSize+10)
	}
}

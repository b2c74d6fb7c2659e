package testserver

import (
	"testing"

	"github.com/vkolb/tntgo/iproto"
)

func TestBuildGreetingParsesBack(t *testing.T) {
	salt := randomSalt(1)
	raw := buildGreeting(salt)

	g, err := iproto.ParseGreeting(raw)
	if err != nil {
		t.Fatalf("ParseGreeting: %v", err)
	}
	if len(g.Salt) != len(salt) {
		t.Fatalf("salt length = %d, want %d", len(g.Salt), len(salt))
	}
	for i := range salt {
		if g.Salt[i] != salt[i] {
			t.Fatalf("salt[%d] = %d, want %d", i, g.Salt[i], salt[i])
		}
	}
}

func TestSpaceReplaceThenSelectEQ(t *testing.T) {
	sp := newSpace()
	sp.replace([]any{uint64(7), "row"})

	rows := sp.selectEQ(uint64(7), 10)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0][1] != "row" {
		t.Fatalf("rows[0][1] = %v, want \"row\"", rows[0][1])
	}

	if rows := sp.selectEQ(uint64(8), 10); len(rows) != 0 {
		t.Fatalf("got %d rows for missing key, want 0", len(rows))
	}
}

func TestSpaceDelete(t *testing.T) {
	sp := newSpace()
	sp.replace([]any{uint64(1), "x"})

	row, ok := sp.delete(uint64(1))
	if !ok {
		t.Fatalf("delete: not found")
	}
	if row[1] != "x" {
		t.Fatalf("deleted row = %v", row)
	}
	if _, ok := sp.delete(uint64(1)); ok {
		t.Fatalf("second delete of the same key should miss")
	}
}

package iproto

import (
	"testing"

	"github.com/vkolb/tntgo/buffer"
)

func TestPingRoundTrip(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	enc := NewRequestEncoder(buf)
	sync := enc.Ping()

	pos := buf.Begin()
	defer pos.Close()

	resp, status := DecodeResponseFromRequest(t, buf, pos)
	if status != StatusSuccess {
		t.Fatalf("decode status = %v, want SUCCESS", status)
	}
	if resp.Header.Sync != sync {
		t.Errorf("sync = %d, want %d", resp.Header.Sync, sync)
	}
	if len(resp.Data) != 0 || len(resp.Errors) != 0 {
		t.Errorf("ping request decoded as a response should have no data/errors: %+v", resp)
	}
}

func TestSelectRequestFramesAsOneMessage(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	enc := NewRequestEncoder(buf)
	enc.Select(512, 0, 1, 0, IterEQ, []any{int64(666)})

	if got := messageCount(t, buf); got != 1 {
		t.Fatalf("expected exactly 1 framed message, got %d", got)
	}
}

func TestSizePrefixMatchesActualPayloadLength(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	enc := NewRequestEncoder(buf)
	enc.Insert(512, []any{int64(666), "111", int64(1)})

	begin := buf.Begin()
	defer begin.Close()

	prefix := make([]byte, sizePrefixLen)
	buf.Get(begin, prefix)
	if prefix[0] != sizeTag {
		t.Fatalf("size prefix tag = 0x%x, want 0x%x", prefix[0], sizeTag)
	}
	size := uint32(prefix[1])<<24 | uint32(prefix[2])<<16 | uint32(prefix[3])<<8 | uint32(prefix[4])

	end := buf.End()
	defer end.Close()
	afterPrefix := buf.Clone(begin)
	defer afterPrefix.Close()
	afterPrefix.Advance(sizePrefixLen)

	if got := buf.Distance(afterPrefix, end); got != int(size) {
		t.Fatalf("size prefix says %d bytes follow, actual payload is %d bytes", size, got)
	}
}

func TestMultipleRequestsFrameIndependently(t *testing.T) {
	buf := buffer.NewBuffer(nil)
	enc := NewRequestEncoder(buf)
	s1 := enc.Ping()
	s2 := enc.Ping()
	if s1 == s2 {
		t.Fatal("two requests must not share a sync value")
	}

	pos := buf.Begin()
	defer pos.Close()

	_, status1 := DecodeResponseFromRequest(t, buf, pos)
	if status1 != StatusSuccess {
		t.Fatalf("first message status = %v, want SUCCESS", status1)
	}
	_, status2 := DecodeResponseFromRequest(t, buf, pos)
	if status2 != StatusSuccess {
		t.Fatalf("second message status = %v, want SUCCESS", status2)
	}
}

// DecodeResponseFromRequest treats a just-encoded request as if it were
// a response (header+body have the same framing), letting request
// encoding tests reuse DecodeResponse to check size-prefix correctness
// without a real server.
func DecodeResponseFromRequest(t *testing.T, buf *buffer.Buffer, pos *buffer.Iterator) (*Response, Status) {
	t.Helper()
	return DecodeResponse(buf, pos)
}

func messageCount(t *testing.T, buf *buffer.Buffer) int {
	t.Helper()
	pos := buf.Begin()
	defer pos.Close()
	n := 0
	for {
		_, status := DecodeResponse(buf, pos)
		if status != StatusSuccess {
			break
		}
		n++
	}
	return n
}

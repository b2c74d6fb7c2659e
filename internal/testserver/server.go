package testserver

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/vkolb/tntgo/buffer"
	"github.com/vkolb/tntgo/msgpack"
)

// errorScript lets a test arrange for the next CALL/EVAL naming
// function to fail with a chosen code and error stack, the hook spec
// §8's "server returns a populated error stack" scenario needs.
type errorScript struct {
	code     uint32
	messages []string
}

// Server is a minimal IPROTO server: one listener, one space, and a
// per-connection goroutine that speaks just enough of the wire protocol
// for tntgo's Connector to exercise a real socket. Grounded on dKV's
// serverTransport.handleConnection accept-loop/per-connection-goroutine
// shape (rpc/transport/base/server.go), simplified to synchronous
// request/response since this server never needs to pipeline replies
// out of order.
type Server struct {
	ln            net.Listener
	space         *space
	schemaVersion uint64

	mu      sync.Mutex
	scripts map[string]errorScript

	connSeed int64

	// Logf receives diagnostic lines; tests that don't care leave it nil.
	Logf func(format string, args ...any)
}

// New starts listening on addr ("127.0.0.1:0" picks a free port) and
// returns a Server ready to Serve.
func New(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		ln:            ln,
		space:         newSpace(),
		schemaVersion: 1,
		scripts:       make(map[string]errorScript),
	}, nil
}

// Addr returns the listener's actual address, useful after binding
// addr ":0" to learn the assigned port.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// FailNextCall arranges for the next CALL/EVAL naming function to fail
// with code and an error stack built from messages, then reverts to
// normal dispatch.
func (s *Server) FailNextCall(function string, code uint32, messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[function] = errorScript{code: code, messages: messages}
}

// Seed inserts tuple directly into the space, bypassing the wire
// protocol, so a test can set up fixture rows before a client connects.
func (s *Server) Seed(tuple []any) {
	s.space.replace(tuple)
}

// Serve accepts connections until the listener is closed, handling each
// on its own goroutine. Call it in a goroutine; it returns once Close
// shuts the listener down.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. Connections already accepted
// run to completion on their own.
func (s *Server) Close() error {
	return s.ln.Close()
}

const readChunkSize = 4096

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	seed := atomic.AddInt64(&s.connSeed, 1)
	greeting := buildGreeting(randomSalt(int(seed)))
	if _, err := conn.Write(greeting[:]); err != nil {
		s.logf("testserver: write greeting: %v", err)
		return
	}

	in := buffer.NewBuffer(nil)
	var pos *buffer.Iterator

	for {
		res := in.AppendBack(readChunkSize)
		iov := in.GetIOV(res, 1)
		res.Close()

		n, err := conn.Read(iov[0])
		switch {
		case n > 0 && n < readChunkSize:
			if dropErr := in.DropBack(readChunkSize - n); dropErr != nil {
				panic(dropErr)
			}
		case n == 0:
			if dropErr := in.DropBack(readChunkSize); dropErr != nil {
				panic(dropErr)
			}
		}
		if err != nil {
			if pos != nil {
				pos.Close()
			}
			return
		}
		if n == 0 {
			if pos != nil {
				pos.Close()
			}
			return
		}

		if pos == nil {
			pos = in.Begin()
		}

		for {
			req, ok := decodeRequest(in, pos)
			if !ok {
				break
			}
			out := s.dispatch(req)
			if _, err := conn.Write(out); err != nil {
				pos.Close()
				return
			}
		}
	}
}

// dispatch decodes req's operation, applies it to the space (or looks up
// a scripted failure), and returns the fully encoded response frame.
func (s *Server) dispatch(req *request) []byte {
	switch req.op {
	case opPing:
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, nil) })

	case opInsert:
		tuple := tupleToAny(req.tuple)
		s.space.insert(tuple)
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, [][]any{tuple}) })

	case opReplace:
		tuple := tupleToAny(req.tuple)
		s.space.replace(tuple)
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, [][]any{tuple}) })

	case opDelete:
		key := lookupKey(req.key)
		row, ok := s.space.delete(key)
		var rows [][]any
		if ok {
			rows = [][]any{row}
		}
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, rows) })

	case opSelect:
		var rows [][]any
		if req.iterator == uint64(iterAll) {
			rows = s.space.selectAll(req.limit)
		} else {
			rows = s.space.selectEQ(lookupKey(req.key), req.limit)
		}
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, rows) })

	case opCall, opEval:
		name := req.function
		if req.op == opEval {
			name = req.expr
		}
		s.mu.Lock()
		script, scripted := s.scripts[name]
		if scripted {
			delete(s.scripts, name)
		}
		s.mu.Unlock()
		if scripted {
			return encode(func(buf *buffer.Buffer) { encodeError(buf, req.sync, script.code, script.messages) })
		}
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, nil) })

	case opUpdate, opUpsert, opAuth:
		// not exercised by any §8 scenario; acknowledged as a no-op
		// success so a client that happens to send one doesn't hang.
		return encode(func(buf *buffer.Buffer) { encodeOK(buf, req.sync, s.schemaVersion, nil) })

	default:
		return encode(func(buf *buffer.Buffer) { encodeError(buf, req.sync, 1, []string{"unsupported request type"}) })
	}
}

const iterAll = 2 // mirrors iproto.IterAll without importing the client package

func lookupKey(key []msgpack.Value) any {
	if len(key) == 0 {
		return nil
	}
	return valueToAny(key[0])
}

// encode runs fn against a scratch buffer and drains it to a plain
// byte slice for a single conn.Write.
func encode(fn func(buf *buffer.Buffer)) []byte {
	buf := buffer.NewBuffer(nil)
	fn(buf)
	begin := buf.Begin()
	defer begin.Close()
	n := 0
	for _, chunk := range buf.GetIOV(begin, 8) {
		n += len(chunk)
	}
	out := make([]byte, n)
	buf.Get(begin, out)
	return out
}

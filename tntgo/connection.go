package tntgo

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vkolb/tntgo/buffer"
	"github.com/vkolb/tntgo/iproto"
)

// connState is a connection's position in the handshake state machine
// (spec §4.G): only READY accepts requests onto the wire; requests
// encoded earlier queue in outBuf and flush once the greeting parses.
type connState int

const (
	stateNew connState = iota
	stateConnecting
	stateGreeting
	stateReady
	stateFailed
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateConnecting:
		return "CONNECTING"
	case stateGreeting:
		return "GREETING"
	case stateReady:
		return "READY"
	case stateFailed:
		return "FAILED"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// compactThreshold is how many decoded responses accumulate before the
// already-consumed prefix of inBuf is released, bounding how far
// DropFront ever has to walk (spec §4.F: "default 100").
const compactThreshold = 100

// connImpl is the shared state behind a Connection handle, analogous to
// dKV's clientConnection (rpc/transport/base/client.go) but driven
// cooperatively by a Connector's event loop instead of by a dedicated
// reader goroutine: everything here is touched only from the thread
// running that loop, so none of it needs locking.
type connImpl struct {
	fd       int
	endpoint string

	state connState
	err   *ConnectionError

	greeting      iproto.Greeting
	haveGreeting  bool

	outBuf  *buffer.Buffer
	inBuf   *buffer.Buffer
	decoded *buffer.Iterator // cursor into inBuf, up to which bytes have been consumed

	enc *iproto.RequestEncoder

	// futures holds completed responses keyed by sync id, mirroring
	// clientConnection.requestChans but storing the decoded Response
	// itself rather than a channel: callers poll via FutureIsReady /
	// GetResponse from inside the same cooperative loop, so there is
	// nothing to block on.
	futures *xsync.MapOf[uint64, *iproto.Response]

	readyToSend bool
	sinceCompact int

	owner *Connector
}

// Connection is a reference-counted handle onto a connImpl: copying a
// Connection is cheap and safe (they share the same underlying socket
// and buffers), matching spec §4.F's "shared handles via reference
// counting". Go's garbage collector plays the role of the refcount:
// the last handle going out of scope is enough, the Connector's bookkeeping
// releases the fd on Close rather than on finalization.
type Connection struct {
	impl *connImpl
}

func newConnection(owner *Connector, fd int, endpoint string) Connection {
	c := &connImpl{
		fd:       fd,
		endpoint: endpoint,
		state:    stateConnecting,
		outBuf:   buffer.NewBuffer(nil),
		inBuf:    buffer.NewBuffer(nil),
		futures:  xsync.NewMapOf[uint64, *iproto.Response](),
		owner:    owner,
	}
	c.enc = iproto.NewRequestEncoder(c.outBuf)
	// decoded stays nil until the first IPROTO read lands in inBuf; see
	// ensureDecoded.
	return Connection{impl: c}
}

// Fd returns the connection's raw socket descriptor, used by the
// Connector for equality/ordering (spec §4.F: "by fd for ordering").
func (c Connection) Fd() int { return c.impl.fd }

// Equal reports whether two handles refer to the same underlying
// implementation (spec §4.F: "by implementation pointer for equality").
func (c Connection) Equal(other Connection) bool { return c.impl == other.impl }

// State reports the connection's position in the handshake state
// machine, mainly useful for tests and logging.
func (c Connection) State() string { return c.impl.state.String() }

// Greeting returns the parsed server banner. Valid once State has
// reached READY; the zero value otherwise.
func (c Connection) Greeting() iproto.Greeting { return c.impl.greeting }

// GetError returns the connection's recorded failure, or nil if it
// hasn't failed.
func (c Connection) GetError() *ConnectionError { return c.impl.err }

// Reset clears a recorded error without touching pending futures;
// callers that also want to discard unread responses call Flush too.
func (c Connection) Reset() {
	c.impl.err = nil
	if c.impl.state == stateFailed {
		c.impl.state = stateNew
	}
}

// Flush drops every pending future. In-flight wire requests that
// haven't been answered yet are not recalled (spec §5).
func (c Connection) Flush() {
	c.impl.futures.Clear()
}

// markReady is called once per encoded request (spec §4.F: "every
// request-encoding call marks the connection ready-to-send"), so it
// doubles as the spot to count requests sent regardless of which op
// queued them.
func (c *connImpl) markReady() {
	c.owner.stats.requestsSent.Inc()
	if !c.readyToSend && !c.outBuf.Empty() {
		c.readyToSend = true
		c.owner.markReadyToSend(c)
	}
}

// FutureIsReady reports whether sync's response has been decoded.
func (c Connection) FutureIsReady(sync uint64) bool {
	_, ok := c.impl.futures.Load(sync)
	return ok
}

// GetResponse extracts and removes sync's response. Precondition:
// FutureIsReady(sync); callers that violate it get a nil Response and
// false.
func (c Connection) GetResponse(sync uint64) (*iproto.Response, bool) {
	resp, loaded := c.impl.futures.LoadAndDelete(sync)
	return resp, loaded
}

// Ping encodes a PING request and marks the connection ready-to-send.
func (c Connection) Ping() uint64 {
	sync := c.impl.enc.Ping()
	c.impl.markReady()
	return sync
}

func (c Connection) Select(spaceID, indexID uint32, limit, offset uint32, it iproto.IteratorType, key []any) uint64 {
	sync := c.impl.enc.Select(spaceID, indexID, limit, offset, it, key)
	c.impl.markReady()
	return sync
}

func (c Connection) Insert(spaceID uint32, tuple []any) uint64 {
	sync := c.impl.enc.Insert(spaceID, tuple)
	c.impl.markReady()
	return sync
}

func (c Connection) Replace(spaceID uint32, tuple []any) uint64 {
	sync := c.impl.enc.Replace(spaceID, tuple)
	c.impl.markReady()
	return sync
}

func (c Connection) Update(spaceID, indexID uint32, key []any, ops []any) uint64 {
	sync := c.impl.enc.Update(spaceID, indexID, key, ops)
	c.impl.markReady()
	return sync
}

func (c Connection) Delete(spaceID, indexID uint32, key []any) uint64 {
	sync := c.impl.enc.Delete(spaceID, indexID, key)
	c.impl.markReady()
	return sync
}

func (c Connection) Upsert(spaceID uint32, tuple []any, ops []any, indexBase uint32) uint64 {
	sync := c.impl.enc.Upsert(spaceID, tuple, ops, indexBase)
	c.impl.markReady()
	return sync
}

func (c Connection) Call(function string, args []any) uint64 {
	sync := c.impl.enc.Call(function, args)
	c.impl.markReady()
	return sync
}

func (c Connection) Eval(expr string, args []any) uint64 {
	sync := c.impl.enc.Eval(expr, args)
	c.impl.markReady()
	return sync
}

func (c Connection) Auth(user string, scramble []byte) uint64 {
	sync := c.impl.enc.Auth(user, scramble)
	c.impl.markReady()
	return sync
}

// ensureDecoded anchors the decoded cursor at the front of inBuf if it
// is not anchored yet: on the first IPROTO read, and again after
// compact has retired it.
func (c *connImpl) ensureDecoded() {
	if c.decoded == nil {
		c.decoded = c.inBuf.Begin()
	}
}

// processResponses decodes as many complete responses as inBuf holds,
// inserting each into futures, and compacts inBuf's consumed prefix
// once decoded responses cross compactThreshold (spec §4.F: "after
// every K responses decoded"). Returns the number decoded and whether a
// fatal (unrecoverable) frame corruption was observed. Precondition:
// ensureDecoded has already run this call.
func (c *connImpl) processResponses(stats *ConnectorStats, log Logger) (decoded int, fatal bool) {
	for {
		resp, status := iproto.DecodeResponse(c.inBuf, c.decoded)
		switch status {
		case iproto.StatusSuccess:
			c.futures.Store(resp.Header.Sync, resp)
			decoded++
			if stats != nil {
				stats.responsesRead.Inc()
			}
			c.sinceCompact++
		case iproto.StatusNeedMore:
			if c.sinceCompact >= compactThreshold {
				c.compact()
			}
			return decoded, false
		case iproto.StatusDecodeErr:
			if stats != nil {
				stats.decodeErrors.Inc()
			}
			total, ok := iproto.FrameSize(c.inBuf, c.decoded)
			if !ok {
				// the size prefix itself didn't re-peek cleanly; treat
				// as unrecoverable rather than guess at a skip amount.
				return decoded, true
			}
			if log != nil {
				log.Warningf("connection %s: skipping malformed response frame (%d bytes)", c.endpoint, total)
			}
			c.decoded.Advance(total)
		case iproto.StatusFatal:
			return decoded, true
		}
	}
}

// compact releases the already-decoded prefix of inBuf. If that leaves
// the buffer empty, the decoded cursor is closed and cleared;
// ensureDecoded re-anchors it once the next read lands.
func (c *connImpl) compact() {
	begin := c.inBuf.Begin()
	n := c.inBuf.Distance(begin, c.decoded)
	begin.Close()
	if n > 0 {
		// decoded itself sits exactly at the new front (one past the
		// dropped region), never inside it, so this never rejects.
		if err := c.inBuf.DropFront(n); err != nil {
			panic(err)
		}
	}
	if c.inBuf.Empty() {
		c.decoded.Close()
		c.decoded = nil
	}
	c.sinceCompact = 0
}

package tntgo

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vkolb/tntgo/iproto"
	"github.com/vkolb/tntgo/netpoll"
)

// maxIOVecs bounds how many blocks a single read or write syscall
// projects (spec §4.G: "bounded by AVAILABLE_IOVEC_COUNT").
const maxIOVecs = 16

// readChunk is how many bytes a single AppendBack reservation asks the
// OS to fill on one readable notification.
const readChunk = 64 * 1024

// mustDrop wraps a DropBack/DropFront call whose region is known to hold
// no live iterators: the only iterator involved (an AppendBack
// reservation, or a GetIOV scan before a write) is always closed before
// the drop. A non-nil err here means that invariant broke.
func mustDrop(err error) {
	if err != nil {
		panic(err)
	}
}

// ConnectorOptions configures a Connector. All fields are optional; the
// zero value runs with a noop logger, Stats tagged "default", and the
// platform default netpoll.Provider.
type ConnectorOptions struct {
	Logger   Logger
	Name     string // used to tag Stats(); defaults to "default"
	Provider netpoll.Provider
}

// Connector owns one event loop, its pool of connections, and the
// poller backing readiness notification — spec §4.G. Everything here is
// single-threaded cooperative: all of a Connector's state is touched
// only from the goroutine that calls its wait family.
type Connector struct {
	log     Logger
	stats   *ConnectorStats
	poller  netpoll.Provider
	ownPoll bool

	conns      map[int]*connImpl
	readySend  map[int]*connImpl // fd -> conn with non-empty outBuf awaiting write-readiness
	eventsBuf  []netpoll.Event
}

// NewConnector creates a Connector using opts, creating a default
// platform net.Provider if none was supplied.
func NewConnector(opts ConnectorOptions) (*Connector, error) {
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}

	poller := opts.Provider
	ownPoll := false
	if poller == nil {
		p, err := netpoll.New()
		if err != nil {
			return nil, fmt.Errorf("tntgo: creating net provider: %w", err)
		}
		poller = p
		ownPoll = true
	}

	return &Connector{
		log:       log,
		stats:     newConnectorStats(name),
		poller:    poller,
		ownPoll:   ownPoll,
		conns:     make(map[int]*connImpl),
		readySend: make(map[int]*connImpl),
		eventsBuf: make([]netpoll.Event, 0, 64),
	}, nil
}

// Stats returns the Connector's counters (requests sent, bytes
// read/written, decode errors, active connection count).
func (cn *Connector) Stats() *ConnectorStats { return cn.stats }

// Connect creates a non-blocking TCP socket to host:port, registers it
// for read+write readiness, and drives the event loop until the
// greeting has been read and parsed or the connection fails. Mirrors
// spec §4.G's connect operation.
func (cn *Connector) Connect(host string, port int, timeoutMs int) (Connection, error) {
	fd, sa, err := dialNonblocking(host, port)
	if err != nil {
		return Connection{}, err
	}

	conn := newConnection(cn, fd, fmt.Sprintf("%s:%d", host, port))
	cn.conns[fd] = conn.impl

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		delete(cn.conns, fd)
		conn.impl.state = stateFailed
		conn.impl.err = &ConnectionError{Msg: err.Error()}
		return conn, conn.impl.err
	}

	if regErr := cn.poller.Register(fd, true, true); regErr != nil {
		unix.Close(fd)
		delete(cn.conns, fd)
		return Connection{}, fmt.Errorf("tntgo: registering fd: %w", regErr)
	}

	conn.impl.state = stateConnecting
	cn.stats.adjustActive(1)

	deadline := deadlineFrom(timeoutMs)
	for conn.impl.state == stateConnecting || conn.impl.state == stateGreeting {
		if conn.impl.state == stateFailed {
			break
		}
		remaining := remainingMs(deadline)
		if deadline != nil && remaining <= 0 {
			conn.impl.state = stateFailed
			conn.impl.err = &ConnectionError{Msg: "connect timed out"}
			break
		}
		if err := cn.runOnce(remaining); err != nil {
			conn.impl.state = stateFailed
			conn.impl.err = &ConnectionError{Msg: err.Error()}
			break
		}
	}

	if conn.impl.state == stateFailed {
		return conn, conn.impl.err
	}
	cn.log.Infof("connected to %s (fd %d)", conn.impl.endpoint, fd)
	return conn, nil
}

// markReadyToSend is called by Connection's request-encoding methods
// once they've appended to outBuf; it flips write-readiness interest on
// for the socket (spec: "ready_to_send ... enables write-readiness").
func (cn *Connector) markReadyToSend(c *connImpl) {
	if _, already := cn.readySend[c.fd]; already {
		return
	}
	cn.readySend[c.fd] = c
	if c.state == stateReady {
		_ = cn.poller.Modify(c.fd, true, true)
	}
}

// Wait drives the event loop until sync appears in conn's futures, the
// connection fails, or timeoutMs elapses. Returns nil on success.
func (cn *Connector) Wait(conn Connection, sync uint64, timeoutMs int) error {
	deadline := deadlineFrom(timeoutMs)
	for {
		if conn.FutureIsReady(sync) {
			return nil
		}
		if conn.impl.state == stateFailed {
			return conn.impl.err
		}
		remaining := remainingMs(deadline)
		if deadline != nil && remaining <= 0 {
			return fmt.Errorf("tntgo: wait timed out")
		}
		if err := cn.runOnce(remaining); err != nil {
			return err
		}
	}
}

// WaitAll drives the event loop until every sync in syncs is ready (or
// a failure/timeout occurs).
func (cn *Connector) WaitAll(conn Connection, syncs []uint64, timeoutMs int) error {
	deadline := deadlineFrom(timeoutMs)
	for {
		allReady := true
		for _, s := range syncs {
			if !conn.FutureIsReady(s) {
				allReady = false
				break
			}
		}
		if allReady {
			return nil
		}
		if conn.impl.state == stateFailed {
			return conn.impl.err
		}
		remaining := remainingMs(deadline)
		if deadline != nil && remaining <= 0 {
			return fmt.Errorf("tntgo: wait_all timed out")
		}
		if err := cn.runOnce(remaining); err != nil {
			return err
		}
	}
}

// WaitAny drives the event loop until some registered connection has
// decoded at least one new response, returning that connection. Returns
// the zero Connection on timeout (spec: "nullptr on timeout").
func (cn *Connector) WaitAny(timeoutMs int) (Connection, bool) {
	deadline := deadlineFrom(timeoutMs)
	for {
		remaining := remainingMs(deadline)
		if deadline != nil && remaining <= 0 {
			return Connection{}, false
		}
		winner, decoded, err := cn.runOnceReporting(remaining)
		if err != nil {
			return Connection{}, false
		}
		if decoded && winner != nil {
			return Connection{impl: winner}, true
		}
	}
}

// Close deregisters and closes conn's socket, marking it CLOSED. Its
// futures are dropped.
func (cn *Connector) Close(conn Connection) {
	c := conn.impl
	if c.state == stateClosed {
		return
	}
	_ = cn.poller.Deregister(c.fd)
	_ = unix.Close(c.fd)
	delete(cn.conns, c.fd)
	delete(cn.readySend, c.fd)
	c.futures.Clear()
	c.state = stateClosed
	cn.stats.adjustActive(-1)
}

// Shutdown closes every connection the Connector still owns and, if it
// created its own net.Provider (no Provider was supplied in
// ConnectorOptions), closes that too. Mirrors
// clientTransport.closeConnections's role in rpc/transport/base/client.go.
func (cn *Connector) Shutdown() {
	for _, c := range cn.conns {
		cn.Close(Connection{impl: c})
	}
	if cn.ownPoll {
		_ = cn.poller.Close()
	}
}

// runOnce drives exactly one poll iteration. timeoutMs<0 blocks
// indefinitely.
func (cn *Connector) runOnce(timeoutMs int) error {
	_, _, err := cn.runOnceReporting(timeoutMs)
	return err
}

// runOnceReporting is runOnce plus which connection (if any) decoded at
// least one new response this iteration, for WaitAny.
func (cn *Connector) runOnceReporting(timeoutMs int) (winner *connImpl, decodedAny bool, err error) {
	timeout := time.Duration(-1)
	if timeoutMs >= 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	cn.eventsBuf = cn.eventsBuf[:0]
	cn.eventsBuf, err = cn.poller.Wait(cn.eventsBuf, timeout)
	if err != nil {
		return nil, false, fmt.Errorf("tntgo: poll: %w", err)
	}

	for _, ev := range cn.eventsBuf {
		c, ok := cn.conns[ev.Fd]
		if !ok {
			continue
		}
		if ev.Writable {
			cn.handleWritable(c)
		}
		if ev.Readable && c.state != stateFailed && c.state != stateClosed {
			n, fatal := cn.handleReadable(c)
			if n > 0 && winner == nil {
				winner = c
			}
			if n > 0 {
				decodedAny = true
			}
			if fatal {
				cn.failConn(c, "protocol corruption on size prefix")
			}
		}
	}
	return winner, decodedAny, nil
}

func (cn *Connector) handleWritable(c *connImpl) {
	switch c.state {
	case stateConnecting, stateGreeting:
		cn.completeHandshakeStart(c)
		return
	case stateFailed, stateClosed:
		return
	}

	if c.outBuf.Empty() {
		return
	}

	begin := c.outBuf.Begin()
	iov := c.outBuf.GetIOV(begin, maxIOVecs)
	begin.Close()

	n, err := unix.Writev(c.fd, iov)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		cn.failConn(c, fmt.Sprintf("write: %v", err))
		return
	}
	if n > 0 {
		mustDrop(c.outBuf.DropFront(n))
		cn.stats.bytesWritten.Add(n)
	}
	if c.outBuf.Empty() {
		c.readyToSend = false
		delete(cn.readySend, c.fd)
		_ = cn.poller.Modify(c.fd, true, false)
	}
}

// completeHandshakeStart is called the first time a freshly-connecting
// socket reports writable, which on a non-blocking connect() means the
// three-way handshake finished (possibly with an error, checked via
// SO_ERROR). Once confirmed, it transitions to reading the greeting.
func (cn *Connector) completeHandshakeStart(c *connImpl) {
	if c.state != stateConnecting && c.state != stateGreeting {
		return
	}
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		cn.failConn(c, fmt.Sprintf("getsockopt(SO_ERROR): %v", err))
		return
	}
	if errno != 0 {
		cn.failConn(c, unix.Errno(errno).Error())
		return
	}
	c.state = stateGreeting
	if c.outBuf.Empty() {
		_ = cn.poller.Modify(c.fd, true, false)
	}
}

func (cn *Connector) handleReadable(c *connImpl) (decoded int, fatal bool) {
	if c.state == stateGreeting {
		cn.readGreeting(c)
		return 0, false
	}
	if c.state != stateReady {
		return 0, false
	}

	res := c.inBuf.AppendBack(readChunk)
	iov := c.inBuf.GetIOV(res, maxIOVecs)
	res.Close()

	n, err := unix.Readv(c.fd, iov)
	switch {
	case err != nil && err == unix.EAGAIN:
		mustDrop(c.inBuf.DropBack(readChunk))
		return 0, false
	case err != nil:
		mustDrop(c.inBuf.DropBack(readChunk))
		cn.failConn(c, fmt.Sprintf("read: %v", err))
		return 0, false
	case n == 0:
		mustDrop(c.inBuf.DropBack(readChunk))
		cn.failConn(c, "connection closed by peer")
		return 0, false
	}
	if n < readChunk {
		mustDrop(c.inBuf.DropBack(readChunk - n))
	}
	cn.stats.bytesRead.Add(n)
	c.ensureDecoded()

	decoded, fatal = c.processResponses(cn.stats, cn.log)
	return decoded, fatal
}

// readGreeting accumulates exactly GreetingSize bytes before parsing;
// the handshake predates IPROTO framing so it is handled outside the
// normal inBuf/decoded-cursor machinery.
func (cn *Connector) readGreeting(c *connImpl) {
	want := iproto.GreetingSize
	res := c.inBuf.AppendBack(want)
	iov := c.inBuf.GetIOV(res, 1)
	res.Close()

	n, err := unix.Read(c.fd, iov[0])
	if err != nil {
		if err == unix.EAGAIN {
			mustDrop(c.inBuf.DropBack(want))
			return
		}
		mustDrop(c.inBuf.DropBack(want))
		cn.failConn(c, fmt.Sprintf("read greeting: %v", err))
		return
	}
	if n == 0 {
		mustDrop(c.inBuf.DropBack(want))
		cn.failConn(c, "connection closed during handshake")
		return
	}
	if n < want {
		mustDrop(c.inBuf.DropBack(want - n))
	}
	cn.stats.bytesRead.Add(n)

	begin := c.inBuf.Begin()
	if !c.inBuf.Has(begin, iproto.GreetingSize) {
		begin.Close()
		return // short read, wait for the rest
	}
	var raw [iproto.GreetingSize]byte
	c.inBuf.Get(begin, raw[:])
	begin.Close()

	greeting, perr := iproto.ParseGreeting(raw)
	if perr != nil {
		cn.failConn(c, perr.Error())
		return
	}
	mustDrop(c.inBuf.DropFront(iproto.GreetingSize))
	// decoded is anchored lazily by ensureDecoded on the first real
	// IPROTO read, not here.
	c.greeting = greeting
	c.haveGreeting = true
	c.state = stateReady

	if c.readyToSend {
		_ = cn.poller.Modify(c.fd, true, true)
	} else {
		_ = cn.poller.Modify(c.fd, true, false)
	}
}

func (cn *Connector) failConn(c *connImpl, msg string) {
	c.state = stateFailed
	c.err = &ConnectionError{Msg: msg}
	_ = cn.poller.Deregister(c.fd)
	cn.log.Warningf("connection %s failed: %s", c.endpoint, msg)
}

func deadlineFrom(timeoutMs int) *time.Time {
	if timeoutMs < 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	return &t
}

func remainingMs(deadline *time.Time) int {
	if deadline == nil {
		return -1
	}
	remaining := time.Until(*deadline)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Millisecond)
}

// dialNonblocking creates a non-blocking TCP socket and resolves
// host:port to a sockaddr, leaving the actual connect() to the caller
// (spec §4.G requires the socket to be non-blocking before connect is
// attempted, so EINPROGRESS drives the handshake through the poller
// rather than blocking the calling goroutine).
func dialNonblocking(host string, port int) (fd int, sa unix.Sockaddr, err error) {
	ip, err := resolveIPv4(host)
	if err != nil {
		return -1, nil, err
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("tntgo: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("tntgo: set nonblocking: %w", err)
	}

	var addr [4]byte
	copy(addr[:], ip)
	return fd, &unix.SockaddrInet4{Port: port, Addr: addr}, nil
}

func resolveIPv4(host string) ([]byte, error) {
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return nil, fmt.Errorf("tntgo: resolving %s: %w", host, err)
	}
	return addr.IP.To4(), nil
}

// VectoredWriteBudget exposes maxIOVecs for tests that want to exercise
// a write spanning more blocks than fit in one syscall.
const VectoredWriteBudget = maxIOVecs

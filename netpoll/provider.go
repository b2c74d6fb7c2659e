// Package netpoll abstracts the OS-specific readiness-notification
// mechanism (epoll on Linux, kqueue on BSD/Darwin) behind one small
// interface, so tntgo's event loop drives a single Connector
// implementation regardless of platform.
package netpoll

import "time"

// Event reports one file descriptor's readiness.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
}

// Provider is the minimal readiness-notification contract a Connector's
// event loop needs: register a socket for the events it cares about,
// change that interest set as a connection's state machine moves
// between wanting to read and wanting to write, and block until
// something is ready. Pluggable: a default is provided per platform via
// New, but tests can substitute a fake.
type Provider interface {
	// Register starts watching fd for the given readable/writable
	// interest.
	Register(fd int, readable, writable bool) error

	// Modify changes fd's interest set. fd must already be registered.
	Modify(fd int, readable, writable bool) error

	// Deregister stops watching fd. It is not an error to deregister an
	// fd that was never registered.
	Deregister(fd int) error

	// Wait blocks until at least one registered fd is ready or timeout
	// elapses (timeout <= 0 means block indefinitely), appending ready
	// events to dst and returning the extended slice.
	Wait(dst []Event, timeout time.Duration) ([]Event, error)

	// Close releases the underlying OS resource (epoll/kqueue fd).
	Close() error
}

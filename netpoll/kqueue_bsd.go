//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package netpoll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// New returns the BSD/Darwin kqueue-backed Provider.
func New() (Provider, error) {
	return NewKqueue()
}

type kqueueProvider struct {
	fd int
}

// NewKqueue creates a Provider backed by kqueue/kevent.
func NewKqueue() (Provider, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("netpoll: kqueue: %w", err)
	}
	return &kqueueProvider{fd: fd}, nil
}

func (p *kqueueProvider) changeOne(fd int, filter int16, flags uint16) error {
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

func (p *kqueueProvider) Register(fd int, readable, writable bool) error {
	if readable {
		if err := p.changeOne(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return fmt.Errorf("netpoll: kevent(EVFILT_READ, ADD, %d): %w", fd, err)
		}
	}
	if writable {
		if err := p.changeOne(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return fmt.Errorf("netpoll: kevent(EVFILT_WRITE, ADD, %d): %w", fd, err)
		}
	}
	return nil
}

func (p *kqueueProvider) Modify(fd int, readable, writable bool) error {
	readFlag := uint16(unix.EV_DISABLE)
	if readable {
		readFlag = unix.EV_ENABLE
	}
	writeFlag := uint16(unix.EV_DISABLE)
	if writable {
		writeFlag = unix.EV_ENABLE
	}
	if err := p.changeOne(fd, unix.EVFILT_READ, unix.EV_ADD|readFlag); err != nil {
		return fmt.Errorf("netpoll: kevent(EVFILT_READ, MOD, %d): %w", fd, err)
	}
	if err := p.changeOne(fd, unix.EVFILT_WRITE, unix.EV_ADD|writeFlag); err != nil {
		return fmt.Errorf("netpoll: kevent(EVFILT_WRITE, MOD, %d): %w", fd, err)
	}
	return nil
}

func (p *kqueueProvider) Deregister(fd int) error {
	_ = p.changeOne(fd, unix.EVFILT_READ, unix.EV_DELETE)
	_ = p.changeOne(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	return nil
}

func (p *kqueueProvider) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	raw := make([]unix.Kevent_t, 128)
	n, err := unix.Kevent(p.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("netpoll: kevent wait: %w", err)
	}

	// kqueue reports one Kevent_t per (fd, filter) pair, so a socket
	// ready for both read and write arrives as two entries; merge by fd
	// via index into dst rather than a pointer, since later appends can
	// reallocate dst's backing array and invalidate any *Event held
	// across iterations.
	byFd := make(map[int]int, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		idx, ok := byFd[fd]
		if !ok {
			dst = append(dst, Event{Fd: fd})
			idx = len(dst) - 1
			byFd[fd] = idx
		}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			dst[idx].Readable = true
		case unix.EVFILT_WRITE:
			dst[idx].Writable = true
		}
	}
	return dst, nil
}

func (p *kqueueProvider) Close() error {
	return unix.Close(p.fd)
}

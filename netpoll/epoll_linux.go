//go:build linux

package netpoll

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// New returns the Linux epoll-backed Provider.
func New() (Provider, error) {
	return NewEpoll()
}

type epollProvider struct {
	fd int

	mu   sync.Mutex
	want map[int]*unix.EpollEvent // fd -> last-registered event; recorded, never read back
}

// NewEpoll creates a Provider backed by epoll_create1/epoll_ctl/epoll_wait.
func NewEpoll() (Provider, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	return &epollProvider{fd: fd, want: make(map[int]*unix.EpollEvent)}, nil
}

func epollMask(readable, writable bool) uint32 {
	var mask uint32
	if readable {
		mask |= unix.EPOLLIN
	}
	if writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollProvider) Register(fd int, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: epollMask(readable, writable), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl(ADD, %d): %w", fd, err)
	}
	p.mu.Lock()
	p.want[fd] = ev
	p.mu.Unlock()
	return nil
}

func (p *epollProvider) Modify(fd int, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: epollMask(readable, writable), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl(MOD, %d): %w", fd, err)
	}
	p.mu.Lock()
	p.want[fd] = ev
	p.mu.Unlock()
	return nil
}

func (p *epollProvider) Deregister(fd int) error {
	p.mu.Lock()
	delete(p.want, fd)
	p.mu.Unlock()
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("netpoll: epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

func (p *epollProvider) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	timeoutMs := -1
	if timeout > 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.fd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("netpoll: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Event{
			Fd:       int(raw[i].Fd),
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
		})
	}
	return dst, nil
}

func (p *epollProvider) Close() error {
	return unix.Close(p.fd)
}

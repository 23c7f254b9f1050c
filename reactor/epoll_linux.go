//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

var errClosed = errors.New("reactor: closed")

type fdEntry struct {
	mu    sync.Mutex
	cb    FDCallback
	armed FDEventType
}

// epollReactor implements Reactor using Linux epoll with EPOLLONESHOT
// interest and an eventfd to interrupt a blocked wait.
type epollReactor struct {
	epfd   int
	wakefd int
	fds    sync.Map // map[uintptr]*fdEntry

	mu      sync.Mutex
	closed  atomic.Bool
	running sync.WaitGroup
}

// New creates an epoll reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &epollReactor{epfd: epfd, wakefd: wakefd}, nil
}

func (r *epollReactor) Register(fd uintptr, cb FDCallback) error {
	if r.closed.Load() {
		return errClosed
	}
	e := &fdEntry{cb: cb}
	if _, loaded := r.fds.LoadOrStore(fd, e); loaded {
		return fmt.Errorf("fd %d already registered", fd)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		r.fds.Delete(fd)
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (r *epollReactor) Arm(fd uintptr, events FDEventType) error {
	v, ok := r.fds.Load(fd)
	if !ok {
		return fmt.Errorf("fd %d is not registered", fd)
	}
	e := v.(*fdEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed |= events & (EventRead | EventWrite)
	return r.modify(fd, e.armed)
}

func (r *epollReactor) modify(fd uintptr, events FDEventType) error {
	ev := unix.EpollEvent{Events: unix.EPOLLONESHOT | unix.EPOLLRDHUP, Fd: int32(fd)}
	if events&EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (r *epollReactor) Unregister(fd uintptr) error {
	if _, ok := r.fds.LoadAndDelete(fd); !ok {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (r *epollReactor) Poll(timeoutMs int) error {
	var events [maxEvents]unix.EpollEvent
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := events[i]
		if int(ev.Fd) == r.wakefd {
			r.drainWake()
			continue
		}
		r.dispatch(uintptr(ev.Fd), ev.Events)
	}
	return nil
}

// dispatch delivers one event. One-shot interest disabled every armed
// bit, so bits that did not fire are armed again first.
func (r *epollReactor) dispatch(fd uintptr, raw uint32) {
	v, ok := r.fds.Load(fd)
	if !ok {
		return
	}
	e := v.(*fdEntry)

	var fired FDEventType
	if raw&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		fired |= EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		fired |= EventWrite
	}
	if raw&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		fired |= EventError | EventRead | EventWrite
	}

	e.mu.Lock()
	e.armed &^= fired
	if e.armed != 0 {
		if err := r.modify(fd, e.armed); err != nil {
			log.L.WithError(err).WithField("fd", fd).Warn("re-arming descriptor")
		}
	}
	cb := e.cb
	e.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			log.L.WithField("fd", fd).Errorf("reactor callback panic: %v", p)
		}
	}()
	cb(fd, fired)
}

func (r *epollReactor) wake() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(r.wakefd, b[:])
}

func (r *epollReactor) drainWake() {
	var b [8]byte
	_, _ = unix.Read(r.wakefd, b[:])
}

func (r *epollReactor) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return nil
	}
	r.running.Add(1)
	r.mu.Unlock()
	defer r.running.Done()

	stop := context.AfterFunc(ctx, r.wake)
	defer stop()
	for !r.closed.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Poll(-1); err != nil {
			return err
		}
	}
	return nil
}

func (r *epollReactor) Close() error {
	r.mu.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	r.wake()
	r.running.Wait()
	return errors.Join(unix.Close(r.wakefd), unix.Close(r.epfd))
}

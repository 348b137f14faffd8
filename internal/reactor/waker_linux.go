//go:build linux

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Waker is an eventfd-backed cross-goroutine wakeup. A write of any
// nonzero 8-byte value increments the kernel-held counter; epoll_wait
// reports the eventfd readable exactly once regardless of how many
// writes landed before it woke, so invoking Wake repeatedly before the
// event loop wakes up is idempotent.
type Waker struct {
	fd int
}

// newWaker creates a nonblocking eventfd and registers it, readable,
// in epfd under id.
func newWaker(epfd int, id int32) (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: id}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Waker{fd: fd}, nil
}

// Wake implements queue.Waker and shutdown.Waker.
func (w *Waker) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err == unix.EAGAIN {
		// The counter is already at its maximum pending value; a
		// wakeup is already in flight, which is all Wake promises.
		return nil
	}
	return err
}

// drain reads and discards the eventfd's counter after a wakeup. A
// single read consumes the whole accumulated counter value, which is
// all that's needed before epoll will report it readable again.
func (w *Waker) drain() {
	var buf [8]byte
	unix.Read(w.fd, buf[:])
}

func (w *Waker) close() error {
	return unix.Close(w.fd)
}

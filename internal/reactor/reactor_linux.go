//go:build linux

// Package reactor implements the non-blocking, single-threaded network
// front end: an epoll event loop that accepts connections, frames
// line-delimited requests onto a channel, and drains replies back onto
// the wire, woken by an eventfd whenever the queue manager has
// something for it or a shutdown was requested.
package reactor

import (
	"fmt"
	"net"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/oriys/quest/internal/logging"
	"github.com/oriys/quest/internal/protocol"
	"github.com/oriys/quest/internal/shutdown"
)

const (
	readBufferSize = 128 * 1024
	eventsCapacity = 1024
	acceptBacklog  = 1024
)

// ConnMetrics receives connection lifecycle callbacks. Narrow on
// purpose, like queue.Recorder, so this package stays free of the
// prometheus import; internal/metrics implements it. Nil is valid.
type ConnMetrics interface {
	ConnectionAccepted()
	ConnectionClosed()
}

// Reactor owns the epoll set, the listening socket, and the connection
// table. Every field here is touched only from the goroutine running
// Serve.
type Reactor struct {
	epfd     int
	listenFd int
	waker    *Waker
	ids      *idAllocator
	conns    map[protocol.ConnID]*connection

	reqCh chan<- protocol.Request
	repCh <-chan protocol.Reply

	shutdownFlag *shutdown.Flag
	metrics      ConnMetrics
}

// New binds a non-blocking TCP listener at host:port, builds the epoll
// set, and registers the listener and a fresh Waker inside it. reqCh
// and repCh are the same channels the queue manager's Run consumes and
// produces from; flag is shared with the shutdown package's signal
// bridge.
func New(host string, port int, reqCh chan<- protocol.Request, repCh <-chan protocol.Reply, flag *shutdown.Flag, metrics ConnMetrics) (*Reactor, error) {
	listenFd, err := listen(host, port)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(listenFd)
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	listenEv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(protocol.ListenerID)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFd, &listenEv); err != nil {
		unix.Close(listenFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("register listener: %w", err)
	}

	waker, err := newWaker(epfd, int32(protocol.WakerID))
	if err != nil {
		unix.Close(listenFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("create waker: %w", err)
	}

	return &Reactor{
		epfd:         epfd,
		listenFd:     listenFd,
		waker:        waker,
		ids:          newIDAllocator(),
		conns:        make(map[protocol.ConnID]*connection),
		reqCh:        reqCh,
		repCh:        repCh,
		shutdownFlag: flag,
		metrics:      metrics,
	}, nil
}

// Waker exposes the reactor's waker so callers (the shutdown signal
// bridge, tests) can wake it without reaching into internals.
func (r *Reactor) Waker() *Waker {
	return r.waker
}

// Close releases the listener, epoll fd, and waker. Any still-open
// connections are closed too.
func (r *Reactor) Close() error {
	for id, c := range r.conns {
		unix.Close(c.fd)
		delete(r.conns, id)
	}
	r.waker.close()
	unix.Close(r.listenFd)
	return unix.Close(r.epfd)
}

// Serve runs the event loop until shutdown is requested or a fatal
// epoll error occurs. It pins the calling goroutine to its OS thread
// for the duration — epoll_wait must not be resumed from a different
// thread mid-wait.
func (r *Reactor) Serve() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	events := make([]unix.EpollEvent, eventsCapacity)
	buf := make([]byte, readBufferSize)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			id := protocol.ConnID(uint32(ev.Fd))

			switch id {
			case protocol.ListenerID:
				r.accept()
			case protocol.WakerID:
				r.waker.drain()
				if r.shutdownFlag != nil && r.shutdownFlag.Requested() {
					r.reqCh <- protocol.Request{Conn: protocol.WakerID, Cmd: protocol.CmdTerminate}
					return nil
				}
				r.drainReplies()
			default:
				if ev.Events&(unix.EPOLLOUT) != 0 {
					r.handleWritable(id)
				} else if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
					r.handleReadable(id, buf)
				}
			}
		}
	}
}

// accept drains the listener's backlog in a non-blocking loop until
// accept4 reports EAGAIN.
func (r *Reactor) accept() {
	for {
		fd, _, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			logging.Op().Warn("accept failed", "error", err)
			return
		}

		id := r.ids.take()
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(id)}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			logging.Op().Warn("register connection failed", "error", err)
			unix.Close(fd)
			continue
		}
		r.conns[id] = newConnection(id, fd)
		if r.metrics != nil {
			r.metrics.ConnectionAccepted()
		}
	}
}

// drainReplies non-blockingly drains the reply channel, serializes
// each reply into its connection's outbound buffer, and re-arms that
// connection for writable, discarding replies whose recipient has
// already been closed.
func (r *Reactor) drainReplies() {
	for {
		select {
		case rep, ok := <-r.repCh:
			if !ok {
				return
			}
			c, present := r.conns[rep.Conn]
			if !present {
				continue
			}
			c.outbound = rep.Serialize()
			r.rearm(c, true)
		default:
			return
		}
	}
}

// handleReadable reads whatever is available from a connection's
// socket, accumulates it, and — once a full line is framed — either
// tears the connection down (QUIT) or forwards a Request to the queue
// manager.
func (r *Reactor) handleReadable(id protocol.ConnID, buf []byte) {
	c, ok := r.conns[id]
	if !ok {
		return
	}

	n, err := unix.Read(c.fd, buf)
	switch {
	case err == nil && n == 0:
		r.closeConn(id)
		return
	case err == nil:
		if c.appendInbound(buf[:n]) {
			c.reset()
			c.outbound = protocol.ErrorReply(id).Serialize()
			r.rearm(c, true)
			return
		}
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		r.rearm(c, false)
		return
	default:
		logging.Op().Debug("read error, closing connection", "conn", id, "error", err)
		r.closeConn(id)
		return
	}

	line, ok := c.takeLine()
	if !ok {
		r.rearm(c, false)
		return
	}

	name, arg := protocol.SplitLine(line)
	cmd := protocol.ParseCommand(name)

	if cmd == protocol.CmdQuit {
		r.closeConn(id)
		return
	}

	if cmd == protocol.CmdUnknown {
		if len(line) == 0 {
			// An empty line (bare terminator) is silently discarded
			// and the connection keeps reading.
			c.reset()
			r.rearm(c, false)
			return
		}
		c.reset()
		c.outbound = protocol.ErrorReply(id).Serialize()
		r.rearm(c, true)
		return
	}

	req := protocol.Request{Conn: id, Cmd: cmd, Arg: append([]byte(nil), arg...)}
	c.reset()
	r.reqCh <- req
}

// handleWritable writes as much of a connection's outbound buffer as
// the socket accepts. A short write keeps the unwritten tail and stays
// armed for writable; a full write re-arms for readable. Any I/O error
// besides would-block/interrupted is treated as fatal for that
// connection rather than left to retry forever.
func (r *Reactor) handleWritable(id protocol.ConnID) {
	c, ok := r.conns[id]
	if !ok {
		return
	}

	n, err := unix.Write(c.fd, c.outbound)
	switch {
	case err == nil && n < len(c.outbound):
		c.outbound = c.outbound[n:]
		r.rearm(c, true)
	case err == nil:
		c.reset()
		r.rearm(c, false)
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		r.rearm(c, true)
	default:
		logging.Op().Debug("write error, closing connection", "conn", id, "error", err)
		r.closeConn(id)
	}
}

func (r *Reactor) rearm(c *connection, writable bool) {
	c.writable = writable
	events := uint32(unix.EPOLLIN)
	if writable {
		events = unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(c.id)}
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev)
}

func (r *Reactor) closeConn(id protocol.ConnID) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)
	delete(r.conns, id)
	if r.metrics != nil {
		r.metrics.ConnectionClosed()
	}
}

// listen creates a non-blocking, listening TCP socket bound to
// host:port using raw syscalls rather than net.Listen, so its fd can
// be registered directly with epoll instead of going through the Go
// runtime's own netpoller.
func listen(host string, port int) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return -1, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}

	domain := unix.AF_INET
	if addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt reuseaddr: %w", err)
	}

	if domain == unix.AF_INET {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	} else {
		var sa unix.SockaddrInet6
		sa.Port = addr.Port
		copy(sa.Addr[:], addr.IP.To16())
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	}

	if err := unix.Listen(fd, acceptBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

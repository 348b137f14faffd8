package reactor

import "github.com/oriys/quest/internal/protocol"

// maxLineSize bounds the inbound accumulator: a connection that never
// sends a terminator past this size is reset with an error reply
// rather than allowed to grow unbounded.
const maxLineSize = protocol.MaxLineSize

// connection holds per-socket I/O state on a raw file descriptor rather
// than a net.Conn (the reactor's table keys it by connection id): the
// reactor drives every read/write itself
// through epoll, so a blocking-capable net.Conn (and the Go runtime's
// own netpoller underneath it) would fight the explicit single-thread
// event loop. Only ever touched from the reactor's single OS thread;
// nothing here needs synchronization.
type connection struct {
	id protocol.ConnID
	fd int

	inbound  []byte // accumulated bytes not yet forming a full line
	outbound []byte // serialized reply bytes not yet fully written

	writable bool // current epoll interest: true = writable, false = readable
}

func newConnection(id protocol.ConnID, fd int) *connection {
	return &connection{id: id, fd: fd}
}

// reset clears per-request buffers between requests on the same
// connection.
func (c *connection) reset() {
	c.inbound = c.inbound[:0]
	c.outbound = nil
}

// appendInbound appends newly read bytes and reports whether the
// accumulator has exceeded maxLineSize.
func (c *connection) appendInbound(b []byte) (overflow bool) {
	c.inbound = append(c.inbound, b...)
	return len(c.inbound) > maxLineSize
}

// takeLine reports whether inbound currently ends in the line
// terminator, and if so returns the line with the terminator stripped.
func (c *connection) takeLine() (line []byte, ok bool) {
	n := len(c.inbound)
	if n == 0 || c.inbound[n-1] != protocol.Terminator {
		return nil, false
	}
	return c.inbound[:n-1], true
}

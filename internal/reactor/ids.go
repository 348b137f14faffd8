package reactor

import "github.com/oriys/quest/internal/protocol"

// maxConnID bounds allocated ids to what fits in an epoll_event's
// userdata Fd field (int32 on every supported GOARCH), since the
// reactor stores the connection id there rather than the real socket
// fd.
const maxConnID = protocol.ConnID(1<<31 - 1)

// idAllocator hands out connection ids starting at protocol.FirstConnID
// and wraps back to it on reaching maxConnID rather than panicking.
// Wraparound only risks a collision with a still-open, extremely
// long-lived connection if billions of connections have cycled through
// without that original one ever closing — accepted as a non-issue at
// this scale.
type idAllocator struct {
	next protocol.ConnID
}

func newIDAllocator() *idAllocator {
	return &idAllocator{next: protocol.FirstConnID}
}

func (a *idAllocator) take() protocol.ConnID {
	id := a.next
	if id >= maxConnID {
		a.next = protocol.FirstConnID
	} else {
		a.next = id + 1
	}
	return id
}

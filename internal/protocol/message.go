package protocol

import "strconv"

// ConnID identifies a connection (or, for IDs 0/1, the listener and the
// waker). User connection ids come from a plain monotonic counter that
// wraps back to FirstConnID after 1<<31-1 (the reactor's maxConnID), not
// at the maximum of the uint64 type.
type ConnID uint64

// ListenerID and WakerID are the two reserved connection identifiers.
// User connections are always allocated starting at FirstConnID.
const (
	ListenerID   ConnID = 0
	WakerID      ConnID = 1
	FirstConnID  ConnID = 2
)

// Request is produced by the reactor for every complete, recognized line
// read from a connection other than QUIT (which the reactor handles
// itself), and consumed exactly once by the queue manager.
type Request struct {
	Conn ConnID
	Cmd  Command
	Arg  []byte
}

// Reply is produced by the queue manager for every Request except
// CmdTerminate, and consumed exactly once by the reactor.
type Reply struct {
	Conn   ConnID
	Status int
	Data   []byte
}

// ErrorReply builds the canonical "-1 Error\n" reply for conn.
func ErrorReply(conn ConnID) Reply {
	return Reply{Conn: conn, Status: -1, Data: []byte("Error")}
}

// EmptyReply builds a status-0, empty-data reply for conn — the generic
// "nothing" answer used by state-miss handlers.
func EmptyReply(conn ConnID) Reply {
	return Reply{Conn: conn, Status: 0, Data: nil}
}

// Serialize renders the reply in wire form: decimal status, a space, the
// data bytes, and the terminator.
func (r Reply) Serialize() []byte {
	status := strconv.Itoa(r.Status)
	out := make([]byte, 0, len(status)+1+len(r.Data)+1)
	out = append(out, status...)
	out = append(out, Separator)
	out = append(out, r.Data...)
	out = append(out, Terminator)
	return out
}

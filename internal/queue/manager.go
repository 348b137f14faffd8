package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/quest/internal/logging"
	"github.com/oriys/quest/internal/observability"
	"github.com/oriys/quest/internal/protocol"
)

// Waker is whatever cross-context wakeup primitive the reactor provides.
// Manager calls Wake() once per reply produced so the reactor's poller
// is guaranteed to observe it.
type Waker interface {
	Wake() error
}

// Recorder receives lightweight observability callbacks as the manager
// processes requests. A nil Recorder is valid; Manager checks before
// calling into it. Kept as a narrow interface (rather than a concrete
// metrics dependency) so internal/queue stays free of the prometheus
// import — internal/metrics implements it.
type Recorder interface {
	RequestHandled(cmd protocol.Command, status int, elapsed time.Duration)
	QueueDepth(name string, depth, leased int)
}

// Manager owns every Queue and the job-id-to-queue-name secondary index.
// It is the single writer of all queue state: exactly one goroutine
// (Run's caller) ever calls its handlers.
type Manager struct {
	queues  map[string]*Queue
	reverse map[JobID]string
	rec     Recorder
}

// New creates an empty Manager.
func New(rec Recorder) *Manager {
	return &Manager{
		queues:  make(map[string]*Queue),
		reverse: make(map[JobID]string),
		rec:     rec,
	}
}

// Run consumes requests from reqCh in order and sends exactly one Reply
// per Request to repCh, waking w after each one, until it receives a
// CmdTerminate request (which produces no reply and ends the loop
// without draining reqCh further — graceful shutdown discards whatever
// arrives after it). Each processed request gets its own span, named
// after the command and tagged with connection id, queue name(s), job
// id (where applicable), and reply status.
func (m *Manager) Run(reqCh <-chan protocol.Request, repCh chan<- protocol.Reply, w Waker) {
	for req := range reqCh {
		if req.Cmd == protocol.CmdTerminate {
			return
		}
		start := time.Now()
		rep := m.handleTraced(req)
		if m.rec != nil {
			m.rec.RequestHandled(req.Cmd, rep.Status, time.Since(start))
		}
		repCh <- rep
		if err := w.Wake(); err != nil {
			logging.Op().Error("wake reactor failed", "error", err)
		}
	}
}

// handleTraced wraps handle in a span carrying the command-processing
// attributes observability.AttrCommand/AttrConnID/AttrQueue/AttrJobID/
// AttrStatus document.
func (m *Manager) handleTraced(req protocol.Request) protocol.Reply {
	spanName := req.Cmd.String()
	if spanName == "" {
		spanName = "UNKNOWN"
	}

	_, span := observability.StartServerSpan(context.Background(), spanName,
		observability.AttrCommand.String(spanName),
		observability.AttrConnID.Int64(int64(req.Conn)),
	)
	defer span.End()

	rep := m.handle(req)

	attrs := []attribute.KeyValue{observability.AttrStatus.Int(rep.Status)}
	if attr, ok := queueAttr(req.Cmd, req.Arg); ok {
		attrs = append(attrs, attr)
	}
	if attr, ok := jobIDAttr(req.Cmd, req, rep); ok {
		attrs = append(attrs, attr)
	}
	span.SetAttributes(attrs...)

	if rep.Status < 0 {
		observability.SetSpanError(span, errors.New("request failed"))
	} else {
		observability.SetSpanOK(span)
	}

	return rep
}

// queueAttr extracts the queue name(s) a request addressed, where the
// command names one: GETJOB may list several candidate queues, so they
// are joined into a single comma-separated attribute value.
func queueAttr(cmd protocol.Command, arg []byte) (attribute.KeyValue, bool) {
	switch cmd {
	case protocol.CmdGetJob:
		fields := protocol.Fields(arg)
		if len(fields) == 0 {
			return attribute.KeyValue{}, false
		}
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = string(f)
		}
		return observability.AttrQueue.String(strings.Join(names, ",")), true
	case protocol.CmdAddJob, protocol.CmdStatQue, protocol.CmdDelQue:
		fields := protocol.Fields(arg)
		if len(fields) == 0 {
			return attribute.KeyValue{}, false
		}
		return observability.AttrQueue.String(string(fields[0])), true
	default:
		return attribute.KeyValue{}, false
	}
}

// jobIDAttr extracts the job id(s) a request addressed or produced,
// where the command involves one.
func jobIDAttr(cmd protocol.Command, req protocol.Request, rep protocol.Reply) (attribute.KeyValue, bool) {
	switch cmd {
	case protocol.CmdAddJob:
		if rep.Status == 1 {
			return observability.AttrJobID.String(string(rep.Data)), true
		}
	case protocol.CmdGetJob:
		if rep.Status == 1 {
			id, _ := protocol.SplitLine(rep.Data)
			return observability.AttrJobID.String(string(id)), true
		}
	case protocol.CmdAckJob:
		fields := protocol.Fields(req.Arg)
		if len(fields) == 0 {
			return attribute.KeyValue{}, false
		}
		ids := make([]string, len(fields))
		for i, f := range fields {
			ids[i] = string(f)
		}
		return observability.AttrJobID.String(strings.Join(ids, ",")), true
	}
	return attribute.KeyValue{}, false
}

func (m *Manager) handle(req protocol.Request) protocol.Reply {
	switch req.Cmd {
	case protocol.CmdHello:
		return protocol.Reply{Conn: req.Conn, Status: 0, Data: []byte("Hello")}
	case protocol.CmdAddJob:
		return m.handleAddJob(req)
	case protocol.CmdGetJob:
		return m.handleGetJob(req)
	case protocol.CmdAckJob:
		return m.handleAckJob(req)
	case protocol.CmdStatQue:
		return m.handleStatQue(req)
	case protocol.CmdDelQue:
		return m.handleDelQue(req)
	case protocol.CmdQuit:
		// Never actually reached: the reactor tears the connection down
		// on QUIT before a Request is ever built. Kept for completeness
		// of the handler switch.
		return protocol.EmptyReply(req.Conn)
	default:
		return protocol.ErrorReply(req.Conn)
	}
}

func (m *Manager) handleAddJob(req protocol.Request) protocol.Reply {
	// ADDJOB <queue> <retry-seconds> <payload>
	fields := protocol.SplitN(req.Arg, 3)
	if len(fields) < 3 || len(fields[0]) == 0 {
		return protocol.ErrorReply(req.Conn)
	}
	name := string(fields[0])
	secs, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return protocol.ErrorReply(req.Conn)
	}
	payload := fields[2]

	q, ok := m.queues[name]
	if !ok {
		q = newQueue()
		m.queues[name] = q
	}
	job := newJob(append([]byte(nil), payload...), time.Duration(secs)*time.Second)
	q.add(job)
	m.reverse[job.id] = name
	m.sampleDepth(name, q)

	return protocol.Reply{Conn: req.Conn, Status: 1, Data: []byte(job.id)}
}

func (m *Manager) handleGetJob(req protocol.Request) protocol.Reply {
	// GETJOB <queue> [<queue> ...]
	for _, name := range protocol.Fields(req.Arg) {
		q, ok := m.queues[string(name)]
		if !ok {
			continue
		}
		if job := q.get(); job != nil {
			m.sampleDepth(string(name), q)
			data := make([]byte, 0, len(job.id)+1+len(job.payload))
			data = append(data, job.id...)
			data = append(data, ' ')
			data = append(data, job.payload...)
			return protocol.Reply{Conn: req.Conn, Status: 1, Data: data}
		}
	}
	return protocol.EmptyReply(req.Conn)
}

func (m *Manager) handleAckJob(req protocol.Request) protocol.Reply {
	// ACKJOB <job-id> [<job-id> ...]
	count := 0
	for _, tok := range protocol.Fields(req.Arg) {
		id := JobID(tok)
		name, ok := m.reverse[id]
		if !ok {
			continue
		}
		q, ok := m.queues[name]
		if !ok {
			delete(m.reverse, id)
			continue
		}
		if q.ack(id) {
			delete(m.reverse, id)
			count++
			m.sampleDepth(name, q)
		}
	}
	return protocol.Reply{Conn: req.Conn, Status: count}
}

func (m *Manager) handleStatQue(req protocol.Request) protocol.Reply {
	// STATQUE <queue>
	fields := protocol.Fields(req.Arg)
	if len(fields) < 1 {
		return protocol.Reply{Conn: req.Conn, Status: 0, Data: []byte("0 0")}
	}
	q, ok := m.queues[string(fields[0])]
	if !ok {
		return protocol.Reply{Conn: req.Conn, Status: 0, Data: []byte("0 0")}
	}
	depth, leased := q.len(), q.leasedCount()
	data := strconv.Itoa(depth) + " " + strconv.Itoa(leased)
	return protocol.Reply{Conn: req.Conn, Status: 1, Data: []byte(data)}
}

// handleDelQue destroys the named queue and every secondary-index entry
// that pointed into it. A nonexistent queue name replies status 0 with
// empty data rather than an error.
func (m *Manager) handleDelQue(req protocol.Request) protocol.Reply {
	fields := protocol.Fields(req.Arg)
	if len(fields) < 1 {
		return protocol.EmptyReply(req.Conn)
	}
	name := string(fields[0])
	q, ok := m.queues[name]
	if !ok {
		return protocol.EmptyReply(req.Conn)
	}
	for _, j := range q.jobs {
		delete(m.reverse, j.id)
	}
	delete(m.queues, name)
	if m.rec != nil {
		m.rec.QueueDepth(name, 0, 0)
	}
	return protocol.Reply{Conn: req.Conn, Status: 1}
}

func (m *Manager) sampleDepth(name string, q *Queue) {
	if m.rec != nil {
		m.rec.QueueDepth(name, q.len(), q.leasedCount())
	}
}

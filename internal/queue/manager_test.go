package queue

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oriys/quest/internal/protocol"
)

// runSync drives a Manager without the Run loop/channels, for handler-
// level unit tests.
func runSync(m *Manager, cmd protocol.Command, arg string) protocol.Reply {
	return m.handle(protocol.Request{Conn: 2, Cmd: cmd, Arg: []byte(arg)})
}

func TestHello(t *testing.T) {
	m := New(nil)
	rep := runSync(m, protocol.CmdHello, "")
	if rep.Status != 0 || string(rep.Data) != "Hello" {
		t.Fatalf("got %+v", rep)
	}
}

func TestAddJobThenGetJobThenAckThenStat(t *testing.T) {
	m := New(nil)

	add := runSync(m, protocol.CmdAddJob, "q 300 a")
	if add.Status != 1 || len(add.Data) != 32 {
		t.Fatalf("ADDJOB reply = %+v", add)
	}

	stat := runSync(m, protocol.CmdStatQue, "q")
	if stat.Status != 1 || string(stat.Data) != "1 0" {
		t.Fatalf("STATQUE after add = %+v, want 1 \"1 0\"", stat)
	}

	get := runSync(m, protocol.CmdGetJob, "q")
	if get.Status != 1 {
		t.Fatalf("GETJOB reply = %+v", get)
	}
	parts := strings.SplitN(string(get.Data), " ", 2)
	if len(parts) != 2 || parts[0] != string(add.Data) || parts[1] != "a" {
		t.Fatalf("GETJOB data = %q, want id %q + payload a", get.Data, add.Data)
	}

	stat = runSync(m, protocol.CmdStatQue, "q")
	if stat.Status != 1 || string(stat.Data) != "1 1" {
		t.Fatalf("STATQUE after get = %+v, want 1 \"1 1\"", stat)
	}

	ack := runSync(m, protocol.CmdAckJob, parts[0])
	if ack.Status != 1 {
		t.Fatalf("ACKJOB reply = %+v", ack)
	}

	stat = runSync(m, protocol.CmdStatQue, "q")
	if stat.Status != 1 || string(stat.Data) != "0 0" {
		t.Fatalf("STATQUE after ack = %+v, want 1 \"0 0\"", stat)
	}
}

func TestAckJobAcksEachTokenIndependently(t *testing.T) {
	// ACKJOB with multiple ids must ack each iterated token, not the
	// whole argument buffer on every iteration.
	m := New(nil)
	id1 := runSync(m, protocol.CmdAddJob, "q 300 a").Data
	id2 := runSync(m, protocol.CmdAddJob, "q 300 b").Data

	ack := runSync(m, protocol.CmdAckJob, string(id1)+" "+string(id2))
	if ack.Status != 2 {
		t.Fatalf("ACKJOB two valid ids: status = %d, want 2", ack.Status)
	}
	stat := runSync(m, protocol.CmdStatQue, "q")
	if string(stat.Data) != "0 0" {
		t.Fatalf("expected empty queue after acking both ids, got %q", stat.Data)
	}
}

func TestAckJobPartialMatch(t *testing.T) {
	m := New(nil)
	id1 := runSync(m, protocol.CmdAddJob, "q 300 a").Data

	ack := runSync(m, protocol.CmdAckJob, string(id1)+" bogusbogusbogusbogusbogusbogus0")
	if ack.Status != 1 {
		t.Fatalf("ACKJOB one valid + one bogus id: status = %d, want 1", ack.Status)
	}
}

func TestGetJobTriesQueuesInOrder(t *testing.T) {
	m := New(nil)
	runSync(m, protocol.CmdAddJob, "q2 300 second")

	get := runSync(m, protocol.CmdGetJob, "q1 q2 q3")
	if get.Status != 1 {
		t.Fatalf("GETJOB across multiple queues = %+v", get)
	}
	if !bytes.HasSuffix(get.Data, []byte(" second")) {
		t.Fatalf("expected job from q2, got %q", get.Data)
	}
}

func TestGetJobEmptyWhenNothingEligible(t *testing.T) {
	m := New(nil)
	get := runSync(m, protocol.CmdGetJob, "missing")
	if get.Status != 0 || len(get.Data) != 0 {
		t.Fatalf("GETJOB on empty queues = %+v, want status 0 empty data", get)
	}
}

func TestAddJobMalformedFields(t *testing.T) {
	m := New(nil)
	cases := []string{"", "q", "q notanumber payload"}
	for _, arg := range cases {
		rep := runSync(m, protocol.CmdAddJob, arg)
		if rep.Status != -1 || string(rep.Data) != "Error" {
			t.Errorf("ADDJOB %q = %+v, want canonical error reply", arg, rep)
		}
	}
}

func TestDelQueNonexistentReturnsZero(t *testing.T) {
	m := New(nil)
	rep := runSync(m, protocol.CmdDelQue, "never-created")
	if rep.Status != 0 || len(rep.Data) != 0 {
		t.Fatalf("DELQUE on nonexistent queue = %+v, want status 0 empty data", rep)
	}
}

func TestDelQueRemovesSecondaryIndex(t *testing.T) {
	m := New(nil)
	id := runSync(m, protocol.CmdAddJob, "q 300 a").Data
	del := runSync(m, protocol.CmdDelQue, "q")
	if del.Status != 1 {
		t.Fatalf("DELQUE on existing queue = %+v, want status 1", del)
	}
	if _, ok := m.reverse[JobID(id)]; ok {
		t.Fatal("expected job id removed from secondary index after DELQUE")
	}
	// Deleting again reports the queue no longer exists.
	del = runSync(m, protocol.CmdDelQue, "q")
	if del.Status != 0 {
		t.Fatalf("second DELQUE = %+v, want status 0 (idempotent miss)", del)
	}
}

func TestUnknownCommandIsError(t *testing.T) {
	m := New(nil)
	rep := m.handle(protocol.Request{Conn: 2, Cmd: protocol.CmdUnknown, Arg: []byte("bar")})
	if rep.Status != -1 || string(rep.Data) != "Error" {
		t.Fatalf("unknown command reply = %+v", rep)
	}
}

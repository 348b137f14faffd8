//go:build linux

package reactor

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/oriys/quest/internal/protocol"
	"github.com/oriys/quest/internal/queue"
	"github.com/oriys/quest/internal/shutdown"
)

// testServer wires a Reactor to a queue.Manager the way cmd/questd does,
// bound to an OS-assigned loopback port, and tears both down on cleanup.
// Takes testing.TB so both *testing.T and *testing.B can share it.
func testServer(t testing.TB) (addr string, flag *shutdown.Flag) {
	t.Helper()

	port := freePort(t)
	reqCh := make(chan protocol.Request, 64)
	repCh := make(chan protocol.Reply, 64)

	flag = &shutdown.Flag{}
	r, err := New("127.0.0.1", port, reqCh, repCh, flag, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mgr := queue.New(nil)
	go mgr.Run(reqCh, repCh, r.Waker())
	go r.Serve()

	t.Cleanup(func() {
		flag.Trigger()
		r.Waker().Wake()
		time.Sleep(20 * time.Millisecond)
		r.Close()
	})

	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), flag
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func roundTrip(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimSuffix(reply, "\n")
}

func TestHelloRoundTrip(t *testing.T) {
	addr, _ := testServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	got := roundTrip(t, conn, "HELLO bar")
	if got != "0 Hello" {
		t.Fatalf("HELLO reply = %q, want %q", got, "0 Hello")
	}
}

func TestAddGetAckDelRoundTrip(t *testing.T) {
	addr, _ := testServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	write := func(line string) {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatal(err)
		}
	}
	read := func() string {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		return strings.TrimSuffix(line, "\n")
	}

	write("DELQUE test-que")
	if got := read(); got != "0 " {
		t.Fatalf("DELQUE on unseen queue = %q, want %q", got, "0 ")
	}

	write("ADDJOB test-que 300 payload")
	add := read()
	if !strings.HasPrefix(add, "1 ") || len(add) != 2+32 {
		t.Fatalf("ADDJOB reply = %q", add)
	}
	jobID := add[2:]

	write("GETJOB test-que")
	get := read()
	if get != "1 "+jobID+" payload" {
		t.Fatalf("GETJOB reply = %q, want id %q + payload", get, jobID)
	}

	write("ACKJOB " + jobID)
	if got := read(); got != "1 " {
		t.Fatalf("ACKJOB reply = %q, want %q", got, "1 ")
	}

	write("DELQUE test-que")
	if got := read(); got != "1 " {
		t.Fatalf("DELQUE on now-empty queue = %q, want %q", got, "1 ")
	}
}

func TestQuitClosesConnection(t *testing.T) {
	addr, _ := testServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("QUIT\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected immediate EOF after QUIT, got n=%d err=%v", n, err)
	}
}

func TestUnknownCommandGetsErrorReply(t *testing.T) {
	addr, _ := testServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	got := roundTrip(t, conn, "BOGUS foo")
	if got != "-1 Error" {
		t.Fatalf("unknown command reply = %q, want %q", got, "-1 Error")
	}
}

func TestOversizedLineGetsErrorReply(t *testing.T) {
	addr, _ := testServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	huge := strings.Repeat("a", protocol.MaxLineSize+1)
	got := roundTrip(t, conn, "ADDJOB q 300 "+huge)
	if got != "-1 Error" {
		t.Fatalf("oversized line reply = %q, want %q", got, "-1 Error")
	}
}

func TestMultipleQueuesOnGetJob(t *testing.T) {
	addr, _ := testServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	roundTrip(t, conn, "ADDJOB q2 300 second")
	got := roundTrip(t, conn, "GETJOB q1 q2 q3")
	if !strings.HasSuffix(got, " second") {
		t.Fatalf("GETJOB across queues = %q, want suffix %q", got, " second")
	}
}

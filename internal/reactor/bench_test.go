//go:build linux

package reactor

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
)

// These benchmarks follow the reference implementation's
// benches/server.rs (round trips against a live server), translated to
// Go's native testing.B rather than the criterion harness. They cover
// HELLO, ADDJOB and GETJOB over a single connection; ACKJOB is not
// benchmarked.

func BenchmarkHello(b *testing.B) {
	addr, _ := testServer(b)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write([]byte("HELLO bar\n")); err != nil {
			b.Fatal(err)
		}
		if _, err := r.ReadString('\n'); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAddJob(b *testing.B) {
	addr, _ := testServer(b)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	payload := strings.Repeat("b", 64)
	line := fmt.Sprintf("ADDJOB aa 300 %s\n", payload)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write([]byte(line)); err != nil {
			b.Fatal(err)
		}
		if _, err := r.ReadString('\n'); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetJob(b *testing.B) {
	addr, _ := testServer(b)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	payload := strings.Repeat("b", 64)
	addLine := fmt.Sprintf("ADDJOB aa 300 %s\n", payload)

	for i := 0; i < b.N; i++ {
		if _, err := conn.Write([]byte(addLine)); err != nil {
			b.Fatal(err)
		}
		if _, err := r.ReadString('\n'); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write([]byte("GETJOB aa\n")); err != nil {
			b.Fatal(err)
		}
		if _, err := r.ReadString('\n'); err != nil {
			b.Fatal(err)
		}
	}
}

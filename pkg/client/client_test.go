package client

import (
	"bufio"
	"net"
	"strings"
	"testing"
)

// fakeServer accepts one connection and answers every received line with
// the next canned reply.
func fakeServer(t *testing.T, replies []string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for _, reply := range replies {
			if !scanner.Scan() {
				return
			}
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestPingAndErrors(t *testing.T) {
	addr := fakeServer(t, []string{
		"+PONG\r\n",
		"-NOTFOUND index 'x' not found\r\n",
	})

	c, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if _, err := c.Do("HNSW.GET x"); err == nil || !strings.Contains(err.Error(), "NOTFOUND") {
		t.Fatalf("error reply not surfaced: %v", err)
	}
}

func TestDecodeScalarReplies(t *testing.T) {
	addr := fakeServer(t, []string{
		":42\r\n",
		"$5\r\nhello\r\n",
	})

	c, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	r, err := c.Do("X")
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != ':' || r.Int != 42 {
		t.Errorf("integer reply = %+v", r)
	}

	r, err = c.Do("Y")
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != '$' || r.Str != "hello" {
		t.Errorf("bulk reply = %+v", r)
	}
}

func TestSearchDecoding(t *testing.T) {
	reply := "*5\r\n:2\r\n$1\r\n0\r\n$1\r\na\r\n$2\r\n16\r\n$1\r\nb\r\n"
	addr := fakeServer(t, []string{reply})

	c, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	hits, err := c.Search("foo", 2, []float32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Name != "a" || hits[0].Distance != 0 {
		t.Errorf("hit 0 = %+v", hits[0])
	}
	if hits[1].Name != "b" || hits[1].Distance != 16 {
		t.Errorf("hit 1 = %+v", hits[1])
	}
}

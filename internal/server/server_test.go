package server

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sanonone/hnswdb/pkg/client"
	"github.com/sanonone/hnswdb/pkg/engine"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// TestServerEndToEnd drives a live listener through the whole command
// surface with the Go client.
func TestServerEndToEnd(t *testing.T) {
	opts := engine.DefaultOptions(t.TempDir())
	opts.AutoSaveInterval = 0
	opts.AutoSaveThreshold = 0
	eng, err := engine.Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	srv := NewServer(eng)
	tcpAddr := freePort(t)
	httpAddr := freePort(t)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(tcpAddr, httpAddr) }()
	t.Cleanup(srv.Shutdown)

	// Wait for the listener to come up.
	var c *client.Client
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err = client.Dial(tcpAddr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.IndexNew("e2e", 4, 5, 200); err != nil {
		t.Fatalf("IndexNew: %v", err)
	}
	for i := 1; i <= 20; i++ {
		vec := []float32{float32(i), float32(i), float32(i), float32(i)}
		if err := c.NodeAdd("e2e", nodeName(i), vec); err != nil {
			t.Fatalf("NodeAdd %d: %v", i, err)
		}
	}

	hits, err := c.Search("e2e", 3, []float32{10, 10, 10, 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	if hits[0].Name != "n10" || hits[0].Distance != 0 {
		t.Errorf("nearest hit = %+v, want n10 at distance 0", hits[0])
	}

	if err := c.NodeDel("e2e", "n10"); err != nil {
		t.Fatalf("NodeDel: %v", err)
	}
	hits, err = c.Search("e2e", 1, []float32{10, 10, 10, 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Name == "n10" {
		t.Errorf("deleted node still returned: %+v", hits)
	}

	// Errors travel as tagged replies.
	if err := c.NodeAdd("e2e", "bad", []float32{1}); err == nil {
		t.Error("dimension mismatch not surfaced")
	}
}

func nodeName(i int) string {
	return fmt.Sprintf("n%02d", i)
}

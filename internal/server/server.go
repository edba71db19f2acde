// Package server implements the network surface of hnswd: a TCP listener
// speaking the inline command protocol, and an HTTP sidecar exposing
// Prometheus metrics and a health probe.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/hnswdb/pkg/engine"
)

// Server owns the listeners and dispatches commands against the Engine.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger

	commands map[string]commandHandler

	tcpListener net.Listener
	httpServer  *http.Server

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer wires a Server over an opened Engine.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		logger: slog.Default(),
	}
	s.commands = s.commandTable()
	return s
}

// Run starts the TCP command listener and the HTTP sidecar and blocks
// serving connections until Shutdown.
func (s *Server) Run(tcpAddr, httpAddr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}

	go func() {
		s.logger.Info("http listener started", "addr", httpAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http listener failed", "error", err)
		}
	}()

	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("tcp listen failed: %w", err)
	}
	s.tcpListener = ln
	s.logger.Info("tcp listener started", "addr", tcpAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting connections, waits for in-flight commands, and
// closes the HTTP listener. The Engine is closed by the caller.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.tcpListener != nil {
		_ = s.tcpListener.Close()
	}
	s.wg.Wait()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
		}
	}
	s.logger.Info("server stopped")
}

// handleConn serves one client: one command per line, one reply per
// command, until the peer hangs up.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.NewString()
	logger := s.logger.With("conn", connID, "remote", conn.RemoteAddr().String())
	logger.Debug("connection opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply := s.Dispatch(line)
		if _, err := writer.WriteString(reply); err != nil {
			logger.Warn("write failed", "error", err)
			return
		}
		if err := writer.Flush(); err != nil {
			logger.Warn("flush failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("connection error", "error", err)
	}
	logger.Debug("connection closed")
}

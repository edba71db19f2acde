// Command hnswd runs the HNSW vector index server: the TCP command
// listener, the HTTP metrics sidecar, and (optionally) an MCP endpoint on
// stdio.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sanonone/hnswdb/internal/mcp"
	"github.com/sanonone/hnswdb/internal/server"
	"github.com/sanonone/hnswdb/pkg/config"
	"github.com/sanonone/hnswdb/pkg/engine"
)

func main() {
	tcpAddr := flag.String("tcp-addr", "", "address of the TCP command listener (overrides config)")
	httpAddr := flag.String("http-addr", "", "address of the HTTP metrics listener (overrides config)")
	dataDir := flag.String("data-dir", "", "directory for AOF and snapshot files (overrides config)")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	mcpStdio := flag.Bool("mcp", false, "serve the Model Context Protocol on stdio instead of TCP")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *tcpAddr != "" {
		cfg.TCPAddr = *tcpAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	opts := engine.DefaultOptions(cfg.DataDir)
	opts.AutoSaveThreshold = cfg.AutoSaveThreshold
	if opts.AutoSaveInterval, err = cfg.SaveInterval(opts.AutoSaveInterval); err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	eng, err := engine.Open(opts)
	if err != nil {
		slog.Error("failed to open engine", "error", err)
		os.Exit(1)
	}

	if *mcpStdio {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := mcp.RunStdio(ctx, eng); err != nil {
			slog.Error("mcp server failed", "error", err)
		}
		if err := eng.Close(); err != nil {
			slog.Error("engine close failed", "error", err)
		}
		return
	}

	srv := server.NewServer(eng)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(cfg.TCPAddr, cfg.HTTPAddr); err != nil {
			slog.Error("server failed", "error", err)
			shutdown <- syscall.SIGTERM
		}
	}()

	<-shutdown
	slog.Info("shutting down")
	srv.Shutdown()
	if err := eng.Close(); err != nil {
		slog.Error("engine close failed", "error", err)
	}
}

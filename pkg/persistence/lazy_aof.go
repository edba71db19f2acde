package persistence

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for the lazy writer. They balance write batching against the
// durability window for typical workloads.
const (
	// DefaultLazyFlushInterval bounds how long a buffered command waits
	// before reaching the OS.
	DefaultLazyFlushInterval = 100 * time.Millisecond

	// DefaultForceSyncInterval bounds the crash-loss window: an fsync is
	// forced at least this often.
	DefaultForceSyncInterval = 1 * time.Second

	// DefaultMaxBufferSize starts a background flush as soon as the buffer
	// holds that many commands.
	DefaultMaxBufferSize = 1000
)

// LazyAOFWriter batches AOF appends and flushes them in the background.
// Writes return as soon as the command is buffered; a flush goroutine moves
// batches to the OS and a sync goroutine bounds the fsync interval. On
// Close all pending data is flushed and synced. The crash-loss window is at
// most the force-sync interval.
type LazyAOFWriter struct {
	underlying *AOFWriter

	mu      sync.Mutex
	buffer  []string
	stopped bool

	flushTicker *time.Ticker
	syncTicker  *time.Ticker
	stopCh      chan struct{}

	flushInterval     time.Duration
	forceSyncInterval time.Duration
	maxBufferSize     int
}

// NewLazyAOFWriter wraps an AOFWriter with the default batching policy.
// The underlying writer must not be used directly afterwards.
func NewLazyAOFWriter(underlying *AOFWriter) *LazyAOFWriter {
	return NewLazyAOFWriterWithConfig(
		underlying,
		DefaultLazyFlushInterval,
		DefaultForceSyncInterval,
		DefaultMaxBufferSize,
	)
}

// NewLazyAOFWriterWithConfig wraps an AOFWriter with an explicit batching
// policy for tuning the durability/performance trade-off.
func NewLazyAOFWriterWithConfig(underlying *AOFWriter, flushInterval, forceSyncInterval time.Duration, maxBufferSize int) *LazyAOFWriter {
	lw := &LazyAOFWriter{
		underlying:        underlying,
		buffer:            make([]string, 0, maxBufferSize),
		flushInterval:     flushInterval,
		forceSyncInterval: forceSyncInterval,
		maxBufferSize:     maxBufferSize,
		stopCh:            make(chan struct{}),
	}

	lw.flushTicker = time.NewTicker(flushInterval)
	go lw.flushLoop()

	lw.syncTicker = time.NewTicker(forceSyncInterval)
	go lw.syncLoop()

	return lw
}

// Write buffers one command for a later flush. If the buffer is full a
// flush is kicked off in the background.
func (lw *LazyAOFWriter) Write(command string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		return fmt.Errorf("write on closed LazyAOFWriter")
	}

	lw.buffer = append(lw.buffer, command)
	if len(lw.buffer) >= lw.maxBufferSize {
		go lw.Flush()
	}
	return nil
}

// Flush drains the buffer into the underlying writer and pushes it to the
// OS. It does not fsync; use Sync for that.
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.flushLocked()
}

func (lw *LazyAOFWriter) flushLocked() error {
	if len(lw.buffer) == 0 {
		return nil
	}
	for _, command := range lw.buffer {
		if err := lw.underlying.Write(command); err != nil {
			return fmt.Errorf("failed to write to AOF: %w", err)
		}
	}
	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush AOF buffer: %w", err)
	}
	lw.buffer = lw.buffer[:0]
	return nil
}

// Sync flushes any pending commands and fsyncs the file.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Close stops the background routines, flushes and syncs what remains, and
// closes the file. No writes are accepted afterwards.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return fmt.Errorf("LazyAOFWriter already closed")
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()

	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		slog.Error("failed to flush AOF during close", "error", err)
	}
	if err := lw.underlying.Sync(); err != nil {
		_ = lw.underlying.Close()
		return err
	}
	return lw.underlying.Close()
}

// Path returns the underlying AOF file path.
func (lw *LazyAOFWriter) Path() string {
	return lw.underlying.Path()
}

// Truncate flushes pending commands and clears the file.
func (lw *LazyAOFWriter) Truncate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		return err
	}
	return lw.underlying.Truncate()
}

// ReplaceWith flushes and atomically swaps in a rewritten file.
func (lw *LazyAOFWriter) ReplaceWith(newFilePath string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		return err
	}
	return lw.underlying.ReplaceWith(newFilePath)
}

func (lw *LazyAOFWriter) flushLoop() {
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("periodic AOF flush failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

func (lw *LazyAOFWriter) syncLoop() {
	for {
		select {
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("periodic AOF sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

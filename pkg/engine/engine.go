// Package engine provides the embedded interface to HNSWDB: it pairs the
// in-memory core with the on-disk persistence layer (AOF + snapshot) and
// exposes the typed operations the servers call.
//
// Basic usage:
//
//	eng, err := engine.Open(engine.DefaultOptions("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/hnswdb/pkg/core"
	"github.com/sanonone/hnswdb/pkg/persistence"
)

// Options configures persistence paths and the autosave policy.
type Options struct {
	// DataDir is where the .aof and .snap files live. Created if missing.
	DataDir string

	// AofFilename names the append-only file (default "hnswdb.aof"); the
	// snapshot file takes the same stem with a .snap extension.
	AofFilename string

	// AutoSaveInterval is the minimum time between automatic snapshots.
	// Zero disables time-based autosaving.
	AutoSaveInterval time.Duration

	// AutoSaveThreshold is the minimum number of writes since the last
	// save before an automatic snapshot fires. Zero disables count-based
	// autosaving.
	AutoSaveThreshold int64
}

// DefaultOptions returns the standard configuration: autosave every 60s
// when at least 1000 writes accumulated.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:           dataDir,
		AofFilename:       "hnswdb.aof",
		AutoSaveInterval:  60 * time.Second,
		AutoSaveThreshold: 1000,
	}
}

// Engine coordinates the in-memory DB and the on-disk log.
type Engine struct {
	// DB is the underlying in-memory core. Use the Engine methods for
	// mutations so they reach the AOF.
	DB *core.DB

	// AOF buffers mutation records; single operations flush immediately,
	// the lazy writer bounds the fsync window.
	AOF *persistence.LazyAOFWriter

	opts     Options
	aofPath  string
	snapPath string

	dirtyCounter int64
	lastSaveTime time.Time

	// adminMu serializes administrative tasks (snapshot, AOF rewrite).
	// Data access relies on the DB's own guards.
	adminMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open initializes an Engine: creates the data directory, loads the latest
// snapshot, replays the AOF tail, and starts the autosave loop. It blocks
// until the database is ready.
func Open(opts Options) (*Engine, error) {
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if opts.AofFilename == "" {
		opts.AofFilename = "hnswdb.aof"
	}

	aofPath := filepath.Join(opts.DataDir, opts.AofFilename)
	snapPath := strings.TrimSuffix(aofPath, filepath.Ext(aofPath)) + ".snap"

	e := &Engine{
		DB:           core.NewDB(),
		opts:         opts,
		aofPath:      aofPath,
		snapPath:     snapPath,
		lastSaveTime: time.Now(),
		closed:       make(chan struct{}),
	}

	if f, err := os.Open(snapPath); err == nil {
		loadErr := e.DB.LoadFromSnapshot(f)
		f.Close()
		if loadErr != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", loadErr)
		}
		slog.Info("snapshot loaded", "path", snapPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	// A command that no longer applies (e.g. replayed on top of a snapshot
	// taken right before a crash cut the truncate short) is skipped, not
	// fatal: the log is authoritative only for what the snapshot misses.
	replayed := 0
	err := persistence.ReplayFile(aofPath, func(command string) error {
		if applyErr := e.applyCommand(command); applyErr != nil {
			slog.Warn("skipping unreplayable AOF command", "command", command, "error", applyErr)
			return nil
		}
		replayed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("AOF replay failed: %w", err)
	}
	if replayed > 0 {
		slog.Info("AOF replayed", "commands", replayed)
	}

	writer, err := persistence.NewAOFWriter(aofPath)
	if err != nil {
		return nil, err
	}
	e.AOF = persistence.NewLazyAOFWriter(writer)

	if opts.AutoSaveInterval > 0 || opts.AutoSaveThreshold > 0 {
		e.wg.Add(1)
		go e.autoSaveLoop()
	}

	return e, nil
}

// Close stops the background tasks, takes a final snapshot, and closes the
// AOF.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		if saveErr := e.Save(); saveErr != nil {
			slog.Error("final snapshot failed", "error", saveErr)
			err = saveErr
		}
		if aofErr := e.AOF.Close(); aofErr != nil && err == nil {
			err = aofErr
		}
	})
	return err
}

// Save writes a snapshot of the whole database and truncates the AOF,
// which the snapshot now subsumes.
func (e *Engine) Save() error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	return e.saveLocked()
}

func (e *Engine) saveLocked() error {
	tmp := e.snapPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := e.DB.Snapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, e.snapPath); err != nil {
		return err
	}

	if e.AOF != nil {
		if err := e.AOF.Truncate(); err != nil {
			return fmt.Errorf("snapshot written but AOF truncate failed: %w", err)
		}
	}

	atomic.StoreInt64(&e.dirtyCounter, 0)
	e.lastSaveTime = time.Now()
	slog.Info("snapshot saved", "path", e.snapPath)
	return nil
}

func (e *Engine) autoSaveLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dirty := atomic.LoadInt64(&e.dirtyCounter)
			if dirty == 0 {
				continue
			}
			if e.opts.AutoSaveThreshold > 0 && dirty < e.opts.AutoSaveThreshold {
				continue
			}
			if e.opts.AutoSaveInterval > 0 && time.Since(e.lastSaveTime) < e.opts.AutoSaveInterval {
				continue
			}
			if err := e.Save(); err != nil {
				slog.Error("autosave failed", "error", err)
			}
		case <-e.closed:
			return
		}
	}
}

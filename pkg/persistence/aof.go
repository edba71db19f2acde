package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// FormatCommand joins a command name and its arguments into the inline text
// form stored in AOF frames and replayed at startup. Arguments are
// whitespace-separated tokens, the same dialect the TCP surface speaks.
func FormatCommand(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// AOFWriter appends command frames to the append-only file.
type AOFWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
}

// NewAOFWriter opens (or creates) the AOF at path for appending.
func NewAOFWriter(path string) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}
	return &AOFWriter{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
	}, nil
}

// Write appends one command as a frame. The data stays in the in-process
// buffer until Flush.
func (a *AOFWriter) Write(command string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return WriteFrame(a.buf, []byte(command))
}

// Flush pushes the buffer down to the OS file descriptor.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync flushes and then fsyncs to disk.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close flushes pending data and closes the file.
func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.buf.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Truncate discards the file content. Used after a snapshot makes the log
// redundant.
func (a *AOFWriter) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Reset(a.file)
	if err := a.file.Truncate(0); err != nil {
		return err
	}
	_, err := a.file.Seek(0, 0)
	return err
}

// Path returns the AOF file path.
func (a *AOFWriter) Path() string {
	return a.path
}

// ReplaceWith atomically swaps in a rewritten AOF and reopens it.
func (a *AOFWriter) ReplaceWith(newFilePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_ = a.buf.Flush()
	_ = a.file.Close()

	if err := os.Rename(newFilePath, a.path); err != nil {
		return fmt.Errorf("failed to replace AOF file: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return fmt.Errorf("failed to reopen AOF file after replace: %w", err)
	}
	a.file = file
	a.buf.Reset(file)
	return nil
}

// ReplayFile reads an AOF from disk and passes every stored command to
// apply, in order. A torn final frame (crash during append) ends the replay
// without error; corruption earlier in the file is reported.
func ReplayFile(path string, apply func(command string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		payload, _, err := ReadFrame(r)
		if err == io.EOF {
			return nil
		}
		if err == ErrIncompleteFrame {
			// Torn tail: everything before it replayed fine.
			return nil
		}
		if err != nil {
			return err
		}
		if applyErr := apply(string(payload)); applyErr != nil {
			return fmt.Errorf("replaying '%s': %w", payload, applyErr)
		}
	}
}

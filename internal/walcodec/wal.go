// Package walcodec implements a write-ahead log grounded on the same
// design as a durable time-series store's WAL: every payload is appended,
// JSON-framed, to a line-delimited file with a 1-second auto-flush timer,
// before the caller applies it to its real storage engine. On restart, any
// un-applied tail is replayed.
package walcodec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WAL is a single append-only log file plus its auto-flush timer.
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// entry is one WAL record: an opaque, already-serialized payload tagged
// with the trial index it belongs to, so Replay can hand it back in
// order without needing to parse the payload itself.
type entry struct {
	TrialIndex int    `json:"trial_index"`
	Payload    []byte `json:"payload"`
}

// Open creates or appends to the WAL file at dir/wal.log.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walcodec: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walcodec: open %s: %w", path, err)
	}

	w := &WAL{path: path, file: f, writer: bufio.NewWriter(f)}
	w.flushTimer = time.AfterFunc(1*time.Second, w.autoFlush)
	return w, nil
}

// Append writes one WAL entry. The entry is buffered; durability is only
// guaranteed after the next Flush (explicit, or via the auto-flush timer).
func (w *WAL) Append(trialIndex int, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry{TrialIndex: trialIndex, Payload: payload})
	if err != nil {
		return fmt.Errorf("walcodec: marshal entry %d: %w", trialIndex, err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("walcodec: write entry %d: %w", trialIndex, err)
	}
	return w.writer.WriteByte('\n')
}

// Flush flushes buffered entries and syncs the underlying file.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("walcodec: flush: %w", err)
	}
	return w.file.Sync()
}

func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.flushLocked()
	w.flushTimer.Reset(1 * time.Second)
}

// Truncate empties the WAL file once its entries have all been durably
// applied to the real storage engine, so the next restart has nothing to
// replay.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("walcodec: truncate: %w", err)
	}
	_, err := w.file.Seek(0, 0)
	return err
}

// Close stops the auto-flush timer and closes the file after a final
// flush.
func (w *WAL) Close() error {
	w.mu.Lock()
	w.closed = true
	w.flushTimer.Stop()
	err := w.flushLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	return w.file.Close()
}

// Replay reads every complete entry from dir's WAL file, in order, and
// invokes handler for each. A final line with no trailing newline was
// never finished writing and is dropped rather than replayed, the same
// crash-consistency rule the line-delimited trial sink uses.
func Replay(dir string, handler func(trialIndex int, payload []byte) error) error {
	path := filepath.Join(dir, "wal.log")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("walcodec: open %s: %w", path, err)
	}

	complete := data
	if len(data) > 0 && data[len(data)-1] != '\n' {
		if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
			complete = data[:idx+1]
		} else {
			complete = nil
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(complete))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("walcodec: unmarshal entry: %w", err)
		}
		if err := handler(e.TrialIndex, e.Payload); err != nil {
			return fmt.Errorf("walcodec: replay entry %d: %w", e.TrialIndex, err)
		}
	}
	return scanner.Err()
}

// Package store implements the durable append-only logs backing the kernel:
// events, conversations, and audit. Each log is a JSON-lines file plus an
// in-memory cache and a hot subscription stream. Writes are write-ahead: the
// serialized line reaches the file before the cache or any subscriber sees
// the record, and id/seq counters only advance on successful writes.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// lineWriter appends LF-terminated lines to a single file.
type lineWriter struct {
	f *os.File
}

func openLineWriter(path string) (*lineWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &lineWriter{f: f}, nil
}

// writeLines writes all lines in a single syscall so a batch append is not
// interleaved with concurrent writers of the same file.
func (w *lineWriter) writeLines(lines [][]byte) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("appending to log: %w", err)
	}
	return nil
}

func (w *lineWriter) close() error {
	return w.f.Close()
}

// loadLines reads a JSON-lines file and decodes each line into T. Corrupted
// lines (truncated tail after a crash, manual edits) are logged and skipped —
// startup never aborts on a bad line. A missing file yields an empty slice.
func loadLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Skipping corrupted log line", "path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log file: %w", err)
	}
	return out, nil
}

package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// LogEntry is one decoded JSON log line.
type LogEntry map[string]interface{}

// TestLogBuffer captures JSON log output for assertions. Safe for
// concurrent writers such as sweeps and the async notifier.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTestLogger returns a debug-level JSON logger and the buffer it writes to.
func NewTestLogger() (*slog.Logger, *TestLogBuffer) {
	b := &TestLogBuffer{}
	return New(b, "json", slog.LevelDebug), b
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Entries decodes the captured output, one entry per line.
func (b *TestLogBuffer) Entries() ([]LogEntry, error) {
	var entries []LogEntry
	sc := bufio.NewScanner(bytes.NewReader([]byte(b.String())))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// WithMessage returns the entries whose msg equals msg.
func (b *TestLogBuffer) WithMessage(msg string) ([]LogEntry, error) {
	all, err := b.Entries()
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, e := range all {
		if e["msg"] == msg {
			out = append(out, e)
		}
	}
	return out, nil
}

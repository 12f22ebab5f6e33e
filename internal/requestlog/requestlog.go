// Package requestlog writes one JSON file per outgoing provider request.
// A nil *Logger is a valid no-op, so adapters never guard their log calls.
package requestlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is the logged record for one outgoing request.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Request   any       `json:"request"`
}

// Logger writes request entries into a directory, one file per request,
// named <iso8601-with-safe-separators>_<provider>.json. Safe for concurrent
// use.
type Logger struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	seq int
	now func() time.Time
}

// New creates a Logger writing into dir, creating it if needed. logger may
// be nil.
func New(dir string, logger *slog.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("requestlog: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{dir: dir, logger: logger, now: time.Now}, nil
}

// Log writes one request record. Failures are logged and swallowed; request
// logging never blocks a request.
func (l *Logger) Log(provider, model string, request any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	ts := l.now().UTC()
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	entry := Entry{Timestamp: ts, Provider: provider, Model: model, Request: request}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		l.logger.Warn("request log marshal failed", "provider", provider, "error", err)
		return
	}

	// Colons are not filesystem-safe everywhere; the sequence breaks ties
	// within the same second.
	stamp := strings.ReplaceAll(ts.Format("2006-01-02T15-04-05"), ":", "-")
	name := fmt.Sprintf("%s_%03d_%s.json", stamp, seq%1000, provider)
	path := filepath.Join(l.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		l.logger.Warn("request log write failed", "path", path, "error", err)
	}
}

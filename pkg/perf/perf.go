package perf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends one JSON object per finished span to a newline-delimited
// file. Writes are best-effort: a failing sink must never fail a request.
type Logger struct {
	mu   sync.Mutex
	path string
}

func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Span measures one labeled operation.
type Span struct {
	logger  *Logger
	label   string
	start   time.Time
	context map[string]any
}

// StartFunc matches the signature services take for perf injection.
type StartFunc func(label string, context map[string]any) *Span

// Start opens a span with a copy of the given context fields.
func (l *Logger) Start(label string, context map[string]any) *Span {
	ctx := make(map[string]any, len(context))
	for k, v := range context {
		ctx[k] = v
	}
	return &Span{logger: l, label: label, start: time.Now(), context: ctx}
}

// Finish closes the span and appends it to the sink, merging extra fields.
func (s *Span) Finish(extra map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	entry := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"label":       s.label,
		"duration_ms": time.Since(s.start).Milliseconds(),
	}
	for k, v := range s.context {
		entry[k] = v
	}
	for k, v := range extra {
		entry[k] = v
	}
	s.logger.write(entry)
}

func (l *Logger) write(entry map[string]any) {
	if l.path == "" {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if dir := filepath.Dir(l.path); dir != "." {
		// Sink errors are swallowed on purpose.
		_ = os.MkdirAll(dir, 0o755)
	}
	handle, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer handle.Close()
	_, _ = handle.Write(append(raw, '\n'))
}

// Noop returns a logger with no sink; spans finish without writing.
func Noop() *Logger {
	return &Logger{}
}

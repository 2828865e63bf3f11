package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SinkPrefix tags every line written by the migration log sink.
const SinkPrefix = "[WPMIGRATE]"

const sinkTimeLayout = "2006-01-02 15:04:05"

// Fields carries structured context attached to a sink entry.
type Fields map[string]any

// Sink is the append-only migration log. Each entry is one line:
//
//	[WPMIGRATE] [LEVEL] 2006-01-02 15:04:05 message {"key":"value"}
//
// Entries are mirrored to the process logger. When disabled, entries are only
// mirrored and never reach the file.
type Sink struct {
	mu      sync.Mutex
	path    string
	enabled bool
	now     func() time.Time
}

// NewSink creates a sink writing to path. The parent directory is created on
// first write.
func NewSink(path string, enabled bool) *Sink {
	return &Sink{path: path, enabled: enabled, now: time.Now}
}

// Path returns the log file path.
func (s *Sink) Path() string {
	return s.path
}

// SetEnabled toggles file output (mirrors settings.enable_logging).
func (s *Sink) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Debug appends a DEBUG entry.
func (s *Sink) Debug(msg string, ctx Fields) { s.Log(LevelDebug, msg, ctx) }

// Info appends an INFO entry.
func (s *Sink) Info(msg string, ctx Fields) { s.Log(LevelInfo, msg, ctx) }

// Warn appends a WARN entry.
func (s *Sink) Warn(msg string, ctx Fields) { s.Log(LevelWarn, msg, ctx) }

// Error appends an ERROR entry.
func (s *Sink) Error(msg string, ctx Fields) { s.Log(LevelError, msg, ctx) }

// Log appends one entry. Write failures are reported on the process logger;
// the sink never fails the caller.
func (s *Sink) Log(level LogLevel, msg string, ctx Fields) {
	line := s.format(level, msg, ctx)
	Logf(level, "%s", strings.TrimPrefix(line, SinkPrefix+" ["+level.String()+"] "))

	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.path == "" {
		return
	}
	if err := s.appendLine(line); err != nil {
		Warnf("log sink write to %s failed: %v", s.path, err)
	}
}

func (s *Sink) format(level LogLevel, msg string, ctx Fields) string {
	now := time.Now
	if s != nil && s.now != nil {
		now = s.now
	}
	line := fmt.Sprintf("%s [%s] %s %s", SinkPrefix, level.String(), now().Format(sinkTimeLayout), msg)
	if len(ctx) > 0 {
		if encoded, err := json.Marshal(ctx); err == nil {
			line += " " + string(encoded)
		}
	}
	return line
}

func (s *Sink) appendLine(line string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, line+"\n")
	return err
}

// Tail returns the last n lines of the log (n is clamped to at least 1).
// A missing log file yields an empty string.
func (s *Sink) Tail(n int) (string, error) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(ring, "\n"), nil
}

// Truncate empties the log file.
func (s *Sink) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Truncate(s.path, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

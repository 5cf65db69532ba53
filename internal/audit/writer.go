// Package audit appends one JSON line per dispatched delivery.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755

	fileName    = "audit.jsonl"
	maxFieldLen = 512
)

// Event is one audit record written as a single JSON line.
type Event struct {
	Time      time.Time `json:"time"`
	Surface   string    `json:"surface"`
	RequestID string    `json:"request_id,omitempty"`
	Route     string    `json:"route,omitempty"`
	Status    int       `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Writer appends audit events to <stateDir>/audit.jsonl. A nil *Writer
// discards events.
type Writer struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer rooted at stateDir. An empty
// stateDir returns nil, which discards every event.
func NewWriter(stateDir string) *Writer {
	if strings.TrimSpace(stateDir) == "" {
		return nil
	}
	return &Writer{path: filepath.Join(stateDir, fileName), now: time.Now}
}

// Path returns the audit file location.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Append writes event as one line. A zero Time is stamped with the current
// time, and Result and Error are clipped to maxFieldLen runes.
func (w *Writer) Append(event Event) error {
	if w == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = w.now().UTC()
	}
	event.Result = clip(event.Result)
	event.Error = clip(event.Error)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	// Encode appends the newline that terminates the record.
	if err := json.NewEncoder(file).Encode(event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return file.Sync()
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= maxFieldLen {
		return s
	}
	return string(runes[:maxFieldLen]) + "..."
}

// Tail returns the last n events in stateDir's audit file, oldest first.
// A missing file yields no events. Lines that do not decode are skipped.
func Tail(stateDir string, n int) ([]Event, error) {
	file, err := os.Open(filepath.Join(stateDir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
		if n > 0 && len(events) > n {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return events, nil
}

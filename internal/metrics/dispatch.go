// Package metrics aggregates dispatch counters and persists them so the
// status command can report on a running gateway.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const snapshotFileName = "dispatch_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Snapshot contains aggregated dispatch and chat metrics.
type Snapshot struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Dispatch  DispatchStats    `json:"dispatch"`
	Routes    map[string]int64 `json:"routes,omitempty"`
	Chat      ChatStats        `json:"chat"`
}

// DispatchStats tracks handled deliveries.
type DispatchStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Rejected          int64 `json:"rejected"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (d DispatchStats) ErrorRatio() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.Errors) / float64(d.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (d DispatchStats) AvgLatencyMs() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.TotalLatencyMs) / float64(d.Total)
}

// ChatStats tracks outbound chat posts and updates.
type ChatStats struct {
	SendAttempts int64 `json:"send_attempts"`
	SendFailures int64 `json:"send_failures"`
}

// FailureRatio returns failures/attempts in [0,1].
func (c ChatStats) FailureRatio() float64 {
	if c.SendAttempts <= 0 {
		return 0
	}
	return float64(c.SendFailures) / float64(c.SendAttempts)
}

// HasData reports whether anything was recorded.
func (s Snapshot) HasData() bool {
	return s.Dispatch.Total > 0 || s.Chat.SendAttempts > 0
}

// Outcome classifies one handled delivery.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRejected is an authentication or permission failure.
	OutcomeRejected
	OutcomeError
)

// Recorder records and persists dispatch metrics. A nil *Recorder is a no-op.
type Recorder struct {
	path string

	mu      sync.Mutex
	snap    Snapshot
	buckets []int64
}

// NewRecorder creates a recorder persisting to <stateDir>/dispatch_metrics.json.
// An empty stateDir keeps the metrics in memory only.
func NewRecorder(stateDir string) *Recorder {
	r := &Recorder{buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1)}
	if strings.TrimSpace(stateDir) != "" {
		r.path = snapshotPath(stateDir)
	}
	return r
}

// Snapshot returns the latest in-memory snapshot.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *Recorder) copyLocked() Snapshot {
	snap := r.snap
	if r.snap.Routes != nil {
		snap.Routes = make(map[string]int64, len(r.snap.Routes))
		for k, v := range r.snap.Routes {
			snap.Routes[k] = v
		}
	}
	return snap
}

// RecordDispatch updates dispatch metrics for one delivery and persists the snapshot.
func (r *Recorder) RecordDispatch(routeID string, duration time.Duration, outcome Outcome, runErr error) (Snapshot, error) {
	if r == nil {
		return Snapshot{}, nil
	}

	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	r.mu.Lock()
	r.snap.UpdatedAt = time.Now().UTC()
	d := &r.snap.Dispatch
	d.Total++
	d.TotalLatencyMs += latencyMs
	d.LastLatencyMs = latencyMs
	if latencyMs > d.MaxLatencyMs {
		d.MaxLatencyMs = latencyMs
	}
	switch outcome {
	case OutcomeRejected:
		d.Rejected++
	case OutcomeError:
		d.Errors++
		if isTimeoutError(runErr) {
			d.Timeouts++
		}
	}
	if routeID != "" {
		if r.snap.Routes == nil {
			r.snap.Routes = make(map[string]int64)
		}
		r.snap.Routes[routeID]++
	}

	r.buckets[latencyBucketIndex(latencyMs)]++
	d.P95ProxyLatencyMs = p95ProxyFromBuckets(r.buckets, d.Total)

	snapshot := r.copyLocked()
	r.mu.Unlock()

	return snapshot, persistSnapshot(r.path, snapshot)
}

// RecordChatSend updates outbound chat metrics and persists the snapshot.
func (r *Recorder) RecordChatSend(success bool) (Snapshot, error) {
	if r == nil {
		return Snapshot{}, nil
	}

	r.mu.Lock()
	r.snap.UpdatedAt = time.Now().UTC()
	r.snap.Chat.SendAttempts++
	if !success {
		r.snap.Chat.SendFailures++
	}
	snapshot := r.copyLocked()
	r.mu.Unlock()

	return snapshot, persistSnapshot(r.path, snapshot)
}

// ReadSnapshot reads the persisted snapshot from stateDir.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadSnapshot(stateDir string) (Snapshot, error) {
	raw, err := os.ReadFile(snapshotPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read dispatch metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode dispatch metrics: %w", err)
	}
	return snap, nil
}

func snapshotPath(stateDir string) string {
	return filepath.Join(stateDir, snapshotFileName)
}

func persistSnapshot(path string, snapshot Snapshot) error {
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode dispatch metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write dispatch metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename dispatch metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lowered := strings.ToLower(err.Error())
	return strings.Contains(lowered, "deadline exceeded") ||
		strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out")
}

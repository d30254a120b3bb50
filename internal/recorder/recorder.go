// Package recorder is a JSONL flight recorder for rendered state
// responses and action results, one trace file per session.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// MaxTraceFiles bounds how many trace files survive in the directory.
	MaxTraceFiles = 3
	// maxTraceBytes triggers rotation of a session's trace file.
	maxTraceBytes = 4 << 20
)

// Event is a single record in a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

type traceFile struct {
	file    *os.File
	written int64
}

// Recorder appends events to per-session JSONL files under a directory,
// rotating by size and pruning old files. A nil Recorder is a no-op, so
// callers can hold one unconditionally.
type Recorder struct {
	mu    sync.Mutex
	dir   string
	files map[string]*traceFile
}

// New creates a recorder writing under dir.
func New(dir string) (*Recorder, error) {
	if dir == "" {
		dir = "data/traces"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		dir:   dir,
		files: make(map[string]*traceFile),
	}, nil
}

// Record appends one event to the session's trace, opening the file on
// first use and rotating when it grows past the size cap.
func (r *Recorder) Record(eventType, sessionID string, data interface{}) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tf, err := r.openLocked(sessionID)
	if err != nil {
		return
	}

	evt := Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload = append(payload, '\n')

	if n, err := tf.file.Write(payload); err == nil {
		tf.written += int64(n)
	}

	if tf.written > maxTraceBytes {
		_ = tf.file.Close()
		delete(r.files, sessionID)
	}
}

func (r *Recorder) openLocked(sessionID string) (*traceFile, error) {
	if tf, ok := r.files[sessionID]; ok {
		return tf, nil
	}

	if err := r.prune(); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("trace_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		return nil, err
	}

	tf := &traceFile{file: f}
	r.files[sessionID] = tf
	return tf, nil
}

// prune keeps only the newest trace files, leaving room for one more.
func (r *Recorder) prune() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	var traces []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].Time.After(traces[j].Time)
	})

	if len(traces) >= MaxTraceFiles {
		keep := MaxTraceFiles - 1
		for i := keep; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.dir, traces[i].Name))
		}
	}
	return nil
}

// CloseSession finishes the trace for one session.
func (r *Recorder) CloseSession(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tf, ok := r.files[sessionID]; ok {
		_ = tf.file.Close()
		delete(r.files, sessionID)
	}
}

// Close finishes every open trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, tf := range r.files {
		if err := tf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.files, id)
	}
	return firstErr
}

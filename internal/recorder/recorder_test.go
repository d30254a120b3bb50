package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecordWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	r.Record("observe", "sess-1", map[string]interface{}{"step": 1})
	r.Record("act", "sess-1", map[string]interface{}{"eid": "btn.save.form"})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 trace file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "trace_sess-1_") {
		t.Errorf("unexpected trace file name %q", entries[0].Name())
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		events = append(events, evt)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "observe" || events[1].Type != "act" {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].SessionID != "sess-1" {
		t.Errorf("session id = %s", events[0].SessionID)
	}
}

func TestRecorderSeparatesSessions(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	r.Record("observe", "a", map[string]int{"step": 1})
	r.Record("observe", "b", map[string]int{"step": 1})
	r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 trace files, got %d", len(entries))
	}
}

func TestRecorderPrunesOldTraces(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxTraceFiles+2; i++ {
		id := string(rune('a' + i))
		r.Record("observe", id, map[string]int{"n": i})
		r.CloseSession(id)
		time.Sleep(10 * time.Millisecond)
	}
	r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxTraceFiles {
		t.Errorf("expected %d files after pruning, got %d", MaxTraceFiles, len(entries))
	}
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	r.Record("observe", "sess", nil)
	r.CloseSession("sess")
	if err := r.Close(); err != nil {
		t.Errorf("nil recorder Close: %v", err)
	}
}

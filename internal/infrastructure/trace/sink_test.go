package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open events file: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestSink_WritesMetadataAndSessionLifecycle(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink("sess-1", Config{Enabled: true, Dir: dir, IncludeMessages: true, IncludeThinking: true}, map[string]interface{}{"user": "alice"})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.StartSession(nil)
	sink.EndSession("completed", nil)

	metaPath := filepath.Join(dir, "session-sess-1", "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta["user"] != "alice" {
		t.Fatalf("expected metadata to carry user=alice, got %+v", meta)
	}

	events := readEvents(t, filepath.Join(dir, "session-sess-1", "events.jsonl"))
	if len(events) != 2 || events[0].EventType != "session.start" || events[1].EventType != "session.end" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSink_TurnNumbersIncreaseAndRunIDIsStable(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink("sess-2", Config{Enabled: true, Dir: dir, IncludeMessages: true}, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	run1 := sink.StartTurn("hello", nil)
	sink.EndTurn("hi there", nil)
	run2 := sink.StartTurn("again", nil)
	sink.EndTurn("ok", nil)

	if run1 == run2 {
		t.Fatalf("expected distinct run ids, got %q twice", run1)
	}

	events := readEvents(t, filepath.Join(dir, "session-sess-2", "events.jsonl"))
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Turn != 1 || events[1].Turn != 1 || events[2].Turn != 2 || events[3].Turn != 2 {
		t.Fatalf("unexpected turn numbers: %+v", events)
	}
}

func TestSink_TruncatesOverCap(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink("sess-3", Config{Enabled: true, Dir: dir, IncludeMessages: true, MaxContentLength: 10}, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.StartTurn("0123456789ABCDEF", nil)

	events := readEvents(t, filepath.Join(dir, "session-sess-3", "events.jsonl"))
	data, ok := events[0].Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map data, got %T", events[0].Data)
	}
	userInput, _ := data["user_input"].(string)
	if !strings.HasPrefix(userInput, "0123456789") || !strings.Contains(userInput, "... [truncated 6 chars]") {
		t.Fatalf("expected truncation marker, got %q", userInput)
	}
}

func TestSink_RedactsMessagesWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink("sess-4", Config{Enabled: true, Dir: dir, IncludeMessages: false}, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.StartTurn("secret input", nil)

	events := readEvents(t, filepath.Join(dir, "session-sess-4", "events.jsonl"))
	data := events[0].Data.(map[string]interface{})
	if data["user_input"] != "[redacted]" {
		t.Fatalf("expected redacted user_input, got %+v", data["user_input"])
	}
}

func TestSink_DisabledNeverWrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink("sess-5", Config{Enabled: false, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.StartSession(nil)
	sink.StartTurn("x", nil)

	if _, err := os.Stat(filepath.Join(dir, "session-sess-5")); err == nil {
		t.Fatalf("expected no session directory to be created when disabled")
	}
}

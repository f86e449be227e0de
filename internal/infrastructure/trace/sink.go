// Package trace implements the Trace Sink (C10): an append-only,
// per-session JSONL event journal. Grounded on
// original_source/core/agent_trace.py's SessionTrace/AgentTracer.
package trace

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config mirrors agent_trace.py's TraceConfig.
type Config struct {
	Enabled          bool
	Dir              string
	IncludeMessages  bool
	IncludeThinking  bool
	MaxContentLength int
}

func (c *Config) applyDefaults() {
	if c.Dir == "" {
		c.Dir = "./traces"
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 10000
	}
}

// Event is one journal record. Grounded on TraceEvent.
type Event struct {
	Timestamp  string      `json:"timestamp"`
	EventType  string      `json:"event_type"`
	SessionID  string      `json:"session_id"`
	RunID      string      `json:"run_id,omitempty"`
	Turn       int         `json:"turn,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	DurationMs float64     `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Sink manages the event journal for one session: a session directory
// holding metadata.json and events.jsonl, with serialized appends.
type Sink struct {
	sessionID  string
	config     Config
	sessionDir string
	eventsFile string

	mu        sync.Mutex
	turn      int
	runID     string
	startedAt time.Time
}

// NewSink creates the session directory, writes metadata.json, and
// returns a ready-to-use Sink. metadata is merged into the written
// metadata document.
func NewSink(sessionID string, config Config, metadata map[string]interface{}) (*Sink, error) {
	config.applyDefaults()
	sessionDir := filepath.Join(config.Dir, "session-"+sessionID)
	s := &Sink{
		sessionID:  sessionID,
		config:     config,
		sessionDir: sessionDir,
		eventsFile: filepath.Join(sessionDir, "events.jsonl"),
	}
	if !config.Enabled {
		return s, nil
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("trace: create session dir: %w", err)
	}
	meta := map[string]interface{}{
		"session_id": sessionID,
		"created_at": nowISO(),
	}
	for k, v := range metadata {
		meta[k] = v
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("trace: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "metadata.json"), data, 0o644); err != nil {
		return nil, fmt.Errorf("trace: write metadata: %w", err)
	}
	return s, nil
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

func (s *Sink) truncate(v interface{}) interface{} {
	str, ok := v.(string)
	if !ok || len(str) <= s.config.MaxContentLength {
		return v
	}
	cut := len(str) - s.config.MaxContentLength
	return str[:s.config.MaxContentLength] + fmt.Sprintf("... [truncated %d chars]", cut)
}

func (s *Sink) write(ev Event) {
	if !s.config.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	f, err := os.OpenFile(s.eventsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

// StartSession logs session.start.
func (s *Sink) StartSession(metadata map[string]interface{}) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.write(Event{Timestamp: nowISO(), EventType: "session.start", SessionID: s.sessionID, Data: metadata})
}

// EndSession logs session.end with the elapsed duration and total turns.
func (s *Sink) EndSession(outcome string, metadata map[string]interface{}) {
	s.mu.Lock()
	var durationMs float64
	if !s.startedAt.IsZero() {
		durationMs = float64(time.Since(s.startedAt).Microseconds()) / 1000
	}
	turn := s.turn
	s.mu.Unlock()

	data := map[string]interface{}{"outcome": outcome, "total_turns": turn}
	for k, v := range metadata {
		data[k] = v
	}
	s.write(Event{Timestamp: nowISO(), EventType: "session.end", SessionID: s.sessionID, DurationMs: durationMs, Data: data})
}

// StartTurn begins a new turn and returns its run_id.
func (s *Sink) StartTurn(userInput string, metadata map[string]interface{}) string {
	s.mu.Lock()
	s.turn++
	s.runID = fmt.Sprintf("run-%s", randomHex(12))
	turn, runID := s.turn, s.runID
	s.mu.Unlock()

	data := map[string]interface{}{"user_input": s.messageOrRedacted(userInput)}
	for k, v := range metadata {
		data[k] = v
	}
	s.write(Event{Timestamp: nowISO(), EventType: "turn.start", SessionID: s.sessionID, RunID: runID, Turn: turn, Data: data})
	return runID
}

// EndTurn closes the current turn.
func (s *Sink) EndTurn(output string, metadata map[string]interface{}) {
	s.mu.Lock()
	turn, runID := s.turn, s.runID
	s.mu.Unlock()

	data := map[string]interface{}{"output": s.messageOrRedacted(output)}
	for k, v := range metadata {
		data[k] = v
	}
	s.write(Event{Timestamp: nowISO(), EventType: "turn.end", SessionID: s.sessionID, RunID: runID, Turn: turn, Data: data})
}

func (s *Sink) messageOrRedacted(content string) interface{} {
	if !s.config.IncludeMessages {
		return "[redacted]"
	}
	return s.truncate(content)
}

func (s *Sink) currentRun() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID, s.turn
}

// LogLLMRequest logs llm.request.
func (s *Sink) LogLLMRequest(model string, messageCount int, messages []string, tools []string) {
	runID, turn := s.currentRun()
	data := map[string]interface{}{"model": model, "message_count": messageCount}
	if s.config.IncludeMessages && messages != nil {
		truncated := make([]interface{}, len(messages))
		for i, m := range messages {
			truncated[i] = s.truncate(m)
		}
		data["messages"] = truncated
	}
	if len(tools) > 0 {
		data["tools"] = tools
	}
	s.write(Event{Timestamp: nowISO(), EventType: "llm.request", SessionID: s.sessionID, RunID: runID, Turn: turn, Data: data})
}

// LogLLMResponse logs llm.response.
func (s *Sink) LogLLMResponse(model, content string, toolCallNames []string, tokens map[string]int, durationMs float64, thinking, errText string) {
	runID, turn := s.currentRun()
	data := map[string]interface{}{"model": model}
	if s.config.IncludeMessages {
		data["content"] = s.truncate(content)
	}
	if len(toolCallNames) > 0 {
		data["tool_calls"] = toolCallNames
	}
	if len(tokens) > 0 {
		data["tokens"] = tokens
	}
	if thinking != "" && s.config.IncludeThinking {
		data["thinking"] = s.truncate(thinking)
		data["thinking_tokens"] = len(strings.Fields(thinking))
	}
	s.write(Event{Timestamp: nowISO(), EventType: "llm.response", SessionID: s.sessionID, RunID: runID, Turn: turn, DurationMs: durationMs, Error: errText, Data: data})
}

// LogToolCall logs tool.call.
func (s *Sink) LogToolCall(toolName string, args map[string]interface{}) {
	runID, turn := s.currentRun()
	truncatedArgs := make(map[string]interface{}, len(args))
	for k, v := range args {
		if str, ok := v.(string); ok {
			truncatedArgs[k] = s.truncate(str)
		} else {
			truncatedArgs[k] = v
		}
	}
	s.write(Event{Timestamp: nowISO(), EventType: "tool.call", SessionID: s.sessionID, RunID: runID, Turn: turn, Data: map[string]interface{}{
		"tool_name": toolName, "args": truncatedArgs,
	}})
}

// LogToolResult logs tool.result.
func (s *Sink) LogToolResult(toolName string, success bool, result string, durationMs float64, errText string) {
	runID, turn := s.currentRun()
	data := map[string]interface{}{"tool_name": toolName, "success": success}
	if result != "" && s.config.IncludeMessages {
		data["result"] = s.truncate(result)
	}
	s.write(Event{Timestamp: nowISO(), EventType: "tool.result", SessionID: s.sessionID, RunID: runID, Turn: turn, DurationMs: durationMs, Error: errText, Data: data})
}

// LogThinking logs a reasoning/thinking segment.
func (s *Sink) LogThinking(thinking, stage string) {
	if !s.config.IncludeThinking {
		return
	}
	runID, turn := s.currentRun()
	s.write(Event{Timestamp: nowISO(), EventType: "thinking", SessionID: s.sessionID, RunID: runID, Turn: turn, Data: map[string]interface{}{
		"stage": stage, "content": s.truncate(thinking), "token_estimate": len(strings.Fields(thinking)),
	}})
}

func randomHex(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}

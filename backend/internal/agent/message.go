// Package agent defines the harness-wide contract between the session
// supervisor and the per-CLI adapters: normalized message and streaming
// update types, transport options, and the Backend interface each adapter
// implements.
package agent

import (
	"encoding/json"
	"errors"
	"time"
)

// Harness identifies which vendor CLI backs a session.
type Harness string

const (
	Claude Harness = "claude"
	Codex  Harness = "codex"
)

// Message is the closed set of final, assembled records a turn produces.
// Unlike StreamingUpdate (which is the live wire), Message is what gets
// serialized to the log and to SSE once a turn is done with it.
type Message interface {
	Type() string
}

// SystemInitMessage reports session establishment (native resume or new).
type SystemInitMessage struct {
	MessageType string `json:"type"`
	Subtype     string `json:"subtype"`
	SessionID   string `json:"session_id,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
}

func (m *SystemInitMessage) Type() string { return m.MessageType }

// SystemMessage is a generic system-level notice (e.g. turn_started).
type SystemMessage struct {
	MessageType string `json:"type"`
	Subtype     string `json:"subtype"`
}

func (m *SystemMessage) Type() string { return m.MessageType }

// ContentBlock is one element of an APIMessage's content array, modeled on
// the Claude Messages API content block union (text, tool_use, tool_result).
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// APIMessage is the Claude-Messages-API-shaped envelope carried by
// AssistantMessage.
type APIMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// AssistantMessage carries assistant text and/or tool_use blocks.
type AssistantMessage struct {
	MessageType string     `json:"type"`
	Message     APIMessage `json:"message"`
}

func (m *AssistantMessage) Type() string { return m.MessageType }

// UserMessage carries a tool_result (or plain user text) payload. Message is
// kept as raw JSON since its shape varies (string or content-block array).
type UserMessage struct {
	MessageType     string          `json:"type"`
	Message         json.RawMessage `json:"message"`
	ParentToolUseID *string         `json:"parent_tool_use_id,omitempty"`
}

func (m *UserMessage) Type() string { return m.MessageType }

// ResultMessage reports a turn's terminal outcome.
type ResultMessage struct {
	MessageType string  `json:"type"`
	Subtype     string  `json:"subtype"`
	IsError     bool    `json:"is_error"`
	Result      string  `json:"result,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	NumTurns    int     `json:"num_turns,omitempty"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
}

func (m *ResultMessage) Type() string { return m.MessageType }

// StreamDelta is one incremental content delta within a StreamEvent.
type StreamDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StreamEventData is the inner payload of a StreamEvent.
type StreamEventData struct {
	Type  string       `json:"type"`
	Delta *StreamDelta `json:"delta,omitempty"`
}

// StreamEvent wraps a raw incremental content event, used by adapters whose
// native wire format already speaks in content-block deltas.
type StreamEvent struct {
	MessageType string          `json:"type"`
	Event       StreamEventData `json:"event"`
}

func (m *StreamEvent) Type() string { return m.MessageType }

// DiffFileStat is the per-file summary within a DiffStat.
type DiffFileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	Binary  bool   `json:"binary"`
}

// DiffStat is a git-numstat-derived summary of a task's working tree diff.
type DiffStat []DiffFileStat

// DiffStatMessage carries a computed diff-stat injected by the harness
// itself (not produced by the child CLI).
type DiffStatMessage struct {
	MessageType string   `json:"type"`
	DiffStat    DiffStat `json:"diff_stat"`
}

func (m *DiffStatMessage) Type() string { return m.MessageType }

// ParseErrorMessage records a line the adapter could not parse at all.
type ParseErrorMessage struct {
	MessageType string `json:"type"`
	Line        string `json:"line"`
	Err         string `json:"err"`
}

func (m *ParseErrorMessage) Type() string { return m.MessageType }

// RawMessage passes through a vendor event the normalizer has no typed
// mapping for, keyed by its discriminant so downstream consumers can at
// least log or replay it.
type RawMessage struct {
	MessageType string          `json:"type"`
	Raw         json.RawMessage `json:"raw"`
}

func (m *RawMessage) Type() string { return m.MessageType }

// MetaMessage is the mandatory first line of a persisted session log,
// identifying the task the rest of the file belongs to.
type MetaMessage struct {
	MessageType string    `json:"type"`
	Prompt      string    `json:"prompt"`
	Repo        string    `json:"repo"`
	Branch      string    `json:"branch"`
	StartedAt   time.Time `json:"started_at"`
}

func (m *MetaMessage) Type() string { return m.MessageType }

// Validate checks the required fields of a meta header.
func (m *MetaMessage) Validate() error {
	if m.MessageType != "tendril_meta" {
		return errors.New("agent: meta header has wrong type " + m.MessageType)
	}
	if m.StartedAt.IsZero() {
		return errors.New("agent: meta header missing started_at")
	}
	return nil
}

// MetaResultMessage is the optional trailer line appended when a session
// log's task reaches a terminal state.
type MetaResultMessage struct {
	MessageType string   `json:"type"`
	State       string   `json:"state"`
	CostUSD     float64  `json:"cost_usd"`
	DurationMs  int64    `json:"duration_ms"`
	NumTurns    int      `json:"num_turns"`
	DiffStat    DiffStat `json:"diff_stat,omitempty"`
	AgentResult string   `json:"agent_result,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (m *MetaResultMessage) Type() string { return m.MessageType }

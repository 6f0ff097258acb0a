package task

import (
	"context"
	"log/slog"
	"strings"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/events"
	"github.com/corvid-labs/tendril/internal/history"
	"github.com/corvid-labs/tendril/internal/store"
)

// assembler buffers a turn's text/reasoning chunks (never persisted
// per-chunk) and persists structural updates immediately as they arrive,
// mirroring the fan-out rules from the streaming & persistence policy.
type assembler struct {
	sup *Supervisor
	t   *Task

	text      strings.Builder
	reasoning strings.Builder
}

func newAssembler(sup *Supervisor, t *Task) *assembler {
	return &assembler{sup: sup, t: t}
}

func (a *assembler) onUpdate(u agent.StreamingUpdate) {
	ctx := context.Background()

	switch u.Kind {
	case agent.UpdateTextChunk:
		a.text.WriteString(u.Text)
	case agent.UpdateReasoningChunk:
		a.reasoning.WriteString(u.Text)
	case agent.UpdateToolCall:
		a.flushText(ctx)
		if _, err := a.sup.store.AppendMessage(ctx, store.Message{
			TaskID: a.t.ID, Kind: history.KindToolCall, ToolName: u.ToolName, ToolArguments: u.ArgumentsRaw,
		}); err != nil {
			slog.Warn("assembler: persist tool call", "task", a.t.ID, "err", err)
		}
	case agent.UpdateToolReturn:
		if _, err := a.sup.store.AppendMessage(ctx, store.Message{
			TaskID: a.t.ID, Kind: history.KindToolReturn, ToolReturn: u.OutputText,
		}); err != nil {
			slog.Warn("assembler: persist tool return", "task", a.t.ID, "err", err)
		}
	}

	a.publish(u)
}

// flushText persists any buffered assistant text as a single message before
// a tool call interrupts the stream, so interleaved text/tool-call turns
// stay in their original order.
func (a *assembler) flushText(ctx context.Context) {
	if a.text.Len() == 0 {
		return
	}
	if _, err := a.sup.store.AppendMessage(ctx, store.Message{
		TaskID: a.t.ID, Kind: history.KindAssistant, Content: a.text.String(),
	}); err != nil {
		slog.Warn("assembler: persist assistant text", "task", a.t.ID, "err", err)
	}
	a.sup.bus.Publish(events.Event{Kind: events.ChatLogUpdate, TaskID: a.t.ID, Message: a.text.String()})
	a.text.Reset()
}

// finish persists any trailing buffered text/reasoning once the turn
// returns. Called by the supervisor after Turn completes.
func (a *assembler) finish(ctx context.Context) {
	a.flushText(ctx)
	if a.reasoning.Len() > 0 {
		if _, err := a.sup.store.AppendMessage(ctx, store.Message{
			TaskID: a.t.ID, Kind: history.KindReasoning, Reasoning: a.reasoning.String(),
		}); err != nil {
			slog.Warn("assembler: persist reasoning", "task", a.t.ID, "err", err)
		}
		a.reasoning.Reset()
	}
}

func (a *assembler) publish(u agent.StreamingUpdate) {
	a.sup.bus.Publish(events.Event{Kind: events.ChatLogStreaming, TaskID: a.t.ID, Streaming: u})

	switch u.Kind {
	case agent.UpdateTextChunk, agent.UpdateReasoningChunk:
		// Covered by the ChatLogStreaming publish above; main-window status
		// chunks are intentionally not duplicated as separate StatusUpdate
		// events (the throttled ChatLogStreaming stream is what the status
		// line reflects for chunk kinds).
	case agent.UpdateStatus:
		a.sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: a.t.ID, Text: u.StatusMessage, State: "running"})
	case agent.UpdateAvailableCommands:
		a.sup.bus.Publish(events.Event{Kind: events.AvailableCommands, TaskID: a.t.ID, AgentID: a.t.AgentID, Commands: u.Commands})
	}
}

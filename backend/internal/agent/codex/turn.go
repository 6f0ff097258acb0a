package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/cancel"
	"github.com/corvid-labs/tendril/internal/transport"
)

// Turn sends turn/start, then consumes item/* and turn/completed
// notifications (reusing ParseMessage's per-item decoding) until the turn
// ends or tok is cancelled.
func (s *session) Turn(ctx context.Context, sessionID string, p agent.Prompt, tok cancel.Token, onUpdate func(agent.StreamingUpdate)) (agent.TurnResult, error) {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	replyCh := make(chan rpcReply, 1)
	go func() {
		raw, err := s.tr.Request(reqCtx, "turn/start", map[string]any{"thread_id": sessionID, "input": p.Text})
		replyCh <- rpcReply{raw: raw, err: err}
	}()

	var (
		result agent.TurnResult
		asm    = newAssembler()
		done   bool
	)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !done {
		select {
		case reply := <-replyCh:
			if reply.err != nil {
				return result, fmt.Errorf("codex: turn/start: %w", reply.err)
			}
			// The real terminal signal is the turn/completed notification,
			// not this ack; keep looping.

		case <-ticker.C:
			if tok.IsCancelled() {
				cancelReq()
				_ = s.tr.Notify("turn/cancel", map[string]any{"thread_id": sessionID})
				result.Cancelled = true
				done = true
			}

		case n, ok := <-s.tr.Notifications():
			if !ok {
				return result, fmt.Errorf("%w: child exited mid-turn", transport.ErrClosed)
			}
			if handleTurnCompleted(n, asm) {
				done = true
				continue
			}
			handleNotification(n, asm, onUpdate)

		case sr, ok := <-s.tr.ServerRequests():
			if !ok {
				return result, fmt.Errorf("%w: child exited mid-turn", transport.ErrClosed)
			}
			s.log.Warn("codex: unhandled server request", "method", sr.Method)
		}
	}

	result.Messages = asm.messages()
	return result, nil
}

type rpcReply struct {
	raw json.RawMessage
	err error
}

// handleTurnCompleted reports whether n is a turn/completed notification,
// recording a failure message into asm when the turn ended in error.
func handleTurnCompleted(n transport.Notification, asm *assembler) bool {
	if n.Method != MethodTurnCompleted {
		return false
	}
	var p TurnCompletedParams
	_ = json.Unmarshal(n.Params, &p)
	if p.Turn.Status == "failed" || p.Turn.Status == "interrupted" {
		msg := "turn failed"
		if p.Turn.Error != nil {
			msg = p.Turn.Error.Message
		}
		asm.appendText(msg)
	}
	return true
}

// handleNotification maps one app-server notification to zero or more
// normalized StreamingUpdates, reusing ParseMessage's item decoders so the
// mapping from item types to assistant/tool_use/tool_result messages stays
// in one place.
func handleNotification(n transport.Notification, asm *assembler, onUpdate func(agent.StreamingUpdate)) {
	msg := &JSONRPCMessage{Method: n.Method, Params: n.Params}

	switch n.Method {
	case MethodItemStarted:
		decoded, err := parseItemStarted(msg)
		if err != nil {
			return
		}
		recordDecoded(decoded, asm, onUpdate, true)

	case MethodItemCompleted:
		decoded, err := parseItemStarted(msg) // register the tool call in case item/started never announced it
		if err == nil {
			recordDecoded(decoded, asm, onUpdate, false)
		}
		completed, err := parseItemCompleted(msg)
		if err != nil {
			return
		}
		recordDecoded(completed, asm, onUpdate, false)

	case MethodItemDelta:
		var p ItemDeltaParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return
		}
		asm.appendText(p.Delta)
		onUpdate(agent.TextChunk(p.Delta, ""))
	}
}

// recordDecoded folds a parse.go-produced Message into the assembler and
// emits the matching StreamingUpdate. asStart distinguishes a freshly
// started tool call (emits ToolCall) from its completion counterpart (a
// UserMessage tool result, emits ToolReturn).
func recordDecoded(msg agent.Message, asm *assembler, onUpdate func(agent.StreamingUpdate), asStart bool) {
	switch m := msg.(type) {
	case *agent.AssistantMessage:
		for _, cb := range m.Message.Content {
			switch {
			case cb.Type == "tool_use" && asStart:
				asm.startToolCall(cb.ID, cb.Name, string(cb.Input))
				onUpdate(agent.ToolCall(cb.Name, string(cb.Input)))
			case cb.Type == "tool_use":
				// Already recorded at item/started; item/completed for a
				// fileChange item has no started counterpart, so start it now.
				if _, ok := asm.toolCall(cb.ID); !ok {
					asm.startToolCall(cb.ID, cb.Name, string(cb.Input))
					onUpdate(agent.ToolCall(cb.Name, string(cb.Input)))
				}
			case cb.Type == "text":
				asm.appendText(cb.Text)
				onUpdate(agent.TextChunk(cb.Text, ""))
			}
		}
	case *agent.UserMessage:
		if m.ParentToolUseID == nil {
			return
		}
		var output string
		_ = json.Unmarshal(m.Message, &output)
		asm.finishToolCall(*m.ParentToolUseID, output)
		onUpdate(agent.ToolReturn(output))
	}
}

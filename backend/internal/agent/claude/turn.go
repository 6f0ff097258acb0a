package claude

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/cancel"
	"github.com/corvid-labs/tendril/internal/transport"
)

// sessionUpdateParams is the ACP session/update notification payload. Only
// one of the typed sub-objects is populated, selected by Update.Type.
type sessionUpdateParams struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type updateEnvelope struct {
	Type string `json:"sessionUpdate"`
}

// Turn drives one ACP turn: sends session/prompt, then consumes
// session/update notifications and session/request_permission server
// requests until the prompt's stop reason arrives or tok is cancelled.
func (s *session) Turn(ctx context.Context, sessionID string, p agent.Prompt, tok cancel.Token, onUpdate func(agent.StreamingUpdate)) (agent.TurnResult, error) {
	content := []map[string]any{{"type": "text", "text": p.Text}}
	for _, a := range p.Attachments {
		content = append(content, map[string]any{
			"type":     "image",
			"mimeType": a.MimeType,
			"data":     base64.StdEncoding.EncodeToString(a.Data),
		})
	}

	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	replyCh := make(chan rpcPromptReply, 1)
	go func() {
		raw, err := s.tr.Request(reqCtx, "session/prompt", map[string]any{
			"sessionId": sessionID,
			"prompt":    content,
		})
		replyCh <- rpcPromptReply{raw: raw, err: err}
	}()

	var (
		assembler  = newAssembler()
		newSession string
		done       bool
		result     agent.TurnResult
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !done {
		select {
		case reply := <-replyCh:
			done = true
			if reply.err != nil {
				return result, fmt.Errorf("claude: session/prompt: %w", reply.err)
			}
			var stop struct {
				StopReason string `json:"stopReason"`
			}
			_ = json.Unmarshal(reply.raw, &stop)

		case <-ticker.C:
			if tok.IsCancelled() {
				cancelReq()
				_ = s.tr.Notify("session/cancel", map[string]any{"sessionId": sessionID})
				result.Cancelled = true
				done = true
			}

		case n, ok := <-s.tr.Notifications():
			if !ok {
				return result, fmt.Errorf("%w: child exited mid-turn", transport.ErrClosed)
			}
			if n.Method != "session/update" {
				continue
			}
			var up sessionUpdateParams
			if err := json.Unmarshal(n.Params, &up); err != nil {
				continue
			}
			handleSessionUpdate(up.Update, assembler, onUpdate)

		case sr, ok := <-s.tr.ServerRequests():
			if !ok {
				return result, fmt.Errorf("%w: child exited mid-turn", transport.ErrClosed)
			}
			handleServerRequest(s, sr, onUpdate)
		}
	}

	result.Messages = assembler.messages()
	result.Usage = assembler.usage
	if newSession != "" {
		result.SessionID = newSession
	}
	return result, nil
}

type rpcPromptReply struct {
	raw json.RawMessage
	err error
}

// handleSessionUpdate maps one ACP sessionUpdate payload to zero or more
// normalized StreamingUpdates, per the closed enum in §4.2.
func handleSessionUpdate(raw json.RawMessage, asm *assembler, onUpdate func(agent.StreamingUpdate)) {
	var env updateEnvelope
	_ = json.Unmarshal(raw, &env)

	switch env.Type {
	case "agent_message_chunk":
		var v struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		_ = json.Unmarshal(raw, &v)
		asm.appendText(v.Content.Text)
		onUpdate(agent.TextChunk(v.Content.Text, ""))

	case "agent_thought_chunk":
		var v struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		_ = json.Unmarshal(raw, &v)
		asm.appendReasoning(v.Content.Text)
		onUpdate(agent.ReasoningChunk(v.Content.Text))

	case "tool_call":
		var v struct {
			ToolCallID string          `json:"toolCallId"`
			Title      string          `json:"title"`
			RawInput   json.RawMessage `json:"rawInput"`
		}
		_ = json.Unmarshal(raw, &v)
		argsJSON := string(v.RawInput)
		asm.startToolCall(v.ToolCallID, v.Title, argsJSON)
		onUpdate(agent.ToolCall(v.Title, argsJSON))

	case "tool_call_update":
		var v struct {
			ToolCallID string `json:"toolCallId"`
			Status     string `json:"status"`
			Content    []struct {
				Content struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"content"`
		}
		_ = json.Unmarshal(raw, &v)
		if v.Status == "completed" || v.Status == "failed" {
			var out strings.Builder
			for _, c := range v.Content {
				out.WriteString(c.Content.Text)
			}
			asm.finishToolCall(v.ToolCallID, out.String())
			onUpdate(agent.ToolReturn(out.String()))
			maybeEmitPlanContent(v.ToolCallID, asm, onUpdate)
		}

	case "plan":
		var v struct {
			Entries []struct {
				Content string `json:"content"`
				Status  string `json:"status"`
			} `json:"entries"`
		}
		_ = json.Unmarshal(raw, &v)
		steps := make([]agent.PlanStep, len(v.Entries))
		for i, e := range v.Entries {
			steps[i] = agent.PlanStep{Description: e.Content, Status: e.Status}
		}
		onUpdate(agent.StreamingUpdate{Kind: agent.UpdatePlanUpdate, Steps: steps})

	case "available_commands_update":
		var v struct {
			AvailableCommands []struct {
				Name string `json:"name"`
			} `json:"availableCommands"`
		}
		_ = json.Unmarshal(raw, &v)
		names := make([]string, len(v.AvailableCommands))
		for i, c := range v.AvailableCommands {
			names[i] = c.Name
		}
		onUpdate(agent.StreamingUpdate{Kind: agent.UpdateAvailableCommands, Commands: names})
	}
}

// maybeEmitPlanContent synthesizes a PlanContent update when a completed
// write-shaped tool call targeted a file ending in "plan.md".
func maybeEmitPlanContent(toolCallID string, asm *assembler, onUpdate func(agent.StreamingUpdate)) {
	call, ok := asm.toolCall(toolCallID)
	if !ok {
		return
	}
	var input struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal([]byte(call.argsJSON), &input); err != nil {
		return
	}
	if !strings.HasSuffix(input.FilePath, "plan.md") {
		return
	}
	onUpdate(agent.StreamingUpdate{Kind: agent.UpdatePlanContent, FilePath: input.FilePath, Content: input.Content})
}

// handleServerRequest answers (or surfaces) a session/request_permission or
// session/request_input server-initiated request.
func handleServerRequest(s *session, sr transport.ServerRequest, onUpdate func(agent.StreamingUpdate)) {
	switch sr.Method {
	case "session/request_permission":
		var v struct {
			ToolCall struct {
				Title    string          `json:"title"`
				RawInput json.RawMessage `json:"rawInput"`
			} `json:"toolCall"`
			Options []struct {
				OptionID string `json:"optionId"`
				Name     string `json:"name"`
			} `json:"options"`
		}
		_ = json.Unmarshal(sr.Params, &v)
		opts := make([]agent.PermissionOption, len(v.Options))
		for i, o := range v.Options {
			opts[i] = agent.PermissionOption{ID: o.OptionID, Label: o.Name}
		}
		onUpdate(agent.StreamingUpdate{
			Kind:        agent.UpdatePermissionRequest,
			RequestID:   string(sr.ID),
			Tool:        v.ToolCall.Title,
			RawInput:    string(v.ToolCall.RawInput),
			Options:     opts,
		})
		// The supervisor answers asynchronously via SendPermissionResponse,
		// which calls Respond using this same sr.ID; nothing to do here.

	case "session/request_input":
		var v struct {
			Questions []struct {
				ID       string `json:"id"`
				Header   string `json:"header"`
				Question string `json:"question"`
				Options  []struct {
					Label string `json:"label"`
				} `json:"options"`
			} `json:"questions"`
		}
		_ = json.Unmarshal(sr.Params, &v)
		qs := make([]agent.UserInputQuestion, len(v.Questions))
		for i, q := range v.Questions {
			opts := make([]agent.PermissionOption, len(q.Options))
			for j, o := range q.Options {
				opts[j] = agent.PermissionOption{Label: o.Label}
			}
			qs[i] = agent.UserInputQuestion{ID: q.ID, Header: q.Header, Question: q.Question, Options: opts}
		}
		onUpdate(agent.StreamingUpdate{Kind: agent.UpdateUserInputRequest, RequestID: string(sr.ID), Questions: qs})
	}
}

package claude

import (
	"encoding/json"

	"github.com/corvid-labs/tendril/internal/agent"
)

// assembler accumulates a turn's streamed text/reasoning/tool-call events
// into the final Message list the supervisor persists once the turn ends.
// Per-chunk text is never persisted individually (spec §4.4); only the
// assembled result is.
type assembler struct {
	text      []byte
	reasoning []byte
	calls     map[string]*pendingToolCall
	order     []string
	usage     *agent.TokenUsage
}

type pendingToolCall struct {
	name     string
	argsJSON string
	output   string
	done     bool
}

func newAssembler() *assembler {
	return &assembler{calls: make(map[string]*pendingToolCall)}
}

func (a *assembler) appendText(s string)      { a.text = append(a.text, s...) }
func (a *assembler) appendReasoning(s string)  { a.reasoning = append(a.reasoning, s...) }

func (a *assembler) startToolCall(id, name, argsJSON string) {
	a.calls[id] = &pendingToolCall{name: name, argsJSON: argsJSON}
	a.order = append(a.order, id)
}

func (a *assembler) finishToolCall(id, output string) {
	if c, ok := a.calls[id]; ok {
		c.output = output
		c.done = true
	}
}

func (a *assembler) toolCall(id string) (*pendingToolCall, bool) {
	c, ok := a.calls[id]
	return c, ok
}

// messages renders the accumulated state into the closed Message set: at
// most one assistant text message, one reasoning-as-text message (encoded
// via AssistantMessage per the existing wire shape), and one
// AssistantMessage/UserMessage pair per completed tool call.
func (a *assembler) messages() []agent.Message {
	var out []agent.Message
	if len(a.reasoning) > 0 {
		out = append(out, &agent.AssistantMessage{
			MessageType: "assistant",
			Message: agent.APIMessage{
				Role:    "assistant",
				Content: []agent.ContentBlock{{Type: "text", Text: string(a.reasoning)}},
			},
		})
	}
	for _, id := range a.order {
		c := a.calls[id]
		input, _ := json.Marshal(json.RawMessage(c.argsJSON))
		out = append(out, &agent.AssistantMessage{
			MessageType: "assistant",
			Message: agent.APIMessage{
				Role:    "assistant",
				Content: []agent.ContentBlock{{Type: "tool_use", ID: id, Name: c.name, Input: input}},
			},
		})
		if c.done {
			resultRaw, _ := json.Marshal(c.output)
			parentID := id
			out = append(out, &agent.UserMessage{
				MessageType:     "user",
				Message:         resultRaw,
				ParentToolUseID: &parentID,
			})
		}
	}
	if len(a.text) > 0 {
		out = append(out, &agent.AssistantMessage{
			MessageType: "assistant",
			Message: agent.APIMessage{
				Role:    "assistant",
				Content: []agent.ContentBlock{{Type: "text", Text: string(a.text)}},
			},
		})
	}
	return out
}

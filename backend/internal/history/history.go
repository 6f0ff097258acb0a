// Package history formats a task's persisted message log into the plain-text
// block injected back into an agent's context on reconnection, and compacts
// that block to fit a byte budget when the full log is too large.
package history

import (
	"fmt"
	"strings"
)

// Kind discriminates a persisted message's role for formatting purposes.
type Kind string

const (
	KindUser       Kind = "user_message"
	KindAssistant  Kind = "assistant_message"
	KindReasoning  Kind = "reasoning_message"
	KindToolCall   Kind = "tool_call_message"
	KindToolReturn Kind = "tool_return_message"
)

// Message is the subset of a persisted message row the formatter needs.
// Unknown Kind values are skipped rather than erroring, so new message
// kinds can be added to the store without breaking history replay.
type Message struct {
	Kind          Kind
	Content       string
	Reasoning     string
	ToolName      string
	ToolArguments string
	ToolReturn    string
}

const (
	reasoningLimit  = 500
	argumentsLimit  = 1000
	toolReturnLimit = 2000
)

// Format renders messages as the plain-text block an agent session is
// re-prompted with. originalPrompt, if non-empty, is prefixed as the task's
// original instruction.
func Format(messages []Message, originalPrompt string) string {
	var b strings.Builder
	writeHeader(&b, originalPrompt)
	writeMessages(&b, messages)
	b.WriteString("---\n\n")
	return b.String()
}

func writeHeader(b *strings.Builder, originalPrompt string) {
	if originalPrompt != "" {
		b.WriteString("[Original Task]\n")
		b.WriteString(originalPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString("[Previous Conversation]\n\n")
}

func writeMessages(b *strings.Builder, messages []Message) {
	for _, m := range messages {
		switch m.Kind {
		case KindUser:
			if m.Content != "" {
				b.WriteString("User: ")
				b.WriteString(m.Content)
				b.WriteString("\n\n")
			}
		case KindAssistant:
			if m.Content != "" {
				b.WriteString("Assistant: ")
				b.WriteString(m.Content)
				b.WriteString("\n\n")
			}
		case KindReasoning:
			if m.Reasoning != "" {
				b.WriteString("[Reasoning] ")
				b.WriteString(truncateRunes(m.Reasoning, reasoningLimit))
				b.WriteString("\n\n")
			}
		case KindToolCall:
			if m.ToolName != "" {
				fmt.Fprintf(b, "[Tool Call: %s]\n", m.ToolName)
				if m.ToolArguments != "" {
					b.WriteString("Arguments: ")
					b.WriteString(truncateRunes(m.ToolArguments, argumentsLimit))
					b.WriteString("\n")
				}
				b.WriteString("\n")
			}
		case KindToolReturn:
			if m.ToolReturn != "" {
				b.WriteString("[Tool Result]\n")
				b.WriteString(truncateRunes(m.ToolReturn, toolReturnLimit))
				b.WriteString("\n\n")
			}
		}
	}
}

// truncateRunes returns s unchanged if it has at most limit runes, otherwise
// the first limit runes plus "...". Truncation is rune-aware so a multi-byte
// code point is never split.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Compact formats messages within maxBytes. If the full formatted history
// already fits, it is returned unchanged with truncated=false. Otherwise the
// older half of messages is collapsed into a one-line summary, the newer
// half is formatted in full, and if the result still exceeds the budget its
// head is dropped (on a rune boundary) with a "...[truncated]..." marker.
func Compact(messages []Message, originalPrompt string, maxBytes int) (out string, truncated bool) {
	full := Format(messages, originalPrompt)
	if len(full) <= maxBytes {
		return full, false
	}

	var b strings.Builder
	if originalPrompt != "" {
		b.WriteString("[Original Task]\n")
		b.WriteString(originalPrompt)
		b.WriteString("\n\n")
	}

	available := maxBytes - b.Len() - 100 // reserve for the summary header
	if available < 0 {
		available = 0
	}

	split := len(messages) / 2
	older, newer := messages[:split], messages[split:]

	if len(older) > 0 {
		b.WriteString(summarize(older))
	}

	b.WriteString("[Recent Conversation]\n\n")
	newerBody := Format(newer, "")
	// Format always wraps in "[Previous Conversation]\n\n" ... "---\n\n"; strip
	// that wrapper since the caller supplies its own section headers here.
	newerBody = strings.TrimPrefix(newerBody, "[Previous Conversation]\n\n")
	newerBody = strings.TrimSuffix(newerBody, "---\n\n")

	if b.Len()+len(newerBody) > available {
		remaining := available - b.Len()
		if remaining > 0 && len(newerBody) > remaining {
			start := firstRuneBoundaryAtOrAfter(newerBody, len(newerBody)-remaining)
			b.WriteString("...[truncated]...\n\n")
			b.WriteString(newerBody[start:])
		} else if remaining > 0 {
			b.WriteString(newerBody)
		}
	} else {
		b.WriteString(newerBody)
	}

	b.WriteString("---\n\n")
	return b.String(), true
}

func summarize(older []Message) string {
	var users, assistants, toolCalls int
	for _, m := range older {
		switch m.Kind {
		case KindUser:
			users++
		case KindAssistant:
			assistants++
		case KindToolCall:
			toolCalls++
		}
	}
	return fmt.Sprintf(
		"[Earlier conversation summary: %d user messages, %d assistant responses, %d tool calls]\n\n",
		users, assistants, toolCalls,
	)
}

// firstRuneBoundaryAtOrAfter returns the smallest index >= at that does not
// split a UTF-8 rune.
func firstRuneBoundaryAtOrAfter(s string, at int) int {
	if at < 0 {
		return 0
	}
	if at >= len(s) {
		return len(s)
	}
	for at < len(s) && isUTF8Continuation(s[at]) {
		at++
	}
	return at
}

func isUTF8Continuation(b byte) bool { return b&0xC0 == 0x80 }

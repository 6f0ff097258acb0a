package history

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func sampleMessages(n int) []Message {
	msgs := make([]Message, 0, n*2)
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			Message{Kind: KindUser, Content: "do thing number " + strings.Repeat("x", 20)},
			Message{Kind: KindAssistant, Content: "did thing " + strings.Repeat("y", 20)},
		)
	}
	return msgs
}

func TestFormatSkipsUnknownKind(t *testing.T) {
	out := Format([]Message{{Kind: "future_kind", Content: "should not appear"}}, "")
	if strings.Contains(out, "should not appear") {
		t.Error("Format rendered an unknown message kind")
	}
}

func TestFormatIncludesOriginalPrompt(t *testing.T) {
	out := Format(nil, "fix the bug")
	if !strings.Contains(out, "[Original Task]\nfix the bug") {
		t.Errorf("Format output missing original task header: %q", out)
	}
}

func TestFormatReasoningTruncatesAtRuneLimit(t *testing.T) {
	longReasoning := strings.Repeat("a", reasoningLimit+50)
	out := Format([]Message{{Kind: KindReasoning, Reasoning: longReasoning}}, "")
	if !strings.Contains(out, strings.Repeat("a", reasoningLimit)+"...") {
		t.Error("reasoning was not truncated to the expected limit")
	}
	if strings.Contains(out, strings.Repeat("a", reasoningLimit+1)) {
		t.Error("reasoning truncation let through more than the limit")
	}
}

func TestFormatToolCallAndResult(t *testing.T) {
	out := Format([]Message{
		{Kind: KindToolCall, ToolName: "grep", ToolArguments: `{"pattern":"foo"}`},
		{Kind: KindToolReturn, ToolReturn: "match found"},
	}, "")
	if !strings.Contains(out, "[Tool Call: grep]") {
		t.Error("missing tool call header")
	}
	if !strings.Contains(out, `Arguments: {"pattern":"foo"}`) {
		t.Error("missing tool call arguments")
	}
	if !strings.Contains(out, "[Tool Result]\nmatch found") {
		t.Error("missing tool result block")
	}
}

func TestCompactIdempotentWhenAlreadyFits(t *testing.T) {
	msgs := sampleMessages(2)
	full := Format(msgs, "")
	out, truncated := Compact(msgs, "", len(full)+100)
	if truncated {
		t.Error("truncated = true for input that already fits")
	}
	if out != full {
		t.Errorf("Compact changed output when it should pass through unchanged:\ngot:  %q\nwant: %q", out, full)
	}
}

func TestCompactRespectsLengthBound(t *testing.T) {
	msgs := sampleMessages(200)
	for _, budget := range []int{512, 1024, 4096, 16384} {
		out, truncated := Compact(msgs, "original prompt text", budget)
		if !truncated {
			t.Fatalf("budget %d: expected truncation for a large history", budget)
		}
		if len(out) > budget+256 {
			t.Errorf("budget %d: len(out) = %d, want <= %d", budget, len(out), budget+256)
		}
	}
}

func TestCompactSummarizesOlderHalf(t *testing.T) {
	msgs := sampleMessages(200)
	out, truncated := Compact(msgs, "", 2048)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.Contains(out, "[Earlier conversation summary:") {
		t.Error("missing older-half summary header")
	}
	if !strings.Contains(out, "[Recent Conversation]") {
		t.Error("missing recent conversation header")
	}
}

func TestCompactTruncationMarkerOnRuneBoundary(t *testing.T) {
	msgs := []Message{{Kind: KindAssistant, Content: strings.Repeat("é", 2000)}}
	out, truncated := Compact(msgs, "", 600)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !utf8.ValidString(out) {
		t.Error("Compact produced invalid UTF-8, a multi-byte rune was split")
	}
}

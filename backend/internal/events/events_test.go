package events

import (
	"context"
	"testing"
	"time"

	"github.com/corvid-labs/tendril/internal/agent"
)

func TestStructuralEventsDeliverImmediately(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(context.Background(), "t1")
	defer unsub()

	b.Publish(Event{Kind: StatusUpdate, TaskID: "t1", Text: "running", State: "running"})

	select {
	case ev := <-ch:
		if ev.Kind != StatusUpdate || ev.Text != "running" {
			t.Errorf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("structural event was not delivered")
	}
}

func TestTextChunkStreamingIsThrottled(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(context.Background(), "t1")
	defer unsub()

	for i := 0; i < 20; i++ {
		b.Publish(Event{
			Kind:      ChatLogStreaming,
			TaskID:    "t1",
			Streaming: agent.TextChunk("chunk", "item1"),
		})
	}

	// The first chunk emits immediately; collect everything else that
	// arrives over the next ~300ms and confirm it's far fewer than 20.
	received := 1
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected the first chunk to emit immediately")
	}

drain:
	for {
		select {
		case <-ch:
			received++
		case <-time.After(250 * time.Millisecond):
			break drain
		}
	}

	if received >= 20 {
		t.Errorf("throttling had no effect: received %d of 20 publishes", received)
	}
}

func TestStructuralEventBypassesStreamingThrottle(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(context.Background(), "t1")
	defer unsub()

	b.Publish(Event{Kind: ChatLogStreaming, TaskID: "t1", Streaming: agent.TextChunk("a", "i1")})
	b.Publish(Event{Kind: ChatLogStreaming, TaskID: "t1", Streaming: agent.ToolCall("grep", `{}`)})

	first := <-ch
	second := <-ch
	if first.Streaming.Kind != agent.UpdateTextChunk {
		t.Errorf("first event kind = %v", first.Streaming.Kind)
	}
	if second.Streaming.Kind != agent.UpdateToolCall {
		t.Errorf("structural tool-call frame was throttled behind the text chunk")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(context.Background(), "t1")
	unsub()

	b.Publish(Event{Kind: StatusUpdate, TaskID: "t1", Text: "late"})

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsub")
	}
}

func TestContextCancelAutoUnsubscribes(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "t1")
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Error("expected channel closed after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not close the subscriber channel in time")
	}
}

func TestCloseReleasesAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, _ := b.Subscribe(context.Background(), "t1")
	ch2, _ := b.Subscribe(context.Background(), "t1")

	b.Close("t1")

	for _, ch := range []<-chan Event{ch1, ch2} {
		if _, open := <-ch; open {
			t.Error("expected channel closed after Bus.Close")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(context.Background(), "t1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Event{Kind: StatusUpdate, TaskID: "t1", Text: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a subscriber that never reads its channel")
	}
	_ = ch
}

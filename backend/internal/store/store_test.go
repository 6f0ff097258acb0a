package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvid-labs/tendril/internal/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tendril.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := Task{ID: "t1", AgentID: "claude", Model: "opus", Prompt: "do thing", ProjectPath: "/repo", Status: "provisioning"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.ID != "t1" || got.AgentID != "claude" || got.Status != "provisioning" {
		t.Errorf("GetTask returned %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("GetTask returned zero timestamps")
	}
}

func TestUpdateStatusAdvancesUpdatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, Task{ID: "t1", AgentID: "claude", Model: "opus", Status: "provisioning"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	before, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := s.UpdateStatus(ctx, "t1", "running"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	after, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if after.Status != "running" {
		t.Errorf("Status = %q, want running", after.Status)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("UpdateStatus did not advance updated_at")
	}
}

func TestListTasksOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateTask(ctx, Task{ID: id, AgentID: "claude", Model: "opus", Status: "ready"}); err != nil {
			t.Fatalf("CreateTask(%s): %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 || tasks[0].ID != "c" || tasks[2].ID != "a" {
		t.Errorf("ListTasks order = %v, want [c b a]", ids(tasks))
	}
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestDeleteTaskCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, Task{ID: "t1", AgentID: "claude", Model: "opus", Status: "ready"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	msgID, err := s.AppendMessage(ctx, Message{TaskID: "t1", Kind: history.KindUser, Content: "hi"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.ConsumePendingAttachment(ctx, "", msgID); err == nil {
		t.Fatal("expected error consuming a nonexistent pending attachment")
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected cascade delete of messages, got %d", len(msgs))
	}
}

func TestMessagesPreserveInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateTask(ctx, Task{ID: "t1", AgentID: "claude", Model: "opus", Status: "ready"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	kinds := []history.Kind{history.KindUser, history.KindAssistant, history.KindToolCall, history.KindToolReturn}
	for i, k := range kinds {
		if _, err := s.AppendMessage(ctx, Message{TaskID: "t1", Kind: k, Content: "msg"}); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != len(kinds) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(kinds))
	}
	for i, m := range msgs {
		if m.Kind != kinds[i] {
			t.Errorf("message %d kind = %s, want %s", i, m.Kind, kinds[i])
		}
		if i > 0 && m.ID <= msgs[i-1].ID {
			t.Errorf("message %d id %d did not increase from previous %d", i, m.ID, msgs[i-1].ID)
		}
	}
}

func TestConsumePendingAttachmentExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateTask(ctx, Task{ID: "t1", AgentID: "claude", Model: "opus", Status: "ready"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.AddPendingAttachment(ctx, Attachment{ID: "p1", TaskID: "t1", FileName: "x.png", RelativePath: "uploads/x.png", ByteSize: 10}); err != nil {
		t.Fatalf("AddPendingAttachment: %v", err)
	}
	msgID, err := s.AppendMessage(ctx, Message{TaskID: "t1", Kind: history.KindUser, Content: "see attached"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if _, err := s.ConsumePendingAttachment(ctx, "p1", msgID); err != nil {
		t.Fatalf("first ConsumePendingAttachment: %v", err)
	}
	if _, err := s.ConsumePendingAttachment(ctx, "p1", msgID); err == nil {
		t.Fatal("second ConsumePendingAttachment should fail, attachment already consumed")
	}

	pending, err := s.ListPendingAttachments(ctx, "t1")
	if err != nil {
		t.Fatalf("ListPendingAttachments: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending attachments left, got %d", len(pending))
	}

	bound, err := s.ListMessageAttachments(ctx, msgID)
	if err != nil {
		t.Fatalf("ListMessageAttachments: %v", err)
	}
	if len(bound) != 1 || bound[0].ID != "p1" {
		t.Errorf("ListMessageAttachments = %+v, want one entry with id p1", bound)
	}
}

func TestReplaceCachedModelsIsAtomicSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceCachedModels(ctx, "claude", []CacheEntry{
		{AgentID: "claude", Value: "opus", Name: "Opus"},
		{AgentID: "claude", Value: "sonnet", Name: "Sonnet"},
	}); err != nil {
		t.Fatalf("ReplaceCachedModels: %v", err)
	}
	models, err := s.CachedModels(ctx, "claude")
	if err != nil {
		t.Fatalf("CachedModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}

	if err := s.ReplaceCachedModels(ctx, "claude", []CacheEntry{{AgentID: "claude", Value: "haiku", Name: "Haiku"}}); err != nil {
		t.Fatalf("ReplaceCachedModels 2nd call: %v", err)
	}
	models, err = s.CachedModels(ctx, "claude")
	if err != nil {
		t.Fatalf("CachedModels: %v", err)
	}
	if len(models) != 1 || models[0].Value != "haiku" {
		t.Errorf("CachedModels after replace = %+v, want only haiku", models)
	}
}

func TestAnalyticsSnapshotGetSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.AnalyticsSnapshot(ctx, "claude"); err != nil || ok {
		t.Fatalf("AnalyticsSnapshot before set: ok=%v err=%v", ok, err)
	}
	if err := s.SetAnalyticsSnapshot(ctx, "claude", `{"turns":1}`); err != nil {
		t.Fatalf("SetAnalyticsSnapshot: %v", err)
	}
	snap, ok, err := s.AnalyticsSnapshot(ctx, "claude")
	if err != nil || !ok || snap != `{"turns":1}` {
		t.Errorf("AnalyticsSnapshot = %q, %v, %v", snap, ok, err)
	}
	if err := s.SetAnalyticsSnapshot(ctx, "claude", `{"turns":2}`); err != nil {
		t.Fatalf("SetAnalyticsSnapshot update: %v", err)
	}
	snap, _, _ = s.AnalyticsSnapshot(ctx, "claude")
	if snap != `{"turns":2}` {
		t.Errorf("AnalyticsSnapshot after update = %q, want turns:2", snap)
	}
}

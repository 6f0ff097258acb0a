package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/agentconfig"
	"github.com/corvid-labs/tendril/internal/cancel"
	"github.com/corvid-labs/tendril/internal/container"
	"github.com/corvid-labs/tendril/internal/events"
	"github.com/corvid-labs/tendril/internal/store"
)

// fakeSession is a scriptable agent.Session test double.
type fakeSession struct {
	sessionID   string
	turnResult  agent.TurnResult
	turnErr     error
	turnCalls   int
	closed      bool
	supportsLoad bool
	answers     map[string]agent.UserInputAnswer
}

func (f *fakeSession) Initialize(ctx context.Context, info agent.ClientInfo) error { return nil }
func (f *fakeSession) SupportsLoadSession() bool                                  { return f.supportsLoad }
func (f *fakeSession) SessionNew(ctx context.Context, cwd string) (agent.SessionInfo, error) {
	return agent.SessionInfo{SessionID: f.sessionID}, nil
}
func (f *fakeSession) SessionLoad(ctx context.Context, sessionID, cwd string) (agent.SessionInfo, error) {
	return agent.SessionInfo{SessionID: sessionID, Restored: true}, nil
}
func (f *fakeSession) SessionSetMode(ctx context.Context, sessionID, mode string) error   { return nil }
func (f *fakeSession) SessionSetModel(ctx context.Context, sessionID, model string) error { return nil }
func (f *fakeSession) Turn(ctx context.Context, sessionID string, p agent.Prompt, tok cancel.Token, onUpdate func(agent.StreamingUpdate)) (agent.TurnResult, error) {
	f.turnCalls++
	return f.turnResult, f.turnErr
}
func (f *fakeSession) FetchModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeSession) FetchModes(ctx context.Context) ([]string, error)  { return nil, nil }
func (f *fakeSession) SendPermissionResponse(ctx context.Context, sessionID, requestID, decision string) error {
	return nil
}
func (f *fakeSession) SendUserInputResponse(ctx context.Context, requestID string, answers map[string]agent.UserInputAnswer) error {
	f.answers = answers
	return nil
}
func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// fakeBackend hands out a fixed session on every Spawn.
type fakeBackend struct {
	session *fakeSession
	spawned int
}

func (b *fakeBackend) Harness() agent.Harness   { return agent.Claude }
func (b *fakeBackend) Models() []string         { return nil }
func (b *fakeBackend) SupportsImages() bool     { return true }
func (b *fakeBackend) Spawn(ctx context.Context, opts agent.SpawnOptions) (agent.Session, error) {
	b.spawned++
	return b.session, nil
}

// fakeOps is a scriptable container.Ops test double.
type fakeOps struct {
	startName string
	diffOut   string
	killed    []string
}

func (f *fakeOps) Start(ctx context.Context, dir string, labels []string) (string, error) {
	return f.startName, nil
}
func (f *fakeOps) Diff(ctx context.Context, dir string, args ...string) (string, error) {
	return f.diffOut, nil
}
func (f *fakeOps) Pull(ctx context.Context, dir string) error { return nil }
func (f *fakeOps) Push(ctx context.Context, dir string) error { return nil }
func (f *fakeOps) Kill(ctx context.Context, dir string) error {
	f.killed = append(f.killed, dir)
	return nil
}

func testCatalog() *agentconfig.Catalog {
	return &agentconfig.Catalog{
		Agents: []agentconfig.Agent{
			{ID: "claude", Command: "claude-code-acp", DefaultPlan: "claude-sonnet-4-6"},
		},
	}
}

func newTestSupervisor(t *testing.T, backend agent.Backend, ops *fakeOps) *Supervisor {
	t.Helper()
	st, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Shutdown(context.Background()) })

	bus := events.NewBus()
	backends := map[string]agent.Backend{"claude": backend}
	var containerOps container.Ops
	if ops != nil {
		containerOps = ops
	}
	return NewSupervisor(st, bus, testCatalog(), containerOps, backends, agent.ClientInfo{Name: "test", Version: "0"})
}

func waitForStatus(t *testing.T, sup *Supervisor, taskID string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := sup.Snapshot(taskID)
		if ok && snap.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := sup.Snapshot(taskID)
	t.Fatalf("status = %q, want %q (timed out)", snap.Status, want)
}

func TestSupervisorCreateAndStart(t *testing.T) {
	fs := &fakeSession{sessionID: "sess-1", turnResult: agent.TurnResult{
		Usage: &agent.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, ContextWindow: 1000},
	}}
	backend := &fakeBackend{session: fs}
	sup := newTestSupervisor(t, backend, nil)

	tk, err := sup.Create(t.Context(), "claude", "", "do the thing", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ID == "" {
		t.Fatal("expected non-empty task id")
	}

	if err := sup.Start(t.Context(), tk.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, sup, tk.ID, StatusCompleted)

	snap, _ := sup.Snapshot(tk.ID)
	if snap.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", snap.TotalTokens)
	}
	if snap.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want > 0", snap.CostUSD)
	}
	if fs.turnCalls != 1 {
		t.Errorf("turnCalls = %d, want 1", fs.turnCalls)
	}
}

func TestSupervisorSendUnknownTask(t *testing.T) {
	sup := newTestSupervisor(t, &fakeBackend{session: &fakeSession{}}, nil)
	if err := sup.Send(t.Context(), "nope", "hi", nil); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestSupervisorTurnError(t *testing.T) {
	fs := &fakeSession{turnErr: errors.New("boom")}
	sup := newTestSupervisor(t, &fakeBackend{session: fs}, nil)

	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sup.Start(t.Context(), tk.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, sup, tk.ID, StatusError)
}

func TestSupervisorSoftStop(t *testing.T) {
	fs := &fakeSession{turnResult: agent.TurnResult{}}
	sup := newTestSupervisor(t, &fakeBackend{session: fs}, nil)

	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sup.SoftStop(tk.ID); err != nil {
		t.Fatalf("SoftStop: %v", err)
	}
}

func TestSupervisorHardStopAndDelete(t *testing.T) {
	fs := &fakeSession{}
	ops := &fakeOps{startName: "tendril-0-abc"}
	sup := newTestSupervisor(t, &fakeBackend{session: fs}, ops)

	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sup.HardStop(t.Context(), tk.ID); err != nil {
		t.Fatalf("HardStop: %v", err)
	}
	if !fs.closed {
		t.Error("expected session to be closed")
	}
	snap, _ := sup.Snapshot(tk.ID)
	if snap.Status != StatusStopped {
		t.Errorf("status = %q, want %q", snap.Status, StatusStopped)
	}

	if err := sup.Delete(t.Context(), tk.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := sup.Snapshot(tk.ID); ok {
		t.Fatal("expected task to be gone after Delete")
	}
}

func TestSupervisorSetTitle(t *testing.T) {
	sup := newTestSupervisor(t, &fakeBackend{session: &fakeSession{}}, nil)
	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sup.SetTitle(t.Context(), tk.ID, "Fix the thing"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	snap, _ := sup.Snapshot(tk.ID)
	if snap.Title != "Fix the thing" {
		t.Errorf("Title = %q, want %q", snap.Title, "Fix the thing")
	}
}

func TestSupervisorProvisionAndDiff(t *testing.T) {
	ops := &fakeOps{startName: "md-myproj-tendril-abc", diffOut: "1\t2\tmain.go\n"}
	sup := newTestSupervisor(t, &fakeBackend{session: &fakeSession{}}, ops)
	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/home/user/myproj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sup.Provision(t.Context(), tk.ID, []string{"tendril.task=" + tk.ID}); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	snap, _ := sup.Snapshot(tk.ID)
	if snap.Branch == "" {
		t.Error("expected a derived branch name after Provision")
	}

	stat, err := sup.Diff(t.Context(), tk.ID)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(stat) != 1 || stat[0].Path != "main.go" {
		t.Errorf("Diff = %+v, want one entry for main.go", stat)
	}
}

func TestSupervisorAnswerUserInput(t *testing.T) {
	fs := &fakeSession{}
	sup := newTestSupervisor(t, &fakeBackend{session: fs}, nil)
	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sup.AnswerUserInput(t.Context(), tk.ID, "req-1", map[string][]string{"q": {"yes"}}); err != nil {
		t.Fatalf("AnswerUserInput: %v", err)
	}
	if fs.answers["q"].Answers[0] != "yes" {
		t.Errorf("answers = %+v, want q=yes", fs.answers)
	}
}

func TestSupervisorRestore(t *testing.T) {
	fs := &fakeSession{}
	sup := newTestSupervisor(t, &fakeBackend{session: fs}, nil)
	tk, err := sup.Create(t.Context(), "claude", "", "hi", "/tmp/proj")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sup2 := NewSupervisor(sup.store, events.NewBus(), testCatalog(), nil, map[string]agent.Backend{"claude": &fakeBackend{session: fs}}, agent.ClientInfo{})
	if err := sup2.Restore(t.Context()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap, ok := sup2.Snapshot(tk.ID)
	if !ok {
		t.Fatal("expected restored task to be present")
	}
	if snap.ID != tk.ID {
		t.Errorf("ID = %q, want %q", snap.ID, tk.ID)
	}
}

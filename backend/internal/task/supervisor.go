package task

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/agentconfig"
	"github.com/corvid-labs/tendril/internal/cancel"
	"github.com/corvid-labs/tendril/internal/container"
	"github.com/corvid-labs/tendril/internal/events"
	"github.com/corvid-labs/tendril/internal/history"
	"github.com/corvid-labs/tendril/internal/pricing"
	"github.com/corvid-labs/tendril/internal/store"
	"github.com/corvid-labs/tendril/internal/taskerr"
	"github.com/google/uuid"
)

// MaxReconnectAttempts bounds automatic retry on a recoverable child exit:
// it counts every attempt of a turn, the initial one plus one
// reconnect-and-resubmit retry.
const MaxReconnectAttempts = 2

// historyBudgetChars is the character budget history.Compact is given when
// injecting replayed context into a freshly reconnected session.
const historyBudgetChars = 100_000

// Supervisor owns every task's session lifecycle: creation, turn exclusion,
// reconnection, retry, and teardown. All session access for a task goes
// through that task's lock, itself reached only while holding the registry
// lock briefly to look the task up.
type Supervisor struct {
	store    *store.Store
	bus      *events.Bus
	catalog  *agentconfig.Catalog
	ops      container.Ops
	client   agent.ClientInfo
	backends map[string]agent.Backend // keyed by agentconfig.Agent.ID

	mu      sync.Mutex
	tasks   map[string]*Task
	running map[string]struct{} // duplicate-start guard
}

// NewSupervisor constructs a Supervisor. backends maps an agentconfig.Agent
// ID to the agent.Backend that spawns its child process.
func NewSupervisor(s *store.Store, bus *events.Bus, catalog *agentconfig.Catalog, ops container.Ops, backends map[string]agent.Backend, client agent.ClientInfo) *Supervisor {
	return &Supervisor{
		store:    s,
		bus:      bus,
		catalog:  catalog,
		ops:      ops,
		client:   client,
		backends: backends,
		tasks:    make(map[string]*Task),
		running:  make(map[string]struct{}),
	}
}

// Restore rehydrates in-memory Task handles for every task in the store,
// e.g. at process startup. Restored tasks have no live session; the next
// Send triggers the reconnection policy.
func (sup *Supervisor) Restore(ctx context.Context) error {
	rows, err := sup.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: restore: %w", err)
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for _, row := range rows {
		t := newTask(row.ID, row.AgentID, row.Model, row.Prompt, row.ProjectPath)
		t.status = Status(row.Status)
		t.branch = row.Branch
		t.worktreePath = row.WorktreePath
		t.agentSessionID = row.AgentSessionID
		t.costUSD = row.CostUSD
		t.totalTokens = row.TotalTokens
		t.contextWindow = row.ContextWindow
		t.title = row.TitleSummary
		sup.tasks[row.ID] = t
	}
	return nil
}

func (sup *Supervisor) lookup(id string) (*Task, bool) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	t, ok := sup.tasks[id]
	return t, ok
}

// Create allocates a task id, spawns its adapter, establishes a fresh agent
// session, persists the row, and enqueues the first prompt for Start.
func (sup *Supervisor) Create(ctx context.Context, agentID, model, prompt, projectPath string) (*Task, error) {
	agentCfg, ok := sup.catalog.Find(agentID)
	if !ok {
		return nil, taskerr.New(taskerr.Validation, "unknown agent id "+agentID, nil)
	}
	backend, ok := sup.backends[agentID]
	if !ok {
		return nil, taskerr.New(taskerr.Internal, "no backend wired for agent "+agentID, nil)
	}
	if model == "" {
		model = agentCfg.DefaultPlan
	}

	id := uuid.NewString()
	t := newTask(id, agentID, model, prompt, projectPath)
	t.pendingPrompt = prompt

	session, err := backend.Spawn(ctx, agent.SpawnOptions{Dir: projectPath, Model: model})
	if err != nil {
		return nil, taskerr.New(taskerr.Internal, "spawn agent", err)
	}
	if err := session.Initialize(ctx, sup.client); err != nil {
		_ = session.Close()
		return nil, taskerr.New(taskerr.RPCError, "initialize", err)
	}
	info, err := session.SessionNew(ctx, projectPath)
	if err != nil {
		_ = session.Close()
		return nil, taskerr.New(taskerr.RPCError, "session_new", err)
	}
	if model != "" {
		_ = session.SessionSetModel(ctx, info.SessionID, model)
	}

	t.session = session
	t.agentSessionID = info.SessionID
	t.status = StatusReady

	if err := sup.store.CreateTask(ctx, store.Task{
		ID: id, AgentID: agentID, Model: model, Prompt: prompt, ProjectPath: projectPath,
		Status: string(StatusReady),
	}); err != nil {
		_ = session.Close()
		return nil, taskerr.New(taskerr.Internal, "persist task", err)
	}
	if err := sup.store.UpdateAgentSession(ctx, id, info.SessionID); err != nil {
		slog.Warn("supervisor: persist initial agent session id", "task", id, "err", err)
	}

	sup.mu.Lock()
	sup.tasks[id] = t
	sup.mu.Unlock()

	sup.bus.Publish(events.Event{Kind: events.AddTask, TaskID: id})
	return t, nil
}

// Start runs the task's first turn using its pending prompt. It returns
// immediately; the turn runs on a background goroutine, consistent with the
// duplicate-start guard semantics used for Send.
func (sup *Supervisor) Start(ctx context.Context, taskID string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	t.mu.Lock()
	prompt := t.pendingPrompt
	attachments := t.pendingAttachments
	t.pendingPrompt = ""
	t.pendingAttachments = nil
	t.mu.Unlock()
	return sup.send(ctx, t, prompt, attachments)
}

// Send submits a new turn for an existing task.
func (sup *Supervisor) Send(ctx context.Context, taskID, prompt string, attachments []PendingAttachmentRef) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	return sup.send(ctx, t, prompt, attachments)
}

func (sup *Supervisor) send(ctx context.Context, t *Task, prompt string, attachments []PendingAttachmentRef) error {
	sup.mu.Lock()
	if _, running := sup.running[t.ID]; running {
		sup.mu.Unlock()
		return nil // duplicate-start guard: already in flight, succeed with no work
	}
	sup.running[t.ID] = struct{}{}
	sup.mu.Unlock()

	go func() {
		defer func() {
			sup.mu.Lock()
			delete(sup.running, t.ID)
			sup.mu.Unlock()
		}()
		sup.runTurn(context.Background(), t, prompt, attachments)
	}()
	return nil
}

// runTurn executes one logical turn to completion, including reconnection
// and recoverable-exit retry. It owns t's per-task lock for its duration,
// enforcing turn exclusion.
func (sup *Supervisor) runTurn(ctx context.Context, t *Task, prompt string, attachments []PendingAttachmentRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = StatusRunning
	sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: t.ID, Text: "running", State: string(StatusRunning)})

	// Persist the user message (and its attachments) before invoking the
	// adapter, so history stays consistent even if the child crashes
	// mid-turn.
	msgID, err := sup.store.AppendMessage(ctx, store.Message{TaskID: t.ID, Kind: history.KindUser, Content: prompt})
	if err != nil {
		slog.Error("supervisor: persist user message", "task", t.ID, "err", err)
	}
	for _, a := range attachments {
		if _, err := sup.store.ConsumePendingAttachment(ctx, a.ID, msgID); err != nil {
			slog.Warn("supervisor: consume pending attachment", "task", t.ID, "attachment", a.ID, "err", err)
		}
	}

	tok := cancel.New()
	t.cancel = tok

	var result agent.TurnResult
	var turnErr error
	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		if t.session == nil {
			if err := sup.reconnect(ctx, t); err != nil {
				turnErr = err
				break
			}
		}

		asm := newAssembler(sup, t)
		result, turnErr = t.session.Turn(ctx, t.agentSessionID, agent.Prompt{Text: prompt}, tok, asm.onUpdate)
		asm.finish(ctx)
		if turnErr == nil {
			break
		}
		if !taskerr.IsRecoverableExit(turnErr.Error()) || attempt >= MaxReconnectAttempts {
			break
		}
		sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: t.ID, Text: "reconnecting", State: "reconnecting"})
		_ = t.session.Close()
		t.session = nil
	}

	sup.complete(ctx, t, result, turnErr, tok)
}

// reconnect implements the reconnection policy: attempt a native
// session_load, falling back to session_new plus compacted history
// injection.
func (sup *Supervisor) reconnect(ctx context.Context, t *Task) error {
	if _, ok := sup.catalog.Find(t.AgentID); !ok {
		return taskerr.New(taskerr.Validation, "unknown agent id "+t.AgentID, nil)
	}
	backend, ok := sup.backends[t.AgentID]
	if !ok {
		return taskerr.New(taskerr.Internal, "no backend wired for agent "+t.AgentID, nil)
	}

	session, err := backend.Spawn(ctx, agent.SpawnOptions{Dir: t.ProjectPath, Model: t.Model})
	if err != nil {
		return taskerr.New(taskerr.Internal, "reconnect spawn", err)
	}
	if err := session.Initialize(ctx, sup.client); err != nil {
		_ = session.Close()
		return taskerr.New(taskerr.RPCError, "reconnect initialize", err)
	}

	usedSessionLoad := false
	if session.SupportsLoadSession() && t.agentSessionID != "" {
		if info, err := session.SessionLoad(ctx, t.agentSessionID, t.ProjectPath); err == nil {
			t.agentSessionID = info.SessionID
			usedSessionLoad = true
		}
	}

	if !usedSessionLoad {
		info, err := session.SessionNew(ctx, t.ProjectPath)
		if err != nil {
			_ = session.Close()
			return taskerr.New(taskerr.RPCError, "reconnect session_new", err)
		}
		t.agentSessionID = info.SessionID
		if t.Model != "" {
			_ = session.SessionSetModel(ctx, t.agentSessionID, t.Model)
		}

		messages, err := sup.store.ListMessages(ctx, t.ID)
		if err != nil {
			slog.Warn("supervisor: load history for injection", "task", t.ID, "err", err)
		} else if len(messages) > 0 {
			compacted, _ := history.Compact(store.ToHistory(messages), t.Prompt, historyBudgetChars)
			_, err := session.Turn(ctx, t.agentSessionID, agent.Prompt{Text: compacted}, cancel.New(), func(agent.StreamingUpdate) {})
			if err != nil {
				slog.Warn("supervisor: history injection turn failed", "task", t.ID, "err", err)
			}
		}
	}

	t.session = session
	if err := sup.store.UpdateAgentSession(ctx, t.ID, t.agentSessionID); err != nil {
		slog.Warn("supervisor: persist reconnected agent session id", "task", t.ID, "err", err)
	}
	return nil
}

// complete finalizes a turn: status, cost, token usage, and the
// GenerationStopped/error classification paths.
func (sup *Supervisor) complete(ctx context.Context, t *Task, result agent.TurnResult, turnErr error, tok cancel.Token) {
	if result.Usage != nil {
		t.totalTokens = int64(result.Usage.TotalTokens)
		t.contextWindow = int64(result.Usage.ContextWindow)
		cost := pricing.Cost(t.Model, int64(result.Usage.InputTokens), int64(result.Usage.OutputTokens))
		t.costUSD += cost
		if err := sup.store.UpdateTokenUsage(ctx, t.ID, t.totalTokens, t.contextWindow); err != nil {
			slog.Warn("supervisor: persist token usage", "task", t.ID, "err", err)
		}
		if err := sup.store.UpdateCost(ctx, t.ID, t.costUSD); err != nil {
			slog.Warn("supervisor: persist cost", "task", t.ID, "err", err)
		}
		sup.bus.Publish(events.Event{Kind: events.TokenUsageUpdate, TaskID: t.ID, Usage: events.TokenUsage{
			InputTokens: int64(result.Usage.InputTokens), OutputTokens: int64(result.Usage.OutputTokens),
			TotalTokens: t.totalTokens, ContextWindow: t.contextWindow, CumulativeTotal: t.totalTokens,
		}})
		sup.bus.Publish(events.Event{Kind: events.CostUpdate, TaskID: t.ID, CostUSD: t.costUSD})
	}

	if result.SessionID != "" && result.SessionID != t.agentSessionID {
		t.agentSessionID = result.SessionID
		if err := sup.store.UpdateAgentSession(ctx, t.ID, result.SessionID); err != nil {
			slog.Warn("supervisor: persist updated agent session id", "task", t.ID, "err", err)
		}
	}

	switch {
	case tok.IsCancelled():
		t.status = StatusReady
		if err := sup.store.UpdateStatus(ctx, t.ID, string(StatusReady)); err != nil {
			slog.Warn("supervisor: persist status", "task", t.ID, "err", err)
		}
		sup.bus.Publish(events.Event{Kind: events.GenerationStopped, TaskID: t.ID})
		sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: t.ID, Text: "idle", State: string(StatusReady)})
	case turnErr != nil:
		kind := taskerr.Classify(turnErr.Error())
		t.status = StatusError
		if err := sup.store.UpdateStatus(ctx, t.ID, string(StatusError)); err != nil {
			slog.Warn("supervisor: persist status", "task", t.ID, "err", err)
		}
		sup.bus.Publish(events.Event{Kind: events.ChatLogStatus, TaskID: t.ID, Text: turnErr.Error(), State: string(kind)})
		sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: t.ID, Text: turnErr.Error(), Color: "red", State: "error"})
	default:
		t.status = StatusCompleted
		preview := lastAssistantPreview(result.Messages)
		if err := sup.store.UpdateStatus(ctx, t.ID, string(StatusCompleted)); err != nil {
			slog.Warn("supervisor: persist status", "task", t.ID, "err", err)
		}
		sup.bus.Publish(events.Event{Kind: events.ChatLogStatus, TaskID: t.ID, Text: preview, State: string(StatusCompleted)})
		sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: t.ID, Text: preview, State: string(StatusCompleted)})
	}
}

const statusPreviewLimit = 200

func lastAssistantPreview(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		am, ok := messages[i].(*agent.AssistantMessage)
		if !ok {
			continue
		}
		var text strings.Builder
		for _, block := range am.Message.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		runes := []rune(text.String())
		if len(runes) > statusPreviewLimit {
			return string(runes[:statusPreviewLimit]) + "..."
		}
		return text.String()
	}
	return ""
}

// SoftStop cancels the in-flight turn's token; the session stays alive for
// the next Send.
func (sup *Supervisor) SoftStop(taskID string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	t.mu.Lock()
	tok := t.cancel
	t.mu.Unlock()
	tok.Cancel()
	return nil
}

// HardStop kills the task's adapter process and clears its session,
// bookkeeping entries, and running-task marker.
func (sup *Supervisor) HardStop(ctx context.Context, taskID string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	t.mu.Lock()
	if t.session != nil {
		_ = t.session.Close()
		t.session = nil
	}
	t.status = StatusStopped
	t.mu.Unlock()

	sup.mu.Lock()
	delete(sup.running, taskID)
	sup.mu.Unlock()

	if err := sup.store.UpdateStatus(ctx, taskID, string(StatusStopped)); err != nil {
		slog.Warn("supervisor: persist stopped status", "task", taskID, "err", err)
	}
	sup.bus.Publish(events.Event{Kind: events.StatusUpdate, TaskID: taskID, Text: "stopped", State: string(StatusStopped)})
	return nil
}

// Delete hard-stops the task, best-effort tears down its worktree via the
// external collaborator, and removes it from the store (cascading to its
// messages and attachments).
func (sup *Supervisor) Delete(ctx context.Context, taskID string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	if err := sup.HardStop(ctx, taskID); err != nil {
		return err
	}

	t.mu.Lock()
	worktreePath := t.worktreePath
	t.mu.Unlock()
	if worktreePath != "" && sup.ops != nil {
		if err := sup.ops.Kill(ctx, worktreePath); err != nil {
			slog.Warn("supervisor: kill worktree container", "task", taskID, "err", err)
		}
	}

	if err := sup.store.DeleteTask(ctx, taskID); err != nil {
		return taskerr.New(taskerr.Internal, "delete task", err)
	}
	sup.bus.Close(taskID)

	sup.mu.Lock()
	delete(sup.tasks, taskID)
	sup.mu.Unlock()
	return nil
}

// SetTitle persists an async-generated title summary and publishes
// TitleUpdate.
func (sup *Supervisor) SetTitle(ctx context.Context, taskID, title string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	t.mu.Lock()
	t.title = title
	t.mu.Unlock()
	if err := sup.store.UpdateTitle(ctx, taskID, title); err != nil {
		return taskerr.New(taskerr.Internal, "persist title", err)
	}
	sup.bus.Publish(events.Event{Kind: events.TitleUpdate, TaskID: taskID, Title: title})
	return nil
}

// Provision starts the task's worktree container via the out-of-process
// collaborator, derives the branch name, and publishes BranchUpdate. It is
// a no-op if no container.Ops was wired in.
func (sup *Supervisor) Provision(ctx context.Context, taskID string, labels []string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	if sup.ops == nil {
		return nil
	}
	t.mu.Lock()
	projectPath := t.ProjectPath
	t.mu.Unlock()

	containerName, err := sup.ops.Start(ctx, projectPath, labels)
	if err != nil {
		return taskerr.New(taskerr.Internal, "start worktree container", err)
	}
	branch, _ := container.BranchFromContainer(containerName, filepath.Base(strings.TrimSuffix(projectPath, "/")))

	t.mu.Lock()
	t.branch = branch
	t.worktreePath = projectPath
	t.mu.Unlock()

	if err := sup.store.UpdateWorktree(ctx, taskID, branch, projectPath); err != nil {
		slog.Warn("supervisor: persist worktree", "task", taskID, "err", err)
	}
	sup.bus.Publish(events.Event{Kind: events.BranchUpdate, TaskID: taskID, Branch: branch})
	return nil
}

// Diff returns the task's working-tree diff summary via the worktree
// collaborator, parsed from `md diff --numstat` output.
func (sup *Supervisor) Diff(ctx context.Context, taskID string) (agent.DiffStat, error) {
	t, ok := sup.lookup(taskID)
	if !ok {
		return nil, taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	if sup.ops == nil {
		return nil, nil
	}
	t.mu.Lock()
	worktreePath := t.worktreePath
	t.mu.Unlock()
	if worktreePath == "" {
		return nil, nil
	}
	out, err := sup.ops.Diff(ctx, worktreePath, "--numstat")
	if err != nil {
		return nil, taskerr.New(taskerr.Internal, "diff", err)
	}
	return ParseDiffNumstat(out), nil
}

// AnswerUserInput forwards answers to a pending UserInputRequest on the
// task's live session.
func (sup *Supervisor) AnswerUserInput(ctx context.Context, taskID, requestID string, answers map[string][]string) error {
	t, ok := sup.lookup(taskID)
	if !ok {
		return taskerr.New(taskerr.NotFound, "task "+taskID, nil)
	}
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return taskerr.New(taskerr.Validation, "task "+taskID+" has no live session", nil)
	}
	converted := make(map[string]agent.UserInputAnswer, len(answers))
	for k, v := range answers {
		converted[k] = agent.UserInputAnswer{Answers: v}
	}
	if err := session.SendUserInputResponse(ctx, requestID, converted); err != nil {
		return taskerr.New(taskerr.RPCError, "answer user input", err)
	}
	return nil
}

// Snapshot returns a consistent read of a task's current state.
func (sup *Supervisor) Snapshot(taskID string) (Snapshot, bool) {
	t, ok := sup.lookup(taskID)
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// List returns a snapshot of every known task.
func (sup *Supervisor) List() []Snapshot {
	sup.mu.Lock()
	tasks := make([]*Task, 0, len(sup.tasks))
	for _, t := range sup.tasks {
		tasks = append(tasks, t)
	}
	sup.mu.Unlock()

	out := make([]Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.snapshot()
	}
	return out
}

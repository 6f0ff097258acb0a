// Package task implements the session supervisor: per-task agent sessions,
// reconnection policy, retry on recoverable exit, and the duplicate-start
// guard, wired to persistence, the event fan-out bus, and the agent
// transport layer.
package task

import (
	"sync"
	"time"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/cancel"
)

// Status is one of the fixed task lifecycle states.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusRunning      Status = "running"
	StatusWaiting      Status = "waiting" // blocked on a permission or user-input request
	StatusCompleted    Status = "completed"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// PendingAttachmentRef is an uploaded file staged against a task before its
// owning message exists.
type PendingAttachmentRef struct {
	ID           string
	RelativePath string
	MimeType     string
	FileName     string
}

// Task is the in-memory handle the supervisor holds for one task: its
// static identity plus the mutable bits needed between turns. All mutation
// goes through the owning Supervisor's per-task lock.
type Task struct {
	ID          string
	AgentID     string
	Model       string
	Prompt      string
	ProjectPath string

	mu             sync.Mutex
	status         Status
	branch         string
	worktreePath   string
	agentSessionID string
	costUSD        float64
	totalTokens    int64
	contextWindow  int64
	title          string

	session agent.Session // nil when no live child process is attached
	cancel  cancel.Token  // valid only while a turn is in flight

	pendingPrompt      string
	pendingAttachments []PendingAttachmentRef

	createdAt time.Time
}

func newTask(id, agentID, model, prompt, projectPath string) *Task {
	return &Task{
		ID:          id,
		AgentID:     agentID,
		Model:       model,
		Prompt:      prompt,
		ProjectPath: projectPath,
		status:      StatusProvisioning,
		createdAt:   time.Now(),
	}
}

// Snapshot is a consistent point-in-time read of a task's mutable state,
// for building AddTask/status payloads without holding the task's lock
// across a fan-out send.
type Snapshot struct {
	ID             string
	AgentID        string
	Model          string
	Prompt         string
	Status         Status
	Branch         string
	WorktreePath   string
	AgentSessionID string
	CostUSD        float64
	TotalTokens    int64
	ContextWindow  int64
	Title          string
}

func (t *Task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID: t.ID, AgentID: t.AgentID, Model: t.Model, Prompt: t.Prompt,
		Status: t.status, Branch: t.branch, WorktreePath: t.worktreePath,
		AgentSessionID: t.agentSessionID, CostUSD: t.costUSD,
		TotalTokens: t.totalTokens, ContextWindow: t.contextWindow, Title: t.title,
	}
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Task) hasLiveSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

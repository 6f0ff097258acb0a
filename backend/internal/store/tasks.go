package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Task is a persisted task row.
type Task struct {
	ID             string
	AgentID        string
	Model          string
	Prompt         string
	ProjectPath    string
	WorktreePath   string
	Branch         string
	Status         string
	CostUSD        float64
	TotalTokens    int64
	ContextWindow  int64
	TitleSummary   string
	AgentSessionID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t Task) error {
	now := unixMilli(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, agent_id, model, prompt, project_path, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.Model, t.Prompt, t.ProjectPath, t.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, model, prompt, project_path, worktree_path, branch, status,
		        cost_usd, total_tokens, context_window, title_summary, agent_session_id,
		        created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns all tasks, most recently created first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, model, prompt, project_path, worktree_path, branch, status,
		        cost_usd, total_tokens, context_window, title_summary, agent_session_id,
		        created_at, updated_at
		 FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var worktreePath, branch, titleSummary, agentSessionID sql.NullString
	var totalTokens, contextWindow sql.NullInt64
	var created, updated int64
	err := row.Scan(
		&t.ID, &t.AgentID, &t.Model, &t.Prompt, &t.ProjectPath, &worktreePath, &branch, &t.Status,
		&t.CostUSD, &totalTokens, &contextWindow, &titleSummary, &agentSessionID,
		&created, &updated,
	)
	if err == sql.ErrNoRows {
		return Task{}, err
	}
	if err != nil {
		return Task{}, fmt.Errorf("store: scan task: %w", err)
	}
	t.WorktreePath = worktreePath.String
	t.Branch = branch.String
	t.TitleSummary = titleSummary.String
	t.AgentSessionID = agentSessionID.String
	t.TotalTokens = totalTokens.Int64
	t.ContextWindow = contextWindow.Int64
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return t, nil
}

// UpdateStatus updates a task's status field.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	return s.touch(ctx, "UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", status, id)
}

// UpdateWorktree records the branch/worktree a task was provisioned onto.
func (s *Store) UpdateWorktree(ctx context.Context, id, branch, worktreePath string) error {
	return s.touch(ctx, "UPDATE tasks SET branch = ?, worktree_path = ?, updated_at = ? WHERE id = ?", branch, worktreePath, id)
}

// UpdateAgentSession records the vendor-assigned session id used for
// reconnection via session/load.
func (s *Store) UpdateAgentSession(ctx context.Context, id, agentSessionID string) error {
	return s.touch(ctx, "UPDATE tasks SET agent_session_id = ?, updated_at = ? WHERE id = ?", agentSessionID, id)
}

// UpdateCost sets the task's cumulative USD cost.
func (s *Store) UpdateCost(ctx context.Context, id string, costUSD float64) error {
	return s.touch(ctx, "UPDATE tasks SET cost_usd = ?, updated_at = ? WHERE id = ?", costUSD, id)
}

// UpdateTokenUsage records the last reported total token count and context
// window size, overwriting (not summing) the previous value.
func (s *Store) UpdateTokenUsage(ctx context.Context, id string, totalTokens, contextWindow int64) error {
	return s.touch(ctx, "UPDATE tasks SET total_tokens = ?, context_window = ?, updated_at = ? WHERE id = ?", totalTokens, contextWindow, id)
}

// UpdateTitle sets a short generated title summarizing the task.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	return s.touch(ctx, "UPDATE tasks SET title_summary = ?, updated_at = ? WHERE id = ?", title, id)
}

// touch runs an UPDATE whose final two positional args are always (now, id),
// appended after the caller-supplied set-clause args.
func (s *Store) touch(ctx context.Context, query string, args ...any) error {
	full := append(append([]any{}, args[:len(args)-1]...), unixMilli(time.Now()), args[len(args)-1])
	if _, err := s.db.ExecContext(ctx, query, full...); err != nil {
		return fmt.Errorf("store: update task: %w", err)
	}
	return nil
}

// DeleteTask removes a task and, via ON DELETE CASCADE, its messages and
// message attachments.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	return nil
}

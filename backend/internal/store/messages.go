package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corvid-labs/tendril/internal/history"
)

// Message is a persisted conversation-log row.
type Message struct {
	ID            int64
	TaskID        string
	Kind          history.Kind
	Content       string
	Reasoning     string
	ToolName      string
	ToolArguments string
	ToolReturn    string
	Timestamp     time.Time
}

// AppendMessage inserts a message and returns its assigned id. Messages for
// a task are always read back in insertion order (ORDER BY id), so callers
// needing monotonic ordering don't need their own sequence.
func (s *Store) AppendMessage(ctx context.Context, m Message) (int64, error) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (task_id, message_type, content, reasoning, tool_name, tool_arguments, tool_return, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TaskID, string(m.Kind), nullIfEmpty(m.Content), nullIfEmpty(m.Reasoning),
		nullIfEmpty(m.ToolName), nullIfEmpty(m.ToolArguments), nullIfEmpty(m.ToolReturn),
		unixMilli(ts),
	)
	if err != nil {
		return 0, fmt.Errorf("store: append message for task %s: %w", m.TaskID, err)
	}
	return res.LastInsertId()
}

// ListMessages returns all messages for a task in insertion order.
func (s *Store) ListMessages(ctx context.Context, taskID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, message_type, content, reasoning, tool_name, tool_arguments, tool_return, timestamp
		 FROM messages WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var kind string
		var content, reasoning, toolName, toolArgs, toolReturn sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.TaskID, &kind, &content, &reasoning, &toolName, &toolArgs, &toolReturn, &ts); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Kind = history.Kind(kind)
		m.Content = content.String
		m.Reasoning = reasoning.String
		m.ToolName = toolName.String
		m.ToolArguments = toolArgs.String
		m.ToolReturn = toolReturn.String
		m.Timestamp = time.UnixMilli(ts)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ToHistory converts persisted rows into history.Message values for
// Format/Compact.
func ToHistory(messages []Message) []history.Message {
	out := make([]history.Message, len(messages))
	for i, m := range messages {
		out[i] = history.Message{
			Kind:          m.Kind,
			Content:       m.Content,
			Reasoning:     m.Reasoning,
			ToolName:      m.ToolName,
			ToolArguments: m.ToolArguments,
			ToolReturn:    m.ToolReturn,
		}
	}
	return out
}

// ClearMessages deletes every message for a task, e.g. when a new prompt
// restarts the conversation from scratch.
func (s *Store) ClearMessages(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("store: clear messages for task %s: %w", taskID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

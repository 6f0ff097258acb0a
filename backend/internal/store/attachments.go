package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Attachment is a file uploaded by a user, either staged before a task
// exists (PendingAttachment) or already bound to a specific message.
type Attachment struct {
	ID           string
	TaskID       string
	MessageID    int64 // zero for pending attachments
	FileName     string
	MimeType     string
	RelativePath string
	ByteSize     int64
	CreatedAt    time.Time
}

// AddPendingAttachment stages an uploaded file against a task before the
// message it belongs to has been created.
func (s *Store) AddPendingAttachment(ctx context.Context, a Attachment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_attachments (id, task_id, file_name, mime_type, relative_path, byte_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.FileName, a.MimeType, a.RelativePath, a.ByteSize, unixMilli(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: add pending attachment %s: %w", a.ID, err)
	}
	return nil
}

// ListPendingAttachments returns the staged attachments for a task, oldest
// first.
func (s *Store) ListPendingAttachments(ctx context.Context, taskID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, file_name, mime_type, relative_path, byte_size, created_at
		 FROM pending_attachments WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending attachments for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var fileName, mimeType sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &a.TaskID, &fileName, &mimeType, &a.RelativePath, &a.ByteSize, &created); err != nil {
			return nil, fmt.Errorf("store: scan pending attachment: %w", err)
		}
		a.FileName = fileName.String
		a.MimeType = mimeType.String
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ConsumePendingAttachment atomically moves a staged attachment onto a
// concrete message: it deletes the pending_attachments row and inserts the
// equivalent message_attachments row in a single transaction, so a given
// pending attachment is bound to a message exactly once even under
// concurrent callers (the DELETE's RowsAffected tells the second caller it
// lost the race).
func (s *Store) ConsumePendingAttachment(ctx context.Context, pendingID string, messageID int64) (Attachment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attachment{}, fmt.Errorf("store: consume pending attachment %s: %w", pendingID, err)
	}
	defer tx.Rollback()

	var a Attachment
	var fileName, mimeType sql.NullString
	var created int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, task_id, file_name, mime_type, relative_path, byte_size, created_at
		 FROM pending_attachments WHERE id = ?`, pendingID,
	).Scan(&a.ID, &a.TaskID, &fileName, &mimeType, &a.RelativePath, &a.ByteSize, &created)
	if err != nil {
		return Attachment{}, fmt.Errorf("store: consume pending attachment %s: %w", pendingID, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_attachments WHERE id = ?`, pendingID)
	if err != nil {
		return Attachment{}, fmt.Errorf("store: consume pending attachment %s: %w", pendingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Attachment{}, fmt.Errorf("store: pending attachment %s already consumed", pendingID)
	}

	a.FileName = fileName.String
	a.MimeType = mimeType.String
	a.CreatedAt = time.UnixMilli(created)
	a.MessageID = messageID

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_attachments (id, task_id, message_id, file_name, mime_type, relative_path, byte_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.MessageID, nullIfEmpty(a.FileName), nullIfEmpty(a.MimeType), a.RelativePath, a.ByteSize, created,
	); err != nil {
		return Attachment{}, fmt.Errorf("store: consume pending attachment %s: %w", pendingID, err)
	}

	if err := tx.Commit(); err != nil {
		return Attachment{}, fmt.Errorf("store: consume pending attachment %s: %w", pendingID, err)
	}
	return a, nil
}

// ListMessageAttachments returns the attachments bound to a message.
func (s *Store) ListMessageAttachments(ctx context.Context, messageID int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, message_id, file_name, mime_type, relative_path, byte_size, created_at
		 FROM message_attachments WHERE message_id = ? ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list message attachments for message %d: %w", messageID, err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var fileName, mimeType sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &a.TaskID, &a.MessageID, &fileName, &mimeType, &a.RelativePath, &a.ByteSize, &created); err != nil {
			return nil, fmt.Errorf("store: scan message attachment: %w", err)
		}
		a.FileName = fileName.String
		a.MimeType = mimeType.String
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

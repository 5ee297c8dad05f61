package store

import (
	"context"
	"fmt"
)

// Comment status transitions are conditional writes: the WHERE clause
// encodes the legal source states and the boolean result tells the
// caller whether the transition happened. A false result with no error
// means another transition got there first (or the state was wrong),
// which the service layer surfaces as a conflict.

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, user_id, annotation_token, selected_text, status, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $6 = 'pending' THEN NOW() END)
	`, comment.ID, comment.DocumentID, comment.UserID, comment.AnnotationToken, comment.SelectedText, comment.Status)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, annotation_token, selected_text, status, COALESCE(error_message, ''), created_at, resolved_at
		FROM comments WHERE id=$1
	`, commentID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.UserID,
		&item.AnnotationToken,
		&item.SelectedText,
		&item.Status,
		&item.ErrorMessage,
		&item.CreatedAt,
		&item.ResolvedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, annotation_token, selected_text, status, COALESCE(error_message, ''), created_at, resolved_at
		FROM comments
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.UserID,
			&item.AnnotationToken,
			&item.SelectedText,
			&item.Status,
			&item.ErrorMessage,
			&item.CreatedAt,
			&item.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// MarkCommentPending moves a comment into pending from one of the
// states listed in from. This is the double-dispatch guard: a comment
// already pending or streaming never matches, so a second user action
// cannot enqueue a second generation.
func (s *PostgresStore) MarkCommentPending(ctx context.Context, commentID string, from ...string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET status='pending', error_message=NULL, dispatched_at=NOW()
		WHERE id=$1 AND status = ANY($2)
	`, commentID, from)
	if err != nil {
		return false, fmt.Errorf("mark comment pending: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark comment pending rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkCommentStreaming(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET status='streaming', dispatched_at=NOW()
		WHERE id=$1 AND status='pending'
	`, commentID)
	if err != nil {
		return false, fmt.Errorf("mark comment streaming: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark comment streaming rows: %w", err)
	}
	return affected > 0, nil
}

// CompleteComment appends the assistant turn and flips the comment to
// complete in one transaction, so a failure never leaves a message
// without the status change or vice versa.
func (s *PostgresStore) CompleteComment(ctx context.Context, commentID, messageID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("complete comment tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, comment_id, role, content)
		VALUES ($1, $2, 'assistant', $3)
	`, messageID, commentID, content); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert assistant message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE comments SET status='complete', dispatched_at=NULL WHERE id=$1
	`, commentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("complete comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("complete comment commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailComment(ctx context.Context, commentID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET status='error', error_message=$2, dispatched_at=NULL WHERE id=$1
	`, commentID, message)
	if err != nil {
		return fmt.Errorf("fail comment: %w", err)
	}
	return nil
}

// ResolveComment is idempotent: a second call matches no rows and that
// is fine, the comment is already resolved.
func (s *PostgresStore) ResolveComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET resolved_at=NOW() WHERE id=$1 AND resolved_at IS NULL
	`, commentID)
	if err != nil {
		return fmt.Errorf("resolve comment: %w", err)
	}
	return nil
}

// FailStaleGeneration flips comments dispatched longer than
// maxAgeSeconds ago but still pending or streaming to error. Covers
// generation jobs that crashed without reaching a terminal status and
// tasks that never reached a worker; error is retryable, so the
// comment is usable again.
func (s *PostgresStore) FailStaleGeneration(ctx context.Context, maxAgeSeconds int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET status='error', error_message='generation timed out', dispatched_at=NULL
		WHERE status IN ('pending', 'streaming') AND dispatched_at < NOW() - make_interval(secs => $1)
	`, maxAgeSeconds)
	if err != nil {
		return 0, fmt.Errorf("fail stale generation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale generation rows: %w", err)
	}
	return affected, nil
}

// Messages

func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, comment_id, role, content)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.CommentID, message.Role, message.Content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, commentID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, comment_id, role, content, created_at
		FROM messages
		WHERE comment_id=$1
		ORDER BY created_at ASC
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.CommentID, &item.Role, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

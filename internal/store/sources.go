package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertSource(ctx context.Context, source Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, document_id, user_id, kind, title, mime_type, object_key, url, status, extracted_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, source.ID, source.DocumentID, source.UserID, source.Kind, source.Title, source.MimeType, source.ObjectKey, source.URL, source.Status, source.ExtractedText)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, sourceID string) (Source, error) {
	var item Source
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, kind, title, mime_type, object_key, url, status, COALESCE(error_message, ''), COALESCE(index_entry_id, ''), extracted_text, created_at
		FROM sources WHERE id=$1
	`, sourceID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.UserID,
		&item.Kind,
		&item.Title,
		&item.MimeType,
		&item.ObjectKey,
		&item.URL,
		&item.Status,
		&item.ErrorMessage,
		&item.IndexEntryID,
		&item.ExtractedText,
		&item.CreatedAt,
	)
	if err != nil {
		return Source{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, documentID string) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, kind, title, mime_type, object_key, url, status, COALESCE(error_message, ''), COALESCE(index_entry_id, ''), extracted_text, created_at
		FROM sources
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	items := make([]Source, 0)
	for rows.Next() {
		var item Source
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.UserID,
			&item.Kind,
			&item.Title,
			&item.MimeType,
			&item.ObjectKey,
			&item.URL,
			&item.Status,
			&item.ErrorMessage,
			&item.IndexEntryID,
			&item.ExtractedText,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSourceTitle(ctx context.Context, sourceID, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET title=$2 WHERE id=$1`, sourceID, title)
	if err != nil {
		return fmt.Errorf("update source title: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSourceProcessing(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET status='processing', error_message=NULL WHERE id=$1
	`, sourceID)
	if err != nil {
		return fmt.Errorf("mark source processing: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSourceIndexed(ctx context.Context, sourceID, indexEntryID, extractedText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET status='indexed', index_entry_id=$2, extracted_text=$3, error_message=NULL WHERE id=$1
	`, sourceID, indexEntryID, extractedText)
	if err != nil {
		return fmt.Errorf("mark source indexed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailSource(ctx context.Context, sourceID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET status=$2, error_message=$3 WHERE id=$1
	`, sourceID, SourceFailed, message)
	if err != nil {
		return fmt.Errorf("fail source: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id=$1`, sourceID)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

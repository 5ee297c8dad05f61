package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetDocumentSettings returns the settings row for a document if one
// exists. Absence is reported through the boolean, not an error: a
// document with no row uses process-wide defaults.
func (s *PostgresStore) GetDocumentSettings(ctx context.Context, documentID string) (DocumentSettings, bool, error) {
	var item DocumentSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, provider, model, temperature, max_steps, system_prompt, description,
			tool_sources, tool_web_search, tool_citations, updated_at
		FROM document_settings WHERE document_id=$1
	`, documentID).Scan(
		&item.DocumentID,
		&item.Provider,
		&item.Model,
		&item.Temperature,
		&item.MaxSteps,
		&item.SystemPrompt,
		&item.Description,
		&item.ToolSources,
		&item.ToolWebSearch,
		&item.ToolCitations,
		&item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentSettings{}, false, nil
	}
	if err != nil {
		return DocumentSettings{}, false, fmt.Errorf("get document settings: %w", err)
	}
	return item, true, nil
}

// UpsertDocumentSettings writes the single settings row for a document.
func (s *PostgresStore) UpsertDocumentSettings(ctx context.Context, item DocumentSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_settings (document_id, provider, model, temperature, max_steps, system_prompt, description, tool_sources, tool_web_search, tool_citations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (document_id) DO UPDATE SET
			provider=EXCLUDED.provider,
			model=EXCLUDED.model,
			temperature=EXCLUDED.temperature,
			max_steps=EXCLUDED.max_steps,
			system_prompt=EXCLUDED.system_prompt,
			description=EXCLUDED.description,
			tool_sources=EXCLUDED.tool_sources,
			tool_web_search=EXCLUDED.tool_web_search,
			tool_citations=EXCLUDED.tool_citations,
			updated_at=NOW()
	`, item.DocumentID, item.Provider, item.Model, item.Temperature, item.MaxSteps, item.SystemPrompt, item.Description, item.ToolSources, item.ToolWebSearch, item.ToolCitations)
	if err != nil {
		return fmt.Errorf("upsert document settings: %w", err)
	}
	return nil
}

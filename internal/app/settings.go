package app

import (
	"context"
	"net/http"
	"strings"

	"inkwell/api/internal/store"
)

// SettingsInput is the full settings payload. Updates replace the row;
// there is no field-level patching.
type SettingsInput struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxSteps      int     `json:"maxSteps"`
	SystemPrompt  string  `json:"systemPrompt"`
	Description   string  `json:"description"`
	ToolSources   bool    `json:"toolSources"`
	ToolWebSearch bool    `json:"toolWebSearch"`
	ToolCitations bool    `json:"toolCitations"`
}

// SettingsView reports the effective settings plus whether they come
// from a per-document row or the server defaults.
type SettingsView struct {
	Settings store.DocumentSettings
	Custom   bool
}

func (s *Service) GetSettings(ctx context.Context, session Session, documentID string) (SettingsView, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return SettingsView{}, err
	}
	settings, ok, err := s.store.GetDocumentSettings(ctx, documentID)
	if err != nil {
		return SettingsView{}, err
	}
	if !ok {
		return SettingsView{Settings: s.defaultSettings(documentID), Custom: false}, nil
	}
	return SettingsView{Settings: settings, Custom: true}, nil
}

func (s *Service) UpdateSettings(ctx context.Context, session Session, documentID string, input SettingsInput) (SettingsView, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return SettingsView{}, err
	}

	provider := strings.TrimSpace(strings.ToLower(input.Provider))
	if _, ok := s.providers[provider]; !ok {
		return SettingsView{}, domainError(http.StatusBadRequest, "UNKNOWN_PROVIDER", "Provider is not available on this server", map[string]any{"provider": input.Provider})
	}
	model := strings.TrimSpace(input.Model)
	if model == "" {
		return SettingsView{}, domainError(http.StatusBadRequest, "INVALID_MODEL", "Model is required", nil)
	}
	if input.Temperature < 0 || input.Temperature > 2 {
		return SettingsView{}, domainError(http.StatusBadRequest, "INVALID_TEMPERATURE", "Temperature must be between 0 and 2", nil)
	}
	if input.MaxSteps < 1 || input.MaxSteps > 10 {
		return SettingsView{}, domainError(http.StatusBadRequest, "INVALID_MAX_STEPS", "Max steps must be between 1 and 10", nil)
	}

	settings := store.DocumentSettings{
		DocumentID:    documentID,
		Provider:      provider,
		Model:         model,
		Temperature:   input.Temperature,
		MaxSteps:      input.MaxSteps,
		SystemPrompt:  strings.TrimSpace(input.SystemPrompt),
		Description:   strings.TrimSpace(input.Description),
		ToolSources:   input.ToolSources,
		ToolWebSearch: input.ToolWebSearch,
		ToolCitations: input.ToolCitations,
	}
	if err := s.store.UpsertDocumentSettings(ctx, settings); err != nil {
		return SettingsView{}, err
	}
	return SettingsView{Settings: settings, Custom: true}, nil
}

// CopySettings copies another document's effective settings onto this
// one. Both documents must belong to the session user. A source with no
// custom row contributes the server defaults, which then become a
// custom row on the target.
func (s *Service) CopySettings(ctx context.Context, session Session, documentID, fromDocumentID string) (SettingsView, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return SettingsView{}, err
	}
	if _, err := s.getOwnedDocument(ctx, session, fromDocumentID); err != nil {
		return SettingsView{}, err
	}

	settings, ok, err := s.store.GetDocumentSettings(ctx, fromDocumentID)
	if err != nil {
		return SettingsView{}, err
	}
	if !ok {
		settings = s.defaultSettings(fromDocumentID)
	}

	settings.DocumentID = documentID
	if err := s.store.UpsertDocumentSettings(ctx, settings); err != nil {
		return SettingsView{}, err
	}
	return SettingsView{Settings: settings, Custom: true}, nil
}

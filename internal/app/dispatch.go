package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"inkwell/api/internal/agent"
	"inkwell/api/internal/jobs"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const (
	TaskGenerate    = "comment.generate"
	TaskIndexSource = "source.index"
)

type generatePayload struct {
	DocumentID string `json:"documentId"`
	CommentID  string `json:"commentId"`
}

func (s *Service) enqueueGeneration(ctx context.Context, documentID, commentID string) error {
	return s.queue.Enqueue(ctx, TaskGenerate, generatePayload{
		DocumentID: documentID,
		CommentID:  commentID,
	})
}

// RegisterJobHandlers wires the service's background work into the mux.
func (s *Service) RegisterJobHandlers(mux *jobs.Mux) {
	mux.Handle(TaskGenerate, s.handleGenerate)
	mux.Handle(TaskIndexSource, s.handleIndexSource)
}

// handleGenerate runs one generation for a pending comment. The
// pending -> streaming transition doubles as the claim: a redelivered
// or duplicate task finds the comment no longer pending and stops.
func (s *Service) handleGenerate(ctx context.Context, payload json.RawMessage) error {
	var p generatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode generate payload: %w", err)
	}

	claimed, err := s.store.MarkCommentStreaming(ctx, p.CommentID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	reply, err := s.generate(ctx, p.DocumentID, p.CommentID)
	if err != nil {
		if failErr := s.store.FailComment(ctx, p.CommentID, err.Error()); failErr != nil {
			return failErr
		}
		return err
	}

	return s.store.CompleteComment(ctx, p.CommentID, util.NewID("msg"), reply)
}

func (s *Service) generate(ctx context.Context, documentID, commentID string) (string, error) {
	if s.cfg.StreamingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StreamingTimeout)
		defer cancel()
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return "", err
	}
	history, err := s.store.ListMessages(ctx, commentID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", fmt.Errorf("comment %s has no messages to respond to", commentID)
	}

	settings, err := s.resolveSettings(ctx, documentID)
	if err != nil {
		return "", err
	}

	provider, ok := s.providers[settings.Provider]
	if !ok {
		return "", fmt.Errorf("provider %q is not configured", settings.Provider)
	}

	req := agent.Request{
		Model:       settings.Model,
		Temperature: settings.Temperature,
		System:      buildSystemPrompt(doc, comment, settings),
		MaxSteps:    settings.MaxSteps,
	}
	if s.tools != nil {
		req.Tools = s.tools.Build(documentID, settings)
	}
	for _, m := range history {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "assistant"
		}
		req.Messages = append(req.Messages, agent.Message{Role: role, Content: m.Content})
	}

	reply, err := provider.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("provider returned an empty response")
	}
	return reply, nil
}

// resolveSettings returns the document's settings row, or the
// process-wide defaults when the document has none.
func (s *Service) resolveSettings(ctx context.Context, documentID string) (store.DocumentSettings, error) {
	settings, ok, err := s.store.GetDocumentSettings(ctx, documentID)
	if err != nil {
		return store.DocumentSettings{}, err
	}
	if ok {
		return settings, nil
	}
	return s.defaultSettings(documentID), nil
}

func (s *Service) defaultSettings(documentID string) store.DocumentSettings {
	return store.DocumentSettings{
		DocumentID:  documentID,
		Provider:    s.cfg.DefaultProvider,
		Model:       s.cfg.DefaultModel,
		Temperature: s.cfg.DefaultTemperature,
		MaxSteps:    s.cfg.DefaultMaxSteps,
		ToolSources: true,
	}
}

const baseSystemPrompt = `You are a writing companion embedded in a document editor. The author has highlighted a passage and is asking for your help in a comment thread anchored to it. Be specific and concrete, ground your answers in the document and its attached sources when tools are available, and keep replies focused on the highlighted passage.`

func buildSystemPrompt(doc store.Document, comment store.Comment, settings store.DocumentSettings) string {
	var b strings.Builder
	if strings.TrimSpace(settings.SystemPrompt) != "" {
		b.WriteString(strings.TrimSpace(settings.SystemPrompt))
	} else {
		b.WriteString(baseSystemPrompt)
	}
	b.WriteString("\n\nDocument title: ")
	b.WriteString(doc.Title)
	if strings.TrimSpace(settings.Description) != "" {
		b.WriteString("\nAbout this document: ")
		b.WriteString(strings.TrimSpace(settings.Description))
	}
	b.WriteString("\n\nHighlighted passage:\n")
	b.WriteString(comment.SelectedText)
	return b.String()
}

// StartSweeper periodically fails comments stuck in pending or
// streaming, which happens when a worker dies mid-generation or a
// dispatched task never reaches one. Runs until ctx is done.
func (s *Service) StartSweeper(ctx context.Context) {
	if s.cfg.StreamingTimeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.FailStaleGeneration(ctx, int(s.cfg.StreamingTimeout.Seconds()))
				if err != nil {
					log.Printf("sweep: fail stale generation: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("sweep: failed %d stale generating comments", n)
				}
			}
		}
	}()
}

package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Comment lifecycle:
//
//	awaiting_input -> pending -> streaming -> complete | error
//
// A reply on a complete or error comment re-enters pending. Resolution
// is orthogonal: resolved_at can be set in any status and never blocks
// the status machine.

type CreateCommentInput struct {
	AnnotationToken string `json:"annotationToken"`
	SelectedText    string `json:"selectedText"`
	// Message is the user's first question. Present on the summon flow;
	// empty on the manual flow, where the comment waits for input.
	Message string `json:"message"`
}

type CommentView struct {
	Comment  store.Comment
	Messages []store.Message
}

// CreateComment creates a comment anchored to a highlighted passage.
// With a message it starts generating immediately; without one it sits
// in awaiting_input until the user submits their first message.
func (s *Service) CreateComment(ctx context.Context, session Session, documentID string, input CreateCommentInput) (store.Comment, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return store.Comment{}, err
	}

	if !util.ValidAnnotationToken(input.AnnotationToken) {
		return store.Comment{}, domainError(http.StatusBadRequest, "INVALID_ANNOTATION", "Annotation token must be a valid UUID", nil)
	}
	selected := strings.TrimSpace(input.SelectedText)
	if selected == "" {
		return store.Comment{}, domainError(http.StatusBadRequest, "EMPTY_SELECTION", "Selected text is required", nil)
	}

	message := strings.TrimSpace(input.Message)
	status := store.CommentAwaitingInput
	if message != "" {
		status = store.CommentPending
	}

	comment := store.Comment{
		ID:              util.NewID("cmt"),
		DocumentID:      documentID,
		UserID:          session.UserID,
		AnnotationToken: input.AnnotationToken,
		SelectedText:    selected,
		Status:          status,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	if message != "" {
		if err := s.store.InsertMessage(ctx, store.Message{
			ID:        util.NewID("msg"),
			CommentID: comment.ID,
			Role:      store.RoleUser,
			Content:   message,
		}); err != nil {
			return store.Comment{}, err
		}
		// A lost enqueue must not strand the comment in pending, where
		// the guard would reject every retry. The error status accepts
		// a new message.
		if err := s.enqueueGeneration(ctx, documentID, comment.ID); err != nil {
			_ = s.store.FailComment(ctx, comment.ID, "could not schedule generation")
			return store.Comment{}, err
		}
	}

	return s.store.GetComment(ctx, comment.ID)
}

// getOwnedComment loads a comment and checks it belongs to the given
// document, which in turn must belong to the session user.
func (s *Service) getOwnedComment(ctx context.Context, session Session, documentID, commentID string) (store.Comment, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return store.Comment{}, err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.DocumentID != documentID {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

// SubmitMessage adds a user message to a comment and kicks off
// generation. On an awaiting_input comment this is the first message;
// on a complete or error comment it is a follow-up. Comments already
// pending or streaming reject the message so only one generation is in
// flight per comment.
func (s *Service) SubmitMessage(ctx context.Context, session Session, documentID, commentID, body string) (store.Comment, error) {
	comment, err := s.getOwnedComment(ctx, session, documentID, commentID)
	if err != nil {
		return store.Comment{}, err
	}

	message := strings.TrimSpace(body)
	if message == "" {
		return store.Comment{}, domainError(http.StatusBadRequest, "EMPTY_MESSAGE", "Message body is required", nil)
	}

	switch comment.Status {
	case store.CommentAwaitingInput, store.CommentComplete, store.CommentError:
	default:
		return store.Comment{}, domainError(http.StatusConflict, "GENERATION_IN_FLIGHT", "A response is already being generated for this comment", nil)
	}

	// The conditional update is the real guard; the status check above
	// only produces a friendlier error for the common case.
	moved, err := s.store.MarkCommentPending(ctx, commentID,
		store.CommentAwaitingInput, store.CommentComplete, store.CommentError)
	if err != nil {
		return store.Comment{}, err
	}
	if !moved {
		return store.Comment{}, domainError(http.StatusConflict, "GENERATION_IN_FLIGHT", "A response is already being generated for this comment", nil)
	}

	if err := s.store.InsertMessage(ctx, store.Message{
		ID:        util.NewID("msg"),
		CommentID: commentID,
		Role:      store.RoleUser,
		Content:   message,
	}); err != nil {
		return store.Comment{}, err
	}

	if err := s.enqueueGeneration(ctx, documentID, commentID); err != nil {
		_ = s.store.FailComment(ctx, commentID, "could not schedule generation")
		return store.Comment{}, err
	}

	return s.store.GetComment(ctx, commentID)
}

// ResolveComment marks a comment resolved. Idempotent: resolving a
// resolved comment succeeds without changing the timestamp.
func (s *Service) ResolveComment(ctx context.Context, session Session, documentID, commentID string) (store.Comment, error) {
	if _, err := s.getOwnedComment(ctx, session, documentID, commentID); err != nil {
		return store.Comment{}, err
	}
	if err := s.store.ResolveComment(ctx, commentID); err != nil {
		return store.Comment{}, err
	}
	return s.store.GetComment(ctx, commentID)
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) ([]store.Comment, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, documentID)
}

// GetComment returns a comment with its full message thread.
func (s *Service) GetComment(ctx context.Context, session Session, documentID, commentID string) (CommentView, error) {
	comment, err := s.getOwnedComment(ctx, session, documentID, commentID)
	if err != nil {
		return CommentView{}, err
	}
	messages, err := s.store.ListMessages(ctx, commentID)
	if err != nil {
		return CommentView{}, err
	}
	return CommentView{Comment: comment, Messages: messages}, nil
}

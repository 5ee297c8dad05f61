package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Auth routes, no session required.
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup":
		s.handleSignUp(w, r)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin":
		s.handleSignIn(w, r)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh":
		s.handleRefresh(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userId": session.UserID, "userName": session.UserName})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	// /api/documents
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			documents, err := s.service.ListDocuments(ctx, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(documents))
			for _, doc := range documents {
				items = append(items, documentJSON(doc))
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			var input DocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			doc, err := s.service.CreateDocument(ctx, session, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, documentJSON(doc))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	documentID := parts[0]
	rest := parts[1:]

	// /api/documents/{id}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(ctx, session, documentID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, documentJSON(doc))
		case http.MethodPut:
			var input DocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			doc, err := s.service.UpdateDocument(ctx, session, documentID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, documentJSON(doc))
		case http.MethodDelete:
			if err := s.service.DeleteDocument(ctx, session, documentID); err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "archive":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Archived bool `json:"archived"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		if err := s.service.SetDocumentArchived(ctx, session, documentID, body.Archived); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "comments":
		s.handleComments(w, r, session, documentID, rest[1:])
	case "sources":
		s.handleSources(w, r, session, documentID, rest[1:])
	case "settings":
		s.handleSettings(w, r, session, documentID, rest[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	ctx := r.Context()

	// /api/documents/{id}/comments
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			comments, err := s.service.ListComments(ctx, session, documentID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(comments))
			for _, c := range comments {
				items = append(items, commentJSON(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": items})
		case http.MethodPost:
			var input CreateCommentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateComment(ctx, session, documentID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, commentJSON(comment))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	commentID := parts[0]
	rest := parts[1:]

	// /api/documents/{id}/comments/{cid}
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.service.GetComment(ctx, session, documentID, commentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		payload := commentJSON(view.Comment)
		messages := make([]map[string]any, 0, len(view.Messages))
		for _, m := range view.Messages {
			messages = append(messages, messageJSON(m))
		}
		payload["messages"] = messages
		writeJSON(w, http.StatusOK, payload)
		return
	}

	switch rest[0] {
	case "messages":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		comment, err := s.service.SubmitMessage(ctx, session, documentID, commentID, body.Body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, commentJSON(comment))
	case "resolve":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		comment, err := s.service.ResolveComment(ctx, session, documentID, commentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commentJSON(comment))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSources(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	ctx := r.Context()

	// /api/documents/{id}/sources
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			sources, err := s.service.ListSources(ctx, session, documentID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(sources))
			for _, src := range sources {
				items = append(items, sourceJSON(src))
			}
			writeJSON(w, http.StatusOK, map[string]any{"sources": items})
		case http.MethodPost:
			s.handleCreateSource(w, r, session, documentID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/documents/{id}/sources/{sid}
	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.RemoveSource(ctx, session, documentID, parts[0]); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleCreateSource accepts multipart uploads for file sources and
// JSON bodies for text and web sources.
func (s *HTTPServer) handleCreateSource(w http.ResponseWriter, r *http.Request, session Session, documentID string) {
	ctx := r.Context()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxSourceBytes); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "A file part named 'file' is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxSourceBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Could not read file payload", nil)
			return
		}
		source, err := s.service.CreateFileSource(ctx, session, documentID, header.Filename, header.Header.Get("Content-Type"), data)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sourceJSON(source))
		return
	}

	var body struct {
		Kind  string `json:"kind"`
		Title string `json:"title"`
		Text  string `json:"text"`
		URL   string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	var (
		source store.Source
		err    error
	)
	switch body.Kind {
	case store.SourceText:
		source, err = s.service.CreateTextSource(ctx, session, documentID, TextSourceInput{Title: body.Title, Text: body.Text})
	case store.SourceWeb:
		source, err = s.service.CreateWebSource(ctx, session, documentID, WebSourceInput{URL: body.URL})
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Kind must be 'text' or 'web' (use multipart for files)", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sourceJSON(source))
}

func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	ctx := r.Context()

	// /api/documents/{id}/settings
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetSettings(ctx, session, documentID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, settingsJSON(view))
		case http.MethodPut:
			var input SettingsInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			view, err := s.service.UpdateSettings(ctx, session, documentID, input)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, settingsJSON(view))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/documents/{id}/settings/copy
	if parts[0] == "copy" && r.Method == http.MethodPost {
		var body struct {
			FromDocumentID string `json:"fromDocumentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		view, err := s.service.CopySettings(ctx, session, documentID, body.FromDocumentID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settingsJSON(view))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "refreshToken is required", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

// JSON views

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":        doc.ID,
		"title":     doc.Title,
		"content":   doc.Content,
		"archived":  doc.Archived,
		"updatedAt": doc.UpdatedAt.UTC().Format(time.RFC3339),
		"createdAt": doc.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func commentJSON(c store.Comment) map[string]any {
	payload := map[string]any{
		"id":              c.ID,
		"documentId":      c.DocumentID,
		"annotationToken": c.AnnotationToken,
		"selectedText":    c.SelectedText,
		"status":          c.Status,
		"resolved":        c.ResolvedAt != nil,
		"createdAt":       c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.ErrorMessage != "" {
		payload["errorMessage"] = c.ErrorMessage
	}
	if c.ResolvedAt != nil {
		payload["resolvedAt"] = c.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func messageJSON(m store.Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"role":      m.Role,
		"content":   m.Content,
		"createdAt": m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func sourceJSON(src store.Source) map[string]any {
	payload := map[string]any{
		"id":        src.ID,
		"kind":      src.Kind,
		"title":     src.Title,
		"status":    src.Status,
		"createdAt": src.CreatedAt.UTC().Format(time.RFC3339),
	}
	if src.URL != "" {
		payload["url"] = src.URL
	}
	if src.MimeType != "" {
		payload["mimeType"] = src.MimeType
	}
	if src.ErrorMessage != "" {
		payload["errorMessage"] = src.ErrorMessage
	}
	return payload
}

func settingsJSON(view SettingsView) map[string]any {
	settings := view.Settings
	return map[string]any{
		"custom":        view.Custom,
		"provider":      settings.Provider,
		"model":         settings.Model,
		"temperature":   settings.Temperature,
		"maxSteps":      settings.MaxSteps,
		"systemPrompt":  settings.SystemPrompt,
		"description":   settings.Description,
		"toolSources":   settings.ToolSources,
		"toolWebSearch": settings.ToolWebSearch,
		"toolCitations": settings.ToolCitations,
	}
}

// Plumbing

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

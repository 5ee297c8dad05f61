package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/store"
)

func issueTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodePayload(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeQueue{}), "*")
	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestProtectedRouteWithoutBearerIsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeQueue{}), "*")
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if decodePayload(t, rr)["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %s", rr.Body.String())
	}
}

func TestProtectedRouteWithGarbageBearerIsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeQueue{}), "*")
	rr := doRequest(t, server, http.MethodGet, "/api/documents", "definitely-not-a-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSignInReturnsSessionContract(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeQueue{}), "*")
	rr := doRequest(t, server, http.MethodPost, "/api/auth/signin", "", `{"email":"avery@example.com","password":"hunter22"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["token"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected token and refreshToken, got %v", payload)
	}
	if payload["userName"] != "Avery" {
		t.Fatalf("expected userName Avery, got %v", payload["userName"])
	}
}

func TestCreateCommentRoute(t *testing.T) {
	var inserted store.Comment
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		insertCommentFn: func(_ context.Context, comment store.Comment) error {
			inserted = comment
			return nil
		},
		getCommentFn: func(context.Context, string) (store.Comment, error) {
			return inserted, nil
		},
	}
	queue := &fakeQueue{}
	server := NewHTTPServer(newTestService(fs, queue), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodPost, "/api/documents/doc-1/comments", token,
		`{"annotationToken":"0f6f0ad5-3b0a-4c3f-9a61-2dd47f4f6f2e","selectedText":"the second act drags","message":"tighten this?"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["status"] != store.CommentPending {
		t.Fatalf("expected pending, got %v", payload["status"])
	}
	if payload["annotationToken"] != "0f6f0ad5-3b0a-4c3f-9a61-2dd47f4f6f2e" {
		t.Fatalf("expected the annotation token echoed, got %v", payload["annotationToken"])
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("expected a generate task, got %v", queue.tasks)
	}
}

func TestSubmitMessageRouteConflictWhileGenerating(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		getCommentFn: func(context.Context, string) (store.Comment, error) {
			return store.Comment{ID: "cmt-1", DocumentID: "doc-1", Status: store.CommentStreaming}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodPost, "/api/documents/doc-1/comments/cmt-1/messages", token, `{"body":"and the ending?"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodePayload(t, rr)["code"] != "GENERATION_IN_FLIGHT" {
		t.Fatalf("expected GENERATION_IN_FLIGHT, got %s", rr.Body.String())
	}
}

func TestSubmitMessageRouteAccepted(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		getCommentFn: func(context.Context, string) (store.Comment, error) {
			return store.Comment{ID: "cmt-1", DocumentID: "doc-1", Status: store.CommentAwaitingInput}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodPost, "/api/documents/doc-1/comments/cmt-1/messages", token, `{"body":"first question"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetCommentRouteIncludesThread(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		getCommentFn: func(context.Context, string) (store.Comment, error) {
			return store.Comment{ID: "cmt-1", DocumentID: "doc-1", Status: store.CommentComplete}, nil
		},
		listMessagesFn: func(context.Context, string) ([]store.Message, error) {
			return []store.Message{
				{ID: "msg-1", Role: store.RoleUser, Content: "tighten this?"},
				{ID: "msg-2", Role: store.RoleAssistant, Content: "Cut the flashback."},
			}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodGet, "/api/documents/doc-1/comments/cmt-1", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected two messages, got %v", payload["messages"])
	}
}

func TestForeignDocumentRouteIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc-1", OwnerID: "someone-else"}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodGet, "/api/documents/doc-1", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodePayload(t, rr)["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", rr.Body.String())
	}
}

func TestSettingsRouteReturnsDefaults(t *testing.T) {
	fs := &fakeStore{getDocumentFn: ownedDocument("doc-1", "usr-1")}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodGet, "/api/documents/doc-1/settings", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["custom"] != false {
		t.Fatalf("expected custom=false, got %v", payload["custom"])
	}
	if payload["provider"] != "anthropic" {
		t.Fatalf("expected the default provider, got %v", payload["provider"])
	}
}

func TestSettingsRouteValidationError(t *testing.T) {
	fs := &fakeStore{getDocumentFn: ownedDocument("doc-1", "usr-1")}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodPut, "/api/documents/doc-1/settings", token,
		`{"provider":"anthropic","model":"claude-sonnet-4-20250514","temperature":3,"maxSteps":5}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodePayload(t, rr)["code"] != "INVALID_TEMPERATURE" {
		t.Fatalf("expected INVALID_TEMPERATURE, got %s", rr.Body.String())
	}
}

func TestCreateTextSourceRoute(t *testing.T) {
	var inserted store.Source
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		insertSourceFn: func(_ context.Context, source store.Source) error {
			inserted = source
			return nil
		},
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return inserted, nil
		},
	}
	queue := &fakeQueue{}
	server := NewHTTPServer(newTestService(fs, queue), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodPost, "/api/documents/doc-1/sources", token,
		`{"kind":"text","title":"Style notes","text":"Prefer short sentences."}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["status"] != store.SourceProcessing {
		t.Fatalf("expected processing, got %v", payload["status"])
	}
	if len(queue.tasks) != 1 || queue.tasks[0] != TaskIndexSource {
		t.Fatalf("expected an index task, got %v", queue.tasks)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodGet, "/api/widgets", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetDocumentMissingIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{}, sql.ErrNoRows
		},
	}
	server := NewHTTPServer(newTestService(fs, &fakeQueue{}), "*")
	token := issueTestToken(t, "usr-1")

	rr := doRequest(t, server, http.MethodGet, "/api/documents/doc-missing", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

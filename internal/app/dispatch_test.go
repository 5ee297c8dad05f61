package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"inkwell/api/internal/agent"
	"inkwell/api/internal/scrape"
	"inkwell/api/internal/store"
)

func generateServiceFixture(provider agent.Provider, fs *fakeStore) *Service {
	return New(testConfig(), Deps{
		Store:     fs,
		Accounts:  &fakeAccounts{},
		Sessions:  &fakeSessions{},
		Queue:     &fakeQueue{},
		Providers: map[string]agent.Provider{"anthropic": provider},
	})
}

func pendingCommentStore() *fakeStore {
	return &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc-1", OwnerID: "usr-1", Title: "Draft"}, nil
		},
		getCommentFn: func(context.Context, string) (store.Comment, error) {
			return store.Comment{ID: "cmt-1", DocumentID: "doc-1", SelectedText: "the second act drags", Status: store.CommentStreaming}, nil
		},
		listMessagesFn: func(context.Context, string) ([]store.Message, error) {
			return []store.Message{
				{ID: "msg-1", Role: store.RoleUser, Content: "How can I tighten this?"},
			}, nil
		},
	}
}

func TestHandleGenerateCompletesTheComment(t *testing.T) {
	fs := pendingCommentStore()
	var completedContent string
	fs.completeCommentFn = func(_ context.Context, commentID, messageID, content string) error {
		if commentID != "cmt-1" {
			t.Fatalf("unexpected comment %q", commentID)
		}
		if messageID == "" {
			t.Fatalf("expected a message id")
		}
		completedContent = content
		return nil
	}
	provider := &fakeProvider{reply: "Cut the flashback and open on the argument."}
	svc := generateServiceFixture(provider, fs)

	err := svc.handleGenerate(context.Background(), mustJSON(t, generatePayload{DocumentID: "doc-1", CommentID: "cmt-1"}))
	if err != nil {
		t.Fatalf("handle generate: %v", err)
	}
	if completedContent != "Cut the flashback and open on the argument." {
		t.Fatalf("unexpected completion: %q", completedContent)
	}
	if len(provider.last.Messages) != 1 || provider.last.Messages[0].Role != "user" {
		t.Fatalf("unexpected history sent to the provider: %+v", provider.last.Messages)
	}
	if !strings.Contains(provider.last.System, "the second act drags") {
		t.Fatalf("expected the highlighted passage in the system prompt")
	}
}

func TestHandleGenerateSkipsWhenClaimLost(t *testing.T) {
	fs := pendingCommentStore()
	fs.markCommentStreamingFn = func(context.Context, string) (bool, error) {
		return false, nil
	}
	provider := &fakeProvider{reply: "should never run"}
	svc := generateServiceFixture(provider, fs)

	err := svc.handleGenerate(context.Background(), mustJSON(t, generatePayload{DocumentID: "doc-1", CommentID: "cmt-1"}))
	if err != nil {
		t.Fatalf("handle generate: %v", err)
	}
	if provider.last.Model != "" {
		t.Fatalf("expected the provider not to be called after a lost claim")
	}
}

func TestHandleGenerateFailureLandsOnTheComment(t *testing.T) {
	fs := pendingCommentStore()
	var failedMessage string
	fs.failCommentFn = func(_ context.Context, _, message string) error {
		failedMessage = message
		return nil
	}
	provider := &fakeProvider{err: errors.New("provider unavailable")}
	svc := generateServiceFixture(provider, fs)

	err := svc.handleGenerate(context.Background(), mustJSON(t, generatePayload{DocumentID: "doc-1", CommentID: "cmt-1"}))
	if err == nil {
		t.Fatalf("expected the handler to report the failure")
	}
	if !strings.Contains(failedMessage, "provider unavailable") {
		t.Fatalf("expected the failure recorded on the comment, got %q", failedMessage)
	}
}

func TestHandleGenerateUsesDocumentSettings(t *testing.T) {
	fs := pendingCommentStore()
	fs.getSettingsFn = func(context.Context, string) (store.DocumentSettings, bool, error) {
		return store.DocumentSettings{
			DocumentID:   "doc-1",
			Provider:     "anthropic",
			Model:        "claude-opus-4-1",
			Temperature:  0.2,
			MaxSteps:     2,
			SystemPrompt: "You are a ruthless line editor.",
		}, true, nil
	}
	provider := &fakeProvider{reply: "done"}
	svc := generateServiceFixture(provider, fs)

	if err := svc.handleGenerate(context.Background(), mustJSON(t, generatePayload{DocumentID: "doc-1", CommentID: "cmt-1"})); err != nil {
		t.Fatalf("handle generate: %v", err)
	}
	if provider.last.Model != "claude-opus-4-1" {
		t.Fatalf("expected the custom model, got %q", provider.last.Model)
	}
	if provider.last.MaxSteps != 2 {
		t.Fatalf("expected the custom step limit, got %d", provider.last.MaxSteps)
	}
	if !strings.HasPrefix(provider.last.System, "You are a ruthless line editor.") {
		t.Fatalf("expected the custom system prompt first, got %q", provider.last.System)
	}
}

func TestHandleIndexSourceIndexesPastedText(t *testing.T) {
	index := &fakeRetrievalIndex{}
	var markedText string
	fs := &fakeStore{
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return store.Source{
				ID:            "src-1",
				DocumentID:    "doc-1",
				Kind:          store.SourceText,
				Title:         "Style notes",
				Status:        store.SourceProcessing,
				ExtractedText: "Prefer short declarative sentences.",
			}, nil
		},
		markSourceIndexedFn: func(_ context.Context, _, _, extractedText string) error {
			markedText = extractedText
			return nil
		},
	}
	svc := New(testConfig(), Deps{
		Store:     fs,
		Accounts:  &fakeAccounts{},
		Sessions:  &fakeSessions{},
		Queue:     &fakeQueue{},
		Retrieval: index,
	})

	if err := svc.handleIndexSource(context.Background(), mustJSON(t, indexSourcePayload{SourceID: "src-1"})); err != nil {
		t.Fatalf("handle index source: %v", err)
	}
	if len(index.entries) != 1 {
		t.Fatalf("expected one index entry, got %d", len(index.entries))
	}
	entry := index.entries[0]
	if entry.DocumentID != "doc-1" || entry.SourceID != "src-1" {
		t.Fatalf("entry not scoped to its document: %+v", entry)
	}
	if markedText != "Prefer short declarative sentences." {
		t.Fatalf("expected extracted text persisted, got %q", markedText)
	}
}

func TestHandleIndexSourceFetchesWebPages(t *testing.T) {
	var newTitle string
	fs := &fakeStore{
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return store.Source{
				ID:         "src-1",
				DocumentID: "doc-1",
				Kind:       store.SourceWeb,
				Title:      "https://example.com/essay",
				URL:        "https://example.com/essay",
				Status:     store.SourceProcessing,
			}, nil
		},
		updateSourceTitleFn: func(_ context.Context, _, title string) error {
			newTitle = title
			return nil
		},
	}
	svc := New(testConfig(), Deps{
		Store:    fs,
		Accounts: &fakeAccounts{},
		Sessions: &fakeSessions{},
		Queue:    &fakeQueue{},
		Fetcher:  &fakeFetcher{result: scrape.Result{Title: "On Essays", Text: "Essays are conversations."}},
	})

	if err := svc.handleIndexSource(context.Background(), mustJSON(t, indexSourcePayload{SourceID: "src-1"})); err != nil {
		t.Fatalf("handle index source: %v", err)
	}
	if newTitle != "On Essays" {
		t.Fatalf("expected the fetched title, got %q", newTitle)
	}
}

func TestHandleIndexSourceFailureLandsOnTheSource(t *testing.T) {
	var failedMessage string
	fs := &fakeStore{
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return store.Source{ID: "src-1", DocumentID: "doc-1", Kind: store.SourceWeb, URL: "https://example.com", Status: store.SourceProcessing}, nil
		},
		failSourceFn: func(_ context.Context, _, message string) error {
			failedMessage = message
			return nil
		},
	}
	svc := New(testConfig(), Deps{
		Store:    fs,
		Accounts: &fakeAccounts{},
		Sessions: &fakeSessions{},
		Queue:    &fakeQueue{},
		Fetcher:  &fakeFetcher{err: errors.New("page unreachable")},
	})

	err := svc.handleIndexSource(context.Background(), mustJSON(t, indexSourcePayload{SourceID: "src-1"}))
	if err == nil {
		t.Fatalf("expected the handler to report the failure")
	}
	if !strings.Contains(failedMessage, "page unreachable") {
		t.Fatalf("expected the failure recorded on the source, got %q", failedMessage)
	}
}

func TestHandleIndexSourceIgnoresDeletedSources(t *testing.T) {
	fs := &fakeStore{
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return store.Source{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	if err := svc.handleIndexSource(context.Background(), mustJSON(t, indexSourcePayload{SourceID: "src-gone"})); err != nil {
		t.Fatalf("expected a deleted source to be a no-op, got %v", err)
	}
}

func TestHandleIndexSourceSurvivesIndexPushFailure(t *testing.T) {
	index := &fakeRetrievalIndex{err: errors.New("meilisearch down")}
	marked := false
	fs := &fakeStore{
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return store.Source{ID: "src-1", DocumentID: "doc-1", Kind: store.SourceText, Status: store.SourceProcessing, ExtractedText: "text"}, nil
		},
		markSourceIndexedFn: func(context.Context, string, string, string) error {
			marked = true
			return nil
		},
	}
	svc := New(testConfig(), Deps{
		Store:     fs,
		Accounts:  &fakeAccounts{},
		Sessions:  &fakeSessions{},
		Queue:     &fakeQueue{},
		Retrieval: index,
	})

	if err := svc.handleIndexSource(context.Background(), mustJSON(t, indexSourcePayload{SourceID: "src-1"})); err != nil {
		t.Fatalf("expected indexing to fall through to Postgres, got %v", err)
	}
	if !marked {
		t.Fatalf("expected the source marked indexed despite the push failure")
	}
}

func TestCreateFileSourceStoresTheObject(t *testing.T) {
	blobs := &fakeBlobs{}
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
	svc := New(testConfig(), Deps{
		Store:    fs,
		Accounts: &fakeAccounts{},
		Sessions: &fakeSessions{},
		Queue:    queue,
		Blobs:    blobs,
	})

	source, err := svc.CreateFileSource(context.Background(), Session{UserID: "usr-1"}, "doc-1", "notes.txt", "text/plain", []byte("some notes"))
	if err != nil {
		t.Fatalf("create file source: %v", err)
	}
	if source.ObjectKey == "" {
		t.Fatalf("expected an object key")
	}
	if _, ok := blobs.objects[source.ObjectKey]; !ok {
		t.Fatalf("expected the payload stored under %q", source.ObjectKey)
	}
	if len(queue.tasks) != 1 || queue.tasks[0] != TaskIndexSource {
		t.Fatalf("expected one index task, got %v", queue.tasks)
	}
}

func TestCreateFileSourceWithoutBlobStoreIsDisabled(t *testing.T) {
	fs := &fakeStore{getDocumentFn: ownedDocument("doc-1", "usr-1")}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.CreateFileSource(context.Background(), Session{UserID: "usr-1"}, "doc-1", "notes.txt", "text/plain", []byte("x"))
	assertDomainCode(t, err, "FILE_SOURCES_DISABLED")
}

func TestCreateFileSourceRejectsOversizedUploads(t *testing.T) {
	fs := &fakeStore{getDocumentFn: ownedDocument("doc-1", "usr-1")}
	svc := New(testConfig(), Deps{
		Store:    fs,
		Accounts: &fakeAccounts{},
		Sessions: &fakeSessions{},
		Queue:    &fakeQueue{},
		Blobs:    &fakeBlobs{},
	})

	_, err := svc.CreateFileSource(context.Background(), Session{UserID: "usr-1"}, "doc-1", "big.bin", "application/octet-stream", make([]byte, maxSourceBytes+1))
	assertDomainCode(t, err, "SOURCE_TOO_LARGE")
}

func TestCreateWebSourceSchedulesIndexing(t *testing.T) {
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
	svc := New(testConfig(), Deps{
		Store:    fs,
		Accounts: &fakeAccounts{},
		Sessions: &fakeSessions{},
		Queue:    queue,
		Fetcher:  &fakeFetcher{},
	})

	source, err := svc.CreateWebSource(context.Background(), Session{UserID: "usr-1"}, "doc-1", WebSourceInput{URL: "https://example.com/essay"})
	if err != nil {
		t.Fatalf("create web source: %v", err)
	}
	if source.Status != store.SourceProcessing {
		t.Fatalf("expected status processing, got %q", source.Status)
	}
	if len(queue.tasks) != 1 || queue.tasks[0] != TaskIndexSource {
		t.Fatalf("expected one index task, got %v", queue.tasks)
	}
}

func TestCreateWebSourceRejectsMalformedURLs(t *testing.T) {
	inserted := false
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		insertSourceFn: func(context.Context, store.Source) error {
			inserted = true
			return nil
		},
	}
	queue := &fakeQueue{}
	svc := New(testConfig(), Deps{
		Store:    fs,
		Accounts: &fakeAccounts{},
		Sessions: &fakeSessions{},
		Queue:    queue,
		Fetcher:  &fakeFetcher{},
	})

	for _, raw := range []string{
		"notaurl",
		"ftp://example.com/feed",
		"http://",
		"/just/a/path",
		"http://%zz",
	} {
		_, err := svc.CreateWebSource(context.Background(), Session{UserID: "usr-1"}, "doc-1", WebSourceInput{URL: raw})
		assertDomainCode(t, err, "INVALID_URL")
	}
	if inserted {
		t.Fatal("expected no source row for a rejected URL")
	}
	if len(queue.tasks) != 0 {
		t.Fatalf("expected no tasks for a rejected URL, got %v", queue.tasks)
	}
}

func TestRemoveSourceCleansUpArtifacts(t *testing.T) {
	index := &fakeRetrievalIndex{}
	blobs := &fakeBlobs{objects: map[string][]byte{"doc-1/obj/notes.txt": []byte("x")}}
	deleted := false
	fs := &fakeStore{
		getDocumentFn: ownedDocument("doc-1", "usr-1"),
		getSourceFn: func(context.Context, string) (store.Source, error) {
			return store.Source{
				ID:           "src-1",
				DocumentID:   "doc-1",
				Kind:         store.SourceFile,
				ObjectKey:    "doc-1/obj/notes.txt",
				IndexEntryID: "ent-1",
				Status:       store.SourceIndexed,
			}, nil
		},
		deleteSourceFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	svc := New(testConfig(), Deps{
		Store:     fs,
		Accounts:  &fakeAccounts{},
		Sessions:  &fakeSessions{},
		Queue:     &fakeQueue{},
		Retrieval: index,
		Blobs:     blobs,
	})

	if err := svc.RemoveSource(context.Background(), Session{UserID: "usr-1"}, "doc-1", "src-1"); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	if !deleted {
		t.Fatalf("expected the source row deleted")
	}
	if len(index.deleted) != 1 || index.deleted[0] != "ent-1" {
		t.Fatalf("expected the index entry deleted, got %v", index.deleted)
	}
	if len(blobs.objects) != 0 {
		t.Fatalf("expected the stored object deleted")
	}
}

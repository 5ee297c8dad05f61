package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"inkwell/api/internal/ingest"
	"inkwell/api/internal/retrieval"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Sources move uploading -> processing -> indexed, or -> error at any
// point. Extraction and indexing run on the job queue; the API returns
// as soon as the source row exists.

const maxSourceBytes = 20 << 20

type indexSourcePayload struct {
	SourceID string `json:"sourceId"`
}

type TextSourceInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type WebSourceInput struct {
	URL string `json:"url"`
}

// CreateTextSource attaches pasted text as a source.
func (s *Service) CreateTextSource(ctx context.Context, session Session, documentID string, input TextSourceInput) (store.Source, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return store.Source{}, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return store.Source{}, domainError(http.StatusBadRequest, "EMPTY_SOURCE", "Source text is required", nil)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Pasted text"
	}

	source := store.Source{
		ID:            util.NewID("src"),
		DocumentID:    documentID,
		UserID:        session.UserID,
		Kind:          store.SourceText,
		Title:         title,
		Status:        store.SourceProcessing,
		ExtractedText: text,
	}
	if err := s.store.InsertSource(ctx, source); err != nil {
		return store.Source{}, err
	}
	if err := s.enqueueIndexing(ctx, source.ID); err != nil {
		return store.Source{}, err
	}
	return s.store.GetSource(ctx, source.ID)
}

// CreateWebSource attaches a web page as a source. The page is fetched
// and extracted by the indexing job, not here.
func (s *Service) CreateWebSource(ctx context.Context, session Session, documentID string, input WebSourceInput) (store.Source, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return store.Source{}, err
	}
	rawURL := strings.TrimSpace(input.URL)
	if rawURL == "" {
		return store.Source{}, domainError(http.StatusBadRequest, "EMPTY_URL", "Source URL is required", nil)
	}
	// Rejecting a bad URL here means no source row and no wasted job.
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return store.Source{}, domainError(http.StatusBadRequest, "INVALID_URL", "Source URL must be an absolute http or https URL", nil)
	}
	if s.fetcher == nil {
		return store.Source{}, domainError(http.StatusNotImplemented, "WEB_SOURCES_DISABLED", "Web sources are not configured on this server", nil)
	}

	source := store.Source{
		ID:         util.NewID("src"),
		DocumentID: documentID,
		UserID:     session.UserID,
		Kind:       store.SourceWeb,
		Title:      rawURL,
		URL:        rawURL,
		Status:     store.SourceProcessing,
	}
	if err := s.store.InsertSource(ctx, source); err != nil {
		return store.Source{}, err
	}
	if err := s.enqueueIndexing(ctx, source.ID); err != nil {
		return store.Source{}, err
	}
	return s.store.GetSource(ctx, source.ID)
}

// CreateFileSource stores an uploaded file and schedules extraction.
func (s *Service) CreateFileSource(ctx context.Context, session Session, documentID, filename, mimeType string, data []byte) (store.Source, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return store.Source{}, err
	}
	if len(data) == 0 {
		return store.Source{}, domainError(http.StatusBadRequest, "EMPTY_SOURCE", "File payload is required", nil)
	}
	if len(data) > maxSourceBytes {
		return store.Source{}, domainError(http.StatusRequestEntityTooLarge, "SOURCE_TOO_LARGE", "File exceeds the upload size limit", nil)
	}
	if s.blobs == nil {
		return store.Source{}, domainError(http.StatusNotImplemented, "FILE_SOURCES_DISABLED", "File sources are not configured on this server", nil)
	}

	title := strings.TrimSpace(filename)
	if title == "" {
		title = "Uploaded file"
	}

	source := store.Source{
		ID:         util.NewID("src"),
		DocumentID: documentID,
		UserID:     session.UserID,
		Kind:       store.SourceFile,
		Title:      title,
		MimeType:   mimeType,
		ObjectKey:  fmt.Sprintf("%s/%s/%s", documentID, util.NewID("obj"), title),
		Status:     store.SourceUploading,
	}
	if err := s.store.InsertSource(ctx, source); err != nil {
		return store.Source{}, err
	}

	if err := s.blobs.Put(ctx, source.ObjectKey, data, mimeType); err != nil {
		_ = s.store.FailSource(ctx, source.ID, "upload failed")
		return store.Source{}, err
	}
	if err := s.store.MarkSourceProcessing(ctx, source.ID); err != nil {
		return store.Source{}, err
	}
	if err := s.enqueueIndexing(ctx, source.ID); err != nil {
		return store.Source{}, err
	}
	return s.store.GetSource(ctx, source.ID)
}

func (s *Service) enqueueIndexing(ctx context.Context, sourceID string) error {
	return s.queue.Enqueue(ctx, TaskIndexSource, indexSourcePayload{SourceID: sourceID})
}

// handleIndexSource extracts a source's text and pushes it into the
// retrieval index. Failures land on the source row as status error.
func (s *Service) handleIndexSource(ctx context.Context, payload json.RawMessage) error {
	var p indexSourcePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode index payload: %w", err)
	}

	source, err := s.store.GetSource(ctx, p.SourceID)
	if err != nil {
		// Source deleted before the job ran.
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	if source.Status == store.SourceIndexed {
		return nil
	}

	text, title, err := s.extractSource(ctx, source)
	if err != nil {
		if failErr := s.store.FailSource(ctx, source.ID, err.Error()); failErr != nil {
			return failErr
		}
		return err
	}

	if title != "" && title != source.Title {
		if err := s.store.UpdateSourceTitle(ctx, source.ID, title); err != nil {
			return err
		}
		source.Title = title
	}

	entryID := source.IndexEntryID
	if entryID == "" {
		entryID = util.NewID("ent")
	}
	if s.retrieval != nil {
		if err := s.retrieval.IndexEntry(retrieval.Entry{
			ID:         entryID,
			SourceID:   source.ID,
			DocumentID: source.DocumentID,
			Title:      source.Title,
			Text:       text,
		}); err != nil {
			// PG FTS still covers the source via extracted_text, so an
			// index push failure is not fatal.
			log.Printf("sources: index entry %s: %v", entryID, err)
		}
	}

	return s.store.MarkSourceIndexed(ctx, source.ID, entryID, text)
}

func (s *Service) extractSource(ctx context.Context, source store.Source) (text, title string, err error) {
	switch source.Kind {
	case store.SourceText:
		return source.ExtractedText, "", nil
	case store.SourceWeb:
		if s.fetcher == nil {
			return "", "", fmt.Errorf("web sources are not configured")
		}
		result, err := s.fetcher.Fetch(ctx, source.URL)
		if err != nil {
			return "", "", err
		}
		return result.Text, result.Title, nil
	case store.SourceFile:
		if s.blobs == nil {
			return "", "", fmt.Errorf("file sources are not configured")
		}
		data, err := s.blobs.Get(ctx, source.ObjectKey)
		if err != nil {
			return "", "", err
		}
		text, err := ingest.Extract(source.MimeType, data)
		if err != nil {
			return "", "", err
		}
		return text, "", nil
	default:
		return "", "", fmt.Errorf("unknown source kind %q", source.Kind)
	}
}

func (s *Service) ListSources(ctx context.Context, session Session, documentID string) ([]store.Source, error) {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.store.ListSources(ctx, documentID)
}

// RemoveSource deletes a source. Index and object cleanup is
// best-effort: the row goes away regardless.
func (s *Service) RemoveSource(ctx context.Context, session Session, documentID, sourceID string) error {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return err
	}
	source, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if source.DocumentID != documentID {
		return sql.ErrNoRows
	}

	s.cleanupSourceArtifacts(ctx, source)
	return s.store.DeleteSource(ctx, sourceID)
}

func (s *Service) cleanupSourceArtifacts(ctx context.Context, source store.Source) {
	if s.retrieval != nil && source.IndexEntryID != "" {
		if err := s.retrieval.DeleteEntry(source.IndexEntryID); err != nil {
			log.Printf("sources: delete index entry %s: %v", source.IndexEntryID, err)
		}
	}
	if s.blobs != nil && source.ObjectKey != "" {
		if err := s.blobs.Delete(ctx, source.ObjectKey); err != nil {
			log.Printf("sources: delete object %s: %v", source.ObjectKey, err)
		}
	}
}

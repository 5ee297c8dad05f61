package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Document struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string // serialized rich-text blob, opaque to the backend
	Archived  bool
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Comment statuses. awaiting_input only occurs on the manual-comment
// flow, before the user has typed their first question.
const (
	CommentAwaitingInput = "awaiting_input"
	CommentPending       = "pending"
	CommentStreaming     = "streaming"
	CommentComplete      = "complete"
	CommentError         = "error"
)

type Comment struct {
	ID              string
	DocumentID      string
	UserID          string
	AnnotationToken string
	SelectedText    string
	Status          string
	ErrorMessage    string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        string
	CommentID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Source kinds and indexing statuses.
const (
	SourceFile = "file"
	SourceWeb  = "web"
	SourceText = "text"

	SourceUploading  = "uploading"
	SourceProcessing = "processing"
	SourceIndexed    = "indexed"
	SourceFailed     = "error"
)

type Source struct {
	ID           string
	DocumentID   string
	UserID       string
	Kind         string
	Title        string
	MimeType     string // file sources
	ObjectKey    string // file sources: key in object storage
	URL          string // web sources
	Status       string
	ErrorMessage string
	// Opaque handle returned by the retrieval index at add time, used
	// to delete the indexed content later. Empty until indexed.
	IndexEntryID  string
	ExtractedText string
	CreatedAt     time.Time
}

type DocumentSettings struct {
	DocumentID    string
	Provider      string
	Model         string
	Temperature   float64
	MaxSteps      int
	SystemPrompt  string
	Description   string
	ToolSources   bool
	ToolWebSearch bool
	ToolCitations bool
	UpdatedAt     time.Time
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/agent"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/jobs"
	"inkwell/api/internal/retrieval"
	"inkwell/api/internal/scrape"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsByOwner(context.Context, string) ([]store.Document, error)
	UpdateDocument(context.Context, string, string, string) error
	SetDocumentArchived(context.Context, string, bool) error
	DeleteDocument(context.Context, string) error

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	MarkCommentPending(context.Context, string, ...string) (bool, error)
	MarkCommentStreaming(context.Context, string) (bool, error)
	CompleteComment(context.Context, string, string, string) error
	FailComment(context.Context, string, string) error
	ResolveComment(context.Context, string) error
	FailStaleGeneration(context.Context, int) (int64, error)
	InsertMessage(context.Context, store.Message) error
	ListMessages(context.Context, string) ([]store.Message, error)

	InsertSource(context.Context, store.Source) error
	GetSource(context.Context, string) (store.Source, error)
	ListSources(context.Context, string) ([]store.Source, error)
	UpdateSourceTitle(context.Context, string, string) error
	MarkSourceProcessing(context.Context, string) error
	MarkSourceIndexed(context.Context, string, string, string) error
	FailSource(context.Context, string, string) error
	DeleteSource(context.Context, string) error

	GetDocumentSettings(context.Context, string) (store.DocumentSettings, bool, error)
	UpsertDocumentSettings(context.Context, store.DocumentSettings) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Redis when configured, the
// Postgres store otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type accountService interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error)
	SignIn(ctx context.Context, email, password string) (store.User, error)
}

type retrievalIndex interface {
	Search(q retrieval.Query) ([]retrieval.Hit, error)
	IndexEntry(entry retrieval.Entry) error
	DeleteEntry(id string) error
}

type blobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (scrape.Result, error)
}

type toolBuilder interface {
	Build(documentID string, settings store.DocumentSettings) []agent.Tool
}

// Deps bundles the infrastructure the service talks to. Blobs and
// fetcher may be nil when file or web sources are not configured.
type Deps struct {
	Store     dataStore
	Accounts  accountService
	Sessions  sessionStore
	Retrieval retrievalIndex
	Blobs     blobStore
	Queue     jobs.Queue
	Tools     toolBuilder
	Providers map[string]agent.Provider
	Fetcher   pageFetcher
}

type Service struct {
	cfg       config.Config
	store     dataStore
	accounts  accountService
	sessions  sessionStore
	retrieval retrievalIndex
	blobs     blobStore
	queue     jobs.Queue
	tools     toolBuilder
	providers map[string]agent.Provider
	fetcher   pageFetcher
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		retrieval: deps.Retrieval,
		blobs:     deps.Blobs,
		queue:     deps.Queue,
		tools:     deps.Tools,
		providers: deps.Providers,
		fetcher:   deps.Fetcher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Auth

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailExists) {
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, domainError(http.StatusBadRequest, "INVALID_SIGNUP", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_REFRESH", "Refresh token is invalid or expired", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	// Rotate: the old refresh token dies with this call.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Documents

type DocumentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input DocumentInput) (store.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}
	doc := store.Document{
		ID:      util.NewID("doc"),
		OwnerID: session.UserID,
		Title:   title,
		Content: input.Content,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}
	return s.store.GetDocument(ctx, doc.ID)
}

// getOwnedDocument loads a document and enforces ownership. Documents
// owned by someone else are reported as not found so the API does not
// reveal which IDs exist.
func (s *Service) getOwnedDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if doc.OwnerID != session.UserID {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	return s.getOwnedDocument(ctx, session, documentID)
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]store.Document, error) {
	return s.store.ListDocumentsByOwner(ctx, session.UserID)
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input DocumentInput) (store.Document, error) {
	doc, err := s.getOwnedDocument(ctx, session, documentID)
	if err != nil {
		return store.Document{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = doc.Title
	}
	if err := s.store.UpdateDocument(ctx, documentID, title, input.Content); err != nil {
		return store.Document{}, err
	}
	return s.store.GetDocument(ctx, documentID)
}

func (s *Service) SetDocumentArchived(ctx context.Context, session Session, documentID string, archived bool) error {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return err
	}
	return s.store.SetDocumentArchived(ctx, documentID, archived)
}

// DeleteDocument removes a document and everything hanging off it. The
// database cascades rows; index entries and stored files are cleaned
// up here first, best-effort.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if _, err := s.getOwnedDocument(ctx, session, documentID); err != nil {
		return err
	}

	sources, err := s.store.ListSources(ctx, documentID)
	if err != nil {
		return err
	}
	for _, src := range sources {
		s.cleanupSourceArtifacts(ctx, src)
	}

	return s.store.DeleteDocument(ctx, documentID)
}

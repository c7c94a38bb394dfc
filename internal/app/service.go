package app

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"talentfolio/api/internal/auth"
	"talentfolio/api/internal/config"
	"talentfolio/api/internal/engine"
	"talentfolio/api/internal/enhance"
	"talentfolio/api/internal/export"
	"talentfolio/api/internal/forms"
	"talentfolio/api/internal/history"
	"talentfolio/api/internal/notify"
	"talentfolio/api/internal/search"
	"talentfolio/api/internal/session"
	"talentfolio/api/internal/upload"
	"talentfolio/api/internal/util"
)

// Session is the resolved identity behind an API token.
type Session struct {
	Token       string
	UserID      string
	DisplayName string
	ProfileType string
	JTI         string
	ExpiresAt   time.Time
}

// Toast is a queued user-facing warning; the client drains them via the
// session endpoint.
type Toast struct {
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
}

// DataStore is the persistence surface the app layer needs: the engine's
// document contract plus the read paths used by export and search fallback.
type DataStore interface {
	engine.DocumentStore
	ListProfileSections(ctx context.Context, userID string) ([]*forms.SectionDocument, error)
	Ping(ctx context.Context) error
}

// TokenStore holds auth contexts; implemented by session.RedisStore.
type TokenStore interface {
	Save(ctx context.Context, tokenHash string, ac session.AuthContext, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.AuthContext, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Deps bundles the collaborators a Service is wired with. Search, History,
// Export and Enhance are optional; the corresponding endpoints degrade when
// they are nil.
type Deps struct {
	Store   DataStore
	Tokens  TokenStore
	Objects upload.ObjectStore
	Catalog *forms.Catalog
	Bus     *notify.Bus
	Search  *search.Service
	History *history.Service
	Export  *export.Service
	Enhance *enhance.Client
}

// Service coordinates editing sessions and the supporting profile features.
type Service struct {
	cfg     config.Config
	store   DataStore
	tokens  TokenStore
	objects upload.ObjectStore
	catalog *forms.Catalog
	bus     *notify.Bus
	search  *search.Service
	history *history.Service
	export  *export.Service
	enhance *enhance.Client

	mu      sync.Mutex
	editors map[string]*editor
	toasts  map[string][]Toast
	subs    []*notify.Subscription
}

// editor is one open (user, section) editing surface: the sync session, its
// upload controller, and the loader that feeds external updates back in.
type editor struct {
	session    *engine.Session
	controller *upload.Controller
	loader     *engine.Loader
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		tokens:  deps.Tokens,
		objects: deps.Objects,
		catalog: deps.Catalog,
		bus:     deps.Bus,
		search:  deps.Search,
		history: deps.History,
		export:  deps.Export,
		enhance: deps.Enhance,
		editors: make(map[string]*editor),
		toasts:  make(map[string][]Toast),
	}
}

// Bootstrap attaches the change-bus consumers (history, search indexing).
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	if s.history != nil {
		s.subs = append(s.subs, s.history.Subscribe(s.bus, s.store))
	}
	if s.search != nil {
		s.subs = append(s.subs, s.search.Subscribe(s.bus, s.store))
	}
	return nil
}

// Close tears down every open editor and bus subscription.
func (s *Service) Close() {
	s.mu.Lock()
	editors := s.editors
	s.editors = make(map[string]*editor)
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, ed := range editors {
		ed.session.Close()
		ed.controller.Close()
		ed.loader.Close()
	}
	for _, sub := range subs {
		sub.Cancel()
	}
}

// Ping checks the dependencies the readiness probe reports on.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the token store.
func (s *Service) PingSessions(ctx context.Context) error {
	if s.tokens == nil {
		return errors.New("session store not configured")
	}
	return s.tokens.Ping(ctx)
}

// Catalog lists the configured section definitions.
func (s *Service) Catalog() []forms.SectionDef {
	return s.catalog.Sections()
}

// Login issues a token for a display name. The user id is derived
// deterministically from the name so repeat logins resume the same profile.
func (s *Service) Login(ctx context.Context, displayName, profileType string) (Session, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "displayName is required", nil)
	}
	if profileType == "" {
		profileType = "candidate"
	}

	userID := deriveUserID(displayName)
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.TokenTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:         userID,
		Name:        displayName,
		ProfileType: profileType,
		JTI:         jti,
		Exp:         expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	if err := s.tokens.Save(ctx, auth.HashToken(token), session.AuthContext{
		UserID:      userID,
		DisplayName: displayName,
		ProfileType: profileType,
	}, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	// Re-push the user's saved sections into the search index on login; the
	// index may have missed writes while Meilisearch was down.
	if s.search != nil {
		go s.search.ReindexUser(context.Background(), userID, s.store)
	}

	return Session{
		Token:       token,
		UserID:      userID,
		DisplayName: displayName,
		ProfileType: profileType,
		JTI:         jti,
		ExpiresAt:   expiresAt,
	}, nil
}

// SessionFromToken validates a token and resolves its stored auth context.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	ac, err := s.tokens.Lookup(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{
		Token:       token,
		UserID:      ac.UserID,
		DisplayName: ac.DisplayName,
		ProfileType: ac.ProfileType,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the token's auth context and closes the user's editors.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.Token == "" {
		return nil
	}
	s.closeUserEditors(sess.UserID)
	return s.tokens.Revoke(ctx, auth.HashToken(sess.Token))
}

// DrainToasts returns and clears the user's queued warnings.
func (s *Service) DrainToasts(userID string) []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.toasts[userID]
	delete(s.toasts, userID)
	if queued == nil {
		queued = []Toast{}
	}
	return queued
}

// SectionState returns the editable form state for one section: the live
// editor snapshot when one is open, a fresh load otherwise.
func (s *Service) SectionState(ctx context.Context, sess Session, sectionID string) (forms.FormState, error) {
	def, ok := s.catalog.Section(sectionID)
	if !ok {
		return nil, sectionNotFound(sectionID)
	}

	s.mu.Lock()
	ed, open := s.editors[editorKey(sess.UserID, sectionID)]
	s.mu.Unlock()
	if open {
		return ed.session.Snapshot(), nil
	}

	loader := engine.NewLoader(sess.UserID, def, s.store, nil, nil)
	form, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load section %s: %w", sectionID, err)
	}
	return form, nil
}

// SetAnswer queues one edit through the section's editor, opening it on
// first touch.
func (s *Service) SetAnswer(ctx context.Context, sess Session, sectionID string, target engine.FieldTarget, value any) error {
	ed, err := s.editor(ctx, sess, sectionID)
	if err != nil {
		return err
	}
	if err := ed.session.Apply(target, value); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

// Flush persists any pending edits for one section immediately.
func (s *Service) Flush(ctx context.Context, sess Session, sectionID string) error {
	if _, ok := s.catalog.Section(sectionID); !ok {
		return sectionNotFound(sectionID)
	}
	s.mu.Lock()
	ed, open := s.editors[editorKey(sess.UserID, sectionID)]
	s.mu.Unlock()
	if !open {
		return nil
	}
	ed.session.Flush(ctx)
	return nil
}

// CloseSection tears down the editing session for one section: pending
// timer cancelled, previews released, loader unsubscribed.
func (s *Service) CloseSection(sess Session, sectionID string) {
	s.mu.Lock()
	key := editorKey(sess.UserID, sectionID)
	ed, open := s.editors[key]
	delete(s.editors, key)
	s.mu.Unlock()
	if !open {
		return
	}
	ed.session.Close()
	ed.controller.Close()
	ed.loader.Close()
}

// UploadFile routes a file submission (or removal, with nil file) through
// the section's upload controller.
func (s *Service) UploadFile(ctx context.Context, sess Session, sectionID string, target engine.FieldTarget, file *upload.File) (*forms.FileRef, error) {
	ed, err := s.editor(ctx, sess, sectionID)
	if err != nil {
		return nil, err
	}
	return ed.controller.Submit(ctx, target, file)
}

// PreviewByToken resolves a live upload preview across all open editors.
func (s *Service) PreviewByToken(token string) (*upload.Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ed := range s.editors {
		if p, ok := ed.controller.Previews().ByToken(token); ok {
			return p, true
		}
	}
	return nil, false
}

// History lists the persisted revisions of one section.
func (s *Service) History(sess Session, sectionID string, limit int) ([]history.Revision, error) {
	if _, ok := s.catalog.Section(sectionID); !ok {
		return nil, sectionNotFound(sectionID)
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	return s.history.History(sess.UserID, sectionID, limit)
}

// ExportProfile renders the user's saved profile to PDF.
func (s *Service) ExportProfile(ctx context.Context, sess Session) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.export.Export(ctx, sess.UserID, sess.DisplayName, sess.ProfileType)
}

// SearchAnswers runs a free-text query over the user's answers.
func (s *Service) SearchAnswers(ctx context.Context, sess Session, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{UserID: sess.UserID, Text: text, Limit: limit})
}

// Enhance forwards text to the enhancement endpoint.
func (s *Service) Enhance(ctx context.Context, text string, maxLength int) (enhance.Response, error) {
	if s.enhance == nil {
		return enhance.Response{}, domainError(http.StatusServiceUnavailable, "ENHANCE_UNAVAILABLE", "Enhancement is not configured", nil)
	}
	return s.enhance.Enhance(ctx, text, maxLength)
}

// editor returns the open editing surface for (user, section), creating and
// seeding it on first use.
func (s *Service) editor(ctx context.Context, sess Session, sectionID string) (*editor, error) {
	def, ok := s.catalog.Section(sectionID)
	if !ok {
		return nil, sectionNotFound(sectionID)
	}

	key := editorKey(sess.UserID, sectionID)
	s.mu.Lock()
	if ed, open := s.editors[key]; open {
		s.mu.Unlock()
		return ed, nil
	}
	s.mu.Unlock()

	ed := &editor{}
	loader := engine.NewLoader(sess.UserID, def, s.store, s.bus, func(form forms.FormState) {
		// External (non-silent) writes supersede the local form; pending
		// edits survive inside the session.
		if ed.session != nil {
			ed.session.ReplaceForm(form)
		}
	})
	initial, err := loader.Start(ctx)
	if err != nil {
		loader.Close()
		return nil, fmt.Errorf("open section %s: %w", sectionID, err)
	}

	ed.loader = loader
	ed.session = engine.NewSession(engine.SessionConfig{
		UserID:      sess.UserID,
		ProfileType: sess.ProfileType,
		Def:         def,
		Store:       s.store,
		Bus:         s.bus,
		Toast:       s.toaster(sess.UserID),
		Debounce:    s.cfg.DebounceDelay,
	}, initial)
	ed.controller = upload.NewController(sess.UserID, sectionID, s.objects, nil, ed.session.Apply)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, open := s.editors[key]; open {
		// Lost the race; discard ours.
		ed.session.Close()
		ed.controller.Close()
		ed.loader.Close()
		return existing, nil
	}
	s.editors[key] = ed
	return ed, nil
}

func (s *Service) toaster(userID string) engine.ToasterFunc {
	return func(message, severity string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.toasts[userID] = append(s.toasts[userID], Toast{
			Message:  message,
			Severity: severity,
			At:       time.Now(),
		})
	}
}

func (s *Service) closeUserEditors(userID string) {
	prefix := userID + "\x00"
	s.mu.Lock()
	var closing []*editor
	for key, ed := range s.editors {
		if strings.HasPrefix(key, prefix) {
			closing = append(closing, ed)
			delete(s.editors, key)
		}
	}
	s.mu.Unlock()
	for _, ed := range closing {
		ed.session.Close()
		ed.controller.Close()
		ed.loader.Close()
	}
}

func editorKey(userID, sectionID string) string {
	return userID + "\x00" + sectionID
}

func deriveUserID(displayName string) string {
	sum := sha1.Sum([]byte(strings.ToLower(displayName)))
	return "user-" + hex.EncodeToString(sum[:6])
}

func sectionNotFound(sectionID string) *DomainError {
	return domainError(http.StatusNotFound, "SECTION_NOT_FOUND", fmt.Sprintf("Unknown section %q", sectionID), nil)
}

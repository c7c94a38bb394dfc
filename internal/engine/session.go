// Package engine implements the form-data synchronization engine behind the
// profile section editor: debounced batching of granular edits, merge-on-
// failure persistence, and change notification for other consumers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"talentfolio/api/internal/forms"
	"talentfolio/api/internal/notify"
)

// DefaultDebounce is the flush window armed on every incoming edit.
const DefaultDebounce = 2 * time.Second

// ErrNotFound is returned by a DocumentStore when no document exists yet for
// a (user, section) pair.
var ErrNotFound = errors.New("profile section not found")

// DocumentStore is the remote persistence contract. Writes carry full
// overwrite semantics: the engine always reconstructs the whole document
// from merged form state, never patches individual fields. Failures should
// be wrapped in RemoteError so the engine can classify them.
type DocumentStore interface {
	GetProfileSection(ctx context.Context, userID, sectionID string) (*forms.SectionDocument, error)
	UpdateProfileSection(ctx context.Context, userID string, doc *forms.SectionDocument) error
}

// Toaster surfaces a non-blocking user-facing message. The engine decides
// when to call it, not how it renders.
type Toaster interface {
	ShowToast(message, severity string)
}

// ToasterFunc adapts a function to the Toaster interface.
type ToasterFunc func(message, severity string)

func (f ToasterFunc) ShowToast(message, severity string) { f(message, severity) }

// FieldTarget addresses a single editable field: a question, or one
// sub-field of one repeater group.
type FieldTarget struct {
	QuestionID string
	GroupIndex int // -1 unless addressing a repeater sub-field
	FieldID    string
}

// PreviewKey is the identity used for preview handles and upload flags.
func (t FieldTarget) PreviewKey() string {
	if t.FieldID == "" {
		return t.QuestionID
	}
	return fmt.Sprintf("%s[%d].%s", t.QuestionID, t.GroupIndex, t.FieldID)
}

// SessionConfig wires one editing session.
type SessionConfig struct {
	UserID      string
	ProfileType string
	Def         forms.SectionDef
	Store       DocumentStore
	Bus         *notify.Bus
	Toast       Toaster       // optional
	Debounce    time.Duration // defaults to DefaultDebounce
}

// Session owns the editable state of one open section editor: the form
// state, the pending change set, and the debounce timer. All of it is
// discarded when the session closes. At most one flush is ever in flight.
type Session struct {
	cfg      SessionConfig
	debounce time.Duration

	mu       sync.Mutex
	form     forms.FormState
	pending  map[string]any
	timer    *time.Timer
	flushing bool
	closed   bool
}

// NewSession creates an editing session seeded with initial form state.
// A nil initial state starts from the section's type defaults.
func NewSession(cfg SessionConfig, initial forms.FormState) *Session {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if initial == nil {
		initial = forms.ToForm(nil, cfg.Def)
	}
	return &Session{
		cfg:      cfg,
		debounce: cfg.Debounce,
		form:     initial,
		pending:  make(map[string]any),
	}
}

// Set applies value optimistically to the form state, records it in the
// pending change set (last write per question wins) and re-arms the flush
// timer. Fire-and-forget: persistence happens when the window expires.
func (s *Session) Set(questionID string, value any) error {
	if !s.hasQuestion(questionID) {
		return fmt.Errorf("unknown question %q in section %q", questionID, s.cfg.Def.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.form[questionID] = value
	s.pending[questionID] = value
	s.rearmLocked()
	return nil
}

// Apply routes a value to a field target. Repeater sub-fields are written
// into their group and the whole group list is queued, matching the remote
// document's granularity.
func (s *Session) Apply(target FieldTarget, value any) error {
	if target.FieldID == "" {
		return s.Set(target.QuestionID, value)
	}
	if !s.hasQuestion(target.QuestionID) {
		return fmt.Errorf("unknown question %q in section %q", target.QuestionID, s.cfg.Def.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if target.GroupIndex < 0 {
		return fmt.Errorf("group index %d out of range", target.GroupIndex)
	}
	// Groups are rebuilt, never mutated in place: a flush snapshot may be
	// serializing the previous slice outside the lock, and edits arriving
	// after batch capture must not leak into the in-flight document.
	groups, _ := forms.Groups(s.form[target.QuestionID])
	fresh := make([]map[string]any, len(groups))
	for i, g := range groups {
		copied := make(map[string]any, len(g)+1)
		for k, v := range g {
			copied[k] = v
		}
		fresh[i] = copied
	}
	for len(fresh) <= target.GroupIndex {
		fresh = append(fresh, map[string]any{})
	}
	fresh[target.GroupIndex][target.FieldID] = value
	list := make([]any, len(fresh))
	for i, g := range fresh {
		list[i] = g
	}
	s.form[target.QuestionID] = list
	s.pending[target.QuestionID] = list
	s.rearmLocked()
	return nil
}

// Value returns the current form value for a question.
func (s *Session) Value(questionID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form[questionID]
}

// Snapshot returns a copy of the current form state.
func (s *Session) Snapshot() forms.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Clone()
}

// ReplaceForm supersedes the form state wholesale, e.g. after a reload
// triggered by another editing surface. Pending edits survive and win on the
// next flush.
func (s *Session) ReplaceForm(form forms.FormState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || form == nil {
		return
	}
	s.form = form
}

// HasPending reports whether unflushed edits exist.
func (s *Session) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Flush persists the pending change set immediately. No-op when a flush is
// already in flight or nothing is pending.
func (s *Session) Flush(ctx context.Context) {
	s.flush(ctx)
}

// Close cancels any armed flush timer and marks the session dead. An
// in-flight write is left to finish; its outcome is simply discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// rearmLocked restarts the debounce window. Only the most recent timer ever
// fires, so rapid edits collapse into one flush.
func (s *Session) rearmLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.flush(context.Background())
	})
}

func (s *Session) flush(ctx context.Context) {
	s.mu.Lock()
	if s.flushing || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true

	// Capture the batch atomically before any write attempt; edits arriving
	// from here on belong to the next debounce cycle.
	batch := s.pending
	s.pending = make(map[string]any)

	for id, value := range batch {
		if cleaned := Sanitize(value); cleaned != nil {
			s.form[id] = cleaned
		}
	}
	candidate := s.form.Clone()
	def, profileType, userID := s.cfg.Def, s.cfg.ProfileType, s.cfg.UserID
	s.mu.Unlock()

	var err error
	doc := forms.ToRemote(candidate, def, profileType)
	if doc == nil {
		err = fmt.Errorf("section %q not ready to persist", def.ID)
	} else {
		err = s.cfg.Store.UpdateProfileSection(ctx, userID, doc)
	}

	s.mu.Lock()
	s.flushing = false
	if err != nil {
		// Merge, not replace: edits queued while the write was in flight
		// are newer than the failed batch and win.
		for id, value := range batch {
			if _, exists := s.pending[id]; !exists {
				s.pending[id] = value
			}
		}
		s.mu.Unlock()
		if doc == nil || IsTransient(err) {
			log.Printf("engine: flush deferred for section %s: %v", def.ID, err)
			return
		}
		log.Printf("engine: flush failed for section %s: %v", def.ID, err)
		if s.cfg.Toast != nil {
			s.cfg.Toast.ShowToast("Your changes could not be saved yet and will be retried.", "warning")
		}
		return
	}
	s.mu.Unlock()

	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(notify.Update{UserID: userID, SectionID: def.ID, Silent: true})
	}
}

func (s *Session) hasQuestion(id string) bool {
	for _, q := range s.cfg.Def.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

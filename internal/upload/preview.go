package upload

import (
	"sync"
	"time"

	"talentfolio/api/internal/util"
)

// Preview is a locally-revocable handle for a file the user just chose. The
// bytes are held in memory and served from the preview endpoint until the
// remote upload replaces them, the upload fails, or the session closes.
type Preview struct {
	Token       string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// PreviewStore maps previewKey -> active preview. One preview per key; a new
// selection for the same key releases the old handle.
type PreviewStore struct {
	mu      sync.Mutex
	byKey   map[string]*Preview
	byToken map[string]*Preview
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{
		byKey:   make(map[string]*Preview),
		byToken: make(map[string]*Preview),
	}
}

// Create registers a preview for previewKey, replacing any existing one.
func (s *PreviewStore) Create(previewKey, name, contentType string, data []byte) *Preview {
	p := &Preview{
		Token:       util.NewID("pv"),
		Name:        name,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byKey[previewKey]; ok {
		delete(s.byToken, old.Token)
	}
	s.byKey[previewKey] = p
	s.byToken[p.Token] = p
	return p
}

// Revoke releases the preview for previewKey, if any. Safe to call when no
// preview exists.
func (s *PreviewStore) Revoke(previewKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byKey[previewKey]; ok {
		delete(s.byToken, p.Token)
		delete(s.byKey, previewKey)
	}
}

// ByToken resolves a preview for serving.
func (s *PreviewStore) ByToken(token string) (*Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byToken[token]
	return p, ok
}

// Active returns the preview registered for previewKey, if any.
func (s *PreviewStore) Active(previewKey string) (*Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byKey[previewKey]
	return p, ok
}

// Len reports the number of live previews.
func (s *PreviewStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// ReleaseAll drops every preview. Called on editing-session teardown;
// leaking handles past the session is a bug.
func (s *PreviewStore) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]*Preview)
	s.byToken = make(map[string]*Preview)
}

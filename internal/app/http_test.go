package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"talentfolio/api/internal/config"
	"talentfolio/api/internal/engine"
	"talentfolio/api/internal/enhance"
	"talentfolio/api/internal/forms"
	"talentfolio/api/internal/history"
	"talentfolio/api/internal/notify"
	"talentfolio/api/internal/search"
	"talentfolio/api/internal/session"
	"talentfolio/api/internal/storage"
)

type fakeData struct {
	mu     sync.Mutex
	docs   map[string]*forms.SectionDocument
	writes int
}

func newFakeData() *fakeData {
	return &fakeData{docs: make(map[string]*forms.SectionDocument)}
}

func (f *fakeData) key(userID, sectionID string) string { return userID + "/" + sectionID }

func (f *fakeData) GetProfileSection(_ context.Context, userID, sectionID string) (*forms.SectionDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[f.key(userID, sectionID)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return doc, nil
}

func (f *fakeData) UpdateProfileSection(_ context.Context, userID string, doc *forms.SectionDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[f.key(userID, doc.ID)] = doc
	f.writes++
	return nil
}

func (f *fakeData) ListProfileSections(_ context.Context, userID string) ([]*forms.SectionDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []*forms.SectionDocument
	for key, doc := range f.docs {
		if strings.HasPrefix(key, userID+"/") {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeData) SearchProfileSections(_ context.Context, userID, query string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for key, doc := range f.docs {
		if !strings.HasPrefix(key, userID+"/") {
			continue
		}
		raw, _ := json.Marshal(doc)
		if strings.Contains(strings.ToLower(string(raw)), strings.ToLower(query)) {
			ids = append(ids, doc.ID)
		}
	}
	return ids, nil
}

func (f *fakeData) Ping(context.Context) error { return nil }

func (f *fakeData) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeTokens struct {
	mu  sync.Mutex
	ctx map[string]session.AuthContext
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{ctx: make(map[string]session.AuthContext)}
}

func (f *fakeTokens) Save(_ context.Context, hash string, ac session.AuthContext, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx[hash] = ac
	return nil
}

func (f *fakeTokens) Lookup(_ context.Context, hash string) (session.AuthContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ac, ok := f.ctx[hash]
	if !ok {
		return session.AuthContext{}, session.ErrNoSession
	}
	return ac, nil
}

func (f *fakeTokens) Revoke(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ctx, hash)
	return nil
}

func (f *fakeTokens) Ping(context.Context) error { return nil }

func newTestService(t *testing.T, enhanceURL string) (*Service, *fakeData) {
	t.Helper()
	fd := newFakeData()
	catalog := forms.DefaultCatalog()
	var enhanceClient *enhance.Client
	if enhanceURL != "" {
		enhanceClient = enhance.NewClient(enhanceURL)
	}
	svc := New(config.Config{
		JWTSecret:     "test-secret",
		TokenTTL:      time.Hour,
		DebounceDelay: 250 * time.Millisecond,
	}, Deps{
		Store:   fd,
		Tokens:  newFakeTokens(),
		Objects: storage.NewMemory(),
		Catalog: catalog,
		Bus:     notify.NewBus(),
		Search:  search.NewService(nil, fd, catalog),
		History: history.New(t.TempDir()),
		Enhance: enhanceClient,
	})
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, fd
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var parsed map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &parsed)
	}
	return rr, parsed
}

func login(t *testing.T, handler http.Handler, name string) string {
	t.Helper()
	rr, resp := doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]any{
		"displayName": name,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func TestHealthAndReady(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()

	rr, resp := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK || resp["ok"] != true {
		t.Errorf("health: %d %v", rr.Code, resp)
	}

	rr, resp = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK || resp["ok"] != true {
		t.Errorf("ready: %d %v", rr.Code, resp)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()

	token := login(t, handler, "Ada Lovelace")

	rr, resp := doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	if rr.Code != http.StatusOK || resp["authenticated"] != true {
		t.Fatalf("session: %d %v", rr.Code, resp)
	}
	if resp["displayName"] != "Ada Lovelace" {
		t.Errorf("displayName = %v", resp["displayName"])
	}
	if resp["profileType"] != "candidate" {
		t.Errorf("profileType = %v", resp["profileType"])
	}

	// Same name resumes the same user.
	second := login(t, handler, "Ada Lovelace")
	_, again := doJSON(t, handler, http.MethodGet, "/api/session", second, nil)
	if again["userId"] != resp["userId"] {
		t.Errorf("repeat login changed user id: %v vs %v", again["userId"], resp["userId"])
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/session/logout", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: %d", rr.Code)
	}
	_, resp = doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	if resp["authenticated"] != false {
		t.Error("token should be revoked after logout")
	}
}

func TestRequiresAuth(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()

	rr, resp := doJSON(t, handler, http.MethodGet, "/api/profile/sections", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if resp["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestSectionEditLifecycle(t *testing.T) {
	svc, fd := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	rr, resp := doJSON(t, handler, http.MethodGet, "/api/profile/sections", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sections list: %d", rr.Code)
	}
	if sections, ok := resp["sections"].([]any); !ok || len(sections) == 0 {
		t.Fatalf("expected catalog sections, got %v", resp)
	}

	rr, _ = doJSON(t, handler, http.MethodPut, "/api/profile/sections/personal/answers/fullName", token, map[string]any{
		"value": "Ada Lovelace",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("set answer: %d %v", rr.Code, rr.Body.String())
	}

	// Optimistic state is visible before any flush.
	rr, resp = doJSON(t, handler, http.MethodGet, "/api/profile/sections/personal", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("section state: %d", rr.Code)
	}
	form, _ := resp["form"].(map[string]any)
	if form["fullName"] != "Ada Lovelace" {
		t.Errorf("fullName = %v", form["fullName"])
	}
	if fd.writeCount() != 0 {
		t.Errorf("store written before flush: %d writes", fd.writeCount())
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/profile/sections/personal/flush", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("flush: %d", rr.Code)
	}
	if fd.writeCount() != 1 {
		t.Fatalf("expected 1 write after flush, got %d", fd.writeCount())
	}

	// The flush fed the history subscriber synchronously.
	rr, resp = doJSON(t, handler, http.MethodGet, "/api/profile/sections/personal/history", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	if revisions, ok := resp["revisions"].([]any); !ok || len(revisions) != 1 {
		t.Errorf("expected 1 revision, got %v", resp["revisions"])
	}

	rr, _ = doJSON(t, handler, http.MethodDelete, "/api/profile/sections/personal/session", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("close session: %d", rr.Code)
	}
}

func TestDebouncedAutoFlush(t *testing.T) {
	svc, fd := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	for i := 0; i < 5; i++ {
		rr, _ := doJSON(t, handler, http.MethodPut, "/api/profile/sections/personal/answers/headline", token, map[string]any{
			"value": fmt.Sprintf("draft %d", i),
		})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("set answer: %d", rr.Code)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for fd.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := fd.writeCount(); got != 1 {
		t.Fatalf("expected rapid edits to collapse into 1 write, got %d", got)
	}
}

func TestSetAnswerValidation(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	rr, resp := doJSON(t, handler, http.MethodPut, "/api/profile/sections/personal/answers/nonexistent", token, map[string]any{
		"value": "x",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown question: %d %v", rr.Code, resp)
	}

	rr, resp = doJSON(t, handler, http.MethodPut, "/api/profile/sections/ghost/answers/fullName", token, map[string]any{
		"value": "x",
	})
	if rr.Code != http.StatusNotFound || resp["code"] != "SECTION_NOT_FOUND" {
		t.Errorf("unknown section: %d %v", rr.Code, resp)
	}
}

func TestRepeaterSubFieldAnswer(t *testing.T) {
	svc, fd := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	rr, _ := doJSON(t, handler, http.MethodPut, "/api/profile/sections/experience/answers/roles?group=0&field=company", token, map[string]any{
		"value": "Analytical Engines",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("repeater answer: %d %s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/profile/sections/experience/flush", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("flush: %d", rr.Code)
	}

	doc, err := fd.GetProfileSection(context.Background(), deriveUserID("Ada"), "experience")
	if err != nil {
		t.Fatalf("persisted doc missing: %v", err)
	}
	groups, ok := forms.Groups(doc.Questions[0].Answer)
	if !ok || len(groups) != 1 || groups[0]["company"] != "Analytical Engines" {
		t.Errorf("unexpected persisted groups: %+v", doc.Questions[0].Answer)
	}
}

func multipartBody(t *testing.T, fieldName, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, fileName))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestFileUploadAndRemoval(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	body, contentType := multipartBody(t, "file", "cv.pdf", "application/pdf", []byte("pdf-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/profile/sections/documents/files/cv", body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	file, _ := resp["file"].(map[string]any)
	if file["name"] != "cv.pdf" || file["type"] != "application/pdf" || file["url"] == "" {
		t.Errorf("unexpected file ref: %v", file)
	}

	// Empty body means removal.
	rr2, resp2 := doJSON(t, handler, http.MethodPost, "/api/profile/sections/documents/files/cv", token, nil)
	if rr2.Code != http.StatusOK || resp2["removed"] != true {
		t.Errorf("removal: %d %v", rr2.Code, resp2)
	}
}

func TestFileUploadTooLarge(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	body, contentType := multipartBody(t, "file", "big.bin", "application/octet-stream", bytes.Repeat([]byte("x"), 11<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/profile/sections/documents/files/cv", body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSearchFallback(t *testing.T) {
	svc, fd := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	fd.docs[deriveUserID("Ada")+"/skills"] = &forms.SectionDocument{
		ID: "skills",
		Questions: []forms.Answer{
			{ID: "summary", Type: forms.TypeText, Answer: "Distributed systems and Go"},
		},
	}

	rr, resp := doJSON(t, handler, http.MethodGet, "/api/profile/search?q=distributed", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search: %d", rr.Code)
	}
	results, _ := resp["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %v", resp)
	}
	hit, _ := results[0].(map[string]any)
	if hit["sectionId"] != "skills" || hit["label"] != "Skills" {
		t.Errorf("unexpected hit: %v", hit)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, "/api/profile/search", token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing q: %d", rr.Code)
	}
}

func TestEnhanceEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(enhance.Response{EnhancedText: "Polished text.", Usage: 3})
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, upstream.URL)
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	rr, resp := doJSON(t, handler, http.MethodPost, "/api/enhance", token, map[string]any{
		"text":      "rough text",
		"maxLength": 100,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("enhance: %d %s", rr.Code, rr.Body.String())
	}
	if resp["enhancedText"] != "Polished text." {
		t.Errorf("enhancedText = %v", resp["enhancedText"])
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/enhance", token, map[string]any{"text": ""})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank text: %d", rr.Code)
	}
}

func TestEnhanceNotConfiguredEndpoint(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	rr, resp := doJSON(t, handler, http.MethodPost, "/api/enhance", token, map[string]any{
		"text": "rough text",
	})
	if rr.Code != http.StatusServiceUnavailable || resp["code"] != "ENHANCE_UNAVAILABLE" {
		t.Errorf("expected 503 ENHANCE_UNAVAILABLE, got %d %v", rr.Code, resp)
	}
}

func TestWarningsDrainedThroughSession(t *testing.T) {
	svc, _ := newTestService(t, "")
	handler := NewHTTPServer(svc, "*").Handler()
	token := login(t, handler, "Ada")

	svc.toaster(deriveUserID("Ada"))("Your changes could not be saved yet and will be retried.", "warning")

	_, resp := doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	warnings, _ := resp["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", resp["warnings"])
	}

	_, resp = doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	if warnings, _ := resp["warnings"].([]any); len(warnings) != 0 {
		t.Errorf("warnings should drain, got %v", warnings)
	}
}

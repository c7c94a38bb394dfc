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
	"strconv"
	"strings"
	"time"

	"talentfolio/api/internal/auth"
	"talentfolio/api/internal/engine"
	"talentfolio/api/internal/enhance"
	"talentfolio/api/internal/upload"
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			DisplayName string `json:"displayName"`
			ProfileType string `json:"profileType"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Login(r.Context(), body.DisplayName, body.ProfileType)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":       sess.Token,
			"userId":      sess.UserID,
			"displayName": sess.DisplayName,
			"profileType": sess.ProfileType,
			"expiresAt":   sess.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		sess := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				sess = parsed
			}
		}
		_ = s.service.Logout(r.Context(), sess)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"displayName":   sess.DisplayName,
			"profileType":   sess.ProfileType,
			"warnings":      s.service.DrainToasts(sess.UserID),
		})
		return
	}

	// Everything below requires a session.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[1] == "profile" && len(parts) >= 3 && parts[2] == "sections":
		s.handleSections(w, r, sess, parts[3:])
	case parts[1] == "uploads" && len(parts) == 4 && parts[2] == "preview" && r.Method == http.MethodGet:
		s.handlePreview(w, r, parts[3])
	case parts[1] == "profile" && len(parts) == 3 && parts[2] == "export.pdf" && r.Method == http.MethodGet:
		s.handleExport(w, r, sess)
	case parts[1] == "profile" && len(parts) == 3 && parts[2] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, sess)
	case parts[1] == "enhance" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleEnhance(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleSections routes /api/profile/sections and everything under it.
// rest holds path segments after "sections".
func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, sess Session, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sections": s.service.Catalog()})
		return
	}

	sectionID := rest[0]
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		form, err := s.service.SectionState(r.Context(), sess, sectionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sectionId": sectionID, "form": form})

	case len(rest) == 2 && rest[1] == "flush" && r.Method == http.MethodPost:
		if err := s.service.Flush(r.Context(), sess, sectionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[1] == "session" && r.Method == http.MethodDelete:
		s.service.CloseSection(sess, sectionID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		limit := queryInt(r, "limit", 20)
		revisions, err := s.service.History(sess, sectionID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})

	case len(rest) == 3 && rest[1] == "answers" && r.Method == http.MethodPut:
		s.handleSetAnswer(w, r, sess, sectionID, rest[2])

	case len(rest) == 3 && rest[1] == "files" && r.Method == http.MethodPost:
		s.handleFileSubmit(w, r, sess, sectionID, rest[2])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSetAnswer(w http.ResponseWriter, r *http.Request, sess Session, sectionID, questionID string) {
	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	target, err := fieldTarget(r, questionID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := s.service.SetAnswer(r.Context(), sess, sectionID, target, body.Value); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	// Fire-and-forget: the edit is queued, persistence follows the debounce
	// window.
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *HTTPServer) handleFileSubmit(w http.ResponseWriter, r *http.Request, sess Session, sectionID, questionID string) {
	target, err := fieldTarget(r, questionID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	var file *upload.File
	if r.ContentLength != 0 {
		file, err = readMultipartFile(r)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
	}

	ref, err := s.service.UploadFile(r.Context(), sess, sectionID, target, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if ref == nil {
		writeJSON(w, http.StatusOK, map[string]any{"removed": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": ref})
}

func (s *HTTPServer) handlePreview(w http.ResponseWriter, r *http.Request, token string) {
	preview, ok := s.service.PreviewByToken(token)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Preview not found", nil)
		return
	}
	w.Header().Set("Content-Type", preview.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", preview.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(preview.Data)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sess Session) {
	result, err := s.service.ExportProfile(r.Context(), sess)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit := queryInt(r, "limit", 20)
	writeJSON(w, http.StatusOK, s.service.SearchAnswers(r.Context(), sess, query, limit))
}

func (s *HTTPServer) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text      string `json:"text"`
		MaxLength int    `json:"maxLength"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
		return
	}
	resp, err := s.service.Enhance(r.Context(), body.Text, body.MaxLength)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
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
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
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
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
		if errors.Is(err, io.EOF) {
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

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// fieldTarget builds the engine target from the question path segment and
// the optional group/field query parameters used by repeater sub-fields.
func fieldTarget(r *http.Request, questionID string) (engine.FieldTarget, error) {
	target := engine.FieldTarget{QuestionID: questionID, GroupIndex: -1}
	field := r.URL.Query().Get("field")
	group := r.URL.Query().Get("group")
	if field == "" && group == "" {
		return target, nil
	}
	if field == "" || group == "" {
		return target, errors.New("group and field must be provided together")
	}
	idx, err := strconv.Atoi(group)
	if err != nil || idx < 0 {
		return target, errors.New("group must be a non-negative integer")
	}
	target.GroupIndex = idx
	target.FieldID = field
	return target, nil
}

// readMultipartFile pulls the "file" part out of a multipart request,
// bounded just past the upload limit so oversized bodies are rejected by the
// controller, not buffered whole.
func readMultipartFile(r *http.Request) (*upload.File, error) {
	if err := r.ParseMultipartForm(upload.MaxFileSize + 1<<20); err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "file part is required", nil)
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, upload.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &upload.File{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, engine.ErrAuthRequired):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, engine.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the maximum upload size", nil
	case errors.Is(err, engine.ErrUploadInProgress):
		return http.StatusConflict, "UPLOAD_IN_PROGRESS", "An upload for this field is already in flight", nil
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusConflict, "SESSION_CLOSED", "Editing session closed", nil
	case errors.Is(err, enhance.ErrNotConfigured):
		return http.StatusServiceUnavailable, "ENHANCE_UNAVAILABLE", "Enhancement is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

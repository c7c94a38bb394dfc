// Package upload implements the optimistic file-upload path of the section
// editor: immediate local previews, size and auth guards, and routing of the
// uploaded object reference through the same queue path as any other edit.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"talentfolio/api/internal/engine"
	"talentfolio/api/internal/forms"
)

// MaxFileSize is the upload limit (10 MiB).
const MaxFileSize int64 = 10 << 20

// ObjectStore is the object-storage contract. Upload returns the stored
// object's reference; DownloadURL resolves a reference to a fetchable URL.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	DownloadURL(ctx context.Context, objectRef string) (string, error)
}

// File is one submitted file. A nil *File signals removal intent.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Controller drives the per-field upload state machine
// (Idle -> Uploading -> Committed|Failed -> Idle) for one editing session.
type Controller struct {
	userID    string
	sectionID string
	objects   ObjectStore
	previews  *PreviewStore
	apply     func(engine.FieldTarget, any) error

	mu        sync.Mutex
	uploading map[string]bool

	now func() time.Time
}

// NewController wires a controller to one editing session. apply routes a
// committed value into the session's change queue.
func NewController(userID, sectionID string, objects ObjectStore, previews *PreviewStore, apply func(engine.FieldTarget, any) error) *Controller {
	if previews == nil {
		previews = NewPreviewStore()
	}
	return &Controller{
		userID:    userID,
		sectionID: sectionID,
		objects:   objects,
		previews:  previews,
		apply:     apply,
		uploading: make(map[string]bool),
		now:       time.Now,
	}
}

// Previews exposes the session's preview registry.
func (c *Controller) Previews() *PreviewStore {
	return c.previews
}

// Uploading reports whether an upload for the field is in flight.
func (c *Controller) Uploading(target engine.FieldTarget) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading[target.PreviewKey()]
}

// Submit runs the upload path for one field. With a nil file it performs
// removal: the field's value becomes the file-type default (nil) through the
// normal queue path, the preview is cleared, and object storage is never
// contacted. On success the uploaded object is projected to {url, name,
// type}, queued, and the local preview released. On failure the preview is
// revoked and the error returned for user-facing reporting; committed form
// state is untouched.
func (c *Controller) Submit(ctx context.Context, target engine.FieldTarget, file *File) (*forms.FileRef, error) {
	if c.userID == "" {
		return nil, engine.ErrAuthRequired
	}
	key := target.PreviewKey()

	if file == nil {
		c.previews.Revoke(key)
		if err := c.apply(target, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if int64(len(file.Data)) > MaxFileSize {
		return nil, engine.ErrFileTooLarge
	}

	c.mu.Lock()
	if c.uploading[key] {
		c.mu.Unlock()
		return nil, engine.ErrUploadInProgress
	}
	c.uploading[key] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.uploading[key] = false
		c.mu.Unlock()
	}()

	// The preview exists before the upload completes so the UI reflects the
	// selection instantly.
	c.previews.Create(key, file.Name, file.ContentType, file.Data)

	objectKey := c.objectKey(target, file.Name)
	ref, err := c.objects.Upload(ctx, objectKey, bytes.NewReader(file.Data), int64(len(file.Data)), file.ContentType)
	if err != nil {
		c.previews.Revoke(key)
		return nil, fmt.Errorf("upload %s: %w", objectKey, err)
	}
	url, err := c.objects.DownloadURL(ctx, ref)
	if err != nil {
		c.previews.Revoke(key)
		return nil, fmt.Errorf("resolve download url for %s: %w", ref, err)
	}

	value := map[string]any{"url": url, "name": file.Name, "type": file.ContentType}
	if err := c.apply(target, value); err != nil {
		c.previews.Revoke(key)
		return nil, err
	}
	// Released on successful remote replacement.
	c.previews.Revoke(key)

	return &forms.FileRef{URL: url, Name: file.Name, Type: file.ContentType}, nil
}

// Close releases every live preview. Mandatory on session teardown.
func (c *Controller) Close() {
	c.previews.ReleaseAll()
}

// objectKey builds a collision-resistant storage path from the session
// identity, the field target, and a timestamp.
func (c *Controller) objectKey(target engine.FieldTarget, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uploads/%s/%s/%s", c.userID, c.sectionID, target.QuestionID)
	if target.FieldID != "" {
		fmt.Fprintf(&b, "/%d/%s", target.GroupIndex, target.FieldID)
	}
	fmt.Fprintf(&b, "/%d-%s", c.now().UnixMilli(), safeName(name))
	return b.String()
}

func safeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// Package enhance calls the external text-enhancement endpoint and enforces
// the length contract on its output.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no upstream endpoint is set.
var ErrNotConfigured = errors.New("enhance endpoint not configured")

// Request is the upstream payload.
type Request struct {
	Text      string `json:"text"`
	MaxLength int    `json:"maxLength"`
}

// Response is the upstream reply, passed through to the caller with the
// enhanced text re-truncated to the requested limit.
type Response struct {
	EnhancedText string `json:"enhancedText"`
	Usage        int    `json:"usage"`
}

// Client calls the enhancement endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Enhance sends text upstream and returns the enhanced version, truncated to
// maxLength. The upstream enforces the limit too; re-applying it here keeps
// the contract even when the upstream misbehaves.
func (c *Client) Enhance(ctx context.Context, text string, maxLength int) (Response, error) {
	if c.baseURL == "" {
		return Response{}, ErrNotConfigured
	}

	payload, err := json.Marshal(Request{Text: text, MaxLength: maxLength})
	if err != nil {
		return Response{}, fmt.Errorf("marshal enhance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build enhance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("call enhance endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("enhance endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode enhance response: %w", err)
	}
	out.EnhancedText = Truncate(out.EnhancedText, maxLength)
	return out, nil
}

// Truncate enforces a maximum length, preferring to cut at a sentence
// boundary. The boundary must fall after 80% of the limit; otherwise the text
// is hard-truncated at the limit.
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 || len(text) <= maxLength {
		return text
	}
	window := text[:maxLength]
	boundary := -1
	for _, mark := range []string{".", "!", "?"} {
		if idx := strings.LastIndex(window, mark); idx > boundary {
			boundary = idx
		}
	}
	if boundary >= 0 && boundary+1 >= maxLength*80/100 {
		return window[:boundary+1]
	}
	return window
}

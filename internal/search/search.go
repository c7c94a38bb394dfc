// Package search indexes profile answers and serves free-text queries over
// them, with a Postgres fallback when Meilisearch is unavailable.
package search

import (
	"fmt"
	"strings"

	"talentfolio/api/internal/forms"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	SectionID  string `json:"sectionId"`
	QuestionID string `json:"questionId"`
	Label      string `json:"label"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request. Results are always scoped to one user.
type Query struct {
	UserID string
	Text   string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// AnswerRecord is the unit we index: one answered question.
type AnswerRecord struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	SectionID  string `json:"sectionId"`
	QuestionID string `json:"questionId"`
	Label      string `json:"label"`
	Text       string `json:"text"`
}

// recordID is stable per (user, section, question) so re-indexing a section
// upserts rather than duplicates.
func recordID(userID, sectionID, questionID string) string {
	return userID + ":" + sectionID + ":" + questionID
}

// FlattenAnswers turns a section document into indexable answer records.
// File answers carry no searchable text beyond the file name; empty answers
// produce no record.
func FlattenAnswers(userID string, def forms.SectionDef, doc *forms.SectionDocument) []AnswerRecord {
	if doc == nil {
		return nil
	}
	labels := make(map[string]forms.QuestionDef, len(def.Questions))
	for _, q := range def.Questions {
		labels[q.ID] = q
	}

	var records []AnswerRecord
	for _, ans := range doc.Questions {
		q, ok := labels[ans.ID]
		if !ok {
			continue
		}
		text := answerText(q, ans.Answer)
		if strings.TrimSpace(text) == "" {
			continue
		}
		records = append(records, AnswerRecord{
			ID:         recordID(userID, def.ID, ans.ID),
			UserID:     userID,
			SectionID:  def.ID,
			QuestionID: ans.ID,
			Label:      q.Label,
			Text:       text,
		})
	}
	return records
}

func answerText(q forms.QuestionDef, answer any) string {
	switch q.Type {
	case forms.TypeMultipleChoice:
		items, ok := answer.([]any)
		if !ok {
			return ""
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case forms.TypeFile:
		if ref, ok := answer.(map[string]any); ok {
			if name, ok := ref["name"].(string); ok {
				return name
			}
		}
		return ""
	case forms.TypeRepeater:
		groups, ok := forms.Groups(answer)
		if !ok {
			return ""
		}
		var parts []string
		for _, group := range groups {
			for _, f := range q.Fields {
				if text := answerText(f, group[f.ID]); text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, " / ")
	default:
		switch v := answer.(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
}

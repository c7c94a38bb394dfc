package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"talentfolio/api/internal/engine"
	"talentfolio/api/internal/forms"
)

// SectionLoader reads persisted section documents.
type SectionLoader interface {
	GetProfileSection(ctx context.Context, userID, sectionID string) (*forms.SectionDocument, error)
}

// Service renders a user's saved profile to PDF.
type Service struct {
	store   SectionLoader
	catalog *forms.Catalog
}

func NewService(store SectionLoader, catalog *forms.Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

// Export renders every saved section in catalog order and prints the result
// to PDF. Sections the user never saved are omitted.
func (s *Service) Export(ctx context.Context, userID, displayName, profileType string) (*Result, error) {
	data := TemplateData{
		DisplayName: displayName,
		ProfileType: profileType,
		GeneratedAt: time.Now(),
	}
	if data.DisplayName == "" {
		data.DisplayName = userID
	}

	for _, def := range s.catalog.Sections() {
		doc, err := s.store.GetProfileSection(ctx, userID, def.ID)
		if errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load section %s: %w", def.ID, err)
		}
		section := renderSection(def, doc)
		if len(section.Answers) > 0 {
			data.Sections = append(data.Sections, section)
		}
	}

	html, err := RenderProfileHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return exportPDF(html, data.DisplayName)
}

func renderSection(def forms.SectionDef, doc *forms.SectionDocument) TemplateSection {
	answers := make(map[string]any, len(doc.Questions))
	for _, a := range doc.Questions {
		answers[a.ID] = a.Answer
	}

	section := TemplateSection{Label: def.Label}
	for _, q := range def.Questions {
		value, ok := answers[q.ID]
		if !ok {
			continue
		}
		if ta, ok := renderAnswer(q, value); ok {
			section.Answers = append(section.Answers, ta)
		}
	}
	return section
}

func renderAnswer(q forms.QuestionDef, value any) (TemplateAnswer, bool) {
	ta := TemplateAnswer{Label: q.Label}
	switch q.Type {
	case forms.TypeFile:
		ref, ok := value.(map[string]any)
		if !ok {
			return ta, false
		}
		name, _ := ref["name"].(string)
		if name == "" {
			return ta, false
		}
		ta.FileName = name
	case forms.TypeMultipleChoice:
		items, ok := value.([]any)
		if !ok || len(items) == 0 {
			return ta, false
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return ta, false
		}
		ta.Value = strings.Join(parts, ", ")
	case forms.TypeRepeater:
		groups, ok := forms.Groups(value)
		if !ok {
			return ta, false
		}
		for _, group := range groups {
			var rendered []TemplateAnswer
			for _, f := range q.Fields {
				if sub, ok := renderAnswer(f, group[f.ID]); ok {
					rendered = append(rendered, sub)
				}
			}
			if len(rendered) > 0 {
				ta.Groups = append(ta.Groups, rendered)
			}
		}
		if len(ta.Groups) == 0 {
			return ta, false
		}
	default:
		text, _ := value.(string)
		if strings.TrimSpace(text) == "" {
			return ta, false
		}
		ta.Value = text
	}
	return ta, true
}

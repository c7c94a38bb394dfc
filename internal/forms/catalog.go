package forms

import (
	"encoding/json"
	"fmt"
	"os"
)

// Catalog holds the section definitions the editor renders. It is owned by
// an external system; the service only ever reads it.
type Catalog struct {
	sections []SectionDef
	byID     map[string]SectionDef
}

// NewCatalog wraps a fixed list of section definitions.
func NewCatalog(sections []SectionDef) *Catalog {
	byID := make(map[string]SectionDef, len(sections))
	for _, s := range sections {
		byID[s.ID] = s
	}
	return &Catalog{sections: sections, byID: byID}
}

// LoadCatalog reads section definitions from a JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var sections []SectionDef
	if err := json.Unmarshal(contents, &sections); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(sections), nil
}

// Section returns the definition for id, if the catalog declares it.
func (c *Catalog) Section(id string) (SectionDef, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// Sections lists all declared sections in catalog order.
func (c *Catalog) Sections() []SectionDef {
	return c.sections
}

// DefaultCatalog is the built-in development catalog used when no catalog
// file is configured.
func DefaultCatalog() *Catalog {
	return NewCatalog([]SectionDef{
		{
			ID:    "personal",
			Label: "Personal Information",
			Questions: []QuestionDef{
				{ID: "fullName", Label: "Full name", Type: TypeText},
				{ID: "headline", Label: "Headline", Type: TypeText},
				{ID: "photo", Label: "Profile photo", Type: TypeFile},
			},
		},
		{
			ID:    "experience",
			Label: "Work Experience",
			Questions: []QuestionDef{
				{ID: "roles", Label: "Roles", Type: TypeRepeater, Fields: []QuestionDef{
					{ID: "company", Label: "Company", Type: TypeText},
					{ID: "title", Label: "Title", Type: TypeText},
					{ID: "summary", Label: "Summary", Type: TypeText},
					{ID: "reference", Label: "Reference letter", Type: TypeFile},
				}},
			},
		},
		{
			ID:    "skills",
			Label: "Skills",
			Questions: []QuestionDef{
				{ID: "languages", Label: "Languages", Type: TypeMultipleChoice,
					Options: []string{"English", "German", "French", "Spanish"}},
				{ID: "tools", Label: "Tools", Type: TypeMultipleChoice},
				{ID: "summary", Label: "Skills summary", Type: TypeText},
			},
		},
		{
			ID:    "documents",
			Label: "Documents",
			Questions: []QuestionDef{
				{ID: "cv", Label: "CV", Type: TypeFile},
				{ID: "coverLetter", Label: "Cover letter", Type: TypeFile},
			},
		},
	})
}

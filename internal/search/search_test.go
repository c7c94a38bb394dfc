package search

import (
	"context"
	"testing"

	"talentfolio/api/internal/forms"
)

type loaderRecorder struct {
	gets  int
	lists int
}

func (l *loaderRecorder) GetProfileSection(context.Context, string, string) (*forms.SectionDocument, error) {
	l.gets++
	return nil, nil
}

func (l *loaderRecorder) ListProfileSections(context.Context, string) ([]*forms.SectionDocument, error) {
	l.lists++
	return nil, nil
}

func testDef() forms.SectionDef {
	return forms.SectionDef{
		ID:    "experience",
		Label: "Work Experience",
		Questions: []forms.QuestionDef{
			{ID: "summary", Label: "Summary", Type: forms.TypeText},
			{ID: "languages", Label: "Languages", Type: forms.TypeMultipleChoice},
			{ID: "cv", Label: "CV", Type: forms.TypeFile},
			{ID: "roles", Label: "Roles", Type: forms.TypeRepeater, Fields: []forms.QuestionDef{
				{ID: "company", Label: "Company", Type: forms.TypeText},
				{ID: "title", Label: "Title", Type: forms.TypeText},
			}},
		},
	}
}

func TestFlattenAnswers(t *testing.T) {
	doc := &forms.SectionDocument{
		ID: "experience",
		Questions: []forms.Answer{
			{ID: "summary", Type: forms.TypeText, Answer: "Ten years of backend work"},
			{ID: "languages", Type: forms.TypeMultipleChoice, Answer: []any{"English", "German"}},
			{ID: "cv", Type: forms.TypeFile, Answer: map[string]any{
				"url": "https://files/cv.pdf", "name": "cv.pdf", "type": "application/pdf",
			}},
			{ID: "roles", Type: forms.TypeRepeater, Answer: []any{
				map[string]any{"company": "Acme", "title": "Engineer"},
				map[string]any{"company": "Globex", "title": ""},
			}},
		},
	}

	records := FlattenAnswers("user-1", testDef(), doc)
	byQuestion := make(map[string]AnswerRecord, len(records))
	for _, r := range records {
		byQuestion[r.QuestionID] = r
	}

	if got := byQuestion["summary"].Text; got != "Ten years of backend work" {
		t.Errorf("summary text = %q", got)
	}
	if got := byQuestion["languages"].Text; got != "English, German" {
		t.Errorf("languages text = %q", got)
	}
	if got := byQuestion["cv"].Text; got != "cv.pdf" {
		t.Errorf("cv text = %q", got)
	}
	if got := byQuestion["roles"].Text; got != "Acme / Engineer / Globex" {
		t.Errorf("roles text = %q", got)
	}
	if got := byQuestion["summary"].ID; got != "user-1:experience:summary" {
		t.Errorf("record id = %q", got)
	}
	for _, r := range records {
		if r.UserID != "user-1" || r.SectionID != "experience" {
			t.Errorf("record scope wrong: %+v", r)
		}
	}
}

func TestFlattenAnswersSkipsEmptyAndUnknown(t *testing.T) {
	doc := &forms.SectionDocument{
		ID: "experience",
		Questions: []forms.Answer{
			{ID: "summary", Type: forms.TypeText, Answer: "   "},
			{ID: "ghost", Type: forms.TypeText, Answer: "not in catalog"},
			{ID: "languages", Type: forms.TypeMultipleChoice, Answer: "not-a-list"},
		},
	}

	if records := FlattenAnswers("user-1", testDef(), doc); len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}
}

func TestFlattenAnswersNilDocument(t *testing.T) {
	if records := FlattenAnswers("user-1", testDef(), nil); records != nil {
		t.Fatalf("expected nil, got %+v", records)
	}
}

func TestReindexUserSkipsWhenIndexUnavailable(t *testing.T) {
	catalog := forms.NewCatalog([]forms.SectionDef{testDef()})
	rec := &loaderRecorder{}

	NewService(nil, nil, catalog).ReindexUser(context.Background(), "user-1", rec)
	if rec.lists != 0 {
		t.Errorf("unconfigured index still loaded sections: %d", rec.lists)
	}

	NewService(&Meili{}, nil, catalog).ReindexUser(context.Background(), "user-1", rec)
	if rec.lists != 0 {
		t.Errorf("unhealthy index still loaded sections: %d", rec.lists)
	}
}

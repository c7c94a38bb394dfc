package forms

import (
	"reflect"
	"testing"
)

func testSectionDef() SectionDef {
	return SectionDef{
		ID:    "experience",
		Label: "Work Experience",
		Questions: []QuestionDef{
			{ID: "summary", Type: TypeText},
			{ID: "industries", Type: TypeMultipleChoice},
			{ID: "cv", Type: TypeFile},
			{ID: "roles", Type: TypeRepeater, Fields: []QuestionDef{
				{ID: "company", Type: TypeText},
				{ID: "tags", Type: TypeMultipleChoice},
			}},
		},
	}
}

func TestToFormDefaults(t *testing.T) {
	def := testSectionDef()
	form := ToForm(nil, def)

	if got := form["summary"]; got != "" {
		t.Errorf("text default = %v, want empty string", got)
	}
	choices, ok := form["industries"].([]any)
	if !ok || len(choices) != 0 {
		t.Errorf("multipleChoice default = %v, want empty array", form["industries"])
	}
	if form["cv"] != nil {
		t.Errorf("file default = %v, want nil", form["cv"])
	}
}

func TestToFormRepeaterDefaulting(t *testing.T) {
	def := testSectionDef()
	form := ToForm(nil, def)

	groups, ok := form["roles"].([]any)
	if !ok {
		t.Fatalf("repeater default is %T, want []any", form["roles"])
	}
	if len(groups) != 1 {
		t.Fatalf("repeater default has %d groups, want 1", len(groups))
	}
	group, ok := groups[0].(map[string]any)
	if !ok {
		t.Fatalf("group is %T, want map", groups[0])
	}
	if group["company"] != "" {
		t.Errorf("text field default = %v, want empty string", group["company"])
	}
	tags, ok := group["tags"].([]any)
	if !ok || len(tags) != 0 {
		t.Errorf("multipleChoice field default = %v, want empty array", group["tags"])
	}
}

func TestToFormBackfillsMissingGroupFields(t *testing.T) {
	def := testSectionDef()
	doc := &SectionDocument{
		ID:    "experience",
		Label: "Work Experience",
		Questions: []Answer{
			{ID: "roles", Type: TypeRepeater, Answer: []any{
				map[string]any{"company": "Acme"},
			}},
		},
	}
	form := ToForm(doc, def)

	groups := form["roles"].([]any)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	group := groups[0].(map[string]any)
	if group["company"] != "Acme" {
		t.Errorf("company = %v, want Acme", group["company"])
	}
	tags, ok := group["tags"].([]any)
	if !ok || len(tags) != 0 {
		t.Errorf("missing field backfill = %v, want empty array", group["tags"])
	}
}

func TestToFormMalformedAnswerIsolated(t *testing.T) {
	def := testSectionDef()
	doc := &SectionDocument{
		ID:    "experience",
		Label: "Work Experience",
		Questions: []Answer{
			{ID: "industries", Type: TypeMultipleChoice, Answer: "not-an-array"},
			{ID: "roles", Type: TypeRepeater, Answer: 42},
			{ID: "summary", Type: TypeText, Answer: "five years"},
		},
	}
	form := ToForm(doc, def)

	if form["summary"] != "five years" {
		t.Errorf("well-formed answer lost: summary = %v", form["summary"])
	}
	if choices, ok := form["industries"].([]any); !ok || len(choices) != 0 {
		t.Errorf("malformed multipleChoice = %v, want empty array", form["industries"])
	}
	if groups, ok := form["roles"].([]any); !ok || len(groups) != 1 {
		t.Errorf("malformed repeater = %v, want single default group", form["roles"])
	}
}

func TestToRemoteNotReady(t *testing.T) {
	form := FormState{"summary": "x"}
	if doc := ToRemote(form, SectionDef{Label: "no id", Questions: testSectionDef().Questions}, "candidate"); doc != nil {
		t.Errorf("expected nil document for definition without id")
	}
	if doc := ToRemote(form, SectionDef{ID: "empty"}, "candidate"); doc != nil {
		t.Errorf("expected nil document for definition without questions")
	}
}

func TestToRemoteOmitsAbsentQuestions(t *testing.T) {
	def := testSectionDef()
	doc := ToRemote(FormState{"summary": "ten years"}, def, "candidate")
	if doc == nil {
		t.Fatal("expected document")
	}
	if len(doc.Questions) != 1 {
		t.Fatalf("got %d answers, want 1", len(doc.Questions))
	}
	if doc.Questions[0].ID != "summary" || doc.Questions[0].Answer != "ten years" {
		t.Errorf("unexpected answer: %+v", doc.Questions[0])
	}
	if doc.ProfileType != "candidate" {
		t.Errorf("profileType = %q", doc.ProfileType)
	}
}

func TestToRemoteProjectsFileMetadata(t *testing.T) {
	def := testSectionDef()
	form := FormState{
		"cv": map[string]any{
			"url": "https://files/cv.pdf", "name": "cv.pdf", "type": "application/pdf",
			"size": 12345, "bucket": "uploads",
		},
	}
	doc := ToRemote(form, def, "")
	answer, ok := doc.Questions[0].Answer.(map[string]any)
	if !ok {
		t.Fatalf("file answer is %T", doc.Questions[0].Answer)
	}
	want := map[string]any{"url": "https://files/cv.pdf", "name": "cv.pdf", "type": "application/pdf"}
	if !reflect.DeepEqual(answer, want) {
		t.Errorf("file projection = %v, want %v", answer, want)
	}
}

func TestToRemoteKeepsFileRemoval(t *testing.T) {
	def := testSectionDef()
	doc := ToRemote(FormState{"cv": nil}, def, "")
	if len(doc.Questions) != 1 {
		t.Fatalf("got %d answers, want 1", len(doc.Questions))
	}
	if doc.Questions[0].Answer != nil {
		t.Errorf("removed file answer = %v, want nil", doc.Questions[0].Answer)
	}
}

func TestRoundTripMapping(t *testing.T) {
	def := testSectionDef()
	doc := &SectionDocument{
		ID:          "experience",
		Label:       "Work Experience",
		ProfileType: "candidate",
		Questions: []Answer{
			{ID: "summary", Type: TypeText, Answer: "lead engineer"},
			{ID: "industries", Type: TypeMultipleChoice, Answer: []any{"fintech", "media"}},
			{ID: "cv", Type: TypeFile, Answer: map[string]any{
				"url": "https://files/cv.pdf", "name": "cv.pdf", "type": "application/pdf",
			}},
			{ID: "roles", Type: TypeRepeater, Answer: []any{
				map[string]any{"company": "Acme", "tags": []any{"go"}},
				map[string]any{"company": "Initech"},
			}},
		},
	}

	once := ToForm(doc, def)
	again := ToForm(ToRemote(once, def, "candidate"), def)
	if !reflect.DeepEqual(once, again) {
		t.Errorf("round trip diverged:\n once: %#v\nagain: %#v", once, again)
	}
}

func TestCatalogLookup(t *testing.T) {
	catalog := DefaultCatalog()
	if _, ok := catalog.Section("personal"); !ok {
		t.Error("default catalog missing personal section")
	}
	if _, ok := catalog.Section("nope"); ok {
		t.Error("unexpected section")
	}
	if len(catalog.Sections()) == 0 {
		t.Error("empty catalog")
	}
}

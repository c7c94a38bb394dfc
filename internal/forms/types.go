// Package forms defines the profile section data model and the mapping
// between the persisted section document and the editable form state.
package forms

// QuestionType is the closed set of question kinds a section can declare.
// Defaulting and normalization rules dispatch exhaustively on it, so adding
// a type means touching every switch below.
type QuestionType string

const (
	TypeText           QuestionType = "text"
	TypeMultipleChoice QuestionType = "multipleChoice"
	TypeFile           QuestionType = "file"
	TypeRepeater       QuestionType = "repeater"
)

// QuestionDef describes one field in a section. Fields is only populated for
// repeater questions and holds the per-group sub-field definitions.
type QuestionDef struct {
	ID      string        `json:"id"`
	Label   string        `json:"label,omitempty"`
	Type    QuestionType  `json:"type"`
	Options []string      `json:"options,omitempty"`
	Fields  []QuestionDef `json:"fields,omitempty"`
}

// SectionDef is one named group of questions. Definitions come from an
// external catalog and are read-only at runtime.
type SectionDef struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	Questions []QuestionDef `json:"questions"`
}

// FileRef is the persisted projection of an uploaded file. Exactly these
// three fields are stored; any other upload metadata is dropped.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Answer is one persisted question answer. The answer shape depends on Type:
// scalar for text, array for multipleChoice, a FileRef map for file, and an
// array of field maps for repeater.
type Answer struct {
	ID     string       `json:"id"`
	Type   QuestionType `json:"type"`
	Answer any          `json:"answer,omitempty"`
}

// SectionDocument is the remote shape of one (user, section) pair. It is
// always written whole; there is no partial-field remote update.
type SectionDocument struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	ProfileType string   `json:"profileType,omitempty"`
	Questions   []Answer `json:"questions"`
}

// FormState is the denormalized editable shape: questionId -> value. Values
// follow the question's type default when no answer exists.
type FormState map[string]any

// Clone returns a shallow copy. Flushes snapshot the form under the session
// lock and hand the copy to the mapper outside it.
func (f FormState) Clone() FormState {
	out := make(FormState, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DefaultValue returns the editable default for a question: empty string for
// scalar types, empty array for multipleChoice, nil for file, and a single
// empty group for repeater.
func (q QuestionDef) DefaultValue() any {
	switch q.Type {
	case TypeMultipleChoice:
		return []any{}
	case TypeFile:
		return nil
	case TypeRepeater:
		return []any{emptyGroup(q.Fields)}
	case TypeText:
		return ""
	default:
		// Unknown catalog types behave like text so a stale catalog cannot
		// break loading.
		return ""
	}
}

// fieldDefault is the per-group default for a repeater sub-field: empty
// array for multipleChoice, empty string for everything else. File fields
// inside groups default to "" rather than nil so a freshly created group
// serializes without null holes.
func fieldDefault(f QuestionDef) any {
	switch f.Type {
	case TypeMultipleChoice:
		return []any{}
	case TypeFile, TypeRepeater, TypeText:
		return ""
	default:
		return ""
	}
}

func emptyGroup(fields []QuestionDef) map[string]any {
	group := make(map[string]any, len(fields))
	for _, f := range fields {
		group[f.ID] = fieldDefault(f)
	}
	return group
}

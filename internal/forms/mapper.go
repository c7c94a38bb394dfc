package forms

// ToRemote reconstructs the full persisted document from a merged form
// state. Questions absent from the form are omitted; file answers project to
// exactly {url, name, type}. Returns nil when the definition has no id or no
// questions, which signals "not ready to persist".
func ToRemote(form FormState, def SectionDef, profileType string) *SectionDocument {
	if def.ID == "" || len(def.Questions) == 0 {
		return nil
	}
	doc := &SectionDocument{
		ID:          def.ID,
		Label:       def.Label,
		ProfileType: profileType,
		Questions:   make([]Answer, 0, len(def.Questions)),
	}
	for _, q := range def.Questions {
		value, ok := form[q.ID]
		if !ok {
			continue
		}
		doc.Questions = append(doc.Questions, Answer{
			ID:     q.ID,
			Type:   q.Type,
			Answer: remoteAnswer(q, value),
		})
	}
	return doc
}

// ToForm derives the editable form state for a section definition from a
// remote document. A nil document yields a form of pure defaults. Malformed
// answers degrade to that question's type default instead of failing the
// whole section.
func ToForm(doc *SectionDocument, def SectionDef) FormState {
	answers := make(map[string]Answer)
	if doc != nil {
		for _, a := range doc.Questions {
			answers[a.ID] = a
		}
	}
	form := make(FormState, len(def.Questions))
	for _, q := range def.Questions {
		a, ok := answers[q.ID]
		if !ok {
			form[q.ID] = q.DefaultValue()
			continue
		}
		form[q.ID] = formValue(q, a.Answer)
	}
	return form
}

// remoteAnswer normalizes one form value into its persisted shape.
func remoteAnswer(q QuestionDef, value any) any {
	switch q.Type {
	case TypeFile:
		return projectFile(value)
	case TypeRepeater:
		groups, ok := Groups(value)
		if !ok {
			return value
		}
		out := make([]any, 0, len(groups))
		for _, g := range groups {
			clean := make(map[string]any, len(g))
			for k, v := range g {
				clean[k] = v
			}
			for _, f := range q.Fields {
				if f.Type != TypeFile {
					continue
				}
				if v, exists := clean[f.ID]; exists {
					if _, isStr := v.(string); !isStr {
						clean[f.ID] = projectFile(v)
					}
				}
			}
			out = append(out, clean)
		}
		return out
	case TypeMultipleChoice, TypeText:
		return value
	default:
		return value
	}
}

// formValue normalizes one persisted answer into its editable shape,
// falling back to the question's type default on any shape mismatch.
func formValue(q QuestionDef, raw any) any {
	switch q.Type {
	case TypeRepeater:
		groups, ok := Groups(raw)
		if !ok || len(groups) == 0 {
			return q.DefaultValue()
		}
		out := make([]any, 0, len(groups))
		for _, g := range groups {
			filled := make(map[string]any, len(q.Fields))
			for _, f := range q.Fields {
				if v, exists := g[f.ID]; exists && v != nil {
					filled[f.ID] = v
				} else {
					filled[f.ID] = fieldDefault(f)
				}
			}
			out = append(out, filled)
		}
		return out
	case TypeMultipleChoice:
		switch v := raw.(type) {
		case []any:
			return v
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out
		default:
			return []any{}
		}
	case TypeFile:
		return projectFile(raw)
	case TypeText:
		if raw == nil {
			return ""
		}
		return raw
	default:
		if raw == nil {
			return ""
		}
		return raw
	}
}

// projectFile reduces any file-ish value to the {url, name, type} map, or
// nil when the value carries no file at all.
func projectFile(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case FileRef:
		return fileMap(v.URL, v.Name, v.Type)
	case *FileRef:
		if v == nil {
			return nil
		}
		return fileMap(v.URL, v.Name, v.Type)
	case map[string]any:
		url, _ := v["url"].(string)
		name, _ := v["name"].(string)
		typ, _ := v["type"].(string)
		if url == "" && name == "" && typ == "" {
			return nil
		}
		return fileMap(url, name, typ)
	default:
		return nil
	}
}

func fileMap(url, name, typ string) map[string]any {
	return map[string]any{"url": url, "name": name, "type": typ}
}

// Groups coerces a repeater answer into a slice of field maps. JSON
// decoding produces []any of map[string]any; in-process callers may hand
// []map[string]any directly.
func Groups(value any) ([]map[string]any, bool) {
	switch v := value.(type) {
	case []map[string]any:
		return v, true
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			g, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, g)
		}
		return out, true
	default:
		return nil, false
	}
}

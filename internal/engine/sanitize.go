package engine

// Sanitize strips nil entries from maps and slices before a batch is
// persisted. A map that becomes empty collapses to nil so it cannot
// overwrite real remote data with emptiness; a slice element that becomes
// empty is dropped. Scalars pass through unchanged. Idempotent:
// Sanitize(Sanitize(v)) == Sanitize(v).
func Sanitize(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if cleaned := Sanitize(item); cleaned != nil {
				out[key] = cleaned
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case map[string]any, []any:
				cleaned := Sanitize(item)
				if cleaned == nil {
					continue
				}
				if arr, ok := cleaned.([]any); ok && len(arr) == 0 {
					continue
				}
				out = append(out, cleaned)
			case nil:
				// dropped
			default:
				out = append(out, item)
			}
		}
		return out
	default:
		return value
	}
}

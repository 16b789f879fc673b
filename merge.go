package metaform

// deepMerge merges src into dst by schema path and returns dst. Objects merge
// key by key; on any other collision src wins, except that null never
// replaces a value. Arrays concatenate unless the schema marks the field
// singular.
func deepMerge(s *Schema, dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		dst[k] = mergeValue(s, k, dst[k], v)
	}
	return dst
}

func mergeValue(s *Schema, path string, dst, src any) any {
	switch sv := src.(type) {
	case nil:
		return dst
	case map[string]any:
		if dv, ok := dst.(map[string]any); ok {
			for k, v := range sv {
				dv[k] = mergeValue(s, joinPath(path, k), dv[k], v)
			}
			return dv
		}
	case []any:
		if dv, ok := dst.([]any); ok && !singular(s, path) {
			out := make([]any, 0, len(dv)+len(sv))
			out = append(out, dv...)
			return append(out, cloneValue(sv).([]any)...)
		}
	}
	return cloneValue(src)
}

func singular(s *Schema, path string) bool {
	if s == nil {
		return false
	}
	f := s.Lookup(path)
	return f != nil && f.Singular
}

// cloneValue copies maps and slices so merged results never alias a parsed
// fragment.
func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

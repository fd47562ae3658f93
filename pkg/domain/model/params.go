package model

// Params is a read helper over action parameters
type Params map[string]any

// String returns the parameter as a string. Non-string values yield "".
func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Strings returns a string list parameter. A single string is accepted as a
// one-element list.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Int returns an integer parameter and whether it was present
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Map returns a nested object parameter
func (p Params) Map(key string) map[string]any {
	v, _ := p[key].(map[string]any)
	return v
}

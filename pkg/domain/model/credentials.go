package model

import (
	"log/slog"
	"sort"
)

// Credentials are tenant-scoped secrets resolved per request. They are never
// cached by the pipeline and always log as their key list.
type Credentials map[string]string

// Get returns the value for key
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Has reports whether all keys are present and non-empty
func (c Credentials) Has(keys ...string) bool {
	for _, k := range keys {
		if c.Get(k) == "" {
			return false
		}
	}
	return true
}

// Keys returns the sorted credential keys
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LogValue implements slog.LogValuer
func (c Credentials) LogValue() slog.Value {
	return slog.AnyValue(c.Keys())
}

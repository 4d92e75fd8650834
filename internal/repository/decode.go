// Package repository provides data access against the document store
// gateway. Documents are schemaless; this package enforces the schema at
// read time with defensive field extraction, dropping malformed documents
// individually so one bad record never aborts a batch.
package repository

import (
	"strings"
	"time"
)

func strField(data map[string]any, key string) (string, bool) {
	v, ok := data[key].(string)
	return v, ok
}

func optStrField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func intField(data map[string]any, key string) (int, bool) {
	switch n := data[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func timeField(data map[string]any, key string) (time.Time, bool) {
	v, ok := data[key].(time.Time)
	return v, ok
}

func mapField(data map[string]any, key string) (map[string]any, bool) {
	v, ok := data[key].(map[string]any)
	return v, ok
}

// stringsField tolerates both []string and the []any the store hands back
// for array fields. Non-string elements are skipped.
func stringsField(data map[string]any, key string) []string {
	switch arr := data[key].(type) {
	case []string:
		out := make([]string, len(arr))
		copy(out, arr)
		return out
	case []any:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, e := range list {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

func trimmedEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

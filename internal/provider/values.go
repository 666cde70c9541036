package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup walks nested JSON objects along path.
func Lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

// String returns the value at path rendered as a string, or "".
func String(m map[string]any, path ...string) string {
	switch v := Lookup(m, path...).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// FirstString returns the first non-empty string among keys.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := String(m, k); s != "" {
			return s
		}
	}
	return ""
}

// Int64 accepts JSON numbers and numeric strings.
func Int64(m map[string]any, path ...string) int64 {
	switch v := Lookup(m, path...).(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}

// Int is Int64 narrowed to int.
func Int(m map[string]any, path ...string) int {
	return int(Int64(m, path...))
}

// Bool accepts JSON booleans and "true"/"false" strings.
func Bool(m map[string]any, path ...string) bool {
	switch v := Lookup(m, path...).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Map returns the object at path, or nil.
func Map(m map[string]any, path ...string) map[string]any {
	obj, _ := Lookup(m, path...).(map[string]any)
	return obj
}

// Slice returns the array at path, or nil.
func Slice(m map[string]any, path ...string) []any {
	list, _ := Lookup(m, path...).([]any)
	return list
}

// Maps returns the objects of the array at path, skipping other values.
func Maps(m map[string]any, path ...string) []map[string]any {
	return ObjectsOf(Slice(m, path...))
}

// ObjectsOf keeps the object elements of list.
func ObjectsOf(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

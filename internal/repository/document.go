package repository

import (
	"time"
)

// Collections of the document store.
const (
	CollectionMessages       = "messages"
	CollectionContacts       = "contacts"
	CollectionUsers          = "users"
	CollectionCredentials    = "credentials"
	CollectionCalls          = "calls"
	CollectionCallCandidates = "call_candidates"
	CollectionAuditLog       = "audit_log"
)

// Field readers for document data. Values written by any backend come back
// JSON-shaped, so numbers are float64 and times are RFC 3339 strings.

func getString(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func getStringPtr(data map[string]interface{}, key string) *string {
	s, ok := data[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func getBool(data map[string]interface{}, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func getIntPtr(data map[string]interface{}, key string) *uint16 {
	if _, ok := data[key]; !ok || data[key] == nil {
		return nil
	}
	v := uint16(getInt(data, key))
	return &v
}

func getTime(data map[string]interface{}, key string) *time.Time {
	s, ok := data[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func getMap(data map[string]interface{}, key string) map[string]interface{} {
	if m, ok := data[key].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func optionalString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

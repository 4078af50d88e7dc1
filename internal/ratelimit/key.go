package ratelimit

import "strings"

const failedKeyPrefix = "failed"

// KeyFor builds the counter key for an action bucket.
func KeyFor(action Action, subject string) string {
	subject = normalizeSubject(subject)
	if action == "" || subject == "" {
		return ""
	}
	return string(action) + ":" + subject
}

// FailureKey builds the failed-attempt counter key for a subject.
func FailureKey(subject string) string {
	subject = normalizeSubject(subject)
	if subject == "" {
		return ""
	}
	return failedKeyPrefix + ":" + subject
}

// Subject picks the identifier when present, else the client IP.
func Subject(identifier, ip string) string {
	if s := normalizeSubject(identifier); s != "" {
		return s
	}
	return normalizeSubject(ip)
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

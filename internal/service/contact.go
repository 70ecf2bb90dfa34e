package service

import (
	"regexp"
	"strings"

	"aibot-go/internal/model"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// Phone-like runs of 8-15 digits with optional +, spaces or dashes.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-]{6,13}\d`)
)

// ExtractContacts scans turns for email addresses and phone-like substrings.
// Emails are lowercased before deduplication; order of first appearance is
// preserved.
func ExtractContacts(turns []model.Turn) []string {
	seen := make(map[string]struct{})
	var contacts []string

	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		contacts = append(contacts, v)
	}

	for _, t := range turns {
		if t.Role != model.RoleUser {
			continue
		}
		for _, m := range emailPattern.FindAllString(t.Content, -1) {
			add(strings.ToLower(m))
		}
		for _, m := range phonePattern.FindAllString(t.Content, -1) {
			add(strings.TrimSpace(m))
		}
	}
	return contacts
}

// LooksLikeContactInfo reports whether a message is essentially just a phone
// number or email address.
func LooksLikeContactInfo(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if m := emailPattern.FindString(trimmed); m == trimmed {
		return true
	}
	if m := phonePattern.FindString(trimmed); m == trimmed {
		return true
	}
	return false
}

// solicitationMarkers flag assistant turns that asked the member for contact
// details (including the escalation phrase, which promises a follow-up).
var solicitationMarkers = []string{
	"contact number",
	"phone number",
	"reach you",
	"get back to you",
	"contact details",
	"email address",
}

// AssistantSolicitedContact reports whether the immediately preceding
// assistant turn asked for contact details. When it did, a bare number or
// email in the next user turn is contact info, not an out-of-context query.
func AssistantSolicitedContact(history []model.Turn) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != model.RoleAssistant {
			continue
		}
		content := strings.ToLower(history[i].Content)
		for _, marker := range solicitationMarkers {
			if strings.Contains(content, marker) {
				return true
			}
		}
		return false
	}
	return false
}

// Package privacy provides tag-stripping utilities for transcript text.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// privateTagRegex matches <private>...</private> tags.
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// systemReminderRegex matches <system-reminder>...</system-reminder> blocks
	// injected into assistant transcripts by the host editor.
	systemReminderRegex = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)
)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripSystemReminderTags removes all <system-reminder>...</system-reminder>
// blocks from text, per the context engine's transcript-reading contract.
func StripSystemReminderTags(text string) string {
	return systemReminderRegex.ReplaceAllString(text, "")
}

// StripAllTags removes both private and system-reminder content.
func StripAllTags(text string) string {
	text = StripPrivateTags(text)
	text = StripSystemReminderTags(text)
	return text
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	stripped := StripPrivateTags(text)
	return strings.TrimSpace(stripped) == ""
}

// Clean performs full privacy cleaning on text, trimming whitespace.
func Clean(text string) string {
	text = StripAllTags(text)
	return strings.TrimSpace(text)
}

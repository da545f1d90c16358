// Package normalize turns records into the canonical text that is embedded
// and compared.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/poiesic/riskdedup/core"
)

// DefaultMaxLength is the default character budget for embedding text.
const DefaultMaxLength = 1024

// Separator joins non-empty fields with a blank line.
const Separator = "\n\n"

// Text trims each field, drops empty ones, joins the rest with Separator,
// lowercases the result and truncates it to maxLen characters. A maxLen of
// zero or less selects DefaultMaxLength. Blank input yields "".
func Text(maxLen int, fields ...string) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	text := strings.ToLower(strings.Join(parts, Separator))
	return truncate(text, maxLen)
}

// Fields returns the text fields embedded for a record, in order. Risks use
// title, threat, vulnerability, description and device name; controls use
// title, objective, description and guidance.
func Fields(r *core.Record) []string {
	if r == nil {
		return nil
	}
	if r.Kind == core.RecordKindControl {
		return []string{r.Title, r.Objective, r.Description, r.Guidance}
	}
	fields := []string{r.Title, r.Threat, r.Vulnerability, r.Description}
	if r.Device != nil {
		fields = append(fields, r.Device.Name)
	}
	return fields
}

// RecordText is Text applied to Fields(r).
func RecordText(r *core.Record, maxLen int) string {
	return Text(maxLen, Fields(r)...)
}

// Key is the case- and whitespace-insensitive form used for exact matching:
// trimmed, lowercased, with inner whitespace runs collapsed to one space.
func Key(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// truncate cuts s to at most maxLen runes without splitting a UTF-8 sequence.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	count := 0
	for i := range s {
		if count == maxLen {
			return s[:i]
		}
		count++
	}
	return s
}

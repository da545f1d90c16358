package openai

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/poiesic/riskdedup/ai"
)

const recheckSystemPrompt = `You compare two entries from a security risk register and decide whether they describe the same risk.

Score the pair from 0 to 100 using this rubric:
- 90-100: same threat against the same kind of asset, only wording differs
- 70-89: same threat, differences in scope, asset or impact
- 50-69: related threats that share a cause or a consequence
- 30-49: same general area but different risks
- 0-29: unrelated

List in "matchedFields" which of "title", "threat" and "description" carry the same meaning in both entries.

Respond with a single JSON object and nothing else:
{"score": <integer 0-100>, "matchedFields": [<field names>], "reasoning": "<one sentence>"}`

// buildPairPrompt renders the two subjects as the user message.
func buildPairPrompt(a, b ai.Subject) string {
	var sb strings.Builder
	writeSubject(&sb, "Risk A", a)
	sb.WriteString("\n")
	writeSubject(&sb, "Risk B", b)
	return sb.String()
}

func writeSubject(sb *strings.Builder, label string, s ai.Subject) {
	fmt.Fprintf(sb, "%s\n", label)
	fmt.Fprintf(sb, "Title: %s\n", orNone(scrubString(s.Title)))
	fmt.Fprintf(sb, "Threat: %s\n", orNone(scrubString(s.Threat)))
	fmt.Fprintf(sb, "Description: %s\n", orNone(scrubString(s.Description)))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// scrubString drops control characters and collapses runs of whitespace so
// free-text fields cannot break the prompt layout.
func scrubString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

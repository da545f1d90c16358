package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/riskdedup/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	content  string
	err      error
	choices  bool
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	if !m.choices {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.content, m.err
}

func TestRechecker_Compare(t *testing.T) {
	model := &fakeModel{
		choices: true,
		content: "```json\n{\"score\": 88, \"matchedFields\": [\"title\", \"threat\"], \"reasoning\": \"same phishing vector\"}\n```",
	}
	r := newRecheckerWithModel(model)

	got, err := r.Compare(context.Background(),
		ai.Subject{Title: "Phishing", Threat: "Credential theft"},
		ai.Subject{Title: "Email phishing", Description: "Fake\x00 invoices"})
	require.NoError(t, err)
	assert.Equal(t, 88, got.Score)
	assert.Equal(t, []string{"title", "threat"}, got.MatchedFields)
	assert.Equal(t, "same phishing vector", got.Reasoning)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	prompt := model.messages[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "Title: Email phishing")
	assert.Contains(t, prompt, "Threat: (none)")
	assert.Contains(t, prompt, "Description: Fake invoices")
}

func TestRechecker_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	r := newRecheckerWithModel(&fakeModel{err: boom})

	_, err := r.Compare(context.Background(), ai.Subject{Title: "a"}, ai.Subject{Title: "b"})
	assert.ErrorIs(t, err, boom)
}

func TestRechecker_NoChoices(t *testing.T) {
	r := newRecheckerWithModel(&fakeModel{})

	_, err := r.Compare(context.Background(), ai.Subject{Title: "a"}, ai.Subject{Title: "b"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestParseAssessment(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		score   int
		matched []string
	}{
		{"plain json", `{"score": 72, "matchedFields": ["threat"], "reasoning": "r"}`, 72, []string{"threat"}},
		{"prose around json", `Here you go: {"score": 91, "matchedFields": [], "reasoning": "r"} hope it helps`, 91, []string{}},
		{"unquoted keys", `{score: 64, matchedFields": ["title"], reasoning: "r"}`, 64, []string{"title"}},
		{"fractional score", `{"score": 79.6}`, 80, nil},
		{"score above range", `{"score": 250}`, 100, nil},
		{"number in prose", `I would rate these 77 out of 100.`, 77, nil},
		{"digits glued to letters", `score85, fairly close`, 85, nil},
		{"long digit run keeps first three digits", `Ticket 2024 looks like a 45`, 100, nil},
		{"no number at all", `no idea`, 0, nil},
		{"json without score", `{"reasoning": "missing"}`, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAssessment(tt.raw)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.matched, got.MatchedFields)
		})
	}
}

func TestScrubString(t *testing.T) {
	assert.Equal(t, "a b c", scrubString("  a\n\tb \x07 c  "))
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"strconv"

	"github.com/poiesic/riskdedup/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyResponse is returned when the chat endpoint answers without choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// firstNumber takes up to three leading digits of the first digit run,
// wherever it sits in the text.
var firstNumber = regexp.MustCompile(`\d{1,3}`)

// Rechecker implements ai.Rechecker with a single rubric-driven chat completion.
type Rechecker struct {
	client llms.Model
	logger *slog.Logger
}

type assessment struct {
	Score         *float64 `json:"score"`
	MatchedFields []string `json:"matchedFields"`
	Reasoning     string   `json:"reasoning"`
}

func newRechecker(config *ai.Config) (*Rechecker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.RecheckHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.RecheckModel),
	)
	if err != nil {
		return nil, err
	}

	return newRecheckerWithModel(client), nil
}

func newRecheckerWithModel(client llms.Model) *Rechecker {
	return &Rechecker{
		client: client,
		logger: slog.Default().With("component", "openai-rechecker"),
	}
}

// NewRechecker creates a re-checker for config.RecheckHost and config.RecheckModel.
func NewRechecker(config *ai.Config) (ai.Rechecker, error) {
	return newRechecker(config)
}

// Compare sends the pair to the chat model and parses its verdict.
func (r *Rechecker) Compare(ctx context.Context, a, b ai.Subject) (*ai.Assessment, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(recheckSystemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(buildPairPrompt(a, b))},
		},
	}

	response, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
	if err != nil {
		r.logger.Error("failed to generate content", "err", err)
		return nil, err
	}
	if len(response.Choices) < 1 {
		return nil, ErrEmptyResponse
	}

	result := parseAssessment(response.Choices[0].Content)
	r.logger.Debug("semantic re-check complete", "score", result.Score, "matched", result.MatchedFields)
	return result, nil
}

// parseAssessment decodes the model's JSON verdict. When no score can be
// decoded it falls back to the first one-to-three digit number in the raw
// text, and to 0 when there is none.
func parseAssessment(raw string) *ai.Assessment {
	cleaned := cleanResponse(raw)

	var parsed assessment
	err := json.Unmarshal([]byte(cleaned), &parsed)
	if err != nil {
		err = json.Unmarshal([]byte(repairJSON(cleaned)), &parsed)
	}
	if err == nil && parsed.Score != nil {
		return &ai.Assessment{
			Score:         clampScore(int(math.Round(*parsed.Score))),
			MatchedFields: parsed.MatchedFields,
			Reasoning:     parsed.Reasoning,
		}
	}

	result := &ai.Assessment{Reasoning: raw}
	if m := firstNumber.FindString(raw); m != "" {
		n, _ := strconv.Atoi(m)
		result.Score = clampScore(n)
	}
	return result
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

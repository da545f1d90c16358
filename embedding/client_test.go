package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/riskdedup/ai/mock"
	"github.com/poiesic/riskdedup/core"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) EmbeddingGenerated(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func fixed(v []float32, err error) func(context.Context, string) ([]float32, error) {
	return func(context.Context, string) ([]float32, error) { return v, err }
}

func TestGenerate_ReturnsNormalizedVector(t *testing.T) {
	m := mock.NewMockEmbedder().WithEmbedTextFunc(fixed([]float32{3, 4}, nil))
	c, err := NewClient(m)
	require.NoError(t, err)

	vec := c.Generate(context.Background(), "phishing")
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.Equal(t, 1, m.CallCount())
}

func TestGenerate_BlankTextSkipsRequest(t *testing.T) {
	m := mock.NewMockEmbedder()
	obs := &recordingObserver{}
	c, err := NewClient(m, WithObserver(obs))
	require.NoError(t, err)

	assert.Nil(t, c.Generate(context.Background(), "  \n "))
	assert.Equal(t, 0, m.CallCount())
	assert.Equal(t, []string{OutcomeSkipped}, obs.outcomes)
}

func TestGenerate_FailuresBecomeNil(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(context.Context, string) ([]float32, error)
		dims    int
		outcome string
	}{
		{"transport error", fixed(nil, errors.New("503 service unavailable")), 0, OutcomeError},
		{"empty vector", fixed([]float32{}, nil), 0, OutcomeInvalid},
		{"missing vector", fixed(nil, nil), 0, OutcomeInvalid},
		{"wrong dimensions", fixed([]float32{1, 2, 3}, nil), 2, OutcomeInvalid},
		{"panic", func(context.Context, string) ([]float32, error) { panic("boom") }, 0, OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			c, err := NewClient(mock.NewMockEmbedder().WithEmbedTextFunc(tt.fn), WithDimensions(tt.dims), WithObserver(obs))
			require.NoError(t, err)

			assert.Nil(t, c.Generate(context.Background(), "text"))
			assert.Equal(t, []string{tt.outcome}, obs.outcomes)
		})
	}
}

func TestGenerate_SingleRequestByDefault(t *testing.T) {
	m := mock.NewMockEmbedder().WithEmbedTextFunc(fixed(nil, errors.New("down")))
	c, err := NewClient(m)
	require.NoError(t, err)

	c.Generate(context.Background(), "text")
	assert.Equal(t, 1, m.CallCount())
}

func TestGenerate_RetriesWhenConfigured(t *testing.T) {
	calls := 0
	m := mock.NewMockEmbedder().WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("flaky")
		}
		return []float32{1, 0}, nil
	})
	c, err := NewClient(m, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 0}, c.Generate(context.Background(), "text"))
	assert.Equal(t, 3, calls)
}

func TestGenerate_CanceledContextWithLimiter(t *testing.T) {
	m := mock.NewMockEmbedder()
	c, err := NewClient(m, WithRateLimit(1, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, c.Generate(ctx, "text"))
	assert.Equal(t, 0, m.CallCount())
}

func TestGenerateForRecord_UsesNormalizedText(t *testing.T) {
	m := mock.NewMockEmbedder()
	c, err := NewClient(m, WithMaxLength(12))
	require.NoError(t, err)

	record := &core.Record{Kind: core.RecordKindRisk, Title: "  Phishing ", Threat: "Credential theft"}
	vec := c.GenerateForRecord(context.Background(), record)

	require.NotNil(t, vec)
	assert.Equal(t, []string{"phishing\n\ncr"}, m.Texts())
}

func TestNewClient_RejectsBadOptions(t *testing.T) {
	m := mock.NewMockEmbedder()

	_, err := NewClient(nil)
	assert.Error(t, err)
	_, err = NewClient(m, WithMaxLength(0))
	assert.Error(t, err)
	_, err = NewClient(m, WithRetry(0, 0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	_, err = NewClient(m, WithRateLimit(0, 1))
	assert.Error(t, err)
}

package vector

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/poiesic/riskdedup/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.Float64()*2 - 1)
	}
	return v
}

func TestCosineSimilarity_SelfIsOne(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		v := randomVector(r, 1+r.IntN(768))
		cos, err := CosineSimilarity(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, cos, 1e-9)
	}
}

func TestCosineSimilarity_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 2}, []float32{-1, -2}, -1},
		{"scaled", []float32{3, 4}, []float32{6, 8}, 1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"both empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.True(t, IsDimensionMismatch(err))
}

func TestMapToScore(t *testing.T) {
	tests := []struct {
		cos  float64
		want int
	}{
		{-0.5, 0},
		{0, 0},
		{0.654, 65},
		{0.7, 70},
		{0.999, 100},
		{1, 100},
		{1.2, 100},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapToScore(tt.cos), "cos=%v", tt.cos)
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 200; i++ {
		dim := 1 + r.IntN(64)
		s, err := Score(randomVector(r, dim), randomVector(r, dim))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, 100)
	}
}

func TestNormalize(t *testing.T) {
	result := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, result[0], 1e-6)
	assert.InDelta(t, 0.8, result[1], 1e-6)

	assert.Equal(t, []float32{0, 0, 0}, Normalize([]float32{0, 0, 0}))
	assert.Empty(t, Normalize([]float32{}))
}

func TestNormalize_PreservesCosine(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	a, b := randomVector(r, 32), randomVector(r, 32)

	before, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	after, err := CosineSimilarity(Normalize(a), Normalize(b))
	require.NoError(t, err)
	assert.InDelta(t, before, after, 1e-6)
}

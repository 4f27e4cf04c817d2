package knowledge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/retrieval-go/internal/errors"
)

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name       string
		vec        []float32
		dimensions int
		wantErr    bool
	}{
		{"合法向量", []float32{0.1, 0.2, 0.3}, 3, false},
		{"不校验维度", []float32{0.1, 0.2}, 0, false},
		{"空向量", nil, 3, true},
		{"维度不匹配", []float32{0.1, 0.2}, 3, true},
		{"包含NaN", []float32{0.1, float32(math.NaN())}, 2, true},
		{"包含Inf", []float32{0.1, float32(math.Inf(1))}, 2, true},
		{"包含负Inf", []float32{float32(math.Inf(-1)), 0.1}, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmbedding(tt.vec, tt.dimensions)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidResponse(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEmbeddingDimensionDetails(t *testing.T) {
	err := ValidateEmbedding([]float32{0.1, 0.2}, 4)
	require.Error(t, err)

	appErr := errors.GetAppError(err)
	require.NotNil(t, appErr)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 4, details["expected"])
	assert.Equal(t, 2, details["actual"])
}

func TestSortMatchesByScore(t *testing.T) {
	matches := []SearchMatch{
		{ChunkID: 3, Score: 0.6},
		{ChunkID: 1, Score: 0.9},
		{ChunkID: 5, Score: 0.6},
		{ChunkID: 2, Score: 0.8},
	}

	sortMatchesByScore(matches)

	assert.Equal(t, uint(1), matches[0].ChunkID)
	assert.Equal(t, uint(2), matches[1].ChunkID)
	// 同分按ChunkID升序，保证结果可复现
	assert.Equal(t, uint(3), matches[2].ChunkID)
	assert.Equal(t, uint(5), matches[3].ChunkID)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"相同向量", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"正交向量", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"反向向量", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"等比缩放", []float32{1, 2}, []float32{2, 4}, 1.0},
		{"对方为零向量", []float32{1, 0}, []float32{0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b, vectorNorm(tt.a))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineSimilarityLengthMismatch(t *testing.T) {
	// 长度不一致时按较短长度对齐，不报错
	a := []float32{1, 0}
	b := []float32{1, 0, 0.5, 0.5}
	got := cosineSimilarity(a, b, vectorNorm(a))
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestVectorNorm(t *testing.T) {
	assert.InDelta(t, 5.0, vectorNorm([]float32{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, vectorNorm(nil), 1e-9)
}

package ace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatioSimilarityIdenticalStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, ratioSimilarity("retry with exponential backoff", "retry with exponential backoff"))
}

func TestRatioSimilarityEmptyStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, ratioSimilarity("", ""))
}

func TestRatioSimilarityDisjointStringsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, ratioSimilarity("abcdef", "ghijkl"))
}

func TestRatioSimilarityNearDuplicateIsHigh(t *testing.T) {
	a := "always validate tool output before the next step"
	b := "always validate the tool's output before the next step"
	got := ratioSimilarity(a, b)
	assert.Greater(t, got, 0.85)
	assert.LessOrEqual(t, got, 1.0)
}

func TestRatioSimilarityIsSymmetric(t *testing.T) {
	a := "prefer exact reuse over regenerating a plan"
	b := "prefer regenerating a plan over exact reuse"
	assert.InDelta(t, ratioSimilarity(a, b), ratioSimilarity(b, a), 1e-9)
}

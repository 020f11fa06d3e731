package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMMRSelectMostRelevantFirst(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{0, 1},
		{1, 0},
		{0.7, 0.7},
	}

	got := mmrSelect(query, candidates, 1, 0.5)
	assert.Equal(t, []int{1}, got)
}

func TestMMRSelectPrefersDiversity(t *testing.T) {
	query := []float32{1, 0}
	// Indexes 0 and 1 are duplicates; index 2 is equally relevant but
	// distinct, so it must take the second slot.
	candidates := [][]float32{
		{0.9, 0.1},
		{0.9, 0.1},
		{0.9, -0.1},
	}

	got := mmrSelect(query, candidates, 2, 0.5)
	require.Len(t, got, 2)
	assert.Contains(t, []int{0, 1}, got[0])
	assert.Equal(t, 2, got[1])
}

func TestMMRSelectCapsAtCandidateCount(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{{1, 0}, {0, 1}}

	got := mmrSelect(query, candidates, 10, 0.5)
	assert.Len(t, got, 2)
}

func TestMMRSelectEmpty(t *testing.T) {
	assert.Nil(t, mmrSelect([]float32{1, 0}, nil, 5, 0.5))
	assert.Nil(t, mmrSelect([]float32{1, 0}, [][]float32{{1, 0}}, 0, 0.5))
}

func TestMMRLambdaOneIsPureRelevance(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{1, 0},
		{1, 0},
		{0, 1},
	}

	// With lambda 1 redundancy is ignored, so the duplicate wins second place.
	got := mmrSelect(query, candidates, 2, 1.0)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int{0, 1}, got)
}

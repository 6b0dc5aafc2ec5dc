package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseEmbedEmptyTextIsEmptyVector(t *testing.T) {
	s := NewSparseEmbedder()
	s.Observe("the minister answered the question")
	vec := s.Embed("")
	assert.Empty(t, vec.Indices)
	assert.Empty(t, vec.Values)
}

func TestSparseEmbedProducesScoresForKnownTerms(t *testing.T) {
	s := NewSparseEmbedder()
	s.Observe("parliament debates the budget")
	s.Observe("the chancellor announces the budget")
	vec := s.Embed("parliament debates the budget")
	require.NotEmpty(t, vec.Indices)
	require.Equal(t, len(vec.Indices), len(vec.Values))
	for _, v := range vec.Values {
		assert.Greater(t, v, float32(0))
	}
}

func TestSparseEmbedTermsWithEqualDocFreqScoreEqually(t *testing.T) {
	s := NewSparseEmbedder()
	s.Observe("the minister answered the question about housing")
	s.Observe("the minister answered the question about health")
	s.Observe("the minister answered the question about defence")
	vec := s.Embed("housing defence")

	scoreFor := func(token string) float32 {
		tokens := tokenize(token)
		idx := tokenDimension(tokens[0])
		for i, vi := range vec.Indices {
			if vi == idx {
				return vec.Values[i]
			}
		}
		return 0
	}
	// "housing" and "defence" each appear in exactly one document, so their
	// IDF-driven scores should be identical and both present.
	assert.Equal(t, scoreFor("housing"), scoreFor("defence"))
	assert.Greater(t, scoreFor("housing"), float32(0))
}

func TestSparseEmbedDimensionsAgreeAcrossInstances(t *testing.T) {
	ingest := NewSparseEmbedder()
	ingest.Observe("the minister answered the question about housing policy")
	ingestVec := ingest.Embed("housing policy")

	query := NewSparseEmbedder()
	queryVec := query.Embed("housing policy")

	require.NotEmpty(t, ingestVec.Indices)
	require.NotEmpty(t, queryVec.Indices)
	assert.ElementsMatch(t, ingestVec.Indices, queryVec.Indices)
}

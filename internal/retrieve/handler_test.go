package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliamentmcp/internal/embedding"
	"parliamentmcp/internal/vectorstore"
)

type fakeDense struct{}

func (fakeDense) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeSearcher struct {
	scrollPages        [][]vectorstore.Hit
	scrollCall         int
	hybridHits         []vectorstore.Hit
	groupedGroups      []vectorstore.Group
	fetchGroupedByIDs  []vectorstore.Group
	fetchGroupedByIDsArg []int
}

func (f *fakeSearcher) HybridSearch(ctx context.Context, collection string, dense []float32, sparse vectorstore.SparseVector, filter vectorstore.Filter, limit int, scoreThreshold *float32) ([]vectorstore.Hit, error) {
	return f.hybridHits, nil
}

func (f *fakeSearcher) HybridSearchGrouped(ctx context.Context, collection string, dense []float32, sparse vectorstore.SparseVector, filter vectorstore.Filter, groupBy string, limit, groupSize int) ([]vectorstore.Group, error) {
	return f.groupedGroups, nil
}

func (f *fakeSearcher) FetchGroupedByIDs(ctx context.Context, collection string, ids []int, groupBy string, groupSize int) ([]vectorstore.Group, error) {
	f.fetchGroupedByIDsArg = ids
	return f.fetchGroupedByIDs, nil
}

func (f *fakeSearcher) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, orderByField string, descending bool, limit int) ([]vectorstore.Hit, error) {
	if f.scrollCall >= len(f.scrollPages) {
		return nil, nil
	}
	page := f.scrollPages[f.scrollCall]
	f.scrollCall++
	return page, nil
}

func (f *fakeSearcher) Recommend(ctx context.Context, collection string, positive, negative []string, filter vectorstore.Filter, limit int) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (f *fakeSearcher) Discover(ctx context.Context, collection string, target string, contextPairs []vectorstore.ContextPair, filter vectorstore.Filter, limit int) ([]vectorstore.Hit, error) {
	return nil, nil
}

func newHandler(searcher *fakeSearcher) *Handler {
	return New(searcher, fakeDense{}, embedding.NewSparseEmbedder(), "hansard", "pq")
}

func TestSearchHansardContributionsEmptyQueryScrolls(t *testing.T) {
	searcher := &fakeSearcher{scrollPages: [][]vectorstore.Hit{{{ID: "1"}, {ID: "2"}}}}
	h := newHandler(searcher)

	result, err := h.SearchHansardContributions(t.Context(), "", HansardFilters{}, "", 10, 0, nil)
	require.NoError(t, err)
	assert.Len(t, result.Hits, 2)
	assert.Nil(t, result.Groups)
}

func TestSearchHansardContributionsWithQueryAndGroupBy(t *testing.T) {
	searcher := &fakeSearcher{groupedGroups: []vectorstore.Group{{Key: "42", Hits: []vectorstore.Hit{{ID: "a"}}}}}
	h := newHandler(searcher)

	result, err := h.SearchHansardContributions(t.Context(), "housing policy", HansardFilters{}, "MemberId", 5, 3, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Hits)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, "42", result.Groups[0].Key)
}

func TestSearchDebateTitlesAccumulatesSubstantialDebates(t *testing.T) {
	page := []vectorstore.Hit{
		{ID: "1", Payload: map[string]any{"DebateSectionExtId": "debate-a"}},
		{ID: "2", Payload: map[string]any{"DebateSectionExtId": "debate-a"}},
		{ID: "3", Payload: map[string]any{"DebateSectionExtId": "debate-b"}},
	}
	searcher := &fakeSearcher{scrollPages: [][]vectorstore.Hit{page}}
	h := newHandler(searcher)

	titles, err := h.SearchDebateTitles(t.Context(), HansardFilters{}, 5)
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, "debate-a", titles[0].DebateSectionExtID)
	assert.Equal(t, MinimumDebateHits, titles[0].ContributionCount)
}

func TestSearchParliamentaryQuestionsReassemblesAndSortsByCreatedAt(t *testing.T) {
	// Step 1's hybrid search only surfaces the question chunk of pq_1 and the
	// question chunk of pq_2; step 2's fetch-by-id must still return every
	// chunk of each matched question, including answer chunks that never
	// themselves ranked in the prefetch.
	hybridHits := []vectorstore.Hit{
		{Payload: map[string]any{"id": 1}},
		{Payload: map[string]any{"id": 2}},
	}
	groupedByIDs := []vectorstore.Group{
		{
			Key: "1",
			Hits: []vectorstore.Hit{
				{Payload: map[string]any{"chunk_type": "question", "chunk_id": "pq_1_chunk_0", "text": "What is the plan?", "created_at": "2024-01-01T00:00:00Z", "document_uri": "pq_1"}},
				{Payload: map[string]any{"chunk_type": "answer", "chunk_id": "pq_1_chunk_1", "text": "The plan is X.", "created_at": "2024-01-01T00:00:00Z", "document_uri": "pq_1"}},
			},
		},
		{
			Key: "2",
			Hits: []vectorstore.Hit{
				{Payload: map[string]any{"chunk_type": "question", "chunk_id": "pq_2_chunk_0", "text": "When will it happen?", "created_at": "2024-06-01T00:00:00Z", "document_uri": "pq_2"}},
			},
		},
	}
	searcher := &fakeSearcher{hybridHits: hybridHits, fetchGroupedByIDs: groupedByIDs}
	h := newHandler(searcher)

	questions, err := h.SearchParliamentaryQuestions(t.Context(), "plan", PQFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.ElementsMatch(t, []int{1, 2}, searcher.fetchGroupedByIDsArg)
	assert.Equal(t, "pq_2", questions[0].DocumentURI) // most recently created first
	assert.Equal(t, "What is the plan?", questions[1].QuestionText)
	assert.Equal(t, "The plan is X.", questions[1].AnswerText)
}

func TestSearchParliamentaryQuestionsEmptyQueryScrollsByID(t *testing.T) {
	searcher := &fakeSearcher{
		scrollPages:       [][]vectorstore.Hit{{{Payload: map[string]any{"id": 5}}}},
		fetchGroupedByIDs: []vectorstore.Group{{Key: "5", Hits: []vectorstore.Hit{{Payload: map[string]any{"chunk_type": "question", "chunk_id": "pq_5_chunk_0", "text": "Q", "created_at": "2024-01-01T00:00:00Z", "document_uri": "pq_5"}}}}},
	}
	h := newHandler(searcher)

	questions, err := h.SearchParliamentaryQuestions(t.Context(), "", PQFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, []int{5}, searcher.fetchGroupedByIDsArg)
	assert.Equal(t, "pq_5", questions[0].DocumentURI)
}

func TestSearchParliamentaryQuestionsNoMatchesReturnsEmpty(t *testing.T) {
	searcher := &fakeSearcher{hybridHits: nil}
	h := newHandler(searcher)

	questions, err := h.SearchParliamentaryQuestions(t.Context(), "plan", PQFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, questions)
}

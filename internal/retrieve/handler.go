package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"parliamentmcp/internal/embedding"
	"parliamentmcp/internal/vectorstore"
)

// MinimumDebateHits is the contribution count a debate section must reach
// before search_debate_titles treats it as substantial.
const MinimumDebateHits = 2

// VectorSearcher is the subset of *vectorstore.Store the handler needs; an
// interface so tests can substitute a fake vector store.
type VectorSearcher interface {
	HybridSearch(ctx context.Context, collection string, dense []float32, sparse vectorstore.SparseVector, filter vectorstore.Filter, limit int, scoreThreshold *float32) ([]vectorstore.Hit, error)
	HybridSearchGrouped(ctx context.Context, collection string, dense []float32, sparse vectorstore.SparseVector, filter vectorstore.Filter, groupBy string, limit, groupSize int) ([]vectorstore.Group, error)
	FetchGroupedByIDs(ctx context.Context, collection string, ids []int, groupBy string, groupSize int) ([]vectorstore.Group, error)
	Scroll(ctx context.Context, collection string, filter vectorstore.Filter, orderByField string, descending bool, limit int) ([]vectorstore.Hit, error)
	Recommend(ctx context.Context, collection string, positive, negative []string, filter vectorstore.Filter, limit int) ([]vectorstore.Hit, error)
	Discover(ctx context.Context, collection string, target string, contextPairs []vectorstore.ContextPair, filter vectorstore.Filter, limit int) ([]vectorstore.Hit, error)
}

// DenseQueryEmbedder embeds a query string for search; the subset of
// *embedding.DenseEmbedder the handler needs.
type DenseQueryEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Handler answers search, recommend, and discover queries against the two
// collections. Grounded on qdrant_query_handler.py's method set.
type Handler struct {
	store  VectorSearcher
	dense  DenseQueryEmbedder
	sparse *embedding.SparseEmbedder

	hansardCollection string
	pqCollection      string
}

func New(store VectorSearcher, dense DenseQueryEmbedder, sparse *embedding.SparseEmbedder, hansardCollection, pqCollection string) *Handler {
	return &Handler{store: store, dense: dense, sparse: sparse, hansardCollection: hansardCollection, pqCollection: pqCollection}
}

func (h *Handler) embedQuery(ctx context.Context, query string) ([]float32, vectorstore.SparseVector, error) {
	vecs, err := h.dense.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, vectorstore.SparseVector{}, fmt.Errorf("embed query: %w", err)
	}
	sv := h.sparse.Embed(query)
	return vecs[0], vectorstore.SparseVector{Indices: sv.Indices, Values: sv.Values}, nil
}

// SearchResult holds either flat hits (no group_by) or grouped hits.
type SearchResult struct {
	Hits   []vectorstore.Hit
	Groups []vectorstore.Group
}

// SearchHansardContributions runs a hybrid search when query is non-empty,
// optionally diversified by groupBy; with an empty query it falls back to a
// chronological scroll.
func (h *Handler) SearchHansardContributions(ctx context.Context, query string, filters HansardFilters, groupBy string, limit, groupSize int, minScore *float32) (SearchResult, error) {
	filter := filters.toFilter()

	if query == "" {
		hits, err := h.store.Scroll(ctx, h.hansardCollection, filter, "SittingDate", true, limit)
		if err != nil {
			return SearchResult{}, err
		}
		return SearchResult{Hits: hits}, nil
	}

	dense, sparse, err := h.embedQuery(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}

	if groupBy != "" {
		groups, err := h.store.HybridSearchGrouped(ctx, h.hansardCollection, dense, sparse, filter, groupBy, limit, groupSize)
		if err != nil {
			return SearchResult{}, err
		}
		return SearchResult{Groups: groups}, nil
	}

	hits, err := h.store.HybridSearch(ctx, h.hansardCollection, dense, sparse, filter, limit, minScore)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Hits: hits}, nil
}

// DebateTitle is one substantial debate surfaced by search_debate_titles.
type DebateTitle struct {
	DebateSectionExtID string
	ContributionCount  int
}

// SearchDebateTitles iteratively scrolls contributions, accumulating debate
// sections whose contribution count reaches MinimumDebateHits, excluding
// sections already found, until limit debates are found or a scroll page
// returns no new data.
func (h *Handler) SearchDebateTitles(ctx context.Context, filters HansardFilters, limit int) ([]DebateTitle, error) {
	baseFilter := filters.toFilter()
	counts := map[string]int{}
	seen := map[string]struct{}{}
	var found []DebateTitle
	const pageSize = 200

	for len(found) < limit {
		filter := baseFilter
		for _, d := range found {
			filter.MustNot = append(filter.MustNot, vectorstore.Condition{Field: "DebateSectionExtId", MatchValue: d.DebateSectionExtID})
		}

		hits, err := h.store.Scroll(ctx, h.hansardCollection, filter, "SittingDate", true, pageSize)
		if err != nil {
			return found, err
		}
		if len(hits) == 0 {
			break
		}

		newlyFound := 0
		for _, hit := range hits {
			// each scroll starts from the top again, so a hit seen on an
			// earlier pass is not counted a second time
			if _, dup := seen[hit.ID]; dup {
				continue
			}
			seen[hit.ID] = struct{}{}
			debateID, _ := hit.Payload["DebateSectionExtId"].(string)
			if debateID == "" {
				continue
			}
			counts[debateID]++
			if counts[debateID] == MinimumDebateHits {
				found = append(found, DebateTitle{DebateSectionExtID: debateID, ContributionCount: counts[debateID]})
				newlyFound++
				if len(found) >= limit {
					break
				}
			}
		}
		if newlyFound == 0 {
			break
		}
	}
	return found, nil
}

// FindRelevantContributors runs a hybrid search grouped by MemberId,
// returning the top numContributors groups of up to numContributions hits.
func (h *Handler) FindRelevantContributors(ctx context.Context, query string, filters HansardFilters, numContributors, numContributions int) ([]vectorstore.Group, error) {
	dense, sparse, err := h.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return h.store.HybridSearchGrouped(ctx, h.hansardCollection, dense, sparse, filters.toFilter(), "MemberId", numContributors, numContributions)
}

// RecommendContributions asks the vector store for points similar to the
// positive examples and dissimilar to the negative ones.
func (h *Handler) RecommendContributions(ctx context.Context, positive, negative []string, filters HansardFilters, limit int) ([]vectorstore.Hit, error) {
	return h.store.Recommend(ctx, h.hansardCollection, positive, negative, filters.toFilter(), limit)
}

// DiscoverContributions asks the vector store to explore around target using
// the supplied context pairs.
func (h *Handler) DiscoverContributions(ctx context.Context, target string, contextPairs []vectorstore.ContextPair, filters HansardFilters, limit int) ([]vectorstore.Hit, error) {
	return h.store.Discover(ctx, h.hansardCollection, target, contextPairs, filters.toFilter(), limit)
}

// Question is a reassembled Parliamentary Question: its chunk-level hits
// stitched back into whole question/answer text.
type Question struct {
	DocumentURI  string
	QuestionText string
	AnswerText   string
	CreatedAt    string
	Payload      map[string]any
}

// pqGroupSize is the group_size used for the second-step fetch-all-chunks
// query: large enough that no question's question+answer chunk count ever
// exceeds it, matching the original's fixed 100.
const pqGroupSize = 100

// SearchParliamentaryQuestions finds the Parliamentary Questions with chunks
// matching query and filters, then fetches every chunk belonging to each
// matched question (not just the chunks that themselves ranked) so
// reassembleQuestion never stitches partial question/answer text. With an
// empty query it falls back to a scroll ordered by id, most recent first.
func (h *Handler) SearchParliamentaryQuestions(ctx context.Context, query string, filters PQFilters, limit int) ([]Question, error) {
	filter := filters.toFilter()

	var ids []int
	if query == "" {
		hits, err := h.store.Scroll(ctx, h.pqCollection, filter, "id", true, limit)
		if err != nil {
			return nil, err
		}
		ids = idsFromHits(hits)
	} else {
		dense, sparse, err := h.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		hits, err := h.store.HybridSearch(ctx, h.pqCollection, dense, sparse, filter, limit, nil)
		if err != nil {
			return nil, err
		}
		ids = idsFromHits(hits)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	groups, err := h.store.FetchGroupedByIDs(ctx, h.pqCollection, ids, "id", pqGroupSize)
	if err != nil {
		return nil, err
	}

	questions := make([]Question, 0, len(groups))
	for _, g := range groups {
		questions = append(questions, reassembleQuestion(g))
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].CreatedAt > questions[j].CreatedAt })
	return questions, nil
}

// idsFromHits extracts each hit's integer "id" payload field, the PQ's
// stable identifier, preserving hit order and dropping duplicates.
func idsFromHits(hits []vectorstore.Hit) []int {
	seen := map[int]struct{}{}
	ids := make([]int, 0, len(hits))
	for _, h := range hits {
		id, ok := intFromPayload(h.Payload["id"])
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func intFromPayload(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// reassembleQuestion sorts a group's chunks by chunk_id within each
// chunk_type and concatenates them with newlines, matching the original
// question/answer reassembly.
func reassembleQuestion(g vectorstore.Group) Question {
	var questionChunks, answerChunks []vectorstore.Hit
	var createdAt, documentURI string
	var payload map[string]any

	for _, hit := range g.Hits {
		chunkType, _ := hit.Payload["chunk_type"].(string)
		switch chunkType {
		case "question":
			questionChunks = append(questionChunks, hit)
		case "answer":
			answerChunks = append(answerChunks, hit)
		}
		if ts, ok := hit.Payload["created_at"].(string); ok && ts > createdAt {
			createdAt = ts
			payload = hit.Payload
		}
		if uri, ok := hit.Payload["document_uri"].(string); ok {
			documentURI = uri
		}
	}
	byChunkID := func(hits []vectorstore.Hit) []vectorstore.Hit {
		sort.Slice(hits, func(i, j int) bool {
			return chunkIDOf(hits[i]) < chunkIDOf(hits[j])
		})
		return hits
	}
	questionChunks = byChunkID(questionChunks)
	answerChunks = byChunkID(answerChunks)

	return Question{
		DocumentURI:  documentURI,
		QuestionText: joinText(questionChunks),
		AnswerText:   joinText(answerChunks),
		CreatedAt:    createdAt,
		Payload:      payload,
	}
}

func chunkIDOf(h vectorstore.Hit) string {
	id, _ := h.Payload["chunk_id"].(string)
	return id
}

func joinText(hits []vectorstore.Hit) string {
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		if t, ok := h.Payload["text"].(string); ok {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

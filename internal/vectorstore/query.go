package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// Filter is a small, serializable predicate builder so callers outside this
// package never touch qdrant types directly. Conditions combine with AND
// (must) or are negated (must_not); there is no OR, matching the "merge into
// a single must + must_not predicate" requirement.
type Filter struct {
	Must    []Condition
	MustNot []Condition
}

// Condition is one payload-field match or range constraint.
type Condition struct {
	Field string
	// Exactly one of these is set.
	MatchValue  any
	MatchAnyInt []int
	DateRange   *DateRange
}

// DateRange bounds a datetime payload field, half-open at the upper end
// ([Gte, Lt)) to match day-granularity filtering.
type DateRange struct {
	Gte, Lt *string // RFC3339 timestamps; nil means unbounded on that side
}

func (f Filter) toQdrant() *qdrant.Filter {
	if len(f.Must) == 0 && len(f.MustNot) == 0 {
		return nil
	}
	qf := &qdrant.Filter{}
	for _, c := range f.Must {
		qf.Must = append(qf.Must, c.toQdrant())
	}
	for _, c := range f.MustNot {
		qf.MustNot = append(qf.MustNot, c.toQdrant())
	}
	return qf
}

func (c Condition) toQdrant() *qdrant.Condition {
	if c.MatchAnyInt != nil {
		ids := make([]int64, len(c.MatchAnyInt))
		for i, v := range c.MatchAnyInt {
			ids[i] = int64(v)
		}
		return qdrant.NewMatchInts(c.Field, ids...)
	}
	if c.DateRange != nil {
		r := &qdrant.DatetimeRange{}
		if c.DateRange.Gte != nil {
			r.Gte = qdrant.PtrOf(mustTimestamp(*c.DateRange.Gte))
		}
		if c.DateRange.Lt != nil {
			r.Lt = qdrant.PtrOf(mustTimestamp(*c.DateRange.Lt))
		}
		return qdrant.NewRangeDatetime(c.Field, r)
	}
	switch v := c.MatchValue.(type) {
	case string:
		return qdrant.NewMatch(c.Field, v)
	case int:
		return qdrant.NewMatchInt(c.Field, int64(v))
	case int64:
		return qdrant.NewMatchInt(c.Field, v)
	default:
		return qdrant.NewMatch(c.Field, fmt.Sprint(v))
	}
}

// Hit is one scored result returned from a search, recommend, discover, or
// scroll call.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Group is one group of hits returned by a group_by query.
type Group struct {
	Key  string
	Hits []Hit
}

// HybridSearch runs a dense+sparse prefetch fused with Reciprocal Rank
// Fusion (HybridSearchGrouped is the group_by variant). Grounded on the original
// qdrant_query_handler.py's raw query_points/query_points_groups calls.
func (s *Store) HybridSearch(ctx context.Context, collection string, dense []float32, sparse SparseVector, filter Filter, limit int, scoreThreshold *float32) ([]Hit, error) {
	prefetch := []*qdrant.PrefetchQuery{
		{
			Query:          qdrant.NewQueryDense(dense),
			Using:          qdrant.PtrOf(denseVectorName),
			Filter:         filter.toQdrant(),
			Limit:          qdrant.PtrOf(uint64(limit * 2)),
		},
		{
			Query:  qdrant.NewQuerySparse(&qdrant.SparseIndices{Data: sparse.Indices}, sparse.Values),
			Using:  qdrant.PtrOf(sparseVectorName),
			Filter: filter.toQdrant(),
			Limit:  qdrant.PtrOf(uint64(limit * 2)),
		},
	}
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Filter:         filter.toQdrant(),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: scoreThreshold,
	}
	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return toHits(resp), nil
}

// HybridSearchGrouped is HybridSearch with results diversified by groupBy,
// returning up to limit groups of up to groupSize hits each.
func (s *Store) HybridSearchGrouped(ctx context.Context, collection string, dense []float32, sparse SparseVector, filter Filter, groupBy string, limit, groupSize int) ([]Group, error) {
	prefetch := []*qdrant.PrefetchQuery{
		{Query: qdrant.NewQueryDense(dense), Using: qdrant.PtrOf(denseVectorName), Filter: filter.toQdrant(), Limit: qdrant.PtrOf(uint64(limit * groupSize * 2))},
		{Query: qdrant.NewQuerySparse(&qdrant.SparseIndices{Data: sparse.Indices}, sparse.Values), Using: qdrant.PtrOf(sparseVectorName), Filter: filter.toQdrant(), Limit: qdrant.PtrOf(uint64(limit * groupSize * 2))},
	}
	req := &qdrant.QueryPointGroups{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Filter:         filter.toQdrant(),
		GroupBy:        groupBy,
		Limit:          qdrant.PtrOf(uint64(limit)),
		GroupSize:      qdrant.PtrOf(uint64(groupSize)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	resp, err := s.client.QueryGroups(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("hybrid grouped search: %w", err)
	}
	groups := make([]Group, 0, len(resp.GetResult()))
	for _, g := range resp.GetResult() {
		hits := make([]Hit, 0, len(g.GetHits()))
		for _, h := range g.GetHits() {
			hits = append(hits, Hit{ID: pointIDString(h.GetId()), Score: h.GetScore(), Payload: payloadToMap(h.GetPayload())})
		}
		groups = append(groups, Group{Key: g.GetId().GetStringValue(), Hits: hits})
	}
	return groups, nil
}

// FetchGroupedByIDs retrieves every chunk belonging to each of ids, grouped
// by groupBy, with no query vector at all: a plain filtered fetch rather
// than a ranked search. Used for the "now get the full details of the
// matched questions" second step of a two-step id-then-reassemble search,
// so a question's chunks that did not themselves rank in the first step's
// prefetch are still returned.
func (s *Store) FetchGroupedByIDs(ctx context.Context, collection string, ids []int, groupBy string, groupSize int) ([]Group, error) {
	filter := Filter{Must: []Condition{{Field: "id", MatchAnyInt: ids}}}
	req := &qdrant.QueryPointGroups{
		CollectionName: collection,
		Filter:         filter.toQdrant(),
		GroupBy:        groupBy,
		Limit:          qdrant.PtrOf(uint64(len(ids))),
		GroupSize:      qdrant.PtrOf(uint64(groupSize)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	resp, err := s.client.QueryGroups(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch grouped by ids: %w", err)
	}
	groups := make([]Group, 0, len(resp.GetResult()))
	for _, g := range resp.GetResult() {
		hits := make([]Hit, 0, len(g.GetHits()))
		for _, h := range g.GetHits() {
			hits = append(hits, Hit{ID: pointIDString(h.GetId()), Score: h.GetScore(), Payload: payloadToMap(h.GetPayload())})
		}
		groups = append(groups, Group{Key: g.GetId().GetStringValue(), Hits: hits})
	}
	return groups, nil
}

// Scroll returns up to limit points matching filter, ordered by orderByField
// (descending when descending is true, ascending otherwise); callers pass
// true for the "no query string, most recent first" fallback.
func (s *Store) Scroll(ctx context.Context, collection string, filter Filter, orderByField string, descending bool, limit int) ([]Hit, error) {
	direction := qdrant.Direction_Asc
	if descending {
		direction = qdrant.Direction_Desc
	}
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filter.toQdrant(),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		OrderBy:        &qdrant.OrderBy{Key: orderByField, Direction: direction.Enum()},
	}
	resp, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	hits := make([]Hit, 0, len(resp))
	for _, p := range resp {
		hits = append(hits, Hit{ID: pointIDString(p.GetId()), Payload: payloadToMap(p.GetPayload())})
	}
	return hits, nil
}

// Recommend runs a vector-store recommend query against text_dense using
// positive and negative example point ids.
func (s *Store) Recommend(ctx context.Context, collection string, positive, negative []string, filter Filter, limit int) ([]Hit, error) {
	req := &qdrant.RecommendPoints{
		CollectionName: collection,
		Positive:       idsToPointIDs(positive),
		Negative:       idsToPointIDs(negative),
		Using:          qdrant.PtrOf(denseVectorName),
		Filter:         filter.toQdrant(),
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	resp, err := s.client.Recommend(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	hits := make([]Hit, 0, len(resp))
	for _, p := range resp {
		hits = append(hits, Hit{ID: pointIDString(p.GetId()), Score: p.GetScore(), Payload: payloadToMap(p.GetPayload())})
	}
	return hits, nil
}

// ContextPair is one (positive, negative) example pair for a discover query.
type ContextPair struct {
	Positive, Negative string
}

// Discover runs a vector-store discover query against text_dense: target is
// the anchor point id, contextPairs steer the search without being
// candidates themselves.
func (s *Store) Discover(ctx context.Context, collection string, target string, contextPairs []ContextPair, filter Filter, limit int) ([]Hit, error) {
	pairs := make([]*qdrant.ContextInputPair, 0, len(contextPairs))
	for _, cp := range contextPairs {
		pairs = append(pairs, &qdrant.ContextInputPair{
			Positive: idToPointID(cp.Positive),
			Negative: idToPointID(cp.Negative),
		})
	}
	req := &qdrant.DiscoverPoints{
		CollectionName: collection,
		Target:         &qdrant.TargetVector{Target: &qdrant.TargetVector_Single{Single: &qdrant.VectorExample{Example: &qdrant.VectorExample_Id{Id: idToPointID(target)}}}},
		Context:        pairs,
		Using:          qdrant.PtrOf(denseVectorName),
		Filter:         filter.toQdrant(),
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	resp, err := s.client.Discover(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	hits := make([]Hit, 0, len(resp))
	for _, p := range resp {
		hits = append(hits, Hit{ID: pointIDString(p.GetId()), Score: p.GetScore(), Payload: payloadToMap(p.GetPayload())})
	}
	return hits, nil
}

func idsToPointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		out = append(out, idToPointID(id))
	}
	return out
}

func idToPointID(id string) *qdrant.PointId {
	generated, _ := pointID(id, nil)
	return generated
}

func toHits(resp []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(resp))
	for _, p := range resp {
		hits = append(hits, Hit{ID: pointIDString(p.GetId()), Score: p.GetScore(), Payload: payloadToMap(p.GetPayload())})
	}
	return hits
}

// pointIDString renders a point id as stored: the UUID for UUID ids, the
// decimal number for numeric ids. The original string id stashed in the
// payload is exposed by payloadToMap, not here.
func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprint(id.GetNum())
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	if original, ok := out[PayloadIDField]; ok {
		if _, has := out["id"]; !has {
			out["id"] = original
		}
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(kind.StructValue.GetFields()))
		for k, fv := range kind.StructValue.GetFields() {
			out[k] = valueToAny(fv)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, lv := range kind.ListValue.GetValues() {
			out = append(out, valueToAny(lv))
		}
		return out
	default:
		return nil
	}
}

func mustTimestamp(rfc3339 string) *qdrant.Timestamp {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return nil
	}
	return &qdrant.Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Package retrieve implements the query layer: structured filter
// construction, hybrid dense+sparse search, debate-title aggregation, and
// context-based recommend/discover queries. Grounded on the original
// qdrant_query_handler.py's operation set, built on top of this module's
// own internal/vectorstore client.
package retrieve

import (
	"time"

	"parliamentmcp/internal/vectorstore"
)

// HansardFilters narrows a Hansard contribution search.
type HansardFilters struct {
	MemberID         *int
	DebateSectionID   *string
	House             *string
	DateFrom, DateTo  *time.Time
	ExcludeMemberIDs  []int
}

func (f HansardFilters) toFilter() vectorstore.Filter {
	var filter vectorstore.Filter
	if f.MemberID != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "MemberId", MatchValue: *f.MemberID})
	}
	if f.DebateSectionID != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "DebateSectionExtId", MatchValue: *f.DebateSectionID})
	}
	if f.House != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "House", MatchValue: *f.House})
	}
	if dr, ok := dateRange(f.DateFrom, f.DateTo); ok {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "SittingDate", DateRange: dr})
	}
	for _, id := range f.ExcludeMemberIDs {
		filter.MustNot = append(filter.MustNot, vectorstore.Condition{Field: "MemberId", MatchValue: id})
	}
	return filter
}

// PQFilters narrows a Parliamentary Question search.
type PQFilters struct {
	House               *string
	Party                *string
	AskingMemberID       *int
	AnsweringBodyName    *string
	DateTabledFrom, DateTabledTo *time.Time
}

func (f PQFilters) toFilter() vectorstore.Filter {
	var filter vectorstore.Filter
	if f.House != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "house", MatchValue: *f.House})
	}
	if f.Party != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "askingMember.party", MatchValue: *f.Party})
	}
	if f.AskingMemberID != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "askingMember.id", MatchValue: *f.AskingMemberID})
	}
	if f.AnsweringBodyName != nil {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "answeringBodyName", MatchValue: *f.AnsweringBodyName})
	}
	if dr, ok := dateRange(f.DateTabledFrom, f.DateTabledTo); ok {
		filter.Must = append(filter.Must, vectorstore.Condition{Field: "dateTabled", DateRange: dr})
	}
	return filter
}

// dateRange builds a day-granularity range [from, to+1 day): the from day
// and the whole of the to day are both included.
func dateRange(from, to *time.Time) (*vectorstore.DateRange, bool) {
	if from == nil && to == nil {
		return nil, false
	}
	dr := &vectorstore.DateRange{}
	if from != nil {
		s := from.Format(time.RFC3339)
		dr.Gte = &s
	}
	if to != nil {
		s := to.AddDate(0, 0, 1).Format(time.RFC3339)
		dr.Lt = &s
	}
	return dr, true
}

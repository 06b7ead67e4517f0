package spangraph

import (
	"database/sql"

	"schedgraph/internal/sched"
)

// Index maps thread state interval ids to the executing span that absorbed
// them.
type Index struct {
	spanOf []sql.Null[sched.SpanID]
}

// NewIndex builds the lookup from intervals carrying their ids and span links.
// The intervals need not be sorted or dense.
func NewIndex(intervals []sched.Interval) *Index {
	n := 0
	for i := range intervals {
		if id := int(intervals[i].ID) + 1; id > n {
			n = id
		}
	}
	idx := &Index{spanOf: make([]sql.Null[sched.SpanID], n)}
	for i := range intervals {
		if iv := &intervals[i]; iv.ID >= 0 {
			idx.spanOf[iv.ID] = iv.Span
		}
	}
	return idx
}

// SpanIDFromThreadStateID returns the span containing the interval, or an
// invalid value when the interval does not exist or was not executing.
func (x *Index) SpanIDFromThreadStateID(id sched.IntervalID) sql.Null[sched.SpanID] {
	if id < 0 || int(id) >= len(x.spanOf) {
		return sql.Null[sched.SpanID]{}
	}
	return x.spanOf[id]
}

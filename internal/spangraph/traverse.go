package spangraph

import (
	"cmp"
	"database/sql"
	"slices"

	"schedgraph/internal/sched"
)

// DescendantRow is one span reached by Descendants.
type DescendantRow struct {
	Span   *sched.Span
	Depth  int
	IsRoot bool
}

// AncestorRow is one span reached by Ancestors.
type AncestorRow struct {
	Span   *sched.Span
	Height int
	IsLeaf bool
}

// Descendants returns start and every span it woke, transitively, with the
// number of hops from start. Without a start every span is returned once,
// with its depth below its own root. An unknown start yields no rows.
// Rows are ordered by (depth, ts, thread).
func (f *Forest) Descendants(start sql.Null[sched.SpanID]) []DescendantRow {
	var rows []DescendantRow
	if !start.Valid {
		rows = make([]DescendantRow, len(f.spans))
		for i := range f.spans {
			rows[i] = DescendantRow{Span: &f.spans[i], Depth: int(f.depth[i]), IsRoot: f.parent[i] == none}
		}
	} else {
		if !f.has(start.V) {
			return nil
		}
		type item struct{ id, depth int32 }
		queue := []item{{int32(start.V), 0}}
		for len(queue) > 0 {
			it := queue[0]
			queue = queue[1:]
			rows = append(rows, DescendantRow{Span: &f.spans[it.id], Depth: int(it.depth), IsRoot: f.parent[it.id] == none})
			for _, c := range f.children[f.childStart[it.id]:f.childStart[it.id+1]] {
				queue = append(queue, item{c, it.depth + 1})
			}
		}
	}
	slices.SortStableFunc(rows, func(a, b DescendantRow) int {
		return compareRows(a.Depth, b.Depth, a.Span, b.Span)
	})
	return rows
}

// Ancestors returns start and every span on its waker chain up to the root,
// with the number of hops from start. Without a start every span is returned
// once, with the length of the longest chain below it to a leaf. An unknown
// start yields no rows. Rows are ordered by (height, ts, thread).
func (f *Forest) Ancestors(start sql.Null[sched.SpanID]) []AncestorRow {
	var rows []AncestorRow
	if !start.Valid {
		rows = make([]AncestorRow, len(f.spans))
		for i := range f.spans {
			id := sched.SpanID(i)
			rows[i] = AncestorRow{Span: &f.spans[i], Height: int(f.height[i]), IsLeaf: f.IsLeaf(id)}
		}
	} else {
		if !f.has(start.V) {
			return nil
		}
		h := 0
		for id := int32(start.V); id != none; id = f.parent[id] {
			rows = append(rows, AncestorRow{Span: &f.spans[id], Height: h, IsLeaf: f.IsLeaf(sched.SpanID(id))})
			h++
		}
	}
	slices.SortStableFunc(rows, func(a, b AncestorRow) int {
		return compareRows(a.Height, b.Height, a.Span, b.Span)
	})
	return rows
}

func compareRows(ka, kb int, a, b *sched.Span) int {
	if c := cmp.Compare(ka, kb); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Ts, b.Ts); c != 0 {
		return c
	}
	return cmp.Compare(a.Thread, b.Thread)
}

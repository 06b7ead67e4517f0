// Package spangraph answers graph queries over the waker forest of executing
// spans: which spans a span woke transitively, and the chain of wakers that
// led to it.
package spangraph

import (
	"fmt"

	"schedgraph/internal/sched"
)

const none = -1

// Forest is an immutable arena of spans indexed by span id, with parent links
// and a CSR child list. A waker may carry a larger id than the span it woke;
// depths and heights follow a breadth-first order from the roots instead.
//
// MT: safe for concurrent use once New returns.
type Forest struct {
	spans []sched.Span

	parent     []int32
	childStart []int32
	children   []int32

	depth  []int32
	height []int32
}

// New builds the forest over spans, which must be indexed by id. The slice is
// retained and must not be modified afterwards.
func New(spans []sched.Span) (*Forest, error) {
	n := len(spans)
	f := &Forest{
		spans:      spans,
		parent:     make([]int32, n),
		childStart: make([]int32, n+1),
		depth:      make([]int32, n),
		height:     make([]int32, n),
	}
	for i := range spans {
		s := &spans[i]
		if s.ID != sched.SpanID(i) {
			return nil, fmt.Errorf("%w: span at index %d has id %d", sched.ErrInconsistentTrace, i, s.ID)
		}
		f.parent[i] = none
		if !s.WakerSpan.Valid {
			continue
		}
		p := s.WakerSpan.V
		if p < 0 || int(p) >= n || p == s.ID {
			return nil, fmt.Errorf("%w: span %d has waker span %d", sched.ErrInconsistentTrace, s.ID, p)
		}
		f.parent[i] = int32(p)
		f.childStart[p+1]++
	}

	for i := 0; i < n; i++ {
		f.childStart[i+1] += f.childStart[i]
	}
	f.children = make([]int32, f.childStart[n])
	fill := make([]int32, n)
	copy(fill, f.childStart[:n])
	for i, p := range f.parent {
		if p == none {
			continue
		}
		f.children[fill[p]] = int32(i)
		fill[p]++
	}

	// Breadth-first from every root: parents precede children in order.
	order := make([]int32, 0, n)
	for i, p := range f.parent {
		if p == none {
			order = append(order, int32(i))
		}
	}
	for head := 0; head < len(order); head++ {
		id := order[head]
		for _, c := range f.children[f.childStart[id]:f.childStart[id+1]] {
			f.depth[c] = f.depth[id] + 1
			order = append(order, c)
		}
	}
	if len(order) != n {
		return nil, fmt.Errorf("%w: waker links form a cycle through %d spans", sched.ErrInconsistentTrace, n-len(order))
	}
	for i := n - 1; i >= 0; i-- {
		id := order[i]
		if p := f.parent[id]; p != none && f.height[id]+1 > f.height[p] {
			f.height[p] = f.height[id] + 1
		}
	}
	return f, nil
}

// Len returns the number of spans in f.
func (f *Forest) Len() int { return len(f.spans) }

func (f *Forest) has(id sched.SpanID) bool { return id >= 0 && int(id) < len(f.spans) }

// Span returns the span with the given id.
func (f *Forest) Span(id sched.SpanID) (*sched.Span, bool) {
	if !f.has(id) {
		return nil, false
	}
	return &f.spans[id], true
}

// Spans returns every span in id order. The slice must not be modified.
func (f *Forest) Spans() []sched.Span { return f.spans }

// Children returns the spans id woke, in id order.
func (f *Forest) Children(id sched.SpanID) []sched.SpanID {
	if !f.has(id) {
		return nil
	}
	cs := f.children[f.childStart[id]:f.childStart[id+1]]
	out := make([]sched.SpanID, len(cs))
	for i, c := range cs {
		out[i] = sched.SpanID(c)
	}
	return out
}

// IsRoot reports whether id has no waker.
func (f *Forest) IsRoot(id sched.SpanID) bool { return f.has(id) && f.parent[id] == none }

// IsLeaf reports whether no span was woken by id.
func (f *Forest) IsLeaf(id sched.SpanID) bool {
	return f.has(id) && f.childStart[id] == f.childStart[id+1]
}

// Depth returns the number of edges between id and its root.
func (f *Forest) Depth(id sched.SpanID) int {
	if !f.has(id) {
		return 0
	}
	return int(f.depth[id])
}

// Height returns the length of the longest chain from id down to a leaf.
func (f *Forest) Height(id sched.SpanID) int {
	if !f.has(id) {
		return 0
	}
	return int(f.height[id])
}

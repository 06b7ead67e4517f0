package sched

import "sort"

// ResolveWakers links every span that was woken out of a blocked state to the
// waker thread's span active at the wakeup instant. It must run after ids are
// assigned on all timelines: it reads other threads' spans.
//
// A span stays a root when it carries no wakeup, when the waker has no span
// at or after the instant, when ignoreIRQ is set and the wakeup came from
// interrupt context, or when the link would close a cycle. Spans are linked
// in id order.
func ResolveWakers(tls []*Timeline, ignoreIRQ bool) {
	byThread := make(map[ThreadID]*Timeline, len(tls))
	n := 0
	for _, tl := range tls {
		byThread[tl.Thread] = tl
		n += len(tl.Spans)
	}
	type owned struct {
		s  *Span
		tl *Timeline
	}
	byID := make([]owned, n)
	for _, tl := range tls {
		for i := range tl.Spans {
			byID[tl.Spans[i].ID] = owned{&tl.Spans[i], tl}
		}
	}

	trees := newUnionFind(n)
	for _, o := range byID {
		s, tl := o.s, o.tl
		w := s.wake
		if w == nil {
			continue
		}
		if ignoreIRQ && w.IRQ.Valid && w.IRQ.V {
			tl.diag.IRQWakersIgnored++
			continue
		}
		var cand *Span
		if wt, ok := byThread[w.Waker]; ok {
			cand = wakerSpanAt(wt.Spans, w.Ts)
		}
		if cand == nil {
			tl.diag.UnresolvedWakers++
			continue
		}
		// s is still the root of its tree, so linking it under a span of the
		// same tree would close a cycle.
		if !trees.union(int(s.ID), int(cand.ID)) {
			tl.diag.CyclicWakers++
			continue
		}
		s.WakerThread = valid(w.Waker)
		s.WakerSpan = valid(cand.ID)
	}
}

// wakerSpanAt returns the span of spans (sorted by Ts, disjoint) that is
// active at ts: the span covering ts, end inclusive, or else the earliest
// span starting after ts.
func wakerSpanAt(spans []Span, ts int64) *Span {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].Ts > ts })
	if i > 0 {
		s := &spans[i-1]
		if !s.Dur.Valid || s.Ts+s.Dur.V >= ts {
			return s
		}
	}
	if i < len(spans) {
		return &spans[i]
	}
	return nil
}

// unionFind tracks which spans already share a waker tree.
type unionFind struct {
	parent []int32
	rank   []uint8
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int32, n), rank: make([]uint8, n)}
	for i := range u.parent {
		u.parent[i] = int32(i)
	}
	return u
}

func (u *unionFind) find(x int) int {
	for int(u.parent[x]) != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = int(u.parent[x])
	}
	return x
}

// union merges the sets of a and b. It returns false if they were already
// in the same set.
func (u *unionFind) union(a, b int) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = int32(rb)
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = int32(ra)
	default:
		u.parent[rb] = int32(ra)
		u.rank[ra]++
	}
	return true
}

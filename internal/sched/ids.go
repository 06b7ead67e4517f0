package sched

import (
	"cmp"
	"fmt"
	"slices"
)

// idKey locates one interval or span by its position in the timelines.
type idKey struct {
	ts     int64
	thread ThreadID
	tl     int
	idx    int
}

func compareIDKeys(a, b idKey) int {
	if c := cmp.Compare(a.ts, b.ts); c != 0 {
		return c
	}
	return cmp.Compare(a.thread, b.thread)
}

// assignIDs numbers every interval and every span of tls densely in
// (ts, thread) order and links intervals to their spans. Ids depend only on
// the data, never on scheduling of the per-thread workers.
func assignIDs(tls []*Timeline) (numIntervals, numSpans int) {
	var ik, sk []idKey
	for t, tl := range tls {
		for i := range tl.Intervals {
			ik = append(ik, idKey{tl.Intervals[i].Ts, tl.Thread, t, i})
		}
		for i := range tl.Spans {
			sk = append(sk, idKey{tl.Spans[i].Ts, tl.Thread, t, i})
		}
	}
	slices.SortFunc(ik, compareIDKeys)
	slices.SortFunc(sk, compareIDKeys)

	for id, k := range ik {
		tls[k.tl].Intervals[k.idx].ID = IntervalID(id)
	}
	for id, k := range sk {
		tl := tls[k.tl]
		s := &tl.Spans[k.idx]
		s.ID = SpanID(id)
		s.FirstInterval = tl.Intervals[s.first].ID
		s.LastInterval = tl.Intervals[s.last].ID
		for i := s.first; i <= s.last; i++ {
			tl.Intervals[i].Span = valid(s.ID)
		}
	}
	return len(ik), len(sk)
}

// validate checks the structural invariants the rest of the pipeline relies
// on. A violation means the normalizer itself is broken or was bypassed.
func validate(tl *Timeline) error {
	ivs := tl.Intervals
	for i := range ivs {
		iv := &ivs[i]
		if iv.Thread != tl.Thread {
			return fmt.Errorf("%w: interval %d of thread %d belongs to thread %d", ErrInconsistentTrace, iv.ID, tl.Thread, iv.Thread)
		}
		if iv.Dur.Valid && iv.Dur.V < 0 {
			return fmt.Errorf("%w: interval %d of thread %d has negative duration %d", ErrInconsistentTrace, iv.ID, tl.Thread, iv.Dur.V)
		}
		if i+1 == len(ivs) {
			break
		}
		nx := &ivs[i+1]
		if nx.Ts <= iv.Ts {
			return fmt.Errorf("%w: thread %d intervals not sorted at ts %d", ErrInconsistentTrace, tl.Thread, nx.Ts)
		}
		if end, ok := iv.End(); !ok || end != nx.Ts {
			return fmt.Errorf("%w: thread %d has a gap or overlap at ts %d", ErrInconsistentTrace, tl.Thread, iv.Ts)
		}
	}
	for i := 1; i < len(tl.Spans); i++ {
		if tl.Spans[i].Ts <= tl.Spans[i-1].Ts {
			return fmt.Errorf("%w: thread %d spans not sorted at ts %d", ErrInconsistentTrace, tl.Thread, tl.Spans[i].Ts)
		}
	}
	return nil
}

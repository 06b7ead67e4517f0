package sched

import (
	"cmp"
	"slices"
)

// DetectSpurious collects the wakeups that fired while their target was not
// blocked. They caused no transition and belong to no span; they are returned
// ordered by (ts, woken, waker) and numbered from 0 in that order. Interval
// ids must already be assigned.
func DetectSpurious(tls []*Timeline) []SpuriousWakeup {
	var out []SpuriousWakeup
	for _, tl := range tls {
		for _, sw := range tl.stray {
			out = append(out, SpuriousWakeup{
				Ts:            sw.w.Ts,
				ThreadStateID: tl.Intervals[sw.interval].ID,
				IRQ:           sw.w.IRQ,
				Woken:         sw.w.Woken,
				Waker:         sw.w.Waker,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b SpuriousWakeup) int {
		if c := cmp.Compare(a.Ts, b.Ts); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Woken, b.Woken); c != 0 {
			return c
		}
		return cmp.Compare(a.Waker, b.Waker)
	})
	for i := range out {
		out[i].ID = int64(i)
	}
	return out
}

package sched

import (
	"cmp"
	"database/sql"
	"slices"
)

// Timeline is one thread's normalized view of the trace: its contiguous
// intervals, the spans extracted from them and the wakeups that found the
// thread not blocked.
//
// MT: a Timeline is owned by a single goroutine until Build's barrier; it is
// read-only afterwards.
type Timeline struct {
	Thread    ThreadID
	Intervals []Interval
	Spans     []Span

	stray []strayWakeup
	diag  Diagnostics
}

// strayWakeup is a wakeup that observed a non-blocked state; interval is the
// local index of that state's interval.
type strayWakeup struct {
	w        Wakeup
	interval int
}

// Diagnostics returns the counters collected while normalizing tl.
func (tl *Timeline) Diagnostics() Diagnostics { return tl.diag }

func valid[T any](v T) sql.Null[T] { return sql.Null[T]{V: v, Valid: true} }

// Normalize builds thread's interval sequence from its state changes and the
// wakeups targeting it. Neither input needs to be sorted; records that are out
// of order, repeated at one timestamp or carry unknown states are absorbed and
// counted rather than rejected. The result has no gaps and no overlaps and its
// final interval is open.
func Normalize(thread ThreadID, changes []StateChange, wakeups []Wakeup) *Timeline {
	tl := &Timeline{Thread: thread}
	tl.buildIntervals(changes)
	tl.applyWakeups(wakeups)
	return tl
}

func (tl *Timeline) buildIntervals(changes []StateChange) {
	for i := 1; i < len(changes); i++ {
		if changes[i].Ts < changes[i-1].Ts {
			tl.diag.ReorderedRecords++
		}
	}
	if tl.diag.ReorderedRecords > 0 {
		changes = slices.Clone(changes)
		slices.SortStableFunc(changes, func(a, b StateChange) int { return cmp.Compare(a.Ts, b.Ts) })
	}

	out := make([]Interval, 0, len(changes))
	for _, c := range changes {
		if c.State.Category() == CategoryUnknown {
			tl.diag.UnknownStates++
		}
		var fn sql.Null[string]
		if c.BlockedFunction != "" && c.State.IsBlocked() {
			fn = valid(c.BlockedFunction)
		}
		// Last record at a timestamp wins.
		if n := len(out); n > 0 && out[n-1].Ts == c.Ts {
			tl.diag.DuplicateTimestamps++
			out = out[:n-1]
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.State == c.State && last.BlockedFunction == fn && last.CPU == c.CPU {
				continue
			}
		}
		out = append(out, Interval{
			Thread:          tl.Thread,
			Ts:              c.Ts,
			State:           c.State,
			BlockedFunction: fn,
			CPU:             c.CPU,
		})
	}
	for i := 0; i+1 < len(out); i++ {
		out[i].Dur = valid(out[i+1].Ts - out[i].Ts)
	}
	tl.Intervals = out
}

// applyWakeups threads the wakeups targeting tl through its intervals. A
// wakeup observes the interval covering its timestamp with the start
// excluded, so a state change at the same instant is ordered after it. A
// wakeup that finds the thread blocked ends the blocked interval: it is
// attached to the interval starting at that instant, or a Runnable interval
// is split off the blocked one. Any other wakeup is stray.
func (tl *Timeline) applyWakeups(wakeups []Wakeup) {
	if len(wakeups) == 0 {
		return
	}
	ws := slices.Clone(wakeups)
	slices.SortStableFunc(ws, func(a, b Wakeup) int { return cmp.Compare(a.Ts, b.Ts) })

	src := tl.Intervals
	out := make([]Interval, 0, len(src)+len(ws))
	next := 0
	for i := range ws {
		w := &ws[i]

		// Fork: the creator's wakeup starts the new thread's first span.
		if w.NewTask && len(out) == 0 && len(src) > 0 && w.Ts <= src[0].Ts &&
			src[0].State.IsExecuting() && src[0].Wakeup == nil {
			src[0].Wakeup = w
			continue
		}

		for next < len(src) && src[next].Ts < w.Ts {
			out = append(out, src[next])
			next++
		}
		if len(out) == 0 {
			tl.diag.DroppedWakeupsOutsideTrace++
			continue
		}
		cur := &out[len(out)-1]
		if !cur.State.IsBlocked() {
			tl.stray = append(tl.stray, strayWakeup{w: *w, interval: len(out) - 1})
			continue
		}

		if next < len(src) && src[next].Ts == w.Ts {
			if src[next].State.IsExecuting() && src[next].Wakeup == nil {
				src[next].Wakeup = w
				out = append(out, src[next])
				next++
			} else {
				tl.diag.WakeupsWithoutTransition++
			}
			continue
		}

		runnable := Interval{Thread: tl.Thread, Ts: w.Ts, State: StateRunnable, Wakeup: w}
		if end, ok := cur.End(); ok {
			runnable.Dur = valid(end - w.Ts)
		}
		cur.Dur = valid(w.Ts - cur.Ts)
		out = append(out, runnable)
	}
	tl.Intervals = append(out, src[next:]...)
}

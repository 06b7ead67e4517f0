package sched

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Input is the decoded content of one trace. Slices need not be sorted.
type Input struct {
	StateChanges []StateChange
	Switches     []Switch
	Wakeups      []Wakeup
	Threads      []ThreadInfo
}

// Options tunes Build.
type Options struct {
	// Workers bounds the number of threads normalized concurrently;
	// zero means GOMAXPROCS.
	Workers int
	// IgnoreIRQWakers keeps wakeups raised from interrupt context from
	// producing waker edges.
	IgnoreIRQWakers bool
}

// Trace is the result of Build. Intervals and Spans are indexed by id.
type Trace struct {
	Intervals   []Interval
	Spans       []Span
	Spurious    []SpuriousWakeup
	Threads     map[ThreadID]ThreadInfo
	Diagnostics Diagnostics
}

// Thread returns the metadata of id, or a stub carrying only the id when the
// trace had none.
func (t *Trace) Thread(id ThreadID) ThreadInfo {
	if ti, ok := t.Threads[id]; ok {
		return ti
	}
	return ThreadInfo{Thread: id}
}

// Build turns decoded trace records into intervals, executing spans with their
// waker edges, and spurious wakeups. The result is a pure function of in and
// opts: ids do not depend on opts.Workers.
func Build(ctx context.Context, in Input, opts Options) (*Trace, error) {
	var diag Diagnostics

	// Phase 1: group records per thread.
	changes := make(map[ThreadID][]StateChange)
	for _, c := range in.StateChanges {
		changes[c.Thread] = append(changes[c.Thread], c)
	}
	switched := expandSwitches(in.Switches)
	for th, cs := range switched {
		if prev, ok := changes[th]; ok {
			merged := append(prev, cs...)
			slices.SortStableFunc(merged, func(a, b StateChange) int { return cmp.Compare(a.Ts, b.Ts) })
			changes[th] = merged
			continue
		}
		changes[th] = cs
	}

	threads := make(map[ThreadID]ThreadInfo, len(in.Threads))
	for _, ti := range in.Threads {
		threads[ti.Thread] = ti
	}
	known := func(th ThreadID) bool {
		if _, ok := changes[th]; ok {
			return true
		}
		_, ok := threads[th]
		return ok
	}

	wakeups := make(map[ThreadID][]Wakeup)
	for _, w := range in.Wakeups {
		if !known(w.Woken) || !known(w.Waker) {
			diag.DroppedWakeupsUnknownThread++
			continue
		}
		wakeups[w.Woken] = append(wakeups[w.Woken], w)
	}

	ids := slices.Collect(maps.Keys(changes))
	for th := range wakeups {
		if _, ok := changes[th]; !ok {
			ids = append(ids, th)
		}
	}
	slices.Sort(ids)

	// Phase 2: normalize and extract every thread independently.
	tls := make([]*Timeline, len(ids))
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, th := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tl := Normalize(th, changes[th], wakeups[th])
			ExtractSpans(tl)
			tls[i] = tl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("normalize threads: %w", err)
	}

	// Phase 3: global ids and structural checks.
	nIntervals, nSpans := assignIDs(tls)
	for _, tl := range tls {
		if err := validate(tl); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 4: cross-thread linkage.
	ResolveWakers(tls, opts.IgnoreIRQWakers)
	spurious := DetectSpurious(tls)

	tr := &Trace{
		Intervals: make([]Interval, nIntervals),
		Spans:     make([]Span, nSpans),
		Spurious:  spurious,
		Threads:   threads,
	}
	for _, tl := range tls {
		for _, iv := range tl.Intervals {
			tr.Intervals[iv.ID] = iv
		}
		for _, s := range tl.Spans {
			tr.Spans[s.ID] = s
		}
		diag.Add(tl.diag)
	}
	tr.Diagnostics = diag
	return tr, nil
}

// expandSwitches turns each context switch into a state change of the thread
// leaving the CPU and a Running state change of the thread entering it.
func expandSwitches(sw []Switch) map[ThreadID][]StateChange {
	out := make(map[ThreadID][]StateChange)
	for _, s := range sw {
		cpu := valid(s.CPU)
		out[s.Prev] = append(out[s.Prev], StateChange{
			Ts:              s.Ts,
			Thread:          s.Prev,
			CPU:             cpu,
			State:           s.PrevState,
			BlockedFunction: s.PrevBlockedFunction,
		})
		out[s.Next] = append(out[s.Next], StateChange{
			Ts:     s.Ts,
			Thread: s.Next,
			CPU:    cpu,
			State:  StateRunning,
		})
	}
	return out
}

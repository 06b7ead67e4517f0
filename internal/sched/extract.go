package sched

// ExtractSpans collapses each maximal run of executing intervals of tl into
// one span. A span's duration is open iff its last interval is open; its
// blocked_* fields describe the interval just before it when that interval
// was a blocked state.
func ExtractSpans(tl *Timeline) {
	ivs := tl.Intervals
	spans := make([]Span, 0, len(ivs)/2+1)
	for i := 0; i < len(ivs); {
		if !ivs[i].State.IsExecuting() {
			i++
			continue
		}
		j := i
		for j+1 < len(ivs) && ivs[j+1].State.IsExecuting() {
			j++
		}

		s := Span{
			Thread: tl.Thread,
			Ts:     ivs[i].Ts,
			first:  i,
			last:   j,
			wake:   ivs[i].Wakeup,
		}
		if end, ok := ivs[j].End(); ok {
			s.Dur = valid(end - s.Ts)
		}
		if i > 0 && ivs[i-1].State.IsBlocked() {
			b := &ivs[i-1]
			s.BlockedDur = b.Dur
			s.BlockedState = valid(b.State)
			s.BlockedFunction = b.BlockedFunction
		}
		spans = append(spans, s)
		i = j + 1
	}
	tl.Spans = spans
}

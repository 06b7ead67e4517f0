package server

import "strconv"

// Null is the text rendering of a NULL column in tabular output.
const Null = "[NULL]"

// SpanHeader names the columns of Span.Record.
var SpanHeader = []string{
	"id", "ts", "dur", "thread_id", "process_id", "thread_name", "process_name",
	"waker_thread_name", "waker_process_name", "blocked_dur", "blocked_state", "blocked_function",
	"utid", "tid", "pid", "waker_utid", "waker_span_id",
}

// SpuriousHeader names the columns of SpuriousWakeup.Record.
var SpuriousHeader = []string{"id", "ts", "thread_state_id", "irq_context", "woken_thread_id", "waker_thread_id"}

func (n nullInt64JSON) text() string {
	if !n.Valid {
		return Null
	}
	return strconv.FormatInt(n.Int64, 10)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Record renders s in SpanHeader order.
func (s Span) Record() []string {
	return []string{
		itoa(s.ID), itoa(s.Ts), s.Dur.text(), itoa(s.ThreadID), s.ProcessID.text(),
		s.ThreadName.Or(Null), s.ProcessName.Or(Null),
		s.WakerThreadName.Or(Null), s.WakerProcessName.Or(Null),
		s.BlockedDur.text(), s.BlockedState.Or(Null), s.BlockedFunction.Or(Null),
		itoa(s.Utid), s.Tid.text(), s.Pid.text(), s.WakerUtid.text(), s.WakerSpanID.text(),
	}
}

// Record renders d as a span row followed by depth and is_root.
func (d DescendantSpan) Record() []string {
	return append(d.Span.Record(), strconv.Itoa(d.Depth), btoa(d.IsRoot))
}

// Record renders a as a span row followed by height and is_leaf.
func (a AncestorSpan) Record() []string {
	return append(a.Span.Record(), strconv.Itoa(a.Height), btoa(a.IsLeaf))
}

// Record renders w in SpuriousHeader order.
func (w SpuriousWakeup) Record() []string {
	return []string{itoa(w.ID), itoa(w.Ts), itoa(w.ThreadStateID), w.IRQContext.text(), itoa(w.WokenThreadID), itoa(w.WakerThreadID)}
}

// Text renders the span id of r, or Null.
func (r ThreadStateSpan) Text() string { return r.SpanID.text() }

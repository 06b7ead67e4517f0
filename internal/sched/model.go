package sched

import (
	"database/sql"
	"errors"
)

// ErrInconsistentTrace is returned when normalized data violates a structural
// invariant (unsorted or overlapping intervals or spans). Consumers must never
// see a graph built from such data.
var ErrInconsistentTrace = errors.New("inconsistent trace")

// ThreadID identifies a thread for the lifetime of one trace (a utid, not a
// kernel tid: tids are recycled, utids are not).
type ThreadID int64

// IntervalID identifies a ThreadStateInterval. Ids are dense, starting at 0,
// assigned in (ts, thread) order.
type IntervalID int64

// SpanID identifies an executing span. Ids are dense, starting at 0, assigned
// in (ts, thread) order.
type SpanID int64

// StateChange is a decoded record of a thread entering a new state.
type StateChange struct {
	Ts              int64
	Thread          ThreadID
	CPU             sql.Null[int32]
	State           State
	BlockedFunction string
}

// Switch is a decoded CPU context switch: Prev leaves the CPU in PrevState and
// Next starts running on it.
type Switch struct {
	Ts                  int64
	CPU                 int32
	Prev                ThreadID
	PrevState           State
	PrevBlockedFunction string
	Next                ThreadID
}

// Wakeup is a decoded wakeup of Woken issued by Waker. NewTask marks the
// wakeup of a freshly forked thread by its creator.
type Wakeup struct {
	Ts      int64
	Waker   ThreadID
	Woken   ThreadID
	IRQ     sql.Null[bool]
	NewTask bool
}

// ThreadInfo is presentation metadata for one thread.
type ThreadInfo struct {
	Thread      ThreadID
	TID         int64
	Process     sql.Null[int64]
	PID         sql.Null[int64]
	ThreadName  string
	ProcessName string
}

// Interval is one ThreadStateInterval: the thread stayed in State from Ts for
// Dur nanoseconds. Dur is invalid for the final interval of a thread that was
// still in that state when the trace ended.
type Interval struct {
	ID              IntervalID
	Thread          ThreadID
	Ts              int64
	Dur             sql.Null[int64]
	State           State
	BlockedFunction sql.Null[string]
	CPU             sql.Null[int32]
	// Wakeup is the event that started this interval, if any.
	Wakeup *Wakeup
	// Span is the executing span this interval was merged into.
	Span sql.Null[SpanID]
}

// End returns the end timestamp of iv, or false if iv is open.
func (iv *Interval) End() (int64, bool) {
	if !iv.Dur.Valid {
		return 0, false
	}
	return iv.Ts + iv.Dur.V, true
}

// Span is an ExecutingSpan: a maximal run of Running/Runnable intervals of one
// thread. A span without a waker is a root of the waker forest.
type Span struct {
	ID     SpanID
	Thread ThreadID
	Ts     int64
	Dur    sql.Null[int64]

	WakerThread sql.Null[ThreadID]
	WakerSpan   sql.Null[SpanID]

	BlockedDur      sql.Null[int64]
	BlockedState    sql.Null[State]
	BlockedFunction sql.Null[string]

	FirstInterval IntervalID
	LastInterval  IntervalID

	// Local interval indexes within the thread's timeline and the wakeup
	// carried by the first interval; only meaningful during Build.
	first, last int
	wake        *Wakeup
}

// IsRoot reports whether s has no resolvable waker.
func (s *Span) IsRoot() bool { return !s.WakerSpan.Valid }

// SpuriousWakeup is a wakeup whose target was not blocked when it fired.
type SpuriousWakeup struct {
	ID            int64
	Ts            int64
	ThreadStateID IntervalID
	IRQ           sql.Null[bool]
	Woken         ThreadID
	Waker         ThreadID
}

// Diagnostics counts input that was normalised, dropped or left unattributed.
type Diagnostics struct {
	UnknownStates               int
	ReorderedRecords            int
	DuplicateTimestamps         int
	DroppedWakeupsUnknownThread int
	DroppedWakeupsOutsideTrace  int
	WakeupsWithoutTransition    int
	IRQWakersIgnored            int
	UnresolvedWakers            int
	CyclicWakers                int
}

// Add accumulates o into d.
func (d *Diagnostics) Add(o Diagnostics) {
	d.UnknownStates += o.UnknownStates
	d.ReorderedRecords += o.ReorderedRecords
	d.DuplicateTimestamps += o.DuplicateTimestamps
	d.DroppedWakeupsUnknownThread += o.DroppedWakeupsUnknownThread
	d.DroppedWakeupsOutsideTrace += o.DroppedWakeupsOutsideTrace
	d.WakeupsWithoutTransition += o.WakeupsWithoutTransition
	d.IRQWakersIgnored += o.IRQWakersIgnored
	d.UnresolvedWakers += o.UnresolvedWakers
	d.CyclicWakers += o.CyclicWakers
}

// Map returns the counters keyed by name, for storage and reporting.
func (d Diagnostics) Map() map[string]int {
	return map[string]int{
		"unknown_states":                 d.UnknownStates,
		"reordered_records":              d.ReorderedRecords,
		"duplicate_timestamps":           d.DuplicateTimestamps,
		"dropped_wakeups_unknown_thread": d.DroppedWakeupsUnknownThread,
		"dropped_wakeups_outside_trace":  d.DroppedWakeupsOutsideTrace,
		"wakeups_without_transition":     d.WakeupsWithoutTransition,
		"irq_wakers_ignored":             d.IRQWakersIgnored,
		"unresolved_wakers":              d.UnresolvedWakers,
		"cyclic_wakers":                  d.CyclicWakers,
	}
}

package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sc(ts int64, th ThreadID, st State) StateChange {
	return StateChange{Ts: ts, Thread: th, State: st}
}

func TestNormalize_ContiguousIntervals(t *testing.T) {
	tl := Normalize(1, []StateChange{
		sc(0, 1, StateRunning),
		sc(10, 1, StateSleeping),
		sc(40, 1, StateRunnable),
		sc(45, 1, StateRunning),
	}, nil)

	require.Len(t, tl.Intervals, 4)
	for i := 0; i+1 < len(tl.Intervals); i++ {
		end, ok := tl.Intervals[i].End()
		require.True(t, ok)
		assert.Equal(t, tl.Intervals[i+1].Ts, end, "interval %d", i)
	}
	assert.False(t, tl.Intervals[3].Dur.Valid, "final interval is open")
	assert.Equal(t, Diagnostics{}, tl.Diagnostics())
}

func TestNormalize_ReorderedAndDuplicate(t *testing.T) {
	tl := Normalize(1, []StateChange{
		sc(0, 1, StateRunning),
		sc(20, 1, StateSleeping),
		sc(10, 1, StateRunnable),
		sc(20, 1, StateUninterruptible),
		sc(30, 1, "?"),
	}, nil)

	require.Len(t, tl.Intervals, 4)
	assert.Equal(t, StateRunning, tl.Intervals[0].State)
	assert.Equal(t, StateRunnable, tl.Intervals[1].State)
	assert.Equal(t, StateUninterruptible, tl.Intervals[2].State, "last record at a timestamp wins")
	assert.Equal(t, int64(10), tl.Intervals[2].Dur.V)
	assert.Equal(t, State("?"), tl.Intervals[3].State)

	d := tl.Diagnostics()
	assert.Equal(t, 1, d.ReorderedRecords)
	assert.Equal(t, 1, d.DuplicateTimestamps)
	assert.Equal(t, 1, d.UnknownStates)
}

func TestNormalize_MergesRepeatedState(t *testing.T) {
	tl := Normalize(1, []StateChange{
		{Ts: 0, Thread: 1, State: StateSleeping, BlockedFunction: "f"},
		{Ts: 5, Thread: 1, State: StateSleeping, BlockedFunction: "f"},
		{Ts: 9, Thread: 1, State: StateSleeping, BlockedFunction: "g"},
	}, nil)

	require.Len(t, tl.Intervals, 2)
	assert.Equal(t, int64(9), tl.Intervals[0].Dur.V)
	assert.Equal(t, "g", tl.Intervals[1].BlockedFunction.V)
}

func TestNormalize_BlockedFunctionOnlyOnBlockedStates(t *testing.T) {
	tl := Normalize(1, []StateChange{
		{Ts: 0, Thread: 1, State: StateRunning, BlockedFunction: "stale"},
		{Ts: 5, Thread: 1, State: StateUninterruptible, BlockedFunction: "io_schedule"},
	}, nil)

	require.Len(t, tl.Intervals, 2)
	assert.False(t, tl.Intervals[0].BlockedFunction.Valid)
	assert.Equal(t, "io_schedule", tl.Intervals[1].BlockedFunction.V)
}

func TestNormalize_WakeupAttachesToTransition(t *testing.T) {
	w := Wakeup{Ts: 100, Waker: 2, Woken: 1}
	tl := Normalize(1, []StateChange{
		sc(0, 1, StateUninterruptible),
		sc(100, 1, StateRunning),
	}, []Wakeup{w})

	require.Len(t, tl.Intervals, 2)
	require.NotNil(t, tl.Intervals[1].Wakeup)
	assert.Equal(t, w, *tl.Intervals[1].Wakeup)
	assert.Empty(t, tl.stray)
}

func TestNormalize_WakeupSplitsBlockedInterval(t *testing.T) {
	tl := Normalize(1, []StateChange{
		sc(0, 1, StateSleeping),
		sc(120, 1, StateRunning),
	}, []Wakeup{{Ts: 100, Waker: 2, Woken: 1}})

	require.Len(t, tl.Intervals, 3)
	assert.Equal(t, int64(100), tl.Intervals[0].Dur.V)
	r := tl.Intervals[1]
	assert.Equal(t, StateRunnable, r.State)
	assert.Equal(t, int64(100), r.Ts)
	assert.Equal(t, int64(20), r.Dur.V)
	require.NotNil(t, r.Wakeup)
	assert.Equal(t, ThreadID(2), r.Wakeup.Waker)
}

func TestNormalize_WakeupOnOpenBlockedInterval(t *testing.T) {
	tl := Normalize(1, []StateChange{sc(0, 1, StateSleeping)}, []Wakeup{{Ts: 50, Waker: 2, Woken: 1}})

	require.Len(t, tl.Intervals, 2)
	assert.Equal(t, int64(50), tl.Intervals[0].Dur.V)
	assert.False(t, tl.Intervals[1].Dur.Valid)
}

func TestNormalize_StrayAndOutsideWakeups(t *testing.T) {
	tl := Normalize(1, []StateChange{
		sc(10, 1, StateRunning),
		sc(50, 1, StateSleeping),
	}, []Wakeup{
		{Ts: 5, Waker: 2, Woken: 1},
		{Ts: 10, Waker: 2, Woken: 1},
		{Ts: 30, Waker: 2, Woken: 1},
	})

	require.Len(t, tl.Intervals, 2)
	// ts 10 observes nothing: the first interval starts at that instant.
	assert.Equal(t, 2, tl.Diagnostics().DroppedWakeupsOutsideTrace)
	require.Len(t, tl.stray, 1)
	assert.Equal(t, int64(30), tl.stray[0].w.Ts)
	assert.Equal(t, 0, tl.stray[0].interval)
}

func TestNormalize_WakeupWithoutTransition(t *testing.T) {
	tl := Normalize(1, []StateChange{
		sc(0, 1, StateSleeping),
		sc(10, 1, StateUninterruptible),
	}, []Wakeup{{Ts: 10, Waker: 2, Woken: 1}})

	require.Len(t, tl.Intervals, 2)
	assert.Equal(t, 1, tl.Diagnostics().WakeupsWithoutTransition)
	assert.Nil(t, tl.Intervals[1].Wakeup)
}

func TestNormalize_NewTaskWakeup(t *testing.T) {
	tl := Normalize(3, []StateChange{sc(50, 3, StateRunnable)}, []Wakeup{{Ts: 50, Waker: 2, Woken: 3, NewTask: true}})

	require.Len(t, tl.Intervals, 1)
	require.NotNil(t, tl.Intervals[0].Wakeup)
	assert.True(t, tl.Intervals[0].Wakeup.NewTask)
	assert.Zero(t, tl.Diagnostics().DroppedWakeupsOutsideTrace)
}

func TestExtractSpans(t *testing.T) {
	tl := Normalize(1, []StateChange{
		sc(0, 1, StateRunning),
		sc(10, 1, StateRunnable),
		sc(20, 1, StateRunning),
		{Ts: 30, Thread: 1, State: StateUninterruptible, BlockedFunction: "f"},
		sc(60, 1, StateRunning),
		sc(70, 1, "X"),
		sc(80, 1, StateRunning),
	}, nil)
	ExtractSpans(tl)

	require.Len(t, tl.Spans, 3)

	first := tl.Spans[0]
	assert.Equal(t, int64(0), first.Ts)
	assert.Equal(t, int64(30), first.Dur.V)
	assert.False(t, first.BlockedDur.Valid)
	assert.Equal(t, 0, first.first)
	assert.Equal(t, 2, first.last)

	second := tl.Spans[1]
	assert.Equal(t, int64(60), second.Ts)
	assert.Equal(t, int64(10), second.Dur.V)
	assert.Equal(t, int64(30), second.BlockedDur.V)
	assert.Equal(t, StateUninterruptible, second.BlockedState.V)
	assert.Equal(t, "f", second.BlockedFunction.V)

	third := tl.Spans[2]
	assert.False(t, third.Dur.Valid, "span ending in an open interval is open")
	assert.False(t, third.BlockedState.Valid, "dead state is not a blocked state")
}

func TestStateCategory(t *testing.T) {
	cases := map[State]Category{
		StateRunning:  CategoryRunning,
		"R":           CategoryRunnable,
		"R+":          CategoryRunnable,
		"S":           CategoryBlocked,
		"D|K":         CategoryBlocked,
		"I":           CategoryBlocked,
		"X":           CategoryDead,
		"Z":           CategoryDead,
		"D|X":         CategoryDead,
		"":            CategoryUnknown,
		"Q":           CategoryUnknown,
		"S|Q":         CategoryUnknown,
		"Running|foo": CategoryUnknown,
	}
	for st, want := range cases {
		assert.Equal(t, want, st.Category(), "state %q", st)
	}
}

package sched

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	thA ThreadID = 1
	thB ThreadID = 2
	thC ThreadID = 3
)

// wokenByPeer: A blocks in D at 0, B wakes it at 100, A runs until 150.
func wokenByPeer() Input {
	return Input{
		StateChanges: []StateChange{
			{Ts: 0, Thread: thA, State: StateUninterruptible, BlockedFunction: "f"},
			{Ts: 0, Thread: thB, State: StateRunning},
			{Ts: 100, Thread: thA, State: StateRunning},
			{Ts: 150, Thread: thA, State: StateSleeping},
		},
		Wakeups: []Wakeup{{Ts: 100, Waker: thB, Woken: thA}},
		Threads: []ThreadInfo{
			{Thread: thA, TID: 101, ThreadName: "a"},
			{Thread: thB, TID: 102, ThreadName: "b"},
		},
	}
}

func TestBuild_WokenSpan(t *testing.T) {
	tr, err := Build(context.Background(), wokenByPeer(), Options{})
	require.NoError(t, err)

	require.Len(t, tr.Spans, 2)
	b, a := tr.Spans[0], tr.Spans[1]
	assert.Equal(t, thB, b.Thread)
	assert.True(t, b.IsRoot())

	assert.Equal(t, SpanID(1), a.ID)
	assert.Equal(t, thA, a.Thread)
	assert.Equal(t, int64(100), a.Ts)
	assert.Equal(t, int64(50), a.Dur.V)
	assert.Equal(t, thB, a.WakerThread.V)
	assert.Equal(t, b.ID, a.WakerSpan.V)
	assert.Equal(t, int64(100), a.BlockedDur.V)
	assert.Equal(t, StateUninterruptible, a.BlockedState.V)
	assert.Equal(t, "f", a.BlockedFunction.V)

	require.Len(t, tr.Intervals, 4)
	for id, iv := range tr.Intervals {
		assert.Equal(t, IntervalID(id), iv.ID)
	}
	assert.Equal(t, thA, tr.Intervals[0].Thread)
	assert.Equal(t, thB, tr.Intervals[1].Thread)
	assert.False(t, tr.Intervals[0].Span.Valid)
	assert.Equal(t, a.ID, tr.Intervals[2].Span.V)
	assert.Equal(t, IntervalID(2), a.FirstInterval)
	assert.Equal(t, IntervalID(2), a.LastInterval)
	assert.Equal(t, "a", tr.Thread(thA).ThreadName)
	assert.Equal(t, ThreadInfo{Thread: 99}, tr.Thread(99))
}

func TestBuild_SpuriousWakeup(t *testing.T) {
	in := wokenByPeer()
	in.Wakeups = append(in.Wakeups,
		Wakeup{Ts: 130, Waker: thB, Woken: thA},
		Wakeup{Ts: 120, Waker: thA, Woken: thB},
	)
	tr, err := Build(context.Background(), in, Options{})
	require.NoError(t, err)

	require.Len(t, tr.Spurious, 2)
	assert.Equal(t, SpuriousWakeup{ID: 0, Ts: 120, ThreadStateID: 1, Woken: thB, Waker: thA}, tr.Spurious[0])
	assert.Equal(t, SpuriousWakeup{ID: 1, Ts: 130, ThreadStateID: 2, Woken: thA, Waker: thB}, tr.Spurious[1])

	// The spurious wakeups add no edges.
	assert.True(t, tr.Spans[0].IsRoot())
	assert.Equal(t, tr.Spans[0].ID, tr.Spans[1].WakerSpan.V)
}

func TestBuild_SwitchRecords(t *testing.T) {
	in := Input{
		Switches: []Switch{
			{Ts: 0, CPU: 0, Prev: 0, PrevState: StateRunnable, Next: thB},
			{Ts: 10, CPU: 0, Prev: thB, PrevState: StateSleeping, PrevBlockedFunction: "futex_wait", Next: thA},
			{Ts: 30, CPU: 0, Prev: thA, PrevState: StateSleeping, Next: thB},
		},
		Wakeups: []Wakeup{{Ts: 25, Waker: thA, Woken: thB}},
	}
	tr, err := Build(context.Background(), in, Options{})
	require.NoError(t, err)

	var bSpans []Span
	for _, s := range tr.Spans {
		if s.Thread == thB {
			bSpans = append(bSpans, s)
		}
	}
	require.Len(t, bSpans, 2)
	second := bSpans[1]
	assert.Equal(t, int64(25), second.Ts, "span starts at the wakeup, runnable before running")
	assert.Equal(t, "futex_wait", second.BlockedFunction.V)
	assert.Equal(t, int64(15), second.BlockedDur.V)
	assert.Equal(t, thA, second.WakerThread.V)
}

func TestBuild_NewTaskLinksToCreator(t *testing.T) {
	in := Input{
		StateChanges: []StateChange{
			{Ts: 0, Thread: thB, State: StateRunning},
			{Ts: 50, Thread: thC, State: StateRunnable},
			{Ts: 60, Thread: thC, State: StateRunning},
		},
		Wakeups: []Wakeup{{Ts: 50, Waker: thB, Woken: thC, NewTask: true}},
	}
	tr, err := Build(context.Background(), in, Options{})
	require.NoError(t, err)

	require.Len(t, tr.Spans, 2)
	c := tr.Spans[1]
	assert.Equal(t, thC, c.Thread)
	assert.Equal(t, thB, c.WakerThread.V)
	assert.False(t, c.BlockedState.Valid)
}

func TestBuild_IgnoreIRQWakers(t *testing.T) {
	in := wokenByPeer()
	in.Wakeups[0].IRQ = valid(true)

	tr, err := Build(context.Background(), in, Options{IgnoreIRQWakers: true})
	require.NoError(t, err)
	assert.True(t, tr.Spans[1].IsRoot())
	assert.Equal(t, 1, tr.Diagnostics.IRQWakersIgnored)

	tr, err = Build(context.Background(), in, Options{})
	require.NoError(t, err)
	assert.False(t, tr.Spans[1].IsRoot())
}

func TestBuild_UnknownThreadWakeupsDropped(t *testing.T) {
	in := wokenByPeer()
	in.Wakeups = append(in.Wakeups, Wakeup{Ts: 20, Waker: 42, Woken: thA}, Wakeup{Ts: 20, Waker: thB, Woken: 43})

	tr, err := Build(context.Background(), in, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Diagnostics.DroppedWakeupsUnknownThread)
	assert.Empty(t, tr.Spurious)
}

// wokenAtSwitchIn: both threads sleep from 0; the waker is switched in at 100
// and wakes the woken thread at that same instant.
func wokenAtSwitchIn(woken, waker ThreadID) Input {
	return Input{
		StateChanges: []StateChange{
			{Ts: 0, Thread: woken, State: StateSleeping},
			{Ts: 0, Thread: waker, State: StateSleeping},
			{Ts: 100, Thread: waker, State: StateRunning},
			{Ts: 100, Thread: woken, State: StateRunning},
		},
		Wakeups: []Wakeup{{Ts: 100, Waker: waker, Woken: woken}},
	}
}

func TestBuild_WakerSpanStartingAtWakeup(t *testing.T) {
	tests := []struct {
		name         string
		woken, waker ThreadID
	}{
		{"waker has higher thread id", thA, thB},
		{"waker has lower thread id", thB, thA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Build(context.Background(), wokenAtSwitchIn(tt.woken, tt.waker), Options{})
			require.NoError(t, err)
			require.Len(t, tr.Spans, 2)

			var woken, waker Span
			for _, s := range tr.Spans {
				if s.Thread == tt.woken {
					woken = s
				} else {
					waker = s
				}
			}
			assert.True(t, waker.IsRoot())
			require.False(t, woken.IsRoot())
			assert.Equal(t, waker.ID, woken.WakerSpan.V)
			assert.Equal(t, tt.waker, woken.WakerThread.V)
			assert.Equal(t, 0, tr.Diagnostics.UnresolvedWakers)
		})
	}
}

func TestBuild_WakerSpanAfterWakeup(t *testing.T) {
	// B only starts running after the wakeup it issued; its next span is the
	// nearest one and becomes A's waker.
	in := Input{
		StateChanges: []StateChange{
			{Ts: 0, Thread: thA, State: StateSleeping},
			{Ts: 10, Thread: thA, State: StateRunning},
			{Ts: 20, Thread: thB, State: StateRunning},
		},
		Wakeups: []Wakeup{{Ts: 10, Waker: thB, Woken: thA}},
	}
	tr, err := Build(context.Background(), in, Options{})
	require.NoError(t, err)

	require.Len(t, tr.Spans, 2)
	a, b := tr.Spans[0], tr.Spans[1]
	assert.Equal(t, thA, a.Thread)
	assert.Equal(t, b.ID, a.WakerSpan.V)
	assert.True(t, b.IsRoot())
	assert.Equal(t, 0, tr.Diagnostics.UnresolvedWakers)
}

func TestBuild_CyclicWakersDropped(t *testing.T) {
	// B wakes A at 10 before B's span at 20, and A's span wakes B at 20: the
	// second link in id order would close a cycle.
	in := Input{
		StateChanges: []StateChange{
			{Ts: 0, Thread: thA, State: StateSleeping},
			{Ts: 0, Thread: thB, State: StateSleeping},
			{Ts: 10, Thread: thA, State: StateRunning},
			{Ts: 20, Thread: thB, State: StateRunning},
		},
		Wakeups: []Wakeup{
			{Ts: 10, Waker: thB, Woken: thA},
			{Ts: 20, Waker: thA, Woken: thB},
		},
	}
	tr, err := Build(context.Background(), in, Options{})
	require.NoError(t, err)

	require.Len(t, tr.Spans, 2)
	a, b := tr.Spans[0], tr.Spans[1]
	assert.Equal(t, b.ID, a.WakerSpan.V)
	assert.True(t, b.IsRoot())
	assert.Equal(t, 1, tr.Diagnostics.CyclicWakers)
}

func TestUnionFind(t *testing.T) {
	u := newUnionFind(4)
	assert.True(t, u.union(0, 1))
	assert.True(t, u.union(2, 3))
	assert.False(t, u.union(1, 0))
	assert.True(t, u.union(3, 1))
	assert.False(t, u.union(0, 2))
	assert.Equal(t, u.find(0), u.find(3))
}

func TestBuild_Idempotent(t *testing.T) {
	in := wokenByPeer()
	in.StateChanges = append(in.StateChanges,
		StateChange{Ts: 5, Thread: thC, State: StateRunning},
		StateChange{Ts: 15, Thread: thC, State: StateSleeping},
		StateChange{Ts: 140, Thread: thC, State: StateRunning},
	)
	in.Wakeups = append(in.Wakeups, Wakeup{Ts: 140, Waker: thA, Woken: thC})
	in.Threads = append(in.Threads, ThreadInfo{Thread: thC, ThreadName: "c"})

	first, err := Build(context.Background(), in, Options{Workers: 1})
	require.NoError(t, err)
	second, err := Build(context.Background(), in, Options{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, first.Spans, second.Spans)
	assert.Equal(t, first.Spurious, second.Spurious)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
	require.Equal(t, len(first.Intervals), len(second.Intervals))
	for i := range first.Intervals {
		assert.Equal(t, first.Intervals[i].Ts, second.Intervals[i].Ts)
		assert.Equal(t, first.Intervals[i].Thread, second.Intervals[i].Thread)
		assert.Equal(t, first.Intervals[i].Span, second.Intervals[i].Span)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := Build(ctx, wokenByPeer(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, tr)
}

func TestValidate_RejectsOverlap(t *testing.T) {
	tl := &Timeline{
		Thread: thA,
		Intervals: []Interval{
			{Thread: thA, Ts: 0, Dur: valid(int64(20)), State: StateRunning},
			{Thread: thA, Ts: 10, State: StateSleeping},
		},
	}
	err := validate(tl)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistentTrace)
}

func TestWakerSpanAt(t *testing.T) {
	spans := []Span{
		{ID: 0, Ts: 0, Dur: valid(int64(10))},
		{ID: 3, Ts: 20, Dur: valid(int64(10))},
		{ID: 7, Ts: 50},
	}
	cases := []struct {
		ts   int64
		want SpanID
	}{
		{ts: 0, want: 0},
		{ts: 10, want: 0},
		{ts: 15, want: 3},
		{ts: 30, want: 3},
		{ts: 31, want: 7},
		{ts: 1000, want: 7},
	}
	for _, tc := range cases {
		got := wakerSpanAt(spans, tc.ts)
		require.NotNil(t, got, "ts %d", tc.ts)
		assert.Equal(t, tc.want, got.ID, "ts %d", tc.ts)
	}
	assert.Nil(t, wakerSpanAt(spans[:2], 31))
	assert.Nil(t, wakerSpanAt(nil, 0))
}

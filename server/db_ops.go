package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"schedgraph/internal/sched"
	"schedgraph/internal/spangraph"
)

var errSpanNotFound = errors.New("span not found")

// Dataset is a span database loaded for querying: the waker forest and the
// thread state lookup live in memory, paged listings go to SQL.
//
// MT: safe for concurrent use.
type Dataset struct {
	db     *sql.DB
	forest *spangraph.Forest
	index  *spangraph.Index
	spans  []Span
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(r rowScanner) (Span, error) {
	var s Span
	err := r.Scan(&s.ID, &s.Ts, &s.Dur.NullInt64, &s.ThreadID, &s.ProcessID.NullInt64,
		&s.ThreadName.NullString, &s.ProcessName.NullString,
		&s.WakerThreadName.NullString, &s.WakerProcessName.NullString,
		&s.BlockedDur.NullInt64, &s.BlockedState.NullString, &s.BlockedFunction.NullString,
		&s.Utid, &s.Tid.NullInt64, &s.Pid.NullInt64, &s.WakerUtid.NullInt64, &s.WakerSpanID.NullInt64)
	return s, err
}

func nullOf[T any](v T, ok bool) sql.Null[T] { return sql.Null[T]{V: v, Valid: ok} }

// LoadDataset reads the spans and thread state links of db and builds the
// forest over them.
func LoadDataset(ctx context.Context, db *sql.DB) (*Dataset, error) {
	rows, err := db.QueryContext(ctx, queryAllSpans)
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	defer rows.Close()

	var spans []Span
	var graph []sched.Span
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		if s.ID != int64(len(spans)) {
			return nil, fmt.Errorf("%w: span ids not dense at %d", sched.ErrInconsistentTrace, s.ID)
		}
		spans = append(spans, s)
		graph = append(graph, sched.Span{
			ID:              sched.SpanID(s.ID),
			Thread:          sched.ThreadID(s.Utid),
			Ts:              s.Ts,
			Dur:             nullOf(s.Dur.Int64, s.Dur.Valid),
			WakerThread:     nullOf(sched.ThreadID(s.WakerUtid.Int64), s.WakerUtid.Valid),
			WakerSpan:       nullOf(sched.SpanID(s.WakerSpanID.Int64), s.WakerSpanID.Valid),
			BlockedDur:      nullOf(s.BlockedDur.Int64, s.BlockedDur.Valid),
			BlockedState:    nullOf(sched.State(s.BlockedState.String), s.BlockedState.Valid),
			BlockedFunction: nullOf(s.BlockedFunction.String, s.BlockedFunction.Valid),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	// Single connection: release it before the next query.
	_ = rows.Close()

	forest, err := spangraph.New(graph)
	if err != nil {
		return nil, err
	}

	links, err := db.QueryContext(ctx, queryThreadStateSpans)
	if err != nil {
		return nil, fmt.Errorf("load thread states: %w", err)
	}
	defer links.Close()
	var ivs []sched.Interval
	for links.Next() {
		var id, span int64
		if err := links.Scan(&id, &span); err != nil {
			return nil, fmt.Errorf("scan thread state: %w", err)
		}
		ivs = append(ivs, sched.Interval{ID: sched.IntervalID(id), Span: nullOf(sched.SpanID(span), true)})
	}
	if err := links.Err(); err != nil {
		return nil, fmt.Errorf("load thread states: %w", err)
	}

	return &Dataset{db: db, forest: forest, index: spangraph.NewIndex(ivs), spans: spans}, nil
}

// Len returns the number of spans.
func (d *Dataset) Len() int { return len(d.spans) }

// Summary returns the forest statistics.
func (d *Dataset) Summary() spangraph.Summary { return d.forest.Summarize() }

// Span returns the span with the given id or errSpanNotFound.
func (d *Dataset) Span(id int64) (Span, error) {
	if id < 0 || id >= int64(len(d.spans)) {
		return Span{}, fmt.Errorf("span %d: %w", id, errSpanNotFound)
	}
	return d.spans[id], nil
}

// Descendants returns at most limit rows of Forest.Descendants; limit <= 0
// means all.
func (d *Dataset) Descendants(start sql.Null[sched.SpanID], limit int) []DescendantSpan {
	rows := d.forest.Descendants(start)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]DescendantSpan, len(rows))
	for i, r := range rows {
		out[i] = DescendantSpan{Span: d.spans[r.Span.ID], Depth: r.Depth, IsRoot: r.IsRoot}
	}
	return out
}

// Ancestors returns at most limit rows of Forest.Ancestors; limit <= 0 means
// all.
func (d *Dataset) Ancestors(start sql.Null[sched.SpanID], limit int) []AncestorSpan {
	rows := d.forest.Ancestors(start)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]AncestorSpan, len(rows))
	for i, r := range rows {
		out[i] = AncestorSpan{Span: d.spans[r.Span.ID], Height: r.Height, IsLeaf: r.IsLeaf}
	}
	return out
}

// SpanOf maps a thread state id to its executing span.
func (d *Dataset) SpanOf(threadStateID int64) ThreadStateSpan {
	res := ThreadStateSpan{ThreadStateID: threadStateID}
	if sp := d.index.SpanIDFromThreadStateID(sched.IntervalID(threadStateID)); sp.Valid {
		res.SpanID = nullInt64JSON{sql.NullInt64{Int64: int64(sp.V), Valid: true}}
	}
	return res
}

// SpansPage lists spans ordered by (ts, thread_id), optionally of one thread.
func (d *Dataset) SpansPage(ctx context.Context, thread sql.NullInt64, limit, offset int) ([]Span, error) {
	rows, err := d.db.QueryContext(ctx, querySpansPage, thread, thread, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Span{}
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Spurious lists spurious wakeups in id order.
func (d *Dataset) Spurious(ctx context.Context, limit, offset int) ([]SpuriousWakeup, error) {
	rows, err := d.db.QueryContext(ctx, querySpuriousPage, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SpuriousWakeup{}
	for rows.Next() {
		var w SpuriousWakeup
		if err := rows.Scan(&w.ID, &w.Ts, &w.ThreadStateID, &w.IRQContext.NullInt64, &w.WokenThreadID, &w.WakerThreadID); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Meta returns the build_meta table.
func (d *Dataset) Meta(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, queryBuildMeta)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// ThreadStates returns the number of thread state rows.
func (d *Dataset) ThreadStates(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, queryThreadStateCount).Scan(&n)
	return n, err
}

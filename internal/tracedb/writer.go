package tracedb

import (
	"database/sql"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"schedgraph/internal/progress"
	"schedgraph/internal/sched"
	"schedgraph/internal/spangraph"
)

const batchSize = 50000

// Output is everything WriteDB persists.
type Output struct {
	Trace  *sched.Trace
	Forest *spangraph.Forest
	// Meta is stored in build_meta next to the generated run_id, the
	// diagnostics counters and the forest summary.
	Meta map[string]string
}

// WriteDB writes out to a fresh span database at path, replacing any existing
// file. It returns the run id recorded in build_meta.
func WriteDB(path string, out Output, validate bool, prog *progress.Progress) (string, error) {
	prog.Log("Writing SQLite to %s ...", path)

	_ = os.Remove(path) // ignore if doesn't exist

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return "", fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = conn.Close() }()

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -64000",
		"PRAGMA journal_mode = WAL",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return "", fmt.Errorf("%s: %w", pragma, err)
		}
	}

	// Indexes are deferred until after the bulk insert.
	if err := createTables(conn); err != nil {
		return "", fmt.Errorf("create tables: %w", err)
	}

	runID := uuid.NewString()
	meta := buildMeta(runID, out)

	if err := insertAll(conn, out, meta, prog); err != nil {
		return "", err
	}

	prog.Log("Creating indexes...")
	if err := createIndexes(conn); err != nil {
		return "", fmt.Errorf("create indexes: %w", err)
	}
	if err := createViews(conn); err != nil {
		return "", fmt.Errorf("create views: %w", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "ANALYZE", nil); err != nil {
		return "", err
	}

	if validate {
		if err := runValidation(conn, prog); err != nil {
			return "", err
		}
	}

	if info, _ := os.Stat(path); info != nil {
		prog.Log("Wrote %s (%s)", path, progress.Bytes(info.Size()))
	}
	return runID, nil
}

func insertAll(conn *sqlite.Conn, out Output, meta map[string]string, prog *progress.Progress) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer endFn(&err)

	tr := out.Trace
	if err := insertThreadStates(conn, tr.Intervals, prog); err != nil {
		return err
	}
	if err := insertSpans(conn, tr.Spans, prog); err != nil {
		return err
	}
	if err := insertSpanGraph(conn, out.Forest, prog); err != nil {
		return err
	}
	if err := insertSpurious(conn, tr.Spurious, prog); err != nil {
		return err
	}
	if err := insertThreadInfo(conn, tr.Threads); err != nil {
		return err
	}
	return insertMeta(conn, meta)
}

func buildMeta(runID string, out Output) map[string]string {
	meta := map[string]string{
		"run_id":     runID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range out.Meta {
		meta[k] = v
	}
	for k, v := range out.Trace.Diagnostics.Map() {
		meta["diag."+k] = strconv.Itoa(v)
	}
	sum := out.Forest.Summarize()
	meta["summary.spans"] = strconv.Itoa(sum.Spans)
	meta["summary.edges"] = strconv.Itoa(sum.Edges)
	meta["summary.roots"] = strconv.Itoa(sum.Roots)
	meta["summary.leaves"] = strconv.Itoa(sum.Leaves)
	meta["summary.open_spans"] = strconv.Itoa(sum.OpenSpans)
	meta["summary.max_depth"] = strconv.Itoa(sum.MaxDepth)
	meta["summary.max_height"] = strconv.Itoa(sum.MaxHeight)
	meta["summary.thread_states"] = strconv.Itoa(len(out.Trace.Intervals))
	meta["summary.spurious_wakeups"] = strconv.Itoa(len(out.Trace.Spurious))
	return meta
}

func insertThreadStates(conn *sqlite.Conn, ivs []sched.Interval, prog *progress.Progress) error {
	stmt, err := conn.Prepare(`INSERT INTO thread_state (id, ts, dur, utid, state, blocked_function, cpu, waker_utid, irq_context, span_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare thread_state insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for i := range ivs {
		iv := &ivs[i]
		stmt.BindInt64(1, int64(iv.ID))
		stmt.BindInt64(2, iv.Ts)
		bindIntOrNull(stmt, 3, iv.Dur)
		stmt.BindInt64(4, int64(iv.Thread))
		stmt.BindText(5, string(iv.State))
		bindTextOrNull(stmt, 6, iv.BlockedFunction)
		bindIntOrNull(stmt, 7, iv.CPU)
		if w := iv.Wakeup; w != nil {
			stmt.BindInt64(8, int64(w.Waker))
			bindBoolOrNull(stmt, 9, w.IRQ)
		} else {
			stmt.BindNull(8)
			stmt.BindNull(9)
		}
		bindIntOrNull(stmt, 10, iv.Span)

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert thread_state %d: %w", iv.ID, err)
		}
		_ = stmt.Reset()

		if (i+1)%batchSize == 0 {
			prog.Verbose("  inserted %s/%s thread states", progress.Count(i+1), progress.Count(len(ivs)))
		}
	}

	prog.Log("Inserted %s thread states", progress.Count(len(ivs)))
	return nil
}

func insertSpans(conn *sqlite.Conn, spans []sched.Span, prog *progress.Progress) error {
	stmt, err := conn.Prepare(`INSERT INTO executing_span (id, ts, dur, utid, waker_utid, waker_span_id, blocked_dur, blocked_state, blocked_function, first_thread_state_id, last_thread_state_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare executing_span insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for i := range spans {
		s := &spans[i]
		stmt.BindInt64(1, int64(s.ID))
		stmt.BindInt64(2, s.Ts)
		bindIntOrNull(stmt, 3, s.Dur)
		stmt.BindInt64(4, int64(s.Thread))
		bindIntOrNull(stmt, 5, s.WakerThread)
		bindIntOrNull(stmt, 6, s.WakerSpan)
		bindIntOrNull(stmt, 7, s.BlockedDur)
		bindTextOrNull(stmt, 8, s.BlockedState)
		bindTextOrNull(stmt, 9, s.BlockedFunction)
		stmt.BindInt64(10, int64(s.FirstInterval))
		stmt.BindInt64(11, int64(s.LastInterval))

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert executing_span %d: %w", s.ID, err)
		}
		_ = stmt.Reset()

		if (i+1)%batchSize == 0 {
			prog.Verbose("  inserted %s/%s spans", progress.Count(i+1), progress.Count(len(spans)))
		}
	}

	prog.Log("Inserted %s executing spans", progress.Count(len(spans)))
	return nil
}

func insertSpanGraph(conn *sqlite.Conn, f *spangraph.Forest, prog *progress.Progress) error {
	stmt, err := conn.Prepare(`INSERT INTO span_graph (span_id, waker_span_id, depth, height, is_root, is_leaf) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare span_graph insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	spans := f.Spans()
	for i := range spans {
		id := spans[i].ID
		stmt.BindInt64(1, int64(id))
		bindIntOrNull(stmt, 2, spans[i].WakerSpan)
		stmt.BindInt64(3, int64(f.Depth(id)))
		stmt.BindInt64(4, int64(f.Height(id)))
		stmt.BindBool(5, f.IsRoot(id))
		stmt.BindBool(6, f.IsLeaf(id))

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert span_graph %d: %w", id, err)
		}
		_ = stmt.Reset()
	}

	prog.Verbose("  inserted %s span graph rows", progress.Count(len(spans)))
	return nil
}

func insertSpurious(conn *sqlite.Conn, sws []sched.SpuriousWakeup, prog *progress.Progress) error {
	stmt, err := conn.Prepare(`INSERT INTO spurious_wakeup (id, ts, thread_state_id, irq_context, woken_utid, waker_utid) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare spurious_wakeup insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for _, sw := range sws {
		stmt.BindInt64(1, sw.ID)
		stmt.BindInt64(2, sw.Ts)
		stmt.BindInt64(3, int64(sw.ThreadStateID))
		bindBoolOrNull(stmt, 4, sw.IRQ)
		stmt.BindInt64(5, int64(sw.Woken))
		stmt.BindInt64(6, int64(sw.Waker))

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert spurious_wakeup %d: %w", sw.ID, err)
		}
		_ = stmt.Reset()
	}

	prog.Log("Inserted %s spurious wakeups", progress.Count(len(sws)))
	return nil
}

func insertThreadInfo(conn *sqlite.Conn, threads map[sched.ThreadID]sched.ThreadInfo) error {
	stmt, err := conn.Prepare(`INSERT INTO thread_info (utid, tid, upid, pid, thread_name, process_name) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare thread_info insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	ids := make([]sched.ThreadID, 0, len(threads))
	for id := range threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		ti := threads[id]
		stmt.BindInt64(1, int64(ti.Thread))
		stmt.BindInt64(2, ti.TID)
		bindIntOrNull(stmt, 3, ti.Process)
		bindIntOrNull(stmt, 4, ti.PID)
		bindTextOrNull(stmt, 5, nonEmpty(ti.ThreadName))
		bindTextOrNull(stmt, 6, nonEmpty(ti.ProcessName))

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert thread_info %d: %w", id, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

func insertMeta(conn *sqlite.Conn, meta map[string]string) error {
	stmt, err := conn.Prepare(`INSERT INTO build_meta (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare build_meta insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for k, v := range meta {
		stmt.BindText(1, k)
		stmt.BindText(2, v)
		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert build_meta %s: %w", k, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

// runValidation re-checks the written database and fails on broken edges.
func runValidation(conn *sqlite.Conn, prog *progress.Progress) error {
	prog.Log("Running validation queries...")

	var broken int64
	if err := sqlitex.ExecuteTransient(conn,
		`SELECT COUNT(*) FROM span_graph g
		 LEFT JOIN span_graph w ON w.span_id = g.waker_span_id
		 WHERE g.waker_span_id IS NOT NULL
		   AND (w.span_id IS NULL OR g.depth <> w.depth + 1)`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				broken = stmt.ColumnInt64(0)
				return nil
			},
		}); err != nil {
		return err
	}
	if broken > 0 {
		return fmt.Errorf("%w: %d waker edges are dangling or break depth order", sched.ErrInconsistentTrace, broken)
	}
	prog.Log("  OK: all waker edges resolve one level up")

	var unlinked int64
	if err := sqlitex.ExecuteTransient(conn,
		`SELECT COUNT(*) FROM thread_state ts
		 WHERE ts.span_id IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM executing_span s
		                   WHERE s.id = ts.span_id AND s.utid = ts.utid)`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				unlinked = stmt.ColumnInt64(0)
				return nil
			},
		}); err != nil {
		return err
	}
	if unlinked > 0 {
		prog.Log("  WARNING: %d thread states reference a missing span", unlinked)
	} else {
		prog.Log("  OK: thread state span links resolve")
	}

	return sqlitex.ExecuteTransient(conn,
		`SELECT depth, count FROM summary_depth_histogram`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				prog.Verbose("  depth %d: %s spans", stmt.ColumnInt64(0), progress.Count(stmt.ColumnInt64(1)))
				return nil
			},
		})
}

func nonEmpty(s string) sql.Null[string] {
	return sql.Null[string]{V: s, Valid: s != ""}
}

func bindTextOrNull[T ~string](stmt *sqlite.Stmt, param int, val sql.Null[T]) {
	if !val.Valid {
		stmt.BindNull(param)
	} else {
		stmt.BindText(param, string(val.V))
	}
}

func bindIntOrNull[T ~int32 | ~int64](stmt *sqlite.Stmt, param int, val sql.Null[T]) {
	if !val.Valid {
		stmt.BindNull(param)
	} else {
		stmt.BindInt64(param, int64(val.V))
	}
}

func bindBoolOrNull(stmt *sqlite.Stmt, param int, val sql.Null[bool]) {
	if !val.Valid {
		stmt.BindNull(param)
	} else {
		stmt.BindBool(param, val.V)
	}
}

// Package tracedb reads decoded scheduler records from a trace database and
// writes the derived spans, edges and anomalies to a span database. Both are
// SQLite files.
package tracedb

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"schedgraph/internal/progress"
	"schedgraph/internal/sched"
)

// ErrNoSchedTables is returned when a trace database has neither a
// sched_state nor a sched_switch table.
var ErrNoSchedTables = errors.New("trace database has no sched_state or sched_switch table")

// ReadTrace loads every supported table of the trace database at path.
// Missing optional tables are skipped.
func ReadTrace(ctx context.Context, path string, prog *progress.Progress) (sched.Input, error) {
	var in sched.Input
	prog.Log("Reading trace from %s ...", path)

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return in, fmt.Errorf("open trace db: %w", err)
	}
	defer func() { _ = conn.Close() }()
	conn.SetInterrupt(ctx.Done())

	tables, err := listTables(conn)
	if err != nil {
		return in, err
	}
	if !tables["sched_state"] && !tables["sched_switch"] {
		return in, fmt.Errorf("%s: %w", path, ErrNoSchedTables)
	}

	if tables["sched_state"] {
		if in.StateChanges, err = readStates(conn); err != nil {
			return in, err
		}
		prog.Verbose("  %s state changes", progress.Count(len(in.StateChanges)))
	}
	if tables["sched_switch"] {
		if in.Switches, err = readSwitches(conn); err != nil {
			return in, err
		}
		prog.Verbose("  %s context switches", progress.Count(len(in.Switches)))
	}
	if tables["sched_wakeup"] {
		if in.Wakeups, err = readWakeups(conn); err != nil {
			return in, err
		}
		prog.Verbose("  %s wakeups", progress.Count(len(in.Wakeups)))
	}
	if tables["thread"] {
		if in.Threads, err = readThreads(conn, tables["process"]); err != nil {
			return in, err
		}
	}

	prog.Log("Read %s state changes, %s switches, %s wakeups, %s threads",
		progress.Count(len(in.StateChanges)), progress.Count(len(in.Switches)),
		progress.Count(len(in.Wakeups)), progress.Count(len(in.Threads)))
	return in, nil
}

func listTables(conn *sqlite.Conn) (map[string]bool, error) {
	tables := make(map[string]bool)
	err := sqlitex.ExecuteTransient(conn,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tables[stmt.ColumnText(0)] = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func isNull(stmt *sqlite.Stmt, col int) bool { return stmt.ColumnType(col) == sqlite.TypeNull }

func readStates(conn *sqlite.Conn) ([]sched.StateChange, error) {
	var out []sched.StateChange
	err := sqlitex.ExecuteTransient(conn,
		`SELECT ts, utid, cpu, state, blocked_function FROM sched_state ORDER BY ts`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c := sched.StateChange{
					Ts:              stmt.ColumnInt64(0),
					Thread:          sched.ThreadID(stmt.ColumnInt64(1)),
					State:           sched.State(stmt.ColumnText(3)),
					BlockedFunction: stmt.ColumnText(4),
				}
				if !isNull(stmt, 2) {
					c.CPU.V, c.CPU.Valid = int32(stmt.ColumnInt64(2)), true
				}
				out = append(out, c)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("read sched_state: %w", err)
	}
	return out, nil
}

func readSwitches(conn *sqlite.Conn) ([]sched.Switch, error) {
	var out []sched.Switch
	err := sqlitex.ExecuteTransient(conn,
		`SELECT ts, cpu, prev_utid, prev_state, prev_blocked_function, next_utid FROM sched_switch ORDER BY ts`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, sched.Switch{
					Ts:                  stmt.ColumnInt64(0),
					CPU:                 int32(stmt.ColumnInt64(1)),
					Prev:                sched.ThreadID(stmt.ColumnInt64(2)),
					PrevState:           sched.State(stmt.ColumnText(3)),
					PrevBlockedFunction: stmt.ColumnText(4),
					Next:                sched.ThreadID(stmt.ColumnInt64(5)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("read sched_switch: %w", err)
	}
	return out, nil
}

func readWakeups(conn *sqlite.Conn) ([]sched.Wakeup, error) {
	var out []sched.Wakeup
	err := sqlitex.ExecuteTransient(conn,
		`SELECT ts, waker_utid, utid, irq_context, new_task FROM sched_wakeup ORDER BY ts`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				w := sched.Wakeup{
					Ts:      stmt.ColumnInt64(0),
					Waker:   sched.ThreadID(stmt.ColumnInt64(1)),
					Woken:   sched.ThreadID(stmt.ColumnInt64(2)),
					NewTask: stmt.ColumnInt64(4) != 0,
				}
				if !isNull(stmt, 3) {
					w.IRQ.V, w.IRQ.Valid = stmt.ColumnInt64(3) != 0, true
				}
				out = append(out, w)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("read sched_wakeup: %w", err)
	}
	return out, nil
}

func readThreads(conn *sqlite.Conn, haveProcess bool) ([]sched.ThreadInfo, error) {
	query := `SELECT utid, tid, upid, name, NULL, NULL FROM thread ORDER BY utid`
	if haveProcess {
		query = `SELECT t.utid, t.tid, t.upid, t.name, p.pid, p.name
		 FROM thread t LEFT JOIN process p ON p.upid = t.upid
		 ORDER BY t.utid`
	}
	var out []sched.ThreadInfo
	err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ti := sched.ThreadInfo{
				Thread:      sched.ThreadID(stmt.ColumnInt64(0)),
				TID:         stmt.ColumnInt64(1),
				ThreadName:  stmt.ColumnText(3),
				ProcessName: stmt.ColumnText(5),
			}
			if !isNull(stmt, 2) {
				ti.Process.V, ti.Process.Valid = stmt.ColumnInt64(2), true
			}
			if !isNull(stmt, 4) {
				ti.PID.V, ti.PID.Valid = stmt.ColumnInt64(4), true
			}
			out = append(out, ti)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("read threads: %w", err)
	}
	return out, nil
}

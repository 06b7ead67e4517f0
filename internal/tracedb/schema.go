package tracedb

import (
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func createTables(conn *sqlite.Conn) error {
	ddl := `
CREATE TABLE thread_state (
    id INTEGER PRIMARY KEY,
    ts INTEGER NOT NULL,
    dur INTEGER,
    utid INTEGER NOT NULL,
    state TEXT NOT NULL,
    blocked_function TEXT,
    cpu INTEGER,
    waker_utid INTEGER,
    irq_context INTEGER,
    span_id INTEGER
);

CREATE TABLE executing_span (
    id INTEGER PRIMARY KEY,
    ts INTEGER NOT NULL,
    dur INTEGER,
    utid INTEGER NOT NULL,
    waker_utid INTEGER,
    waker_span_id INTEGER,
    blocked_dur INTEGER,
    blocked_state TEXT,
    blocked_function TEXT,
    first_thread_state_id INTEGER NOT NULL,
    last_thread_state_id INTEGER NOT NULL
);

CREATE TABLE spurious_wakeup (
    id INTEGER PRIMARY KEY,
    ts INTEGER NOT NULL,
    thread_state_id INTEGER NOT NULL,
    irq_context INTEGER,
    woken_utid INTEGER NOT NULL,
    waker_utid INTEGER NOT NULL
);

CREATE TABLE span_graph (
    span_id INTEGER PRIMARY KEY,
    waker_span_id INTEGER,
    depth INTEGER NOT NULL,
    height INTEGER NOT NULL,
    is_root INTEGER NOT NULL,
    is_leaf INTEGER NOT NULL
);

CREATE TABLE thread_info (
    utid INTEGER PRIMARY KEY,
    tid INTEGER,
    upid INTEGER,
    pid INTEGER,
    thread_name TEXT,
    process_name TEXT
);

CREATE TABLE build_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
	return sqlitex.ExecuteScript(conn, ddl, nil)
}

func createIndexes(conn *sqlite.Conn) error {
	indexes := `
CREATE INDEX idx_thread_state_utid ON thread_state(utid, ts);
CREATE INDEX idx_thread_state_span ON thread_state(span_id);
CREATE INDEX idx_executing_span_utid ON executing_span(utid, ts);
CREATE INDEX idx_executing_span_waker ON executing_span(waker_span_id);
CREATE INDEX idx_span_graph_waker ON span_graph(waker_span_id);
CREATE INDEX idx_span_graph_depth ON span_graph(depth);
CREATE INDEX idx_spurious_woken ON spurious_wakeup(woken_utid, ts);
`
	return sqlitex.ExecuteScript(conn, indexes, nil)
}

// createViews builds the presentation views: spans joined with graph
// metrics and thread names, and the depth histogram.
func createViews(conn *sqlite.Conn) error {
	ddl := `
CREATE VIEW executing_span_graph AS
  SELECT s.id AS id,
         s.ts AS ts,
         s.dur AS dur,
         s.utid AS thread_id,
         t.upid AS process_id,
         t.thread_name AS thread_name,
         t.process_name AS process_name,
         w.thread_name AS waker_thread_name,
         w.process_name AS waker_process_name,
         s.blocked_dur AS blocked_dur,
         s.blocked_state AS blocked_state,
         s.blocked_function AS blocked_function,
         s.utid AS utid,
         t.tid AS tid,
         t.pid AS pid,
         s.waker_utid AS waker_utid,
         s.waker_span_id AS waker_span_id,
         g.depth AS depth,
         g.height AS height,
         g.is_root AS is_root,
         g.is_leaf AS is_leaf
  FROM executing_span s
  JOIN span_graph g ON g.span_id = s.id
  LEFT JOIN thread_info t ON t.utid = s.utid
  LEFT JOIN thread_info w ON w.utid = s.waker_utid;

CREATE VIEW summary_depth_histogram AS
  SELECT depth, COUNT(*) AS count FROM span_graph GROUP BY depth ORDER BY depth;
`
	return sqlitex.ExecuteScript(conn, ddl, nil)
}

package server

// SQL over the span database written by tracedb.WriteDB.

const spanColumns = `id, ts, dur, thread_id, process_id, thread_name, process_name,
  waker_thread_name, waker_process_name, blocked_dur, blocked_state, blocked_function,
  utid, tid, pid, waker_utid, waker_span_id`

const queryAllSpans = `SELECT ` + spanColumns + ` FROM executing_span_graph ORDER BY id`

const querySpansPage = `SELECT ` + spanColumns + ` FROM executing_span_graph
WHERE (? IS NULL OR thread_id = ?)
ORDER BY ts, thread_id
LIMIT ? OFFSET ?`

const queryThreadStateSpans = `SELECT id, span_id FROM thread_state WHERE span_id IS NOT NULL`

const queryThreadStateCount = `SELECT COUNT(*) FROM thread_state`

const querySpuriousPage = `SELECT id, ts, thread_state_id, irq_context, woken_utid, waker_utid
FROM spurious_wakeup
ORDER BY id
LIMIT ? OFFSET ?`

const queryBuildMeta = `SELECT key, value FROM build_meta ORDER BY key`

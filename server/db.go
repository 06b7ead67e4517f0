package server

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// nullStringJSON marshals as string or null (for API contract: "thread_name": "x" or "thread_name": null).
type nullStringJSON struct{ sql.NullString }

func (n nullStringJSON) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.String)
}

func (n *nullStringJSON) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		n.Valid = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.String, n.Valid = s, true
	return nil
}

// nullInt64JSON marshals as number or null.
type nullInt64JSON struct{ sql.NullInt64 }

func (n nullInt64JSON) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Int64)
}

func (n *nullInt64JSON) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		n.Valid = false
		return nil
	}
	var i int64
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	n.Int64, n.Valid = i, true
	return nil
}

// Or returns the value, or def when null.
func (n nullStringJSON) Or(def string) string {
	if !n.Valid {
		return def
	}
	return n.String
}

// OpenDB opens a span database through database/sql. The server only reads,
// so a single connection is enough.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Span is one ExecutingSpan row for API responses.
type Span struct {
	ID               int64          `json:"id"`
	Ts               int64          `json:"ts"`
	Dur              nullInt64JSON  `json:"dur"`
	ThreadID         int64          `json:"thread_id"`
	ProcessID        nullInt64JSON  `json:"process_id"`
	ThreadName       nullStringJSON `json:"thread_name"`
	ProcessName      nullStringJSON `json:"process_name"`
	WakerThreadName  nullStringJSON `json:"waker_thread_name"`
	WakerProcessName nullStringJSON `json:"waker_process_name"`
	BlockedDur       nullInt64JSON  `json:"blocked_dur"`
	BlockedState     nullStringJSON `json:"blocked_state"`
	BlockedFunction  nullStringJSON `json:"blocked_function"`
	Utid             int64          `json:"utid"`
	Tid              nullInt64JSON  `json:"tid"`
	Pid              nullInt64JSON  `json:"pid"`
	WakerUtid        nullInt64JSON  `json:"waker_utid"`
	WakerSpanID      nullInt64JSON  `json:"waker_span_id"`
}

// DescendantSpan is a span reached by a descendants query.
type DescendantSpan struct {
	Span
	Depth  int  `json:"depth"`
	IsRoot bool `json:"is_root"`
}

// AncestorSpan is a span reached by an ancestors query.
type AncestorSpan struct {
	Span
	Height int  `json:"height"`
	IsLeaf bool `json:"is_leaf"`
}

// SpuriousWakeup is one spurious_wakeup row for API responses.
type SpuriousWakeup struct {
	ID            int64         `json:"id"`
	Ts            int64         `json:"ts"`
	ThreadStateID int64         `json:"thread_state_id"`
	IRQContext    nullInt64JSON `json:"irq_context"`
	WokenThreadID int64         `json:"woken_thread_id"`
	WakerThreadID int64         `json:"waker_thread_id"`
}

// ThreadStateSpan answers a span lookup for one thread state.
type ThreadStateSpan struct {
	ThreadStateID int64         `json:"thread_state_id"`
	SpanID        nullInt64JSON `json:"span_id"`
}

const defaultPageSize = 100

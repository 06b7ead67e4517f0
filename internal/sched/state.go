package sched

import "strings"

// State is a scheduler state code as decoded from the trace: "Running" for a
// thread on a CPU, otherwise the kernel's single-letter task state ("R", "S",
// "D", "D|K", ...). Unrecognised codes are kept verbatim and classify as
// CategoryUnknown.
type State string

const (
	StateRunning         State = "Running"
	StateRunnable        State = "R"
	StatePreempted       State = "R+"
	StateSleeping        State = "S"
	StateUninterruptible State = "D"
)

// Category groups state codes by what they mean for span construction.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryRunning
	CategoryRunnable
	CategoryBlocked
	CategoryDead
)

func (c Category) String() string {
	switch c {
	case CategoryRunning:
		return "running"
	case CategoryRunnable:
		return "runnable"
	case CategoryBlocked:
		return "blocked"
	case CategoryDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Single-letter task states. Modifiers (K wakekill, W waking, N noload) only
// ever appear combined with a base state, e.g. "D|K".
var (
	blockedLetters  = map[string]bool{"S": true, "D": true, "I": true, "T": true, "t": true, "P": true}
	deadLetters     = map[string]bool{"X": true, "Z": true, "x": true}
	modifierLetters = map[string]bool{"K": true, "W": true, "N": true}
)

// Category classifies s.
func (s State) Category() Category {
	switch s {
	case StateRunning:
		return CategoryRunning
	case StateRunnable, StatePreempted:
		return CategoryRunnable
	case "":
		return CategoryUnknown
	}
	parts := strings.Split(string(s), "|")
	base := parts[0]
	for _, m := range parts[1:] {
		if !modifierLetters[m] && !blockedLetters[m] && !deadLetters[m] {
			return CategoryUnknown
		}
	}
	switch {
	case deadLetters[base]:
		return CategoryDead
	case blockedLetters[base]:
		for _, m := range parts[1:] {
			if deadLetters[m] {
				return CategoryDead
			}
		}
		return CategoryBlocked
	default:
		return CategoryUnknown
	}
}

// IsExecuting reports whether a thread in state s is part of an executing span.
func (s State) IsExecuting() bool {
	c := s.Category()
	return c == CategoryRunning || c == CategoryRunnable
}

// IsBlocked reports whether a wakeup can end state s.
func (s State) IsBlocked() bool { return s.Category() == CategoryBlocked }

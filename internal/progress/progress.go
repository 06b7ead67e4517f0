// Package progress reports build phases with elapsed time and carries the
// structured logger used alongside them.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress reports pipeline progress with an elapsed time prefix.
type Progress struct {
	start   time.Time
	verbose bool

	mu  sync.Mutex
	w   io.Writer
	log *slog.Logger
}

// New creates a progress reporter writing to stderr. A nil logger means
// slog.Default().
func New(verbose bool, log *slog.Logger) *Progress {
	return NewWriter(os.Stderr, verbose, log)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, verbose bool, log *slog.Logger) *Progress {
	if log == nil {
		log = slog.Default()
	}
	return &Progress{start: time.Now(), verbose: verbose, w: w, log: log}
}

// NewLogger returns a text logger on w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Log prints a progress message with elapsed time prefix.
func (p *Progress) Log(format string, args ...any) {
	elapsed := time.Since(p.start)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	msg := fmt.Sprintf(format, args...)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%02d:%02d] %s\n", mins, secs, msg)
}

// Verbose prints only when verbose mode is enabled.
func (p *Progress) Verbose(format string, args ...any) {
	if p.verbose {
		p.Log(format, args...)
	}
}

// Logger returns the structured logger for warnings and details that do not
// belong in the phase log.
func (p *Progress) Logger() *slog.Logger { return p.log }

// Count renders n with thousands separators.
func Count[T ~int | ~int64](n T) string { return humanize.Comma(int64(n)) }

// Bytes renders a size in human units.
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

package progress

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogPrefix(t *testing.T) {
	var buf bytes.Buffer
	p := NewWriter(&buf, false, nil)
	p.Log("Reading %s ...", "trace.db")
	p.Verbose("hidden")

	line := strings.TrimSpace(buf.String())
	assert.Regexp(t, regexp.MustCompile(`^\[\d{2}:\d{2}\] Reading trace\.db \.\.\.$`), line)
}

func TestVerbose(t *testing.T) {
	var buf bytes.Buffer
	p := NewWriter(&buf, true, nil)
	p.Verbose("shown %d", 3)
	assert.Contains(t, buf.String(), "shown 3")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1,234,567", Count(1234567))
	assert.Equal(t, "0", Count(int64(0)))
	assert.Equal(t, "2.0 kB", Bytes(2000))
	assert.Equal(t, "0 B", Bytes(-5))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelWarn)
	log.Info("dropped")
	log.Warn("kept", "n", 2)
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept n=2")
}

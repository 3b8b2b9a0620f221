// Package executor runs learner code for the progression engine.
//
// JavaScript and Blockly (which compiles to JavaScript on the client) run
// in-process on goja; Python runs in a python3 subprocess; a remote runner
// speaking the Piston API can take any language. The Dispatcher picks the
// runner per language and implements execution.Runner.
package executor

import (
	"bytes"
	"time"
)

// Runner limits.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	DefaultMaxCodeBytes   = 64 << 10
)

// Config holds executor settings shared by every runner.
type Config struct {
	// Timeout bounds a single run.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout; the rest is dropped.
	MaxOutputBytes int

	// MaxCodeBytes rejects oversized programs before running them.
	MaxCodeBytes int

	// PythonPath is the interpreter used by PythonRunner.
	PythonPath string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
		MaxCodeBytes:   DefaultMaxCodeBytes,
		PythonPath:     "python3",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = d.MaxOutputBytes
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = d.MaxCodeBytes
	}
	if c.PythonPath == "" {
		c.PythonPath = d.PythonPath
	}
	return c
}

// cappedBuffer is an io.Writer that silently stops storing after limit bytes.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) WriteString(s string) {
	_, _ = c.Write([]byte(s))
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}

// Package trigger attributes world-info activations to their causes from
// scan events and the host's world-info debug log.
package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPrefix is the host's world-info debug log prefix.
const DefaultPrefix = "[WI]"

var loopRegex = regexp.MustCompile(`--- LOOP #(\d+) START ---`)

// LogSource is a debug sink the host exposes for subscription.
type LogSource interface {
	Subscribe(fn func(args ...any)) (unsubscribe func())
}

// Line is one captured debug line.
type Line struct {
	Text string    `json:"text"`
	Args []string  `json:"args,omitempty"`
	At   time.Time `json:"at"`
	// Loop is the scan loop announced by the most recent loop marker, 0 if none.
	Loop int `json:"loop,omitempty"`
}

// Capture buffers world-info debug lines for one generation.
type Capture struct {
	mu        sync.Mutex
	prefix    string
	lines     []Line
	loop      int
	capturing bool
	unsub     func()
	now       func() time.Time
}

// NewCapture returns a stopped capture session for lines starting with prefix.
func NewCapture(prefix string) *Capture {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Capture{prefix: prefix, now: time.Now}
}

// Start begins capturing. Subscribing to src happens at most once per
// session; a nil src captures only lines passed to Observe directly.
func (c *Capture) Start(src LogSource) {
	c.mu.Lock()
	c.capturing = true
	subscribed := c.unsub != nil
	c.mu.Unlock()

	if subscribed || src == nil {
		return
	}
	unsub := src.Subscribe(c.Observe)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub != nil {
		// Lost a race with a concurrent Start.
		if unsub != nil {
			unsub()
		}
		return
	}
	if unsub == nil {
		unsub = func() {}
	}
	c.unsub = unsub
}

// Stop ends capturing and restores the source. Safe without Start.
func (c *Capture) Stop() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.capturing = false
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Active reports whether lines are being captured.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Observe is the interceptor callback. Lines without the prefix, or observed
// while stopped, are dropped.
func (c *Capture) Observe(args ...any) {
	if len(args) == 0 {
		return
	}
	var parts []string
	for _, a := range args {
		switch v := a.(type) {
		case string:
			parts = append(parts, v)
		case fmt.Stringer:
			parts = append(parts, v.String())
		case int, int64, float64:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	if len(parts) == 0 || !strings.HasPrefix(strings.TrimSpace(parts[0]), c.prefix) {
		return
	}
	text := strings.TrimSpace(strings.Join(parts, " "))

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.capturing {
		return
	}
	if m := loopRegex.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			c.loop = n
		}
	}
	c.lines = append(c.lines, Line{Text: text, Args: parts, At: c.now(), Loop: c.loop})
}

// Lines returns a copy of the buffer.
func (c *Capture) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Reset clears the buffer at a loop boundary.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// ResetAll clears the buffer and the log-derived loop counter.
func (c *Capture) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.loop = 0
}

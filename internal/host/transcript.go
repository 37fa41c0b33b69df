package host

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLine bounds one transcript record; full prompts can be large.
const maxLine = 16 << 20

// Record is one decoded transcript line.
type Record struct {
	Line  int
	Event Event
}

// Transcript reads newline-delimited event envelopes. Blank lines and lines
// starting with '#' are skipped.
type Transcript struct {
	sc   *bufio.Scanner
	line int
	rec  Record
	err  error
}

// NewTranscript returns a reader over r.
func NewTranscript(r io.Reader) *Transcript {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Transcript{sc: sc}
}

// Next advances to the next record. It returns false at EOF or on the
// first error, which Err then reports.
func (t *Transcript) Next() bool {
	if t.err != nil {
		return false
	}
	for t.sc.Scan() {
		t.line++
		b := bytes.TrimSpace(t.sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.err = fmt.Errorf("line %d: %w", t.line, err)
			return false
		}
		if env.Event == "" {
			t.err = fmt.Errorf("line %d: missing event name", t.line)
			return false
		}
		ev, err := Decode(env)
		if err != nil {
			t.err = fmt.Errorf("line %d: %w", t.line, err)
			return false
		}
		t.rec = Record{Line: t.line, Event: ev}
		return true
	}
	if err := t.sc.Err(); err != nil {
		t.err = fmt.Errorf("read transcript: %w", err)
	}
	return false
}

// Record returns the current record.
func (t *Transcript) Record() Record { return t.rec }

// Err returns the first error encountered.
func (t *Transcript) Err() error { return t.err }

// Encode renders ev as one transcript line.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

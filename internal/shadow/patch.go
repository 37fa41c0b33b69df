package shadow

import (
	"sync"

	"github.com/rcliao/promptscope/internal/marker"
)

// Target is a host-owned value that can be temporarily replaced.
type Target interface {
	Identifier() string
	Value() string
	SetValue(string)
}

// Scope holds patched targets until Release restores them.
type Scope struct {
	once     sync.Once
	targets  []Target
	original []string
}

// Patch wraps every target's value in its marker and records the original in
// the store. The caller must Release the scope on every exit path.
func (s *Store) Patch(targets ...Target) *Scope {
	sc := &Scope{}
	for _, t := range targets {
		orig := t.Value()
		e := s.Record(t.Identifier(), orig, "", "")
		if e.Wrapped == "" {
			continue
		}
		sc.targets = append(sc.targets, t)
		sc.original = append(sc.original, orig)
		t.SetValue(marker.Wrap(e.Tag, orig))
	}
	return sc
}

// Release restores every patched target. Only the first call has effect.
func (sc *Scope) Release() {
	if sc == nil {
		return
	}
	sc.once.Do(func() {
		for i := len(sc.targets) - 1; i >= 0; i-- {
			sc.targets[i].SetValue(sc.original[i])
		}
	})
}

// Len returns the number of targets that were patched.
func (sc *Scope) Len() int {
	if sc == nil {
		return 0
	}
	return len(sc.targets)
}

// WithPatched runs fn with the targets patched and restores them on return,
// error or panic.
func (s *Store) WithPatched(targets []Target, fn func() error) error {
	sc := s.Patch(targets...)
	defer sc.Release()
	return fn()
}

// StringTarget is a Target over a plain string field.
type StringTarget struct {
	ID  string
	Ptr *string
}

func (t StringTarget) Identifier() string { return t.ID }
func (t StringTarget) Value() string      { return *t.Ptr }
func (t StringTarget) SetValue(v string)  { *t.Ptr = v }

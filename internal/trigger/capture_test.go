package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeSource is a debug sink with explicit subscription.
type fakeSource struct {
	subs       map[int]func(args ...any)
	next       int
	subscribed int
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[int]func(args ...any))}
}

func (f *fakeSource) Subscribe(fn func(args ...any)) func() {
	id := f.next
	f.next++
	f.subscribed++
	f.subs[id] = fn
	return func() { delete(f.subs, id) }
}

func (f *fakeSource) Emit(args ...any) {
	for _, fn := range f.subs {
		fn(args...)
	}
}

func TestCapture_StartIsIdempotent(t *testing.T) {
	src := newFakeSource()
	c := NewCapture("")
	c.Start(src)
	c.Start(src)

	assert.Equal(t, 1, src.subscribed)
	src.Emit("[WI] Entry 1 activated because of constant")
	assert.Len(t, c.Lines(), 1)
}

func TestCapture_StopRestoresSource(t *testing.T) {
	src := newFakeSource()
	c := NewCapture("")
	c.Start(src)
	c.Stop()

	assert.Empty(t, src.subs)
	src.Emit("[WI] Entry 1 activated because of constant")
	assert.Empty(t, c.Lines())
	assert.False(t, c.Active())
}

func TestCapture_StopWithoutStart(t *testing.T) {
	c := NewCapture("")
	assert.NotPanics(t, c.Stop)
}

func TestCapture_FiltersPrefix(t *testing.T) {
	src := newFakeSource()
	c := NewCapture("[WI]")
	c.Start(src)

	src.Emit("[WI] Entry 3", "from 'Lore' processing", map[string]any{"uid": 3})
	src.Emit("[TTS] unrelated")
	src.Emit(42)
	src.Emit()

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "[WI] Entry 3 from 'Lore' processing", lines[0].Text)
	assert.False(t, lines[0].At.IsZero())
}

func TestCapture_TracksLoopMarkers(t *testing.T) {
	src := newFakeSource()
	c := NewCapture("")
	c.Start(src)

	src.Emit("[WI] Entry 1 activated because of constant")
	src.Emit("[WI] --- LOOP #2 START ---")
	src.Emit("[WI] Entry 2 activated by primary key match sword")

	lines := c.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, 0, lines[0].Loop)
	assert.Equal(t, 2, lines[1].Loop)
	assert.Equal(t, 2, lines[2].Loop)

	c.Reset()
	assert.Empty(t, c.Lines())
}

func TestCaptureCore_TeesZapEntries(t *testing.T) {
	c := NewCapture("")
	c.Start(nil)

	obsCore, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(obsCore, NewCaptureCore(c)))

	logger.Debug("[WI] Entry 7 activated by primary key match dragon")
	logger.Debug("unrelated message")
	logger.With(zap.String("world", "Lore")).Debug("[WI] Entry 8 externally activated")

	assert.Equal(t, 3, logs.Len())
	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "[WI] Entry 7 activated by primary key match dragon", lines[0].Text)
	assert.Equal(t, "[WI] Entry 8 externally activated Lore", lines[1].Text)
}

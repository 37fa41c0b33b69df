package trigger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// captureCore feeds debug entries whose message carries the capture prefix
// into a Capture. Tee it with the host's own core.
type captureCore struct {
	zapcore.LevelEnabler
	capture *Capture
	fields  []zapcore.Field
}

// NewCaptureCore returns a zap core that forwards prefixed entries to c.
func NewCaptureCore(c *Capture) zapcore.Core {
	return &captureCore{LevelEnabler: zapcore.DebugLevel, capture: c}
}

func (cc *captureCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *cc
	clone.fields = append(append([]zapcore.Field(nil), cc.fields...), fields...)
	return &clone
}

func (cc *captureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if cc.Enabled(ent.Level) && strings.HasPrefix(strings.TrimSpace(ent.Message), cc.capture.prefix) {
		return ce.AddCore(ent, cc)
	}
	return ce
}

func (cc *captureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	args := []any{ent.Message}
	for _, f := range append(append([]zapcore.Field(nil), cc.fields...), fields...) {
		if f.Type == zapcore.StringType {
			args = append(args, f.String)
		}
	}
	cc.capture.Observe(args...)
	return nil
}

func (cc *captureCore) Sync() error { return nil }

package inspector

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/host"
	"github.com/rcliao/promptscope/internal/model"
)

// Dispatch routes one event to its handler. Only prompt-ready events
// produce a report.
func (i *Inspector) Dispatch(ctx context.Context, ev host.Event) (*model.Report, error) {
	switch e := ev.(type) {
	case host.GenerationStarted:
		return nil, i.OnGenerationStarted(e)
	case host.ScanDone:
		_, err := i.OnScanDone(e)
		return nil, err
	case host.PromptFragment:
		i.OnPromptFragment(e)
		return nil, nil
	case host.DebugLine:
		i.OnDebug(e)
		return nil, nil
	case host.KnownPrompts:
		return nil, i.OnKnownPrompts(e)
	case host.VectorSearch:
		return nil, i.OnVectorSearch(e)
	case host.ChatPromptReady:
		return i.OnChatPromptReady(ctx, e)
	case host.RawPromptReady:
		return i.OnRawPromptReady(ctx, e)
	case host.GenerationEnded:
		return nil, i.OnGenerationEnded()
	}
	return nil, fmt.Errorf("unsupported event %T", ev)
}

// Replay feeds a recorded transcript through the inspector and returns the
// reports in order. Handler errors are logged and skipped so one bad
// generation does not hide the rest; transcript read errors stop the replay.
func (i *Inspector) Replay(ctx context.Context, r io.Reader) ([]*model.Report, error) {
	var reports []*model.Report
	tr := host.NewTranscript(r)
	for tr.Next() {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rec := tr.Record()
		rep, err := i.Dispatch(ctx, rec.Event)
		if err != nil {
			i.logger.Warn("event failed", zap.Int("line", rec.Line), zap.String("event", rec.Event.EventName()), zap.Error(err))
			continue
		}
		if rep != nil {
			reports = append(reports, rep)
		}
	}
	if err := tr.Err(); err != nil {
		return reports, err
	}
	// A transcript that stops mid-generation still gets cleanup.
	if err := i.OnGenerationEnded(); err != nil {
		return reports, err
	}
	return reports, nil
}

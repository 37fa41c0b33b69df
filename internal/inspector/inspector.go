// Package inspector owns the per-generation session and dispatches host
// lifecycle events to the capture, classification and itemization engines.
package inspector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/host"
	"github.com/rcliao/promptscope/internal/itemize"
	"github.com/rcliao/promptscope/internal/logging"
	"github.com/rcliao/promptscope/internal/matcher"
	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/recursion"
	"github.com/rcliao/promptscope/internal/shadow"
	"github.com/rcliao/promptscope/internal/tokenizer"
	"github.com/rcliao/promptscope/internal/trigger"
)

// Options configures an Inspector. Zero values are usable.
type Options struct {
	Matcher *matcher.Matcher
	Counter tokenizer.Counter
	Logger  *zap.Logger
	// Prefix selects world-info debug lines; empty uses "[WI]".
	Prefix string
	// Source is the host's debug sink. Nil captures only OnDebug lines.
	Source trigger.LogSource
	Hook   HookOptions
	// OnReport is called with every report built, outside the lock.
	OnReport func(*model.Report)
}

// Inspector processes one host's lifecycle events. Event handlers are
// serialized and never panic into the host.
type Inspector struct {
	mu        sync.Mutex
	opts      Options
	logger    *zap.Logger
	matcher   *matcher.Matcher
	capture   *trigger.Capture
	assembler *itemize.Assembler
	gen       *Generation
	// dryRun is set between a dry-run start and its prompt-ready event.
	dryRun bool
	last   *model.Report
	now    func() time.Time
}

// New returns an idle inspector.
func New(opts Options) *Inspector {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Matcher == nil {
		opts.Matcher = matcher.New(matcher.Options{})
	}
	return &Inspector{
		opts:      opts,
		logger:    opts.Logger,
		matcher:   opts.Matcher,
		capture:   trigger.NewCapture(opts.Prefix),
		assembler: itemize.NewAssembler(opts.Counter, opts.Logger),
		now:       time.Now,
	}
}

// HostLogger wraps logger so prefixed entries it writes are captured.
func (i *Inspector) HostLogger(logger *zap.Logger) *zap.Logger {
	return logging.Tee(logger, trigger.NewCaptureCore(i.capture))
}

// Generation returns the current session, nil between generations.
func (i *Inspector) Generation() *Generation {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gen
}

// LastReport returns the most recent report.
func (i *Inspector) LastReport() *model.Report {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last
}

// guard runs fn under the lock and turns a panic into an error.
func (i *Inspector) guard(event string, fn func() error) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("recovered panic in event handler", zap.String("event", event), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%s: panic: %v", event, r)
		}
	}()
	return fn()
}

// OnGenerationStarted discards any previous session and starts a new one.
// A dry-run start leaves the current session untouched.
func (i *Inspector) OnGenerationStarted(ev host.GenerationStarted) error {
	return i.guard(host.EventGenerationStarted, func() error {
		if ev.DryRun {
			i.dryRun = true
			i.logger.Debug("dry run generation, not capturing", zap.String("type", ev.Type))
			return nil
		}
		i.dryRun = false
		if i.gen != nil {
			i.gen.end()
		}
		i.gen = newGeneration(ev, i.capture, i.logger)
		i.gen.classifier.Begin(i.opts.Source)
		i.logger.Debug("generation started", zap.String("id", i.gen.ID), zap.String("type", ev.Type))
		return nil
	})
}

// OnScanDone classifies the loop's activations.
func (i *Inspector) OnScanDone(ev host.ScanDone) ([]model.TriggerRecord, error) {
	var out []model.TriggerRecord
	err := i.guard(host.EventScanDone, func() error {
		g := i.gen
		if i.dryRun {
			// Log lines of the dry-run scan must not reach the real session.
			i.capture.Reset()
			i.logger.Debug("scan done inside a dry run, ignored")
			return nil
		}
		if g == nil {
			i.logger.Debug("scan done outside a generation, ignored")
			return nil
		}
		var timed trigger.TimedEffects
		if ev.Timed != nil {
			timed = ev.Timed
		}
		out = g.classifier.ScanDone(trigger.ScanEvent{
			LoopCount: ev.State.LoopCount,
			Next:      ev.State.Next,
			Activated: ev.Activated,
			Timed:     timed,
		})
		g.track(ev.Activated)
		return nil
	})
	return out, err
}

// OnPromptFragment shadow-records a fragment. The returned content is
// always the fragment's own content.
func (i *Inspector) OnPromptFragment(f host.PromptFragment) string {
	_ = i.guard(host.EventPromptFragment, func() error {
		if i.gen == nil || i.dryRun {
			return nil
		}
		sources := f.MacroSources
		if len(sources) == 0 && f.Raw != "" {
			sources = itemize.MacroSources(f.Raw)
		}
		meta := &model.SectionMeta{SystemPrompt: f.SystemPrompt, Marker: f.Marker, MacroSources: sources}
		i.gen.shadow.RecordWithMeta(f.Identifier, f.Content, f.Role, f.Name, meta)
		return nil
	})
	return f.Content
}

// OnDebug feeds one host debug call to the capture.
func (i *Inspector) OnDebug(ev host.DebugLine) {
	i.capture.Observe(ev.Args...)
}

// OnKnownPrompts stores the depth-injected prompts of this generation.
func (i *Inspector) OnKnownPrompts(ev host.KnownPrompts) error {
	return i.guard(host.EventKnownPrompts, func() error {
		if i.gen != nil && !i.dryRun {
			i.gen.Known = ev.KnownPrompts
		}
		return nil
	})
}

// OnVectorSearch stores the RAG plugin's last search.
func (i *Inspector) OnVectorSearch(ev host.VectorSearch) error {
	return i.guard(host.EventVectorSearch, func() error {
		if i.gen != nil && !i.dryRun {
			vs := ev.VectorSearch
			i.gen.Vector = &vs
		}
		return nil
	})
}

// OnChatPromptReady itemizes the final chat prompt. Dry runs return nil.
func (i *Inspector) OnChatPromptReady(ctx context.Context, ev host.ChatPromptReady) (*model.Report, error) {
	return i.promptReady(ctx, host.EventChatPromptReady, ev.DryRun, func(in itemize.Input) (*model.Itemization, error) {
		return i.assembler.AssembleChat(ctx, in, ev.Chat)
	})
}

// OnRawPromptReady itemizes the final text prompt. Dry runs return nil.
func (i *Inspector) OnRawPromptReady(ctx context.Context, ev host.RawPromptReady) (*model.Report, error) {
	return i.promptReady(ctx, host.EventRawPromptReady, ev.DryRun, func(in itemize.Input) (*model.Itemization, error) {
		return i.assembler.AssembleRaw(ctx, in, ev.Prompt)
	})
}

func (i *Inspector) promptReady(ctx context.Context, event string, dryRun bool, assemble func(itemize.Input) (*model.Itemization, error)) (*model.Report, error) {
	var rep *model.Report
	err := i.guard(event, func() error {
		if dryRun || (i.dryRun && i.gen == nil) {
			// The dry run's prompt closes it.
			i.dryRun = false
			return nil
		}
		// An unflagged prompt during a dry run belongs to the real session.
		i.dryRun = false
		g := i.gen
		if g == nil {
			// Hosts that skip generation_started still get an itemization.
			g = newGeneration(host.GenerationStarted{}, i.capture, i.logger)
			i.gen = g
		}
		it, err := assemble(g.input())
		if err != nil {
			return fmt.Errorf("itemize: %w", err)
		}
		rep = i.buildReport(g, it)
		i.last = rep
		return nil
	})
	if rep != nil && i.opts.OnReport != nil {
		i.opts.OnReport(rep)
	}
	return rep, err
}

func (i *Inspector) buildReport(g *Generation, it *model.Itemization) *model.Report {
	graph := g.graph(i.matcher)
	records := g.classifier.Records()
	trigger.SortByLevel(records)
	now := i.now()
	return &model.Report{
		ID:           ulid.Make().String(),
		CreatedAt:    now,
		Itemization:  it,
		Summary:      itemize.Summarize(it),
		Triggers:     records,
		Edges:        graph.Edges,
		HasRecursion: graph.HasRecursion,
	}
}

// OnGenerationEnded releases patch scopes and stops capture. Safe without
// a started generation.
func (i *Inspector) OnGenerationEnded() error {
	return i.guard(host.EventGenerationEnded, func() error {
		i.dryRun = false
		if i.gen != nil {
			i.gen.end()
			i.gen = nil
			return nil
		}
		i.capture.Stop()
		return nil
	})
}

// Patch applies markers to host-owned values for the current generation.
// The scope is released at generation end at the latest.
func (i *Inspector) Patch(targets ...shadow.Target) *shadow.Scope {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.gen == nil {
		return nil
	}
	scope := i.gen.shadow.Patch(targets...)
	i.gen.scopes = append(i.gen.scopes, scope)
	return scope
}

// Graph rebuilds the recursion graph of the current generation.
func (i *Inspector) Graph() recursion.Graph {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.gen == nil {
		return recursion.Graph{}
	}
	return i.gen.graph(i.matcher)
}

// Recalculate recounts the last report with counter and refreshes its
// category summary.
func (i *Inspector) Recalculate(ctx context.Context, counter tokenizer.Counter) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.last == nil || i.last.Itemization == nil {
		return nil
	}
	if err := itemize.Recalculate(ctx, i.last.Itemization, counter); err != nil {
		return err
	}
	i.last.Summary = itemize.Summarize(i.last.Itemization)
	return nil
}

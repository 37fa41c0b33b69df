package inspector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/host"
	"github.com/rcliao/promptscope/internal/itemize"
	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/shadow"
	"github.com/rcliao/promptscope/internal/trigger"
)

func TestMain(m *testing.M) {
	// regexp2 runs a shared clock goroutine once a MatchTimeout is set.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock"))
}

type fakeSource struct {
	mu   sync.Mutex
	subs map[int]func(args ...any)
	next int
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[int]func(args ...any))}
}

func (f *fakeSource) Subscribe(fn func(args ...any)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSource) Emit(args ...any) {
	f.mu.Lock()
	subs := make([]func(args ...any), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(args...)
	}
}

func (f *fakeSource) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

var (
	entryA = model.Entry{UID: 1, World: "Lore", Comment: "Sword", Key: []string{"legend"}, Content: "The sword of fire is legendary"}
	entryB = model.Entry{UID: 2, World: "Lore", Comment: "Ash", Key: []string{"sword of fire"}, Content: "A dragon named Ash."}
)

func runGeneration(t *testing.T, insp *Inspector, src *fakeSource) *model.Report {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{Type: "normal"}))

	got := insp.OnPromptFragment(host.PromptFragment{Identifier: "main", Content: "Be helpful.", Role: "system", SystemPrompt: true})
	assert.Equal(t, "Be helpful.", got)

	_, err := insp.OnScanDone(host.ScanDone{State: host.ScanState{LoopCount: 1, Next: 1}, Activated: []model.Entry{entryA}})
	require.NoError(t, err)

	src.Emit("[WI] --- LOOP #2 START ---")
	src.Emit("[WI] Entry 2 activated by primary key match sword of fire")
	_, err = insp.OnScanDone(host.ScanDone{State: host.ScanState{LoopCount: 2, Next: 0}, Activated: []model.Entry{entryB}})
	require.NoError(t, err)

	rep, err := insp.OnChatPromptReady(ctx, host.ChatPromptReady{Chat: []model.Message{
		{Role: "system", Content: "Be helpful.\nThe sword of fire is legendary\nA dragon named Ash."},
		{Role: "user", Content: "Tell me about the sword."},
	}})
	require.NoError(t, err)
	require.NotNil(t, rep)
	return rep
}

func TestInspector_Lifecycle(t *testing.T) {
	src := newFakeSource()
	insp := New(Options{Source: src})
	rep := runGeneration(t, insp, src)

	assert.NotEmpty(t, rep.ID)
	it := rep.Itemization
	require.NoError(t, it.Validate())
	assert.Len(t, it.WorldInfoSections(), 2)

	var tags []string
	for _, s := range it.Sections {
		tags = append(tags, s.Tag)
	}
	assert.Equal(t, []string{itemize.TagMain, itemize.TagChatHistory, itemize.TagWIBefore, itemize.TagWIBefore}, tags)
	main := it.Sections[0]
	require.NotNil(t, main.Meta)
	assert.True(t, main.Meta.SystemPrompt)
	assert.Equal(t, model.CategorySystemPrompts, itemize.Categorize(main))

	require.Len(t, rep.Triggers, 2)
	assert.Equal(t, 1, rep.Triggers[0].UID)
	assert.Equal(t, model.ReasonKeyMatch, rep.Triggers[0].Reason)
	assert.False(t, rep.Triggers[0].Confident)
	assert.Equal(t, 2, rep.Triggers[1].UID)
	assert.Equal(t, model.ReasonPrimaryKeyMatch, rep.Triggers[1].Reason)
	assert.Equal(t, "sword of fire", rep.Triggers[1].MatchedKeyword)
	assert.Equal(t, 1, rep.Triggers[1].RecursionLevel)

	require.Len(t, rep.Edges, 1)
	assert.Equal(t, model.RecursionEdge{SourceUID: 1, TargetUID: 2, MatchedKey: "sword of fire", SourceLevel: 0, TargetLevel: 1}, rep.Edges[0])
	assert.True(t, rep.HasRecursion)
	assert.Equal(t, it.TotalMarkedTokens, sumSummary(rep.Summary))

	assert.Same(t, rep, insp.LastReport())
	assert.Equal(t, 1, src.Len())
	require.NoError(t, insp.OnGenerationEnded())
	assert.Equal(t, 0, src.Len(), "capture unsubscribed")
	assert.Nil(t, insp.Generation())
}

func sumSummary(sum map[model.Category]model.CategorySummary) int {
	n := 0
	for _, c := range sum {
		n += c.Tokens
	}
	return n
}

func TestInspector_NewGenerationResetsState(t *testing.T) {
	src := newFakeSource()
	insp := New(Options{Source: src})
	runGeneration(t, insp, src)

	// No generation_ended in between.
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	g := insp.Generation()
	require.NotNil(t, g)
	assert.Empty(t, g.Records())
	assert.Empty(t, g.Entries())
	assert.Equal(t, 1, src.Len(), "no double subscription")

	rep, err := insp.OnRawPromptReady(context.Background(), host.RawPromptReady{Prompt: "Be helpful."})
	require.NoError(t, err)
	assert.Empty(t, rep.Itemization.WorldInfoSections())
	assert.Empty(t, rep.Triggers)
	assert.False(t, rep.HasRecursion)
	require.NoError(t, insp.OnGenerationEnded())
}

func TestInspector_DryRun(t *testing.T) {
	insp := New(Options{})
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{DryRun: true}))
	rep, err := insp.OnChatPromptReady(context.Background(), host.ChatPromptReady{Chat: []model.Message{{Content: "x"}}})
	require.NoError(t, err)
	assert.Nil(t, rep)

	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	rep, err = insp.OnRawPromptReady(context.Background(), host.RawPromptReady{Prompt: "x", DryRun: true})
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Nil(t, insp.LastReport())
}

func TestInspector_DryRunDuringGeneration(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	insp := New(Options{Source: src})
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{Type: "normal"}))
	insp.OnPromptFragment(host.PromptFragment{Identifier: "main", Content: "Be helpful.", Role: "system", SystemPrompt: true})
	_, err := insp.OnScanDone(host.ScanDone{State: host.ScanState{LoopCount: 1, Next: 0}, Activated: []model.Entry{entryA}})
	require.NoError(t, err)
	g := insp.Generation()

	// Everything between the dry start and its prompt stays out of the session.
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{Type: "quiet", DryRun: true}))
	assert.Same(t, g, insp.Generation())
	insp.OnPromptFragment(host.PromptFragment{Identifier: "main", Content: "Dry main.", Role: "system"})
	src.Emit("[WI] Entry 2 activated by primary key match sword of fire")
	recs, err := insp.OnScanDone(host.ScanDone{State: host.ScanState{LoopCount: 1}, Activated: []model.Entry{entryB}})
	require.NoError(t, err)
	assert.Empty(t, recs)
	rep, err := insp.OnChatPromptReady(ctx, host.ChatPromptReady{Chat: []model.Message{{Content: "dry"}}, DryRun: true})
	require.NoError(t, err)
	assert.Nil(t, rep)

	rep, err = insp.OnChatPromptReady(ctx, host.ChatPromptReady{Chat: []model.Message{
		{Role: "system", Content: "Be helpful.\nThe sword of fire is legendary"},
		{Role: "user", Content: "Tell me about the sword."},
	}})
	require.NoError(t, err)
	require.NotNil(t, rep)

	wi := rep.Itemization.WorldInfoSections()
	require.Len(t, wi, 1)
	require.NotNil(t, wi[0].UID)
	assert.Equal(t, 1, *wi[0].UID)
	require.Len(t, rep.Triggers, 1)
	assert.Equal(t, 1, rep.Triggers[0].UID)
	main := rep.Itemization.Sections[0]
	assert.Equal(t, itemize.TagMain, main.Tag)
	require.NotNil(t, main.Meta)
	assert.True(t, main.Meta.SystemPrompt)
	require.NoError(t, insp.OnGenerationEnded())
}

func TestInspector_DryStartThenRealPrompt(t *testing.T) {
	insp := New(Options{})
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{Type: "normal"}))
	_, err := insp.OnScanDone(host.ScanDone{State: host.ScanState{LoopCount: 1, Next: 0}, Activated: []model.Entry{entryA}})
	require.NoError(t, err)
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{DryRun: true}))

	rep, err := insp.OnChatPromptReady(context.Background(), host.ChatPromptReady{Chat: []model.Message{
		{Role: "system", Content: "The sword of fire is legendary"},
	}})
	require.NoError(t, err)
	require.NotNil(t, rep)
	wi := rep.Itemization.WorldInfoSections()
	require.Len(t, wi, 1)
	assert.Equal(t, 1, *wi[0].UID)
}

func TestInspector_EndWithoutStart(t *testing.T) {
	insp := New(Options{})
	assert.NoError(t, insp.OnGenerationEnded())
	assert.NoError(t, insp.OnGenerationEnded())
	recs, err := insp.OnScanDone(host.ScanDone{Activated: []model.Entry{entryA}})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestInspector_ConstantWithoutLog(t *testing.T) {
	insp := New(Options{})
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	recs, err := insp.OnScanDone(host.ScanDone{
		State:     host.ScanState{LoopCount: 1},
		Activated: []model.Entry{{UID: 9, Constant: true, Key: []string{"x"}}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonConstant, recs[0].Reason)
	assert.True(t, recs[0].Confident)
	assert.Equal(t, trigger.StateIdle, insp.Generation().State())
}

func TestInspector_StickyTimedEffect(t *testing.T) {
	insp := New(Options{})
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	recs, err := insp.OnScanDone(host.ScanDone{
		State:     host.ScanState{LoopCount: 1},
		Activated: []model.Entry{{UID: 4, Key: []string{"x"}}},
		Timed:     host.TimedEffects{"sticky": {4}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonSticky, recs[0].Reason)
}

func TestInspector_HostLoggerFeedsCapture(t *testing.T) {
	insp := New(Options{})
	hostLog := insp.HostLogger(zap.NewNop())
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))

	hostLog.Debug("[WI] Entry 3 activated because of constant")
	hostLog.Info("unrelated")
	recs, err := insp.OnScanDone(host.ScanDone{State: host.ScanState{LoopCount: 1}, Activated: []model.Entry{{UID: 3}}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonConstant, recs[0].Reason)
	assert.True(t, recs[0].Confident)
}

type panicSource struct{}

func (panicSource) Subscribe(func(args ...any)) func() { panic("sink exploded") }

func TestInspector_RecoversPanics(t *testing.T) {
	insp := New(Options{Source: panicSource{}})
	err := insp.OnGenerationStarted(host.GenerationStarted{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink exploded")

	// The inspector stays usable.
	assert.NoError(t, insp.OnGenerationEnded())
}

type panicCounter struct{}

func (panicCounter) Name() string { return "panics" }
func (panicCounter) Count(context.Context, string) (int, error) {
	panic("tokenizer bug")
}

func TestInspector_CounterPanicDegrades(t *testing.T) {
	insp := New(Options{Counter: panicCounter{}})
	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	_, err := insp.OnRawPromptReady(context.Background(), host.RawPromptReady{Prompt: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	require.NoError(t, insp.OnGenerationEnded())
}

func TestInspector_PatchReleasedAtEnd(t *testing.T) {
	insp := New(Options{})
	assert.Nil(t, insp.Patch())

	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	value := "A brave knight."
	scope := insp.Patch(shadow.StringTarget{ID: "charDescription", Ptr: &value})
	require.Equal(t, 1, scope.Len())
	assert.Equal(t, "<<CHAR_DESC>>A brave knight.<</CHAR_DESC>>", value)

	require.NoError(t, insp.OnGenerationEnded())
	assert.Equal(t, "A brave knight.", value)
}

func TestInspector_Recalculate(t *testing.T) {
	src := newFakeSource()
	insp := New(Options{Source: src})
	rep := runGeneration(t, insp, src)
	before := rep.Itemization.TotalMarkedTokens

	require.NoError(t, insp.Recalculate(context.Background(), wordCounter{}))
	assert.True(t, rep.Itemization.Overridden())
	assert.Equal(t, rep.Itemization.TotalMarkedTokens, sumSummary(rep.Summary))

	require.NoError(t, insp.Recalculate(context.Background(), insp.assembler.Counter()))
	assert.Equal(t, before, rep.Itemization.TotalMarkedTokens)
	require.NoError(t, insp.OnGenerationEnded())
}

type wordCounter struct{}

func (wordCounter) Name() string { return "words" }
func (wordCounter) Count(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type flakyRegistry struct {
	failures int
	calls    int
	hook     FragmentHook
}

func (r *flakyRegistry) RegisterFragmentHook(fn FragmentHook) error {
	r.calls++
	if r.calls <= r.failures {
		return ErrHookUnavailable
	}
	r.hook = fn
	return nil
}

func TestAttach_RetriesWithBackoff(t *testing.T) {
	insp := New(Options{Hook: HookOptions{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}})
	reg := &flakyRegistry{failures: 2}
	require.NoError(t, insp.Attach(context.Background(), reg))
	assert.Equal(t, 3, reg.calls)
	require.NotNil(t, reg.hook)

	require.NoError(t, insp.OnGenerationStarted(host.GenerationStarted{}))
	assert.Equal(t, "Scenario text", reg.hook(host.PromptFragment{Identifier: "scenario", Content: "Scenario text"}))
	rep, err := insp.OnRawPromptReady(context.Background(), host.RawPromptReady{Prompt: "Scenario text"})
	require.NoError(t, err)
	require.Len(t, rep.Itemization.Sections, 1)
	assert.Equal(t, itemize.TagScenario, rep.Itemization.Sections[0].Tag)
	require.NoError(t, insp.OnGenerationEnded())
}

func TestAttach_GivesUp(t *testing.T) {
	insp := New(Options{Hook: HookOptions{MaxAttempts: 3, InitialDelay: time.Millisecond}})
	reg := &flakyRegistry{failures: 10}
	err := insp.Attach(context.Background(), reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHookUnavailable))
	assert.Equal(t, 3, reg.calls)
}

func TestAttach_ContextCancelled(t *testing.T) {
	insp := New(Options{Hook: HookOptions{MaxAttempts: 3, InitialDelay: time.Hour}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := insp.Attach(ctx, &flakyRegistry{failures: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

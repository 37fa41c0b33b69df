package itemize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/shadow"
	"github.com/rcliao/promptscope/internal/tokenizer"
)

func TestMain(m *testing.M) {
	// regexp2 runs a shared clock goroutine once a MatchTimeout is set.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock"))
}

type wordCounter struct{}

func (wordCounter) Name() string { return "words" }
func (wordCounter) Count(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type charCounter struct{}

func (charCounter) Name() string { return "chars" }
func (charCounter) Count(_ context.Context, text string) (int, error) {
	return utf8.RuneCountInString(text), nil
}

type failingCounter struct{ err error }

func (f failingCounter) Name() string { return "broken" }
func (f failingCounter) Count(context.Context, string) (int, error) {
	return 0, f.err
}

// flakyCounter counts words but fails on texts containing bad.
type flakyCounter struct{ bad string }

func (flakyCounter) Name() string { return "flaky" }
func (f flakyCounter) Count(ctx context.Context, text string) (int, error) {
	if strings.Contains(text, f.bad) {
		return 0, errors.New("unavailable")
	}
	return wordCounter{}.Count(ctx, text)
}

func assemble(t *testing.T, in Input, msgs ...model.Message) *model.Itemization {
	t.Helper()
	it, err := NewAssembler(wordCounter{}, nil).AssembleChat(context.Background(), in, msgs)
	require.NoError(t, err)
	require.NoError(t, it.Validate())
	return it
}

func byTag(it *model.Itemization, tag string) []model.Section {
	var out []model.Section
	for _, s := range it.Sections {
		if s.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}

func TestAssembleChat_MarkedSections(t *testing.T) {
	it := assemble(t, Input{},
		model.Message{Role: "system", Content: "<<MAIN>>Be helpful.<</MAIN>>\n<<CHAR_DESC>>A brave knight.<</CHAR_DESC>>"},
		model.Message{Role: "user", Content: "hello there"},
	)

	require.Len(t, it.Sections, 3)
	assert.Equal(t, TagMain, it.Sections[0].Tag)
	assert.Equal(t, "Main Prompt", it.Sections[0].Name)
	assert.Equal(t, "Be helpful.", it.Sections[0].Content)
	assert.Equal(t, 2, it.Sections[0].Tokens)
	assert.Equal(t, "system", it.Sections[0].Role)

	assert.Equal(t, TagCharDesc, it.Sections[1].Tag)
	assert.Equal(t, 3, it.Sections[1].Tokens)

	assert.Equal(t, TagChatHistory, it.Sections[2].Tag)
	assert.Equal(t, "hello there", it.Sections[2].Content)
	assert.Equal(t, "user", it.Sections[2].Role)

	assert.Equal(t, 7, it.TotalMarkedTokens)
	assert.Equal(t, "words", it.Tokenizer)
}

func TestAssembleChat_RedundantNestedWorldInfo(t *testing.T) {
	in := Input{Entries: []model.Entry{
		{UID: 1, World: "Lore", Comment: "Dragons", Content: "lore text", Position: model.PositionBefore},
	}}
	it := assemble(t, in, model.Message{
		Role:    "system",
		Content: "<<CHAT_HISTORY>>hello <<WI_BEFORE>>lore text<</WI_BEFORE>> bye<</CHAT_HISTORY>>",
	})

	wi := it.WorldInfoSections()
	require.Len(t, wi, 1)
	assert.Equal(t, "Lore: Dragons", wi[0].Name)
	assert.Equal(t, TagWIBefore, wi[0].Tag)
	require.NotNil(t, wi[0].UID)
	assert.Equal(t, 1, *wi[0].UID)

	n := 0
	for _, s := range it.Sections {
		n += strings.Count(s.Content, "lore text")
	}
	assert.Equal(t, 1, n, "lore counted once")

	history := byTag(it, TagChatHistory)
	require.Len(t, history, 1)
	assert.Equal(t, "hello  bye", history[0].Content)
}

func TestAssembleChat_NoEntries(t *testing.T) {
	it := assemble(t, Input{}, model.Message{Role: "system", Content: "<<MAIN>>Be helpful.<</MAIN>>"})

	assert.Empty(t, it.WorldInfoSections())
	sum := Summarize(it)
	_, ok := sum[model.CategoryWorldInfo]
	assert.False(t, ok)
	assert.Equal(t, 2, sum[model.CategorySystemPrompts].Tokens)
}

func TestAssembleChat_EmptyPrompt(t *testing.T) {
	it := assemble(t, Input{})
	assert.Empty(t, it.Sections)
	assert.Equal(t, 0, it.TotalMarkedTokens)
}

func TestAssembleChat_SkipsEmptyEntries(t *testing.T) {
	in := Input{Entries: []model.Entry{
		{UID: 1, Content: "   "},
		{UID: 2, Content: "real lore", Position: model.PositionAtDepth},
		{UID: 2, Content: "real lore", Position: model.PositionAtDepth},
	}}
	it := assemble(t, in)
	wi := it.WorldInfoSections()
	require.Len(t, wi, 1)
	assert.Equal(t, "WI_DEPTH", wi[0].Tag)
	assert.True(t, wi[0].IsDepthInjected)
}

func TestAssembleChat_TrackedContentStrippedFromResidue(t *testing.T) {
	in := Input{Entries: []model.Entry{{UID: 3, Content: "The moon is red."}}}
	it := assemble(t, in, model.Message{Role: "system", Content: "Intro. The moon is red. Outro."})

	history := byTag(it, TagChatHistory)
	require.Len(t, history, 1)
	assert.NotContains(t, history[0].Content, "moon")
	assert.Len(t, it.WorldInfoSections(), 1)
}

func TestAssembleChat_KnownPromptInHistory(t *testing.T) {
	in := Input{Known: model.KnownPrompts{AuthorsNote: "[Author's note:   keep it short]"}}
	it := assemble(t, in, model.Message{
		Role:    "user",
		Content: "<<CHAT_HISTORY>>Hi there.\n[Author's note: keep it short]\nHow are you?<</CHAT_HISTORY>>",
	})

	notes := byTag(it, TagAuthorsNote)
	require.Len(t, notes, 1)
	assert.Equal(t, "[Author's note: keep it short]", notes[0].Content)
	assert.True(t, notes[0].IsDepthInjected)
	assert.Equal(t, model.CategoryExtensions, Categorize(notes[0]))

	history := byTag(it, TagChatHistory)
	require.Len(t, history, 1)
	assert.Equal(t, "Hi there.\n\nHow are you?", history[0].Content)
}

func TestAssembleChat_KnownPromptFragment(t *testing.T) {
	in := Input{Known: model.KnownPrompts{CharacterNote: "Remember that the knight fears water more than death."}}
	it := assemble(t, in,
		model.Message{Role: "user", Content: "Let's go."},
		model.Message{Role: "system", Content: "the knight fears water"},
	)

	notes := byTag(it, TagCharDepthPrompt)
	require.Len(t, notes, 1)
	assert.Equal(t, "the knight fears water", notes[0].Content)
	assert.Equal(t, model.CategoryCharacterCard, Categorize(notes[0]))
}

func TestAssembleChat_Prefill(t *testing.T) {
	in := Input{Known: model.KnownPrompts{StartReplyWith: "Sure,"}}
	it := assemble(t, in,
		model.Message{Role: "user", Content: "Tell me a story."},
		model.Message{Role: "assistant", Content: "Sure,"},
	)

	prefill := byTag(it, TagPrefill)
	require.Len(t, prefill, 1)
	assert.True(t, prefill[0].IsPrefill)
	assert.Equal(t, "assistant", prefill[0].Role)
	assert.Equal(t, model.CategoryPresetPrompts, Categorize(prefill[0]))
}

func TestAssembleChat_ShadowReconciliation(t *testing.T) {
	store := shadow.NewStoreWithTagger(TagFor)
	store.Record("personaDescription", "I am Bob.", "system", "Bob's Persona")
	store.Record("main", "Be helpful.", "system", "")
	in := Input{Shadow: store.Drain()}

	it := assemble(t, in,
		model.Message{Role: "system", Content: "<<MAIN>>Be helpful.<</MAIN>>"},
		model.Message{Role: "user", Content: "I am Bob. Hello."},
	)

	persona := byTag(it, TagPersonaDesc)
	require.Len(t, persona, 1)
	assert.Equal(t, "I am Bob.", persona[0].Content)
	assert.Equal(t, "Bob's Persona", persona[0].Name)
	assert.Equal(t, model.CategoryPersona, Categorize(persona[0]))
	assert.Len(t, byTag(it, TagMain), 1, "marked shadow entries are not carved twice")

	history := byTag(it, TagChatHistory)
	require.Len(t, history, 1)
	assert.Equal(t, "Hello.", history[0].Content)
}

func TestAssembleChat_ShadowMetaAndNames(t *testing.T) {
	meta := &model.SectionMeta{Marker: true, MacroSources: []string{SourcePersona}}
	in := Input{
		Shadow: []shadow.Entry{{Identifier: "1b6e", Tag: "CUSTOM_1", Original: "x", Meta: meta}},
		Names:  map[string]string{"CUSTOM_1": "My Custom Prompt"},
	}
	it := assemble(t, in, model.Message{Role: "system", Content: "<<CUSTOM_1>>about {{user}}<</CUSTOM_1>>"})

	require.Len(t, it.Sections, 1)
	assert.Equal(t, "My Custom Prompt", it.Sections[0].Name)
	assert.Same(t, meta, it.Sections[0].Meta)
	assert.Equal(t, model.CategoryPersona, Categorize(it.Sections[0]))
}

func TestAssembleChat_VectorChunks(t *testing.T) {
	in := Input{Vector: &model.VectorSearch{
		Query: "castle",
		Chunks: []model.VectorChunk{
			{Hash: "abcdef123456", Text: "The castle fell in 1204.", Score: 0.9},
			{Hash: "ffff", Text: "Not in the prompt.", Score: 0.4},
		},
	}}
	it := assemble(t, in, model.Message{Role: "system", Content: "Context: The castle fell in 1204. Go."})

	chunks := byTag(it, TagVectorChunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Vector Chunk (abcdef12)", chunks[0].Name)
	assert.Equal(t, "The castle fell in 1204.", chunks[0].Content)
	assert.Equal(t, model.CategoryExtensions, Categorize(chunks[0]))
}

func TestAssembleChat_NestedNonContainer(t *testing.T) {
	it := assemble(t, Input{}, model.Message{
		Role:    "system",
		Content: "<<MAIN>>Rules <<NSFW>>spicy<</NSFW>> end<</MAIN>>",
	})

	require.Len(t, it.Sections, 2)
	assert.Equal(t, TagMain, it.Sections[0].Tag)
	assert.Equal(t, "Rules  end", it.Sections[0].Content)
	assert.Equal(t, TagNSFW, it.Sections[1].Tag)
	assert.Equal(t, "spicy", it.Sections[1].Content)
}

func TestAssembleChat_UntrackedWorldInfoMarkerKept(t *testing.T) {
	it := assemble(t, Input{}, model.Message{
		Role:    "system",
		Content: "<<WI_AFTER>>host combined lore<</WI_AFTER>>",
	})

	require.Len(t, it.Sections, 1)
	assert.True(t, it.Sections[0].IsWorldInfo)
	assert.Equal(t, model.CategoryWorldInfo, Categorize(it.Sections[0]))
}

func TestAssembleChat_OmitsZeroTokenBlankSections(t *testing.T) {
	it := assemble(t, Input{}, model.Message{Role: "system", Content: "<<MAIN>> <</MAIN>><<NSFW>>x<</NSFW>>"})
	require.Len(t, it.Sections, 1)
	assert.Equal(t, TagNSFW, it.Sections[0].Tag)
}

func TestAssembleChat_CounterFailureFallsBack(t *testing.T) {
	a := NewAssembler(failingCounter{err: errors.New("boom")}, nil)
	it, err := a.AssembleChat(context.Background(), Input{}, []model.Message{{Role: "user", Content: "abcdefgh"}})
	require.NoError(t, err)
	require.Len(t, it.Sections, 1)
	assert.Equal(t, 3, it.Sections[0].Tokens)
	assert.Equal(t, "broken (partial estimate)", it.Tokenizer)
}

func TestAssembleChat_PartialEstimateNamed(t *testing.T) {
	a := NewAssembler(flakyCounter{bad: "abcdefgh"}, nil)
	ctx := context.Background()
	it, err := a.AssembleChat(ctx, Input{}, []model.Message{
		{Role: "system", Content: "<<MAIN>>Be very helpful.<</MAIN>>"},
		{Role: "user", Content: "abcdefgh"},
	})
	require.NoError(t, err)
	require.Len(t, it.Sections, 2)
	assert.Equal(t, 3, it.Sections[0].Tokens)
	assert.Equal(t, 3, it.Sections[1].Tokens)
	assert.Equal(t, "flaky"+tokenizer.PartialSuffix, it.Tokenizer)

	// The same counter on clean text records its plain name.
	it, err = a.AssembleChat(ctx, Input{}, []model.Message{{Role: "user", Content: "one two"}})
	require.NoError(t, err)
	assert.Equal(t, "flaky", it.Tokenizer)
}

func TestRecalculate_PartialEstimateNamed(t *testing.T) {
	it := assemble(t, Input{}, model.Message{Role: "user", Content: "abcdefgh"})
	counter := tokenizer.WithFallback(flakyCounter{bad: "abc"}, 0, nil)
	require.NoError(t, Recalculate(context.Background(), it, counter))
	assert.Equal(t, "flaky"+tokenizer.PartialSuffix, it.Tokenizer)
	assert.Equal(t, "words", it.OriginalTokenizer)
	assert.Equal(t, 3, it.Sections[0].Tokens)
}

func TestAssembleRaw(t *testing.T) {
	a := NewAssembler(wordCounter{}, nil)
	it, err := a.AssembleRaw(context.Background(), Input{}, "<<MAIN>>Be helpful.<</MAIN>>\nUser: hi")
	require.NoError(t, err)
	require.Len(t, it.Sections, 2)
	assert.Equal(t, TagMain, it.Sections[0].Tag)
	assert.Equal(t, "User: hi", it.Sections[1].Content)
	assert.Empty(t, it.Sections[1].Role)
}

func TestAssembleChat_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAssembler(tokenizer.NewEstimate(0), nil)
	it, err := a.AssembleChat(ctx, Input{}, []model.Message{{Role: "user", Content: "x"}})
	// The estimate ignores the context, so assembly still completes.
	require.NoError(t, err)
	assert.Len(t, it.Sections, 1)
}

func TestStripForSend(t *testing.T) {
	msgs := []model.Message{
		{Role: "system", Content: "<<MAIN>>Be helpful.<</MAIN>>"},
		{Role: "user", Content: "plain"},
	}
	out := StripForSend(msgs)
	assert.Equal(t, "Be helpful.", out[0].Content)
	assert.Equal(t, "plain", out[1].Content)
	assert.Equal(t, "<<MAIN>>Be helpful.<</MAIN>>", msgs[0].Content, "input untouched")
}

func snapshot(it *model.Itemization) model.Itemization {
	cp := *it
	cp.Sections = append([]model.Section(nil), it.Sections...)
	return cp
}

func TestRecalculate_SwitchAndRestore(t *testing.T) {
	in := Input{Entries: []model.Entry{{UID: 1, Content: "lore of the realm"}}}
	it := assemble(t, in, model.Message{Role: "system", Content: "<<MAIN>>Be helpful.<</MAIN>>"})
	before := snapshot(it)

	ctx := context.Background()
	require.NoError(t, Recalculate(ctx, it, charCounter{}))
	assert.True(t, it.Overridden())
	assert.Equal(t, "chars", it.Tokenizer)
	assert.Equal(t, "words", it.OriginalTokenizer)
	for i, s := range it.Sections {
		assert.Equal(t, utf8.RuneCountInString(s.Content), s.Tokens)
		require.NotNil(t, s.OriginalTokens)
		assert.Equal(t, before.Sections[i].Tokens, *s.OriginalTokens)
	}
	require.NoError(t, it.Validate())

	// A second override keeps the first originals.
	require.NoError(t, Recalculate(ctx, it, tokenizer.NewEstimate(1)))
	assert.Equal(t, "words", it.OriginalTokenizer)
	require.NoError(t, it.Validate())

	require.NoError(t, Recalculate(ctx, it, wordCounter{}))
	assert.False(t, it.Overridden())
	if diff := cmp.Diff(before, *it); diff != "" {
		t.Errorf("restore mismatch (-want +got):\n%s", diff)
	}
}

func TestRecalculate_SameTokenizerNoop(t *testing.T) {
	it := assemble(t, Input{}, model.Message{Role: "user", Content: "one two"})
	require.NoError(t, Recalculate(context.Background(), it, wordCounter{}))
	assert.False(t, it.Overridden())
}

func TestRecalculate_ErrorLeavesStateUntouched(t *testing.T) {
	it := assemble(t, Input{}, model.Message{Role: "user", Content: "one two"})
	before := snapshot(it)

	err := Recalculate(context.Background(), it, failingCounter{err: tokenizer.ErrDownloadRequired})
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenizer.ErrDownloadRequired)
	if diff := cmp.Diff(before, *it); diff != "" {
		t.Errorf("itemization changed (-want +got):\n%s", diff)
	}
}

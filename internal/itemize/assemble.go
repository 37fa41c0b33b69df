// Package itemize reconstructs token-counted sections from a final prompt
// and groups them into categories.
package itemize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/promptscope/internal/marker"
	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/shadow"
	"github.com/rcliao/promptscope/internal/tokenizer"
)

// DefaultConcurrency bounds parallel token counting within one assembly.
const DefaultConcurrency = 4

// Input is the per-generation state an assembly reconciles against.
type Input struct {
	Entries []model.Entry
	Shadow  []shadow.Entry
	Known   model.KnownPrompts
	Vector  *model.VectorSearch
	// Names maps tags to live display names. Shadow display names are used
	// when a tag is missing here.
	Names map[string]string
}

// Assembler builds itemizations.
type Assembler struct {
	counter     tokenizer.Counter
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

// NewAssembler returns an assembler counting with counter. A failing
// counter degrades to the character estimate for the affected sections.
func NewAssembler(counter tokenizer.Counter, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := counter.(*tokenizer.FallbackCounter); !ok {
		counter = tokenizer.WithFallback(counter, 0, logger)
	}
	return &Assembler{
		counter:     counter,
		logger:      logger,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
}

// Counter returns the counter used for assembly.
func (a *Assembler) Counter() tokenizer.Counter { return a.counter }

// AssembleChat itemizes a chat-completion prompt.
func (a *Assembler) AssembleChat(ctx context.Context, in Input, msgs []model.Message) (*model.Itemization, error) {
	b := newBuilder(in, a.logger)
	tags := map[string]bool{}
	for _, m := range msgs {
		for _, t := range marker.Tags(m.Content) {
			tags[t] = true
		}
	}
	b.maxDepth = len(tags) + 1
	for _, m := range msgs {
		b.message(m)
	}
	b.worldInfo()
	return a.finish(ctx, b.sections)
}

// AssembleRaw itemizes a text-completion prompt.
func (a *Assembler) AssembleRaw(ctx context.Context, in Input, prompt string) (*model.Itemization, error) {
	return a.AssembleChat(ctx, in, []model.Message{{Content: prompt}})
}

func (a *Assembler) finish(ctx context.Context, drafts []model.Section) (*model.Itemization, error) {
	texts := make([]string, len(drafts))
	for i, s := range drafts {
		texts[i] = s.Content
	}
	counts, name, err := countNamed(ctx, a.counter, texts, a.concurrency, a.logger)
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}

	it := &model.Itemization{Timestamp: a.now(), Tokenizer: name}
	for i, s := range drafts {
		s.Tokens = counts[i]
		if s.Tokens == 0 && strings.TrimSpace(s.Content) == "" {
			continue
		}
		it.Sections = append(it.Sections, s)
	}
	it.TotalMarkedTokens = it.SumTokens()
	if err := it.Validate(); err != nil {
		return nil, err
	}
	a.logger.Debug("itemized prompt",
		zap.Int("sections", len(it.Sections)),
		zap.Int("tokens", it.TotalMarkedTokens),
		zap.String("tokenizer", it.Tokenizer))
	return it, nil
}

// countNamed counts texts and returns the tokenizer name to record. The
// name carries tokenizer.PartialSuffix when the estimate stood in for a
// failing counter on any of them.
func countNamed(ctx context.Context, c tokenizer.Counter, texts []string, limit int, logger *zap.Logger) ([]int, string, error) {
	fc, ok := c.(*tokenizer.FallbackCounter)
	var before int64
	if ok {
		before = fc.Fallbacks()
	}
	counts, err := countAll(ctx, c, texts, limit)
	if err != nil {
		return nil, "", err
	}
	name := c.Name()
	if ok {
		if n := fc.Fallbacks() - before; n > 0 {
			logger.Warn("sections counted with the estimate",
				zap.String("tokenizer", name), zap.Int64("sections", n), zap.Int("total", len(texts)))
			name += tokenizer.PartialSuffix
		}
	}
	return counts, name, nil
}

// countAll counts texts with at most limit calls in flight. Results keep
// the order of texts. A panicking counter fails the count instead of the
// process.
func countAll(ctx context.Context, c tokenizer.Counter, texts []string, limit int) ([]int, error) {
	counts := make([]int, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, text := range texts {
		i, text := i, text
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("counter %s panicked: %v", c.Name(), r)
				}
			}()
			n, err := c.Count(gctx, text)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// StripForSend returns a copy of msgs with every marker delimiter removed.
func StripForSend(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		m.Content = marker.Strip(m.Content)
		out[i] = m
	}
	return out
}

// --- Builder ---

type knownPrompt struct {
	tag     string
	content string
}

type builder struct {
	in       Input
	logger   *zap.Logger
	names    map[string]string
	meta     map[string]*model.SectionMeta
	roles    map[string]string
	tracked  []string
	used     map[string]bool
	chunks   map[string]bool
	known    []knownPrompt
	history  int
	maxDepth int
	sections []model.Section
}

func newBuilder(in Input, logger *zap.Logger) *builder {
	b := &builder{
		in:      in,
		logger:  logger,
		names:   make(map[string]string),
		meta:    make(map[string]*model.SectionMeta),
		roles:   make(map[string]string),
		used:    make(map[string]bool),
		chunks:  make(map[string]bool),
		history: -1,
	}
	for _, e := range in.Shadow {
		if e.DisplayName != "" {
			b.names[e.Tag] = e.DisplayName
		}
		if e.Meta != nil {
			b.meta[e.Tag] = e.Meta
		}
		if e.Role != "" {
			b.roles[e.Tag] = e.Role
		}
	}
	for k, v := range in.Names {
		if v != "" {
			b.names[k] = v
		}
	}
	for _, e := range in.Entries {
		if strings.TrimSpace(e.Content) != "" {
			b.tracked = append(b.tracked, e.Content)
		}
	}
	for _, kp := range []knownPrompt{
		{TagAuthorsNote, in.Known.AuthorsNote},
		{TagCharDepthPrompt, in.Known.CharacterNote},
		{TagPrefill, in.Known.StartReplyWith},
	} {
		if strings.TrimSpace(kp.content) != "" {
			b.known = append(b.known, kp)
		}
	}
	return b
}

func (b *builder) message(m model.Message) {
	text := m.Content
	for _, mk := range marker.Parse(text) {
		b.span(mk, m.Role, 1)
		text = strings.Replace(text, mk.Raw, "", 1)
	}
	b.residue(marker.Strip(text), m.Role)
}

func (b *builder) span(mk marker.Marker, role string, depth int) {
	b.used[mk.Tag] = true
	if mk.Tag == TagChatHistory {
		b.container(mk.Content, role, depth)
		return
	}

	content := mk.Content
	wi := isWorldInfoTag(mk.Tag)
	if wi {
		content = b.stripTracked(content)
		if strings.TrimSpace(marker.Strip(content)) == "" {
			b.logger.Debug("skipping redundant world-info marker", zap.String("tag", mk.Tag))
			return
		}
	}

	idx := b.add(b.section(mk.Tag, "", role))
	if depth < b.maxDepth {
		for _, n := range marker.Parse(content) {
			b.span(n, role, depth+1)
			content = strings.Replace(content, n.Raw, "", 1)
		}
	}
	b.sections[idx].Content = marker.Strip(content)
	b.sections[idx].IsWorldInfo = wi
}

// container decomposes a chat-history blob. Tracked world info is removed
// first so it is only counted by its own sections.
func (b *builder) container(content, role string, depth int) {
	content = b.stripTracked(content)
	if depth < b.maxDepth {
		for _, n := range marker.Parse(content) {
			b.span(n, role, depth+1)
			content = strings.Replace(content, n.Raw, "", 1)
		}
	}
	b.residue(marker.Strip(content), role)
}

func (b *builder) residue(text, role string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	text = b.stripTracked(text)

	for _, e := range b.in.Shadow {
		if b.used[e.Tag] || e.Tag == TagChatHistory || isWorldInfoTag(e.Tag) {
			continue
		}
		rest, found, ok := cut(text, e.Original)
		if !ok {
			continue
		}
		b.used[e.Tag] = true
		r := e.Role
		if r == "" {
			r = role
		}
		b.add(b.section(e.Tag, found, r))
		text = rest
	}

	for _, kp := range b.known {
		if b.used[kp.tag] {
			continue
		}
		rest, found, ok := cut(text, kp.content)
		if !ok && isFragmentOf(text, kp.content) {
			rest, found, ok = "", strings.TrimSpace(text), true
		}
		if !ok {
			continue
		}
		b.used[kp.tag] = true
		r := role
		if kp.tag == TagPrefill {
			r = "assistant"
		}
		b.add(b.section(kp.tag, found, r))
		text = rest
	}

	if b.in.Vector != nil {
		for _, c := range b.in.Vector.Chunks {
			if b.chunks[c.Hash+c.Text] {
				continue
			}
			rest, found, ok := cut(text, c.Text)
			if !ok {
				continue
			}
			b.chunks[c.Hash+c.Text] = true
			s := b.section(TagVectorChunk, found, role)
			s.Name = chunkName(c)
			b.add(s)
			text = rest
		}
	}

	if strings.TrimSpace(text) == "" {
		return
	}
	b.appendHistory(text, role)
}

// appendHistory folds unattributed text into a single chat-history section.
func (b *builder) appendHistory(text, role string) {
	text = strings.TrimSpace(text)
	if b.history < 0 {
		b.history = b.add(b.section(TagChatHistory, text, role))
		return
	}
	s := &b.sections[b.history]
	s.Content += "\n\n" + text
	if s.Role != role {
		s.Role = ""
	}
}

// stripTracked removes the first occurrence of every tracked entry's content.
func (b *builder) stripTracked(text string) string {
	for _, c := range b.tracked {
		if rest, _, ok := cut(text, c); ok {
			text = rest
		}
	}
	return text
}

// worldInfo adds one section per tracked entry with content.
func (b *builder) worldInfo() {
	seen := map[int]bool{}
	for _, e := range b.in.Entries {
		if strings.TrimSpace(e.Content) == "" || seen[e.UID] {
			continue
		}
		seen[e.UID] = true
		uid := e.UID
		b.add(model.Section{
			Tag:             WorldInfoTag(e.Position),
			Name:            entryName(e),
			Content:         e.Content,
			IsWorldInfo:     true,
			IsDepthInjected: e.IsDepthInjected(),
			UID:             &uid,
			World:           e.World,
		})
	}
}

func (b *builder) section(tag, content, role string) model.Section {
	if role == "" {
		role = b.roles[tag]
	}
	return model.Section{
		Tag:             tag,
		Name:            ResolveName(tag, b.names),
		Content:         content,
		Role:            role,
		IsDepthInjected: tag == TagAuthorsNote || tag == TagCharDepthPrompt,
		IsPrefill:       tag == TagPrefill,
		Meta:            b.meta[tag],
	}
}

func (b *builder) add(s model.Section) int {
	b.sections = append(b.sections, s)
	return len(b.sections) - 1
}

func chunkName(c model.VectorChunk) string {
	h := c.Hash
	if len(h) > 8 {
		h = h[:8]
	}
	if h == "" {
		return staticNames[TagVectorChunk]
	}
	return staticNames[TagVectorChunk] + " (" + h + ")"
}

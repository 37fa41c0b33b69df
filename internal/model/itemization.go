package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrTotalMismatch is returned when an itemization's total drifts from its sections.
var ErrTotalMismatch = errors.New("total marked tokens does not match section sum")

// SectionMeta carries the host's prompt-manager hints for a fragment.
type SectionMeta struct {
	SystemPrompt bool     `json:"systemPrompt,omitempty"`
	Marker       bool     `json:"marker,omitempty"`
	MacroSources []string `json:"macroSources,omitempty"`
}

// Section is one token-counted unit of a reconstructed prompt.
type Section struct {
	Tag             string       `json:"tag"`
	Name            string       `json:"name"`
	Content         string       `json:"content"`
	Tokens          int          `json:"tokens"`
	Role            string       `json:"role,omitempty"`
	IsWorldInfo     bool         `json:"isWorldInfo,omitempty"`
	IsDepthInjected bool         `json:"isDepthInjected,omitempty"`
	IsPrefill       bool         `json:"isPrefill,omitempty"`
	UID             *int         `json:"uid,omitempty"`
	World           string       `json:"world,omitempty"`
	Meta            *SectionMeta `json:"meta,omitempty"`
	OriginalTokens  *int         `json:"originalTokens,omitempty"`
}

// Itemization is the reconstructed breakdown of one final prompt.
type Itemization struct {
	Timestamp         time.Time `json:"timestamp"`
	Sections          []Section `json:"sections"`
	TotalMarkedTokens int       `json:"totalMarkedTokens"`
	Tokenizer         string    `json:"tokenizer"`
	OriginalTotal     *int      `json:"originalTotal,omitempty"`
	OriginalTokenizer string    `json:"originalTokenizer,omitempty"`
}

// SumTokens returns the sum of all section token counts.
func (it *Itemization) SumTokens() int {
	sum := 0
	for _, s := range it.Sections {
		sum += s.Tokens
	}
	return sum
}

// Validate checks the total invariant and section token bounds.
func (it *Itemization) Validate() error {
	for i, s := range it.Sections {
		if s.Tokens < 0 {
			return fmt.Errorf("section %d (%s): negative tokens %d", i, s.Tag, s.Tokens)
		}
	}
	if sum := it.SumTokens(); sum != it.TotalMarkedTokens {
		return fmt.Errorf("%w: total %d, sum %d", ErrTotalMismatch, it.TotalMarkedTokens, sum)
	}
	return nil
}

// WorldInfoSections returns the sections flagged as world info.
func (it *Itemization) WorldInfoSections() []Section {
	var out []Section
	for _, s := range it.Sections {
		if s.IsWorldInfo {
			out = append(out, s)
		}
	}
	return out
}

// Overridden reports whether a tokenizer override is in effect.
func (it *Itemization) Overridden() bool {
	return it.OriginalTotal != nil
}

// ApplyTokens replaces every section's count. The first call stores the
// original counts and tokenizer so Restore can undo the override exactly.
func (it *Itemization) ApplyTokens(counts []int, tokenizer string) error {
	if len(counts) != len(it.Sections) {
		return fmt.Errorf("apply tokens: %d counts for %d sections", len(counts), len(it.Sections))
	}
	if !it.Overridden() {
		total := it.TotalMarkedTokens
		it.OriginalTotal = &total
		it.OriginalTokenizer = it.Tokenizer
		for i := range it.Sections {
			orig := it.Sections[i].Tokens
			it.Sections[i].OriginalTokens = &orig
		}
	}
	total := 0
	for i, c := range counts {
		it.Sections[i].Tokens = c
		total += c
	}
	it.TotalMarkedTokens = total
	it.Tokenizer = tokenizer
	return nil
}

// Restore undoes a tokenizer override. It is a no-op without one.
func (it *Itemization) Restore() {
	if !it.Overridden() {
		return
	}
	for i := range it.Sections {
		if o := it.Sections[i].OriginalTokens; o != nil {
			it.Sections[i].Tokens = *o
		}
		it.Sections[i].OriginalTokens = nil
	}
	it.TotalMarkedTokens = *it.OriginalTotal
	it.Tokenizer = it.OriginalTokenizer
	it.OriginalTotal = nil
	it.OriginalTokenizer = ""
}

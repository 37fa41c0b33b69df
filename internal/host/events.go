// Package host defines the boundary structs for host lifecycle events and
// a tolerant parser for the loosely shaped payloads hosts emit.
package host

import (
	"github.com/rcliao/promptscope/internal/model"
)

// Event names used in transcript envelopes.
const (
	EventGenerationStarted = "generation_started"
	EventScanDone          = "scan_done"
	EventPromptFragment    = "prompt_fragment"
	EventDebug             = "debug"
	EventChatPromptReady   = "chat_prompt_ready"
	EventRawPromptReady    = "raw_prompt_ready"
	EventGenerationEnded   = "generation_ended"
	EventKnownPrompts      = "known_prompts"
	EventVectorSearch      = "vector_search"
)

// Event is implemented by every boundary struct.
type Event interface {
	EventName() string
}

// GenerationStarted opens a generation.
type GenerationStarted struct {
	Type   string `json:"type,omitempty"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// ScanState is the host's scan loop state after one pass.
type ScanState struct {
	LoopCount int `json:"loopCount"`
	Next      int `json:"next"`
}

// ScanDone reports one completed world-info scan loop.
type ScanDone struct {
	State     ScanState     `json:"state"`
	Activated []model.Entry `json:"activated"`
	Timed     TimedEffects  `json:"timed,omitempty"`
}

// PromptFragment is one logical prompt piece seen at the assembly hook.
type PromptFragment struct {
	Identifier   string   `json:"identifier"`
	Content      string   `json:"content"`
	Role         string   `json:"role,omitempty"`
	Name         string   `json:"name,omitempty"`
	SystemPrompt bool     `json:"systemPrompt,omitempty"`
	Marker       bool     `json:"marker,omitempty"`
	Raw          string   `json:"raw,omitempty"`
	MacroSources []string `json:"macroSources,omitempty"`
}

// DebugLine is one call to the host's debug sink.
type DebugLine struct {
	Args []any `json:"args"`
}

// ChatPromptReady carries the final chat-completion messages.
type ChatPromptReady struct {
	Chat   []model.Message `json:"chat"`
	DryRun bool            `json:"dryRun,omitempty"`
}

// RawPromptReady carries the final text-completion prompt.
type RawPromptReady struct {
	Prompt string `json:"prompt"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// GenerationEnded closes a generation.
type GenerationEnded struct{}

// KnownPrompts carries depth-injected prompts captured at generation start.
type KnownPrompts struct {
	model.KnownPrompts
}

// VectorSearch is the RAG plugin's published last search.
type VectorSearch struct {
	model.VectorSearch
}

func (GenerationStarted) EventName() string { return EventGenerationStarted }
func (ScanDone) EventName() string          { return EventScanDone }
func (PromptFragment) EventName() string    { return EventPromptFragment }
func (DebugLine) EventName() string         { return EventDebug }
func (ChatPromptReady) EventName() string   { return EventChatPromptReady }
func (RawPromptReady) EventName() string    { return EventRawPromptReady }
func (GenerationEnded) EventName() string   { return EventGenerationEnded }
func (KnownPrompts) EventName() string      { return EventKnownPrompts }
func (VectorSearch) EventName() string      { return EventVectorSearch }

// TimedEffects maps an effect name ("sticky", "cooldown", "delay") to the
// uids it is active for.
type TimedEffects map[string][]int

// IsActive reports whether effect is active for e.
func (t TimedEffects) IsActive(effect string, e model.Entry) bool {
	for _, uid := range t[effect] {
		if uid == e.UID {
			return true
		}
	}
	return false
}

package model

import "time"

// Category is a human grouping of prompt sections.
type Category string

const (
	CategoryCharacterCard   Category = "Character Card"
	CategoryWorldInfo       Category = "World Info"
	CategoryPersona         Category = "Persona"
	CategoryExtensions      Category = "Extensions"
	CategoryChatHistory     Category = "Chat History"
	CategorySystemPrompts   Category = "System Prompts"
	CategoryPresetPrompts   Category = "Preset Prompts"
	CategoryExampleDialogue Category = "Example Dialogue"
	CategoryOther           Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategorySystemPrompts,
	CategoryCharacterCard,
	CategoryPersona,
	CategoryWorldInfo,
	CategoryExampleDialogue,
	CategoryChatHistory,
	CategoryExtensions,
	CategoryPresetPrompts,
	CategoryOther,
}

// CategorySummary groups sections of one category with their token total.
type CategorySummary struct {
	Sections []Section `json:"sections"`
	Tokens   int       `json:"tokens"`
}

// Report is the exported result of one observed generation.
type Report struct {
	ID           string                       `json:"id"`
	CreatedAt    time.Time                    `json:"created_at"`
	Label        string                       `json:"label,omitempty"`
	Itemization  *Itemization                 `json:"itemization"`
	Summary      map[Category]CategorySummary `json:"summary"`
	Triggers     []TriggerRecord              `json:"triggers"`
	Edges        []RecursionEdge              `json:"edges"`
	HasRecursion bool                         `json:"hasRecursion"`
}

// Package model defines the core itemization and trigger data types.
package model

import "strconv"

// Selective logic values used by the host for secondary keys.
const (
	LogicAndAny = 0
	LogicNotAll = 1
	LogicNotAny = 2
	LogicAndAll = 3
)

// Entry is a world-info activation record for one generation.
type Entry struct {
	UID            int      `json:"uid"`
	World          string   `json:"world"`
	Content        string   `json:"content"`
	Comment        string   `json:"comment,omitempty"`
	Key            []string `json:"key,omitempty"`
	KeySecondary   []string `json:"keysecondary,omitempty"`
	Position       string   `json:"position,omitempty"`
	Depth          int      `json:"depth,omitempty"`
	Order          int      `json:"order,omitempty"`
	Sticky         int      `json:"sticky,omitempty"`
	Probability    int      `json:"probability,omitempty"`
	Group          string   `json:"group,omitempty"`
	Constant       bool     `json:"constant,omitempty"`
	Vectorized     bool     `json:"vectorized,omitempty"`
	Selective      bool     `json:"selective,omitempty"`
	SelectiveLogic int      `json:"selectiveLogic,omitempty"`
	Decorators     []string `json:"decorators,omitempty"`

	// Per-entry matcher overrides; nil means use the global default.
	CaseSensitive   *bool `json:"caseSensitive,omitempty"`
	MatchWholeWords *bool `json:"matchWholeWords,omitempty"`

	ScanPersona         bool `json:"scanPersona,omitempty"`
	ScanCharacter       bool `json:"scanCharacter,omitempty"`
	ExcludeRecursion    bool `json:"excludeRecursion,omitempty"`
	DelayUntilRecursion bool `json:"delayUntilRecursion,omitempty"`
}

// DisplayName returns the comment, the first key, or a uid label.
func (e Entry) DisplayName() string {
	if e.Comment != "" {
		return e.Comment
	}
	for _, k := range e.Key {
		if k != "" {
			return k
		}
	}
	return "Entry #" + strconv.Itoa(e.UID)
}

// HasKeys reports whether the entry has any primary or secondary key.
func (e Entry) HasKeys() bool {
	return len(nonEmpty(e.Key)) > 0 || len(nonEmpty(e.KeySecondary)) > 0
}

// IsDepthInjected reports whether the entry is placed at a chat depth.
func (e Entry) IsDepthInjected() bool {
	return e.Position == PositionAtDepth
}

func nonEmpty(keys []string) []string {
	var out []string
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// World-info positions as reported by the host.
const (
	PositionBefore   = "before"
	PositionAfter    = "after"
	PositionANTop    = "an_top"
	PositionANBottom = "an_bottom"
	PositionAtDepth  = "depth"
	PositionEMTop    = "em_top"
	PositionEMBottom = "em_bottom"
	PositionOutlet   = "outlet"
)

// PositionFromIndex maps the host's numeric position to its name.
func PositionFromIndex(i int) string {
	switch i {
	case 0:
		return PositionBefore
	case 1:
		return PositionAfter
	case 2:
		return PositionANTop
	case 3:
		return PositionANBottom
	case 4:
		return PositionAtDepth
	case 5:
		return PositionEMTop
	case 6:
		return PositionEMBottom
	case 7:
		return PositionOutlet
	default:
		return PositionBefore
	}
}

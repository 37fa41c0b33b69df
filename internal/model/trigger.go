package model

// Reason is why a world-info entry activated.
type Reason string

const (
	ReasonConstant          Reason = "constant"
	ReasonVector            Reason = "vector"
	ReasonDecorator         Reason = "decorator"
	ReasonSticky            Reason = "sticky"
	ReasonKeyMatch          Reason = "key_match"
	ReasonKeyMatchSelective Reason = "key_match_selective"
	ReasonPrimaryKeyMatch   Reason = "primary_key_match"
	ReasonSecondaryAndAny   Reason = "secondary_and_any"
	ReasonSecondaryNotAll   Reason = "secondary_not_all"
	ReasonSecondaryNotAny   Reason = "secondary_not_any"
	ReasonSecondaryAndAll   Reason = "secondary_and_all"
	ReasonActivated         Reason = "activated"
)

// Specificity ranks reasons; higher wins when evidence conflicts.
func (r Reason) Specificity() int {
	switch r {
	case ReasonDecorator:
		return 9
	case ReasonConstant:
		return 8
	case ReasonSticky:
		return 7
	case ReasonPrimaryKeyMatch:
		return 6
	case ReasonSecondaryAndAny, ReasonSecondaryNotAll, ReasonSecondaryNotAny, ReasonSecondaryAndAll:
		return 5
	case ReasonVector:
		return 4
	case ReasonKeyMatchSelective:
		return 3
	case ReasonKeyMatch:
		return 2
	case ReasonActivated:
		return 1
	default:
		return 0
	}
}

// TriggerRecord is the attributed cause of one entry's activation.
type TriggerRecord struct {
	UID            int    `json:"uid"`
	World          string `json:"world,omitempty"`
	Reason         Reason `json:"reason"`
	Confident      bool   `json:"confident"`
	RecursionLevel int    `json:"recursionLevel"`
	LoopCount      int    `json:"loopCount"`
	MatchedKeyword string `json:"matchedKeyword,omitempty"`
}

// LevelFromLoop converts a 1-based scan loop index into a recursion level.
func LevelFromLoop(loopCount int) int {
	if loopCount-1 < 0 {
		return 0
	}
	return loopCount - 1
}

// RecursionEdge records that Source's content contains a key of Target.
type RecursionEdge struct {
	SourceUID   int    `json:"sourceUid"`
	TargetUID   int    `json:"targetUid"`
	MatchedKey  string `json:"matchedKey"`
	SourceLevel int    `json:"sourceLevel"`
	TargetLevel int    `json:"targetLevel"`
}

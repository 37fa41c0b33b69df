package itemize

import (
	"strings"

	"github.com/rcliao/promptscope/internal/marker"
	"github.com/rcliao/promptscope/internal/model"
)

// Canonical tags.
const (
	TagMain               = "MAIN"
	TagNSFW               = "NSFW"
	TagJailbreak          = "JAILBREAK"
	TagEnhanceDefinitions = "ENHANCE_DEFINITIONS"
	TagCharDesc           = "CHAR_DESC"
	TagCharPersonality    = "CHAR_PERSONALITY"
	TagScenario           = "SCENARIO"
	TagCharDepthPrompt    = "CHAR_DEPTH_PROMPT"
	TagPersonaDesc        = "PERSONA_DESC"
	TagWIBefore           = "WI_BEFORE"
	TagWIAfter            = "WI_AFTER"
	TagDialogueExamples   = "DIALOGUE_EXAMPLES"
	TagChatHistory        = "CHAT_HISTORY"
	TagAuthorsNote        = "AUTHORS_NOTE"
	TagPrefill            = "PREFILL"
	TagVectorChunk        = "VECTOR_CHUNK"
)

// identifierTags maps host prompt identifiers onto canonical tags.
var identifierTags = map[string]string{
	"main":               TagMain,
	"nsfw":               TagNSFW,
	"jailbreak":          TagJailbreak,
	"enhanceDefinitions": TagEnhanceDefinitions,
	"charDescription":    TagCharDesc,
	"charPersonality":    TagCharPersonality,
	"scenario":           TagScenario,
	"personaDescription": TagPersonaDesc,
	"worldInfoBefore":    TagWIBefore,
	"worldInfoAfter":     TagWIAfter,
	"dialogueExamples":   TagDialogueExamples,
	"chatHistory":        TagChatHistory,
	"authorsNote":        TagAuthorsNote,
	"depth_prompt":       TagCharDepthPrompt,
	"characterNote":      TagCharDepthPrompt,
	"startReplyWith":     TagPrefill,
	"impersonate":        "IMPERSONATE",
	"quietPrompt":        "QUIET_PROMPT",
	"groupNudge":         "GROUP_NUDGE",
	"continueNudge":      "CONTINUE_NUDGE",
	"bias":               "BIAS",
	"summary":            "SUMMARY",
	"1_memory":           "SUMMARY",
	"vectorsMemory":      "VECTORS_MEMORY",
	"vectorsDataBank":    "VECTORS_DATA_BANK",
	"chromadb":           "CHROMADB",
	"smartContext":       "SMART_CONTEXT",
}

var staticNames = map[string]string{
	TagMain:               "Main Prompt",
	TagNSFW:               "Auxiliary Prompt",
	TagJailbreak:          "Post-History Instructions",
	TagEnhanceDefinitions: "Enhance Definitions",
	TagCharDesc:           "Char Description",
	TagCharPersonality:    "Char Personality",
	TagScenario:           "Scenario",
	TagCharDepthPrompt:    "Character Notes",
	TagPersonaDesc:        "Persona Description",
	TagWIBefore:           "World Info (before)",
	TagWIAfter:            "World Info (after)",
	TagDialogueExamples:   "Chat Examples",
	TagChatHistory:        "Chat History",
	TagAuthorsNote:        "Author's Note",
	TagPrefill:            "Start Reply With",
	TagVectorChunk:        "Vector Chunk",
	"IMPERSONATE":         "Impersonation Prompt",
	"QUIET_PROMPT":        "Quiet Prompt",
	"GROUP_NUDGE":         "Group Nudge",
	"CONTINUE_NUDGE":      "Continue Nudge",
	"BIAS":                "Bias",
	"SUMMARY":             "Summary",
	"VECTORS_MEMORY":      "Vector Memory",
	"VECTORS_DATA_BANK":   "Data Bank",
	"CHROMADB":            "ChromaDB",
	"SMART_CONTEXT":       "Smart Context",
}

// TagFor returns the canonical tag for a host identifier.
func TagFor(identifier string) string {
	if t, ok := identifierTags[identifier]; ok {
		return t
	}
	return marker.Sanitize(identifier)
}

// WorldInfoTag returns the section tag for an entry position.
func WorldInfoTag(position string) string {
	if position == "" {
		return TagWIBefore
	}
	return "WI_" + marker.Sanitize(position)
}

// ResolveName picks a display name: live map, then static table, then a
// name derived from the tag.
func ResolveName(tag string, live map[string]string) string {
	if n := live[tag]; n != "" {
		return n
	}
	if n, ok := staticNames[tag]; ok {
		return n
	}
	return nameFromTag(tag)
}

func nameFromTag(tag string) string {
	words := strings.FieldsFunc(tag, func(r rune) bool { return r == '_' })
	for i, w := range words {
		w = strings.ToLower(w)
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "Unknown"
	}
	return strings.Join(words, " ")
}

// isWorldInfoTag reports whether tag is a world-info container tag.
func isWorldInfoTag(tag string) bool {
	return strings.HasPrefix(tag, "WI_") || tag == "WORLD_INFO"
}

// entryName is the world-info section label.
func entryName(e model.Entry) string {
	if e.World == "" {
		return e.DisplayName()
	}
	return e.World + ": " + e.DisplayName()
}

package itemize

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rcliao/promptscope/internal/model"
)

var characterTags = map[string]bool{
	TagCharDesc:        true,
	TagCharPersonality: true,
	TagScenario:        true,
	TagCharDepthPrompt: true,
}

var extensionTags = map[string]bool{
	TagVectorChunk:      true,
	"SUMMARY":           true,
	"VECTORS_MEMORY":    true,
	"VECTORS_DATA_BANK": true,
	"CHROMADB":          true,
	"SMART_CONTEXT":     true,
}

var systemTags = map[string]bool{
	TagMain:               true,
	TagNSFW:               true,
	TagJailbreak:          true,
	TagEnhanceDefinitions: true,
	"IMPERSONATE":         true,
	"QUIET_PROMPT":        true,
	"GROUP_NUDGE":         true,
	"CONTINUE_NUDGE":      true,
	"BIAS":                true,
	"NEW_CHAT":            true,
	"NEW_GROUP_CHAT":      true,
	"NEW_EXAMPLE_CHAT":    true,
}

// Macro source hints, in priority order.
const (
	SourcePersona   = "persona"
	SourceCharacter = "character"
	SourceWorldInfo = "world-info"
	SourceExamples  = "examples"
	SourceSystem    = "system"
)

var macroPriority = []struct {
	source   string
	category model.Category
}{
	{SourcePersona, model.CategoryPersona},
	{SourceCharacter, model.CategoryCharacterCard},
	{SourceWorldInfo, model.CategoryWorldInfo},
	{SourceExamples, model.CategoryExampleDialogue},
	{SourceSystem, model.CategorySystemPrompts},
}

var macroSources = map[string]string{
	"persona":         SourcePersona,
	"user_persona":    SourcePersona,
	"description":     SourceCharacter,
	"personality":     SourceCharacter,
	"scenario":        SourceCharacter,
	"charprompt":      SourceCharacter,
	"chardepthprompt": SourceCharacter,
	"charjailbreak":   SourceCharacter,
	"wibefore":        SourceWorldInfo,
	"wiafter":         SourceWorldInfo,
	"lorebefore":      SourceWorldInfo,
	"loreafter":       SourceWorldInfo,
	"mesexamples":     SourceExamples,
	"mesexamplesraw":  SourceExamples,
	"system":          SourceSystem,
	"original":        SourceSystem,
}

var macroRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_]+)[^}]*\}\}`)

// MacroSources lists the content sources referenced by macros in raw,
// without duplicates, in order of first use.
func MacroSources(raw string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range macroRegex.FindAllStringSubmatch(raw, -1) {
		src, ok := macroSources[strings.ToLower(m[1])]
		if !ok || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// Categorize maps a section onto a category. It never fails; unknown
// sections are Other.
func Categorize(s model.Section) model.Category {
	tag := s.Tag
	switch {
	case characterTags[tag]:
		return model.CategoryCharacterCard
	case tag == TagPersonaDesc:
		return model.CategoryPersona
	case s.IsWorldInfo || isWorldInfoTag(tag):
		return model.CategoryWorldInfo
	case tag == TagChatHistory:
		return model.CategoryChatHistory
	case tag == TagDialogueExamples:
		return model.CategoryExampleDialogue
	case tag == TagPrefill || s.IsPrefill:
		return model.CategoryPresetPrompts
	case tag == TagAuthorsNote:
		return model.CategoryExtensions
	case extensionTags[tag]:
		return model.CategoryExtensions
	case systemTags[tag]:
		return model.CategorySystemPrompts
	}
	if s.Meta != nil {
		if c, ok := categorizeMeta(*s.Meta); ok {
			return c
		}
	}
	if looksLikeUUID(tag) {
		return model.CategoryPresetPrompts
	}
	return model.CategoryOther
}

func categorizeMeta(m model.SectionMeta) (model.Category, bool) {
	if m.SystemPrompt && !m.Marker {
		return model.CategorySystemPrompts, true
	}
	for _, p := range macroPriority {
		for _, src := range m.MacroSources {
			if src == p.source {
				return p.category, true
			}
		}
	}
	if !m.SystemPrompt && !m.Marker {
		return model.CategoryPresetPrompts, true
	}
	return "", false
}

// looksLikeUUID accepts sanitized tags such as 1B6E7C2A_0C1D_4E6F_9A7B_1234567890AB.
func looksLikeUUID(tag string) bool {
	if len(tag) != 36 {
		return false
	}
	_, err := uuid.Parse(strings.ToLower(strings.ReplaceAll(tag, "_", "-")))
	return err == nil
}

// Summarize groups sections by category with token totals.
func Summarize(it *model.Itemization) map[model.Category]model.CategorySummary {
	out := make(map[model.Category]model.CategorySummary)
	if it == nil {
		return out
	}
	for _, s := range it.Sections {
		c := Categorize(s)
		sum := out[c]
		sum.Sections = append(sum.Sections, s)
		sum.Tokens += s.Tokens
		out[c] = sum
	}
	return out
}

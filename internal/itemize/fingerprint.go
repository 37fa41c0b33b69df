package itemize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// minOverlap is the shortest residue accepted as a fragment of a known prompt.
const minOverlap = 16

var spaceRun = regexp.MustCompile(`\s+`)

// normalize collapses whitespace runs and applies NFC so prompts compare
// equal across the host's reformatting.
func normalize(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(norm.NFC.String(s), " "))
}

// locate finds needle in haystack, first exactly and then with any
// whitespace run matching any other. It returns byte offsets.
func locate(haystack, needle string) (int, int, bool) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return 0, 0, false
	}
	if i := strings.Index(haystack, needle); i >= 0 {
		return i, i + len(needle), true
	}
	fields := strings.Fields(norm.NFC.String(needle))
	if len(fields) == 0 {
		return 0, 0, false
	}
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(strings.Join(fields, `\s+`))
	if err != nil {
		return 0, 0, false
	}
	hay := norm.NFC.String(haystack)
	loc := re.FindStringIndex(hay)
	if loc == nil || len(hay) != len(haystack) {
		// NFC changed byte offsets; only exact offsets are safe to cut.
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

// cut removes needle from haystack when located and returns both parts.
func cut(haystack, needle string) (rest, found string, ok bool) {
	start, end, ok := locate(haystack, needle)
	if !ok {
		return haystack, "", false
	}
	return haystack[:start] + haystack[end:], haystack[start:end], true
}

// isFragmentOf reports whether residue is a meaningful piece of prompt.
func isFragmentOf(residue, prompt string) bool {
	r, p := normalize(residue), normalize(prompt)
	if r == "" || p == "" {
		return false
	}
	return utf8.RuneCountInString(r) >= minOverlap && strings.Contains(p, r)
}

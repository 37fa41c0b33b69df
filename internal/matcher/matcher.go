// Package matcher reproduces the host's world-info keyword matching so
// recursion edges can be recomputed from entry content.
package matcher

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rcliao/promptscope/internal/model"
)

const (
	defaultCacheSize = 512
	matchTimeout     = time.Second
)

// regexKey is the /pattern/flags form the host accepts for keys.
var regexKey = regexp.MustCompile(`^/([\s\S]+?)/([gimsuy]*)$`)

var whitespace = regexp.MustCompile(`\s+`)

// Options are the scan settings that affect matching.
type Options struct {
	CaseSensitive   bool `yaml:"case_sensitive" json:"case_sensitive"`
	MatchWholeWords bool `yaml:"match_whole_words" json:"match_whole_words"`
}

// Matcher matches keys against text. It is safe for concurrent use.
type Matcher struct {
	Defaults Options
	cache    *lru.Cache[string, *regexp2.Regexp]
}

// New returns a matcher with global defaults.
func New(defaults Options) *Matcher {
	cache, _ := lru.New[string, *regexp2.Regexp](defaultCacheSize)
	return &Matcher{Defaults: defaults, cache: cache}
}

// OptionsFor applies an entry's overrides to the global defaults.
func (m *Matcher) OptionsFor(e model.Entry) Options {
	opts := m.Defaults
	if e.CaseSensitive != nil {
		opts.CaseSensitive = *e.CaseSensitive
	}
	if e.MatchWholeWords != nil {
		opts.MatchWholeWords = *e.MatchWholeWords
	}
	return opts
}

// FirstMatch returns the first key in keys that matches text.
func (m *Matcher) FirstMatch(text string, keys []string, opts Options) (string, bool) {
	for _, k := range keys {
		if m.Match(text, k, opts) {
			return k, true
		}
	}
	return "", false
}

// Match reports whether key matches text under opts.
func (m *Matcher) Match(text, key string, opts Options) bool {
	if strings.TrimSpace(key) == "" || text == "" {
		return false
	}
	if re, ok := m.regexFor(key); ok {
		found, err := re.MatchString(text)
		return err == nil && found
	}

	needle := strings.TrimSpace(key)
	haystack := text
	if !opts.CaseSensitive {
		needle = strings.ToLower(needle)
		haystack = strings.ToLower(haystack)
	}
	if !opts.MatchWholeWords || len(whitespace.Split(needle, -1)) > 1 {
		return strings.Contains(haystack, needle)
	}

	re, err := m.compile("w:"+needle, `(?:^|\W)(`+regexp2.Escape(needle)+`)(?:$|\W)`, regexp2.ECMAScript)
	if err != nil {
		return strings.Contains(haystack, needle)
	}
	found, err := re.MatchString(haystack)
	return err == nil && found
}

// regexFor compiles a /pattern/flags key. Invalid patterns report false so
// the caller falls back to literal matching.
func (m *Matcher) regexFor(key string) (*regexp2.Regexp, bool) {
	parts := regexKey.FindStringSubmatch(key)
	if parts == nil {
		return nil, false
	}
	pattern, flags := parts[1], parts[2]

	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if strings.Contains(flags, "s") {
		// regexp2 rejects Singleline with ECMAScript, which would also switch
		// \w, \d and \s to Unicode classes. Rewrite dots instead.
		pattern = dotAll(pattern)
	}
	if strings.Contains(flags, "i") {
		opts |= regexp2.IgnoreCase
	}
	if strings.Contains(flags, "m") {
		opts |= regexp2.Multiline
	}
	re, err := m.compile("r:"+strconv.Itoa(int(opts))+":"+pattern, pattern, opts)
	if err != nil {
		return nil, false
	}
	return re, true
}

// dotAll rewrites every unescaped dot outside a character class to [\s\S].
func dotAll(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	escaped, inClass := false, false
	for _, r := range pattern {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '[':
			inClass = true
		case r == ']':
			inClass = false
		case r == '.' && !inClass:
			b.WriteString(`[\s\S]`)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (m *Matcher) compile(cacheKey, pattern string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	if re, ok := m.cache.Get(cacheKey); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	m.cache.Add(cacheKey, re)
	return re, nil
}

// IsRegexKey reports whether key uses the /pattern/flags form and compiles.
func (m *Matcher) IsRegexKey(key string) bool {
	_, ok := m.regexFor(key)
	return ok
}

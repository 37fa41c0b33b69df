package host

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcliao/promptscope/internal/model"
)

// Envelope is one transcript record.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// fields is a payload object with keys folded so that loopCount,
// loop_count and LoopCount resolve alike.
type fields map[string]any

var keyFolder = strings.NewReplacer("_", "", "-", "")

func foldKey(k string) string {
	return strings.ToLower(keyFolder.Replace(k))
}

func decodeObject(data []byte) (fields, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fields{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", raw)
	}
	return fold(m), nil
}

func fold(m map[string]any) fields {
	out := make(fields, len(m))
	for k, v := range m {
		out[foldKey(k)] = v
	}
	return out
}

func (f fields) get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[foldKey(k)]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	v, ok := f.get(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func (f fields) num(keys ...string) int {
	v, ok := f.get(keys...)
	if !ok {
		return 0
	}
	return toInt(v)
}

func toInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if x, err := t.Float64(); err == nil {
			return int(x)
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return int(x)
		}
	case float64:
		return int(t)
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

func (f fields) float(keys ...string) float64 {
	v, ok := f.get(keys...)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case json.Number:
		x, _ := t.Float64()
		return x
	case string:
		x, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return x
	case float64:
		return t
	}
	return 0
}

func (f fields) boolean(keys ...string) bool {
	b := f.optBool(keys...)
	return b != nil && *b
}

// optBool returns nil when the field is absent or null.
func (f fields) optBool(keys ...string) *bool {
	v, ok := f.get(keys...)
	if !ok {
		return nil
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "" {
			return nil
		}
		b = s == "true" || s == "1" || s == "yes"
	case json.Number:
		b = toInt(t) != 0
	default:
		return nil
	}
	return &b
}

// strs accepts a list of strings or numbers, or a comma-separated string.
// A lone /pattern/flags string stays whole since commas are regex syntax.
func (f fields) strs(keys ...string) []string {
	v, ok := f.get(keys...)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, x := range t {
			switch s := x.(type) {
			case string:
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			case json.Number:
				out = append(out, s.String())
			}
		}
	case string:
		if t = strings.TrimSpace(t); regexLiteral(t) {
			return []string{t}
		}
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func regexLiteral(s string) bool {
	end := strings.LastIndexByte(s, '/')
	if len(s) < 3 || s[0] != '/' || end < 2 {
		return false
	}
	for _, c := range s[end+1:] {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

func (f fields) obj(keys ...string) fields {
	v, ok := f.get(keys...)
	if !ok {
		return fields{}
	}
	if m, ok := v.(map[string]any); ok {
		return fold(m)
	}
	return fields{}
}

func (f fields) list(keys ...string) []any {
	v, ok := f.get(keys...)
	if !ok {
		return nil
	}
	l, _ := v.([]any)
	return l
}

// --- Event decoders ---

// Decode parses an envelope's data into the boundary struct for its event.
// Unknown event names are an error; unknown fields are ignored.
func Decode(env Envelope) (Event, error) {
	f, err := decodeObject(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	switch strings.ToLower(env.Event) {
	case EventGenerationStarted, "generationstarted", "generation_start":
		return GenerationStarted{Type: f.str("type"), DryRun: f.boolean("dryRun", "dry_run")}, nil
	case EventScanDone, "worldinfo_scan_done", "world_info_scan_done":
		return parseScanDone(f), nil
	case EventPromptFragment:
		return parsePromptFragment(f), nil
	case EventDebug, "console_debug":
		return DebugLine{Args: parseArgs(f)}, nil
	case EventChatPromptReady, "chat_completion_prompt_ready":
		return ChatPromptReady{
			Chat:   parseMessages(f.list("chat", "messages")),
			DryRun: f.boolean("dryRun", "dry_run"),
		}, nil
	case EventRawPromptReady, "generate_after_combine_prompts":
		return RawPromptReady{Prompt: f.str("prompt", "finalPrompt"), DryRun: f.boolean("dryRun", "dry_run")}, nil
	case EventGenerationEnded, "generation_stopped":
		return GenerationEnded{}, nil
	case EventKnownPrompts:
		return KnownPrompts{model.KnownPrompts{
			AuthorsNote:    f.str("authorsNote", "authors_note", "an"),
			CharacterNote:  f.str("characterNote", "character_note", "depthPrompt", "depth_prompt"),
			StartReplyWith: f.str("startReplyWith", "start_reply_with", "prefill"),
		}}, nil
	case EventVectorSearch, "vectors_last_search":
		return parseVectorSearch(f), nil
	}
	return nil, fmt.Errorf("unknown event %q", env.Event)
}

func parseScanDone(f fields) ScanDone {
	state := f.obj("state")
	ev := ScanDone{State: ScanState{
		LoopCount: state.num("loopCount", "loop"),
		Next:      state.num("next"),
	}}
	for _, x := range f.list("activated", "entries", "new") {
		if m, ok := x.(map[string]any); ok {
			ev.Activated = append(ev.Activated, parseEntry(fold(m)))
		}
	}

	timed := TimedEffects{}
	if uids := uidList(f.list("sticky")); len(uids) > 0 {
		timed["sticky"] = uids
	}
	effects := f.obj("timedEffects", "timed")
	for k, v := range effects {
		if l, ok := v.([]any); ok {
			if uids := uidList(l); len(uids) > 0 {
				timed[k] = append(timed[k], uids...)
			}
		}
	}
	if len(timed) > 0 {
		ev.Timed = timed
	}
	return ev
}

// uidList accepts bare uids or objects carrying a uid.
func uidList(l []any) []int {
	var out []int
	for _, x := range l {
		switch t := x.(type) {
		case map[string]any:
			out = append(out, fold(t).num("uid"))
		default:
			out = append(out, toInt(t))
		}
	}
	return out
}

// parseEntry builds an entry from a folded payload object.
func parseEntry(f fields) model.Entry {
	e := model.Entry{
		UID:                 f.num("uid"),
		World:               f.str("world", "worldName"),
		Content:             f.str("content"),
		Comment:             f.str("comment"),
		Key:                 f.strs("key", "keys"),
		KeySecondary:        f.strs("keysecondary", "secondaryKeys", "keySecondary"),
		Depth:               f.num("depth"),
		Order:               f.num("order"),
		Sticky:              f.num("sticky"),
		Probability:         f.num("probability"),
		Group:               f.str("group"),
		Constant:            f.boolean("constant"),
		Vectorized:          f.boolean("vectorized"),
		Selective:           f.boolean("selective"),
		SelectiveLogic:      f.num("selectiveLogic"),
		Decorators:          f.strs("decorators"),
		CaseSensitive:       f.optBool("caseSensitive"),
		MatchWholeWords:     f.optBool("matchWholeWords"),
		ScanPersona:         f.boolean("scanPersona"),
		ScanCharacter:       f.boolean("scanCharacter"),
		ExcludeRecursion:    f.boolean("excludeRecursion"),
		DelayUntilRecursion: f.boolean("delayUntilRecursion"),
	}
	if v, ok := f.get("position"); ok {
		switch t := v.(type) {
		case json.Number:
			e.Position = model.PositionFromIndex(toInt(t))
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				e.Position = model.PositionFromIndex(n)
			} else {
				e.Position = strings.ToLower(strings.TrimSpace(t))
			}
		}
	}
	return e
}

func parsePromptFragment(f fields) PromptFragment {
	return PromptFragment{
		Identifier:   f.str("identifier", "id"),
		Content:      f.str("content"),
		Role:         f.str("role"),
		Name:         f.str("name", "displayName"),
		SystemPrompt: f.boolean("systemPrompt", "system_prompt"),
		Marker:       f.boolean("marker"),
		Raw:          f.str("raw", "template"),
		MacroSources: f.strs("macroSources"),
	}
}

func parseArgs(f fields) []any {
	var out []any
	for _, x := range f.list("args") {
		switch t := x.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		}
	}
	if len(out) == 0 {
		if s := f.str("text", "line"); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseMessages(l []any) []model.Message {
	var out []model.Message
	for _, x := range l {
		m, ok := x.(map[string]any)
		if !ok {
			continue
		}
		f := fold(m)
		msg := model.Message{Role: f.str("role"), Name: f.str("name")}
		if c, ok := f.get("content"); ok {
			msg.Content = contentText(c)
		}
		out = append(out, msg)
	}
	return out
}

// contentText flattens string content or a list of {type, text} parts.
func contentText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var parts []string
		for _, p := range t {
			if m, ok := p.(map[string]any); ok {
				if s := fold(m).str("text"); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func parseVectorSearch(f fields) VectorSearch {
	vs := VectorSearch{model.VectorSearch{Query: f.str("query")}}
	for _, x := range f.list("chunks", "results") {
		m, ok := x.(map[string]any)
		if !ok {
			continue
		}
		c := fold(m)
		text := c.str("text")
		if strings.TrimSpace(text) == "" {
			continue
		}
		vs.Chunks = append(vs.Chunks, model.VectorChunk{
			Hash:  c.str("hash"),
			Text:  text,
			Score: c.float("score"),
		})
	}
	return vs
}

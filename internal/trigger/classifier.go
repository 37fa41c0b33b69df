package trigger

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/model"
)

// ForceDecorator is the decorator that forces activation.
const ForceDecorator = "@@activate"

// State is the classifier lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCapturing
)

func (s State) String() string {
	if s == StateCapturing {
		return "capturing"
	}
	return "idle"
}

// TimedEffects answers timed-effect queries for an entry, e.g. "sticky".
type TimedEffects interface {
	IsActive(effect string, e model.Entry) bool
}

// ScanEvent is the host's world-info scan completion for one loop.
type ScanEvent struct {
	LoopCount int
	Next      int
	Activated []model.Entry
	Timed     TimedEffects
}

type phrase struct {
	reason  model.Reason
	re      *regexp.Regexp
	keyword int // submatch index of the matched keyword, 0 if none
}

// phrases are ordered most specific first.
var phrases = []phrase{
	{model.ReasonDecorator, regexp.MustCompile(`Entry (\d+) activated by @@activate decorator`), 0},
	{model.ReasonConstant, regexp.MustCompile(`Entry (\d+) activated because of constant`), 0},
	{model.ReasonSticky, regexp.MustCompile(`Entry (\d+) activated because active sticky`), 0},
	{model.ReasonPrimaryKeyMatch, regexp.MustCompile(`Entry (\d+) activated by primary key match (.+)$`), 2},
	{model.ReasonSecondaryAndAny, regexp.MustCompile(`Entry (\d+) activated\. \(AND ANY\) Found match secondary keyword (.+)$`), 2},
	{model.ReasonSecondaryNotAll, regexp.MustCompile(`Entry (\d+) activated\. \(NOT ALL\) Found not matching secondary keyword (.+)$`), 2},
	{model.ReasonSecondaryNotAny, regexp.MustCompile(`Entry (\d+) activated\. \(NOT ANY\) No secondary keywords found`), 0},
	{model.ReasonSecondaryAndAll, regexp.MustCompile(`Entry (\d+) activated\. \(AND ALL\) All secondary keywords found`), 0},
	{model.ReasonVector, regexp.MustCompile(`Entry (\d+) (?:externally activated|activated by vectors?)`), 0},
}

var entryUID = regexp.MustCompile(`Entry (\d+)`)

// Classifier is the per-generation trigger state machine.
type Classifier struct {
	mu      sync.Mutex
	capture *Capture
	logger  *zap.Logger
	state   State
	records map[int]model.TriggerRecord
	order   []int
}

// NewClassifier returns an idle classifier reading from capture.
func NewClassifier(capture *Capture, logger *zap.Logger) *Classifier {
	if capture == nil {
		capture = NewCapture(DefaultPrefix)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		capture: capture,
		logger:  logger,
		records: make(map[int]model.TriggerRecord),
	}
}

// Capture returns the underlying capture session.
func (c *Classifier) Capture() *Capture { return c.capture }

// State returns the current lifecycle state.
func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin resets all records and starts capturing from src.
func (c *Classifier) Begin(src LogSource) {
	c.mu.Lock()
	c.records = make(map[int]model.TriggerRecord)
	c.order = nil
	c.state = StateCapturing
	c.mu.Unlock()

	c.capture.ResetAll()
	c.capture.Start(src)
}

// End stops capturing. Safe without Begin.
func (c *Classifier) End() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.capture.Stop()
}

// ScanDone classifies every entry activated in this loop and returns their
// merged records. A record exists afterwards for every activated entry.
func (c *Classifier) ScanDone(ev ScanEvent) []model.TriggerRecord {
	lines := c.capture.Lines()
	c.capture.Reset()
	byUID := partition(lines)

	level := model.LevelFromLoop(ev.LoopCount)
	out := make([]model.TriggerRecord, 0, len(ev.Activated))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range ev.Activated {
		rec := model.TriggerRecord{
			UID:            e.UID,
			World:          e.World,
			RecursionLevel: level,
			LoopCount:      ev.LoopCount,
		}
		if reason, kw, ok := FromLog(e.UID, byUID[e.UID]); ok {
			rec.Reason, rec.MatchedKeyword, rec.Confident = reason, kw, true
		} else {
			rec.Reason, rec.Confident = InferFromShape(e, ev.Timed)
		}
		merged := c.mergeLocked(rec)
		out = append(out, merged)
	}
	if ev.Next == 0 && c.state == StateCapturing {
		c.state = StateIdle
		c.logger.Debug("world-info scan finished", zap.Int("loops", ev.LoopCount), zap.Int("records", len(c.records)))
	}
	return out
}

// mergeLocked keeps at most one record per uid. The first event fixes the
// level; reason is replaced only by more specific confident evidence; a
// captured keyword is never dropped.
func (c *Classifier) mergeLocked(rec model.TriggerRecord) model.TriggerRecord {
	prev, ok := c.records[rec.UID]
	if !ok {
		c.records[rec.UID] = rec
		c.order = append(c.order, rec.UID)
		return rec
	}

	merged := prev
	if rec.Confident && (!prev.Confident || rec.Reason.Specificity() > prev.Reason.Specificity()) {
		merged.Reason = rec.Reason
		merged.Confident = true
	}
	if rec.MatchedKeyword != "" && (merged.MatchedKeyword == "" || merged.Reason == rec.Reason) {
		merged.MatchedKeyword = rec.MatchedKeyword
	}
	if merged.World == "" {
		merged.World = rec.World
	}
	c.records[rec.UID] = merged
	return merged
}

// Record returns the record for uid.
func (c *Classifier) Record(uid int) (model.TriggerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[uid]
	return r, ok
}

// Records returns all records in first-seen order.
func (c *Classifier) Records() []model.TriggerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.TriggerRecord, 0, len(c.order))
	for _, uid := range c.order {
		out = append(out, c.records[uid])
	}
	return out
}

// Levels returns uid to recursion level for every record.
func (c *Classifier) Levels() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int, len(c.records))
	for uid, r := range c.records {
		out[uid] = r.RecursionLevel
	}
	return out
}

// partition groups lines by the uid they mention. When several loops are
// buffered, only lines from the latest loop are kept for a uid that also
// appears there.
func partition(lines []Line) map[int][]Line {
	byUID := make(map[int][]Line)
	for _, l := range lines {
		m := entryUID.FindStringSubmatch(l.Text)
		if m == nil {
			continue
		}
		uid, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		byUID[uid] = append(byUID[uid], l)
	}
	for uid, ls := range byUID {
		latest := 0
		for _, l := range ls {
			if l.Loop > latest {
				latest = l.Loop
			}
		}
		if latest == 0 {
			continue
		}
		var kept []Line
		for _, l := range ls {
			if l.Loop == latest {
				kept = append(kept, l)
			}
		}
		byUID[uid] = kept
	}
	return byUID
}

// FromLog derives a reason from lines about uid. The most specific phrase
// wins; if it carries no keyword, a keyword from any other phrase is used.
func FromLog(uid int, lines []Line) (model.Reason, string, bool) {
	best := -1
	var keyword, fallbackKeyword string
	for _, l := range lines {
		for i, p := range phrases {
			m := p.re.FindStringSubmatch(l.Text)
			if m == nil || m[1] != strconv.Itoa(uid) {
				continue
			}
			kw := ""
			if p.keyword > 0 && p.keyword < len(m) {
				kw = strings.TrimSpace(m[p.keyword])
			}
			if kw != "" && fallbackKeyword == "" {
				fallbackKeyword = kw
			}
			if best == -1 || i < best {
				best = i
				keyword = kw
			}
			break
		}
	}
	if best == -1 {
		return "", "", false
	}
	if keyword == "" {
		keyword = fallbackKeyword
	}
	return phrases[best].reason, keyword, true
}

// InferFromShape classifies an entry from its configuration alone.
func InferFromShape(e model.Entry, timed TimedEffects) (model.Reason, bool) {
	switch {
	case e.Constant:
		return model.ReasonConstant, true
	case e.Vectorized:
		return model.ReasonVector, true
	case hasDecorator(e.Decorators, ForceDecorator):
		return model.ReasonDecorator, true
	case timed != nil && timed.IsActive("sticky", e):
		return model.ReasonSticky, true
	case e.Sticky > 0:
		return model.ReasonSticky, false
	case e.Selective && hasAny(e.KeySecondary):
		return model.ReasonKeyMatchSelective, false
	case e.HasKeys():
		return model.ReasonKeyMatch, false
	default:
		return model.ReasonActivated, false
	}
}

func hasDecorator(decorators []string, want string) bool {
	for _, d := range decorators {
		if strings.TrimSpace(d) == want {
			return true
		}
	}
	return false
}

func hasAny(keys []string) bool {
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}

// SortByLevel orders records by recursion level, then uid.
func SortByLevel(records []model.TriggerRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].RecursionLevel != records[j].RecursionLevel {
			return records[i].RecursionLevel < records[j].RecursionLevel
		}
		return records[i].UID < records[j].UID
	})
}

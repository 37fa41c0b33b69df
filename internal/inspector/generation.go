package inspector

import (
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/host"
	"github.com/rcliao/promptscope/internal/itemize"
	"github.com/rcliao/promptscope/internal/matcher"
	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/recursion"
	"github.com/rcliao/promptscope/internal/shadow"
	"github.com/rcliao/promptscope/internal/trigger"
)

// Generation is the state of one generation turn. A new one replaces the
// previous session wholesale at generation start.
type Generation struct {
	ID      string
	Type    string
	Started time.Time
	Known   model.KnownPrompts
	Vector  *model.VectorSearch

	classifier *trigger.Classifier
	shadow     *shadow.Store
	entries    map[int]model.Entry
	order      []int
	scopes     []*shadow.Scope
}

func newGeneration(ev host.GenerationStarted, capture *trigger.Capture, logger *zap.Logger) *Generation {
	return &Generation{
		ID:         ulid.Make().String(),
		Type:       ev.Type,
		Started:    time.Now(),
		classifier: trigger.NewClassifier(capture, logger),
		shadow:     shadow.NewStoreWithTagger(itemize.TagFor),
		entries:    make(map[int]model.Entry),
	}
}

// Records returns the generation's trigger records.
func (g *Generation) Records() []model.TriggerRecord { return g.classifier.Records() }

// State returns the classifier state.
func (g *Generation) State() trigger.State { return g.classifier.State() }

// Entries returns the tracked entries in activation order.
func (g *Generation) Entries() []model.Entry {
	out := make([]model.Entry, 0, len(g.order))
	for _, uid := range g.order {
		out = append(out, g.entries[uid])
	}
	return out
}

// track records activated entries; a later report for a uid refreshes its fields.
func (g *Generation) track(entries []model.Entry) {
	for _, e := range entries {
		if _, ok := g.entries[e.UID]; !ok {
			g.order = append(g.order, e.UID)
		}
		g.entries[e.UID] = e
	}
}

func (g *Generation) input() itemize.Input {
	return itemize.Input{
		Entries: g.Entries(),
		Shadow:  g.shadow.Drain(),
		Known:   g.Known,
		Vector:  g.Vector,
	}
}

func (g *Generation) graph(m *matcher.Matcher) recursion.Graph {
	return recursion.Build(recursion.Inputs(g.Entries(), g.classifier.Levels()), m)
}

// end restores patched values, stops capture and clears the shadow store.
func (g *Generation) end() {
	for _, s := range g.scopes {
		s.Release()
	}
	g.scopes = nil
	g.classifier.End()
	g.shadow.Clear()
}

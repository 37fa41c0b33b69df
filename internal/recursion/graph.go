// Package recursion rebuilds which entries' content caused later scan
// loops to activate other entries.
package recursion

import (
	"sort"

	"github.com/rcliao/promptscope/internal/matcher"
	"github.com/rcliao/promptscope/internal/model"
)

// Input is a tracked entry with its recursion level.
type Input struct {
	Entry model.Entry
	Level int
}

// Node is an entry placed in the graph.
type Node struct {
	UID         int                   `json:"uid"`
	World       string                `json:"world"`
	Name        string                `json:"name"`
	Level       int                   `json:"level"`
	TriggeredBy []model.RecursionEdge `json:"triggeredBy,omitempty"`
	// TriggersLevel is the lowest level this entry caused, nil if none.
	TriggersLevel *int `json:"triggersLevel,omitempty"`
}

// Level groups the nodes of one recursion level.
type Level struct {
	Level   int    `json:"level"`
	Entries []Node `json:"entries"`
}

// Graph is the level-grouped causal graph of one generation.
type Graph struct {
	Levels       []Level               `json:"levels"`
	Edges        []model.RecursionEdge `json:"edges"`
	HasRecursion bool                  `json:"hasRecursion"`
}

// Inputs pairs entries with levels. Entries without a known level are level 0.
func Inputs(entries []model.Entry, levels map[int]int) []Input {
	out := make([]Input, 0, len(entries))
	for _, e := range entries {
		out = append(out, Input{Entry: e, Level: levels[e.UID]})
	}
	return out
}

// FindTriggeringSources returns an edge for every candidate at the level
// directly below target whose content matches one of target's keys.
func FindTriggeringSources(target Input, candidates []Input, m *matcher.Matcher) []model.RecursionEdge {
	if target.Level <= 0 {
		return nil
	}
	opts := m.OptionsFor(target.Entry)
	var edges []model.RecursionEdge
	for _, src := range candidates {
		if src.Level != target.Level-1 || src.Entry.UID == target.Entry.UID {
			continue
		}
		key, ok := m.FirstMatch(src.Entry.Content, target.Entry.Key, opts)
		if !ok {
			continue
		}
		edges = append(edges, model.RecursionEdge{
			SourceUID:   src.Entry.UID,
			TargetUID:   target.Entry.UID,
			MatchedKey:  key,
			SourceLevel: src.Level,
			TargetLevel: target.Level,
		})
	}
	return edges
}

// Build computes the graph from scratch. It does not modify inputs.
func Build(inputs []Input, m *matcher.Matcher) Graph {
	byLevel := make(map[int][]Input)
	for _, in := range inputs {
		byLevel[in.Level] = append(byLevel[in.Level], in)
	}

	var edges []model.RecursionEdge
	incoming := make(map[int][]model.RecursionEdge)
	minTriggered := make(map[int]int)
	for _, in := range inputs {
		found := FindTriggeringSources(in, byLevel[in.Level-1], m)
		for _, e := range found {
			incoming[e.TargetUID] = append(incoming[e.TargetUID], e)
			if cur, ok := minTriggered[e.SourceUID]; !ok || e.TargetLevel < cur {
				minTriggered[e.SourceUID] = e.TargetLevel
			}
		}
		edges = append(edges, found...)
	}

	levelNums := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levelNums = append(levelNums, l)
	}
	sort.Ints(levelNums)

	g := Graph{Edges: edges}
	for _, l := range levelNums {
		lvl := Level{Level: l}
		for _, in := range byLevel[l] {
			n := Node{
				UID:         in.Entry.UID,
				World:       in.Entry.World,
				Name:        in.Entry.DisplayName(),
				Level:       l,
				TriggeredBy: incoming[in.Entry.UID],
			}
			if tl, ok := minTriggered[in.Entry.UID]; ok {
				tl := tl
				n.TriggersLevel = &tl
			}
			lvl.Entries = append(lvl.Entries, n)
		}
		sort.SliceStable(lvl.Entries, func(i, j int) bool {
			if lvl.Entries[i].Name != lvl.Entries[j].Name {
				return lvl.Entries[i].Name < lvl.Entries[j].Name
			}
			return lvl.Entries[i].UID < lvl.Entries[j].UID
		})
		g.Levels = append(g.Levels, lvl)
	}
	g.HasRecursion = len(g.Levels) > 1 || (len(g.Levels) == 1 && g.Levels[0].Level != 0)
	return g
}

// Sources returns the uids whose content triggered uid.
func (g Graph) Sources(uid int) []int {
	var out []int
	for _, e := range g.Edges {
		if e.TargetUID == uid {
			out = append(out, e.SourceUID)
		}
	}
	return out
}

package engine

import (
	"fmt"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// dag is the in-memory adjacency view of a domain.Workflow used by the
// Graph Runner to compute wavefronts and propagate skips. Built
// once per Run, never mutated concurrently with reads.
type dag struct {
	nodes    map[string]domain.Node
	children map[string][]string // from -> []to
	parents  map[string][]string // to -> []from
}

func buildDAG(wf domain.Workflow) (*dag, error) {
	d := &dag{
		nodes:    make(map[string]domain.Node, len(wf.Nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
	for _, n := range wf.Nodes {
		if _, dup := d.nodes[n.ID]; dup {
			return nil, fmt.Errorf("workflow %s: duplicate node id %q", wf.ID, n.ID)
		}
		d.nodes[n.ID] = n
	}
	for _, e := range wf.Edges {
		if _, ok := d.nodes[e.From]; !ok {
			return nil, fmt.Errorf("workflow %s: edge references unknown node %q", wf.ID, e.From)
		}
		if _, ok := d.nodes[e.To]; !ok {
			return nil, fmt.Errorf("workflow %s: edge references unknown node %q", wf.ID, e.To)
		}
		d.children[e.From] = append(d.children[e.From], e.To)
		d.parents[e.To] = append(d.parents[e.To], e.From)
	}
	if cyc := d.findCycle(); cyc != "" {
		return nil, fmt.Errorf("workflow %s: cycle detected at node %q", wf.ID, cyc)
	}
	return d, nil
}

// roots returns nodes with no incoming edges — the trigger node(s), per
// the workflow invariant of exactly one reachable trigger.
func (d *dag) roots() []string {
	var out []string
	for id := range d.nodes {
		if len(d.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// findCycle does a three-color DFS and returns the id of a node involved
// in a cycle, or "" if the graph is acyclic.
func (d *dag) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.nodes))
	var found string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, c := range d.children[id] {
			switch color[c] {
			case gray:
				found = c
				return true
			case white:
				if visit(c) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range d.nodes {
		if color[id] == white {
			if visit(id) {
				return found
			}
		}
	}
	return ""
}

// ready returns the subset of pending (neither done nor skipped) nodes all
// of whose parents are already in done (succeeded) — the next wavefront.
func (d *dag) ready(done, skipped map[string]bool) []string {
	var out []string
	for id := range d.nodes {
		if done[id] || skipped[id] {
			continue
		}
		allParentsDone := true
		for _, p := range d.parents[id] {
			if !done[p] {
				allParentsDone = false
				break
			}
		}
		if allParentsDone {
			out = append(out, id)
		}
	}
	return out
}

// descendants returns every node reachable from id (not including id
// itself), used to cascade failed->skipped.
func (d *dag) descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(cur string) {
		for _, c := range d.children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

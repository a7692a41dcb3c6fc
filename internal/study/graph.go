// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package study

import (
	"fmt"
	"io"
)

// Any disables a filter of ExtractSubGraph.
const Any = -1

// Graph is an insertion-ordered set of cases with single-parent dependency
// edges.
type Graph struct {
	order []*Case
	index map[Key]*Case
	// deps maps a case to its dependency.
	deps map[Key]*Case
	// levels holds this graph's own levels. The root graph also stamps
	// them on the cases; sub-graphs never do.
	levels map[Key]int
	root   bool

	maxLevel int
	maxProc  int
}

// NewGraph creates and returns an empty root graph.
func NewGraph() *Graph {
	return newGraph(true)
}

func newGraph(root bool) *Graph {
	return &Graph{
		index:  make(map[Key]*Case),
		deps:   make(map[Key]*Case),
		levels: make(map[Key]int),
		root:   root,
	}
}

// AddNode adds a case to the graph. A case whose key is already present is
// ignored. If the case names a dependency that is in the graph, the edge is
// recorded and the case sits one level below its parent. Otherwise the case
// joins at level 0 and the returned warning wraps ErrDanglingDependency;
// the case is added either way.
func (g *Graph) AddNode(c *Case) (warning error) {
	k := c.Key()
	if _, ok := g.index[k]; ok {
		return nil
	}
	g.order = append(g.order, c)
	g.index[k] = c

	level := 0
	if c.Depends != nil {
		if parent, ok := g.index[*c.Depends]; ok && parent != c {
			g.deps[k] = parent
			level = g.levels[parent.Key()] + 1
		} else {
			warning = fmt.Errorf("%w: %s depends on %s", ErrDanglingDependency, c.Title(), c.Depends)
		}
	}
	g.setLevel(c, level)
	g.maxProc = max(g.maxProc, c.NProcs)
	return warning
}

// AddDependency records that child runs after parent. Both cases must
// already be in the graph. A case has at most one dependency: a second
// call for the same child fails with ErrDependencyExists and leaves the
// graph unchanged.
func (g *Graph) AddDependency(child, parent *Case) error {
	ck, pk := child.Key(), parent.Key()
	if _, ok := g.index[ck]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, ck)
	}
	if _, ok := g.index[pk]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, pk)
	}
	if existing, ok := g.deps[ck]; ok {
		return fmt.Errorf("%w: %s depends on %s", ErrDependencyExists, ck, existing.Key())
	}
	for p := parent; p != nil; p = g.deps[p.Key()] {
		if p.Key() == ck {
			return fmt.Errorf("%w: %s -> %s", ErrCycle, pk, ck)
		}
	}

	g.deps[ck] = parent
	child.Depends = &pk
	g.relevel()
	return nil
}

// relevel recomputes every level from the dependency chains.
func (g *Graph) relevel() {
	g.maxLevel = 0
	for _, c := range g.order {
		level := 0
		for p := g.deps[c.Key()]; p != nil; p = g.deps[p.Key()] {
			level++
		}
		g.setLevel(c, level)
	}
}

func (g *Graph) setLevel(c *Case, level int) {
	g.levels[c.Key()] = level
	if g.root {
		c.Level = level
	}
	g.maxLevel = max(g.maxLevel, level)
}

// ExtractSubGraph returns a graph holding the cases of this graph at the
// given level running on nProcs processes. Either filter may be Any. The
// sub-graph computes its own levels among the retained cases: a case whose
// dependency was filtered out is at level 0 in the sub-graph.
func (g *Graph) ExtractSubGraph(level, nProcs int) *Graph {
	sub := newGraph(false)
	for _, c := range g.order {
		if level != Any && g.levels[c.Key()] != level {
			continue
		}
		if nProcs != Any && c.NProcs != nProcs {
			continue
		}
		// Dangling dependencies are expected here.
		_ = sub.AddNode(c)
	}
	return sub
}

// Nodes returns the cases in insertion order.
func (g *Graph) Nodes() []*Case {
	return append([]*Case(nil), g.order...)
}

// Len returns the number of cases in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Lookup returns the case with the given key.
func (g *Graph) Lookup(k Key) (*Case, bool) {
	c, ok := g.index[k]
	return c, ok
}

// Dependency returns the case c depends on in this graph, or nil.
func (g *Graph) Dependency(c *Case) *Case {
	return g.deps[c.Key()]
}

// Level returns the level of c in this graph.
func (g *Graph) Level(c *Case) int {
	return g.levels[c.Key()]
}

// MaxLevel returns the deepest level in the graph.
func (g *Graph) MaxLevel() int {
	return g.maxLevel
}

// MaxProc returns the largest process count in the graph.
func (g *Graph) MaxProc() int {
	return g.maxProc
}

// Studies returns the distinct study labels in insertion order.
func (g *Graph) Studies() []string {
	var labels []string
	seen := make(map[string]bool)
	for _, c := range g.order {
		if !seen[c.Study] {
			seen[c.Study] = true
			labels = append(labels, c.Study)
		}
	}
	return labels
}

// Dump writes the graph level by level.
func (g *Graph) Dump(w io.Writer) error {
	for level := 0; level <= g.maxLevel; level++ {
		if _, err := fmt.Fprintf(w, "level %d:\n", level); err != nil {
			return err
		}
		for _, c := range g.order {
			if g.levels[c.Key()] != level {
				continue
			}
			dep := ""
			if p := g.deps[c.Key()]; p != nil {
				dep = " <- " + p.Title()
			}
			_, err := fmt.Fprintf(w, "  %s (n_procs=%d, expected_time=%d min)%s\n", c.Title(), c.NProcs, c.ExpectedTime, dep)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

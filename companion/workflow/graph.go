package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// StepName names a node in the graph.
type StepName string

// End is the terminal marker. It is never a node.
const End StepName = "__end__"

// Page selects which kind of run the start node routes into.
type Page string

const (
	PageOptimizeMemory           Page = "optimize_memory"
	PageGenerateDiary            Page = "generate_diary"
	PageGenerateDynamicCondition Page = "generate_dynamic_condition"
)

// RunContext is the routing input of a run.
type RunContext struct {
	Page      Page
	UserID    string // conversation id the memory namespace is keyed by
	FirstTurn bool   // the conversation had no checkpoint before this run
}

var (
	ErrInvalidGraph = errors.New("invalid workflow graph")
	ErrUnknownStep  = errors.New("unknown step")
	ErrNoRoute      = errors.New("no route for run context")
)

// StepFunc runs one step against the merged state and returns its partial update.
// The state passed in is a copy; steps communicate only through the update.
type StepFunc func(ctx context.Context, st State, rc RunContext) (Update, error)

// Router picks the successor of a conditional node.
type Router func(rc RunContext) (StepName, error)

// Branch is a conditional edge. Targets lists every step the router may return
// so the graph can be validated statically.
type Branch struct {
	Route   Router
	Targets []StepName
}

// Graph is an explicit workflow: a node table, a static edge table and the
// conditional branches. Every node has exactly one outgoing edge or branch.
type Graph struct {
	Entry    StepName
	Nodes    map[StepName]StepFunc
	Edges    map[StepName]StepName
	Branches map[StepName]Branch
}

func (g *Graph) known(name StepName) bool {
	if name == End {
		return true
	}
	_, ok := g.Nodes[name]
	return ok
}

// successors lists the static and conditional successors of a node.
func (g *Graph) successors(name StepName) []StepName {
	if to, ok := g.Edges[name]; ok {
		return []StepName{to}
	}
	if br, ok := g.Branches[name]; ok {
		return br.Targets
	}
	return nil
}

// Validate rejects dangling edges, nodes without an exit, unreachable nodes and cycles.
func (g *Graph) Validate() error {
	if g == nil || len(g.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}
	if _, ok := g.Nodes[g.Entry]; !ok {
		return fmt.Errorf("%w: entry %q is not a node", ErrInvalidGraph, g.Entry)
	}

	for from, to := range g.Edges {
		if _, ok := g.Nodes[from]; !ok {
			return fmt.Errorf("%w: edge from unknown step %q", ErrInvalidGraph, from)
		}
		if !g.known(to) {
			return fmt.Errorf("%w: edge %q -> %q is dangling", ErrInvalidGraph, from, to)
		}
		if _, dup := g.Branches[from]; dup {
			return fmt.Errorf("%w: step %q has both a static edge and a branch", ErrInvalidGraph, from)
		}
	}
	for from, br := range g.Branches {
		if _, ok := g.Nodes[from]; !ok {
			return fmt.Errorf("%w: branch from unknown step %q", ErrInvalidGraph, from)
		}
		if br.Route == nil || len(br.Targets) == 0 {
			return fmt.Errorf("%w: branch on %q has no router or targets", ErrInvalidGraph, from)
		}
		for _, to := range br.Targets {
			if !g.known(to) {
				return fmt.Errorf("%w: branch %q -> %q is dangling", ErrInvalidGraph, from, to)
			}
		}
	}

	names := make([]StepName, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, name := range names {
		if len(g.successors(name)) == 0 {
			return fmt.Errorf("%w: step %q has no outgoing edge", ErrInvalidGraph, name)
		}
	}

	// Depth-first walk from the entry; grey nodes on the stack reveal cycles.
	const (
		white = iota
		grey
		black
	)
	color := make(map[StepName]int, len(g.Nodes))
	var visit func(StepName) error
	visit = func(n StepName) error {
		color[n] = grey
		for _, next := range g.successors(n) {
			if next == End {
				continue
			}
			switch color[next] {
			case grey:
				return fmt.Errorf("%w: cycle through %q -> %q", ErrInvalidGraph, n, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}
	if err := visit(g.Entry); err != nil {
		return err
	}

	for _, name := range names {
		if color[name] != black {
			return fmt.Errorf("%w: step %q is unreachable from %q", ErrInvalidGraph, name, g.Entry)
		}
	}
	return nil
}

// Next resolves the successor of a step for the given run context.
func (g *Graph) Next(from StepName, rc RunContext) (StepName, error) {
	if to, ok := g.Edges[from]; ok {
		return to, nil
	}
	br, ok := g.Branches[from]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, from)
	}
	to, err := br.Route(rc)
	if err != nil {
		return "", err
	}
	if !slices.Contains(br.Targets, to) {
		return "", fmt.Errorf("%w: router on %q returned undeclared target %q", ErrNoRoute, from, to)
	}
	return to, nil
}

// Path returns the sequence of steps a run with rc would visit, without executing
// anything. Useful for tests and for logging the plan of a run.
func (g *Graph) Path(rc RunContext) ([]StepName, error) {
	var path []StepName
	seen := make(map[StepName]bool, len(g.Nodes))
	for cur := g.Entry; cur != End; {
		if seen[cur] {
			return path, fmt.Errorf("%w: re-entry into %q", ErrInvalidGraph, cur)
		}
		seen[cur] = true
		path = append(path, cur)
		next, err := g.Next(cur, rc)
		if err != nil {
			return path, err
		}
		cur = next
	}
	return path, nil
}

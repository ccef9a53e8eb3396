// Package graph holds the in-memory dependency graph of one item's stages.
//
// Edges point from a stage to the stage it depends on (its prerequisite).
// The graph is built per request from persisted rows and is not safe for
// concurrent mutation.
package graph

import (
	"sort"

	"stageflow/internal/model"
)

type Graph struct {
	nodes      map[string]struct{}
	prereqs    map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
}

func New() *Graph {
	return &Graph{
		nodes:      make(map[string]struct{}),
		prereqs:    make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// FromItem builds the graph of one item. Edges that reference stages outside
// stages are ignored.
func FromItem(stages []model.Stage, deps []model.Dependency) *Graph {
	g := New()
	for i := range stages {
		g.AddNode(stages[i].ID)
	}
	for _, d := range deps {
		if !g.HasNode(d.StageID) || !g.HasNode(d.DependsOnStageID) {
			continue
		}
		g.link(d.StageID, d.DependsOnStageID)
	}
	return g
}

// AddNode is a no-op when the node already exists.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = struct{}{}
	g.prereqs[id] = make(map[string]struct{})
	g.dependents[id] = make(map[string]struct{})
}

func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) HasEdge(stageID, dependsOnID string) bool {
	p, ok := g.prereqs[stageID]
	if !ok {
		return false
	}
	_, ok = p[dependsOnID]
	return ok
}

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, p := range g.prereqs {
		n += len(p)
	}
	return n
}

// AddEdge records that stageID depends on dependsOnID. The graph is left
// unchanged when either node is unknown or the edge would close a cycle.
func (g *Graph) AddEdge(stageID, dependsOnID string) error {
	if !g.HasNode(stageID) {
		return &model.NotFoundError{Entity: "stage", ID: stageID}
	}
	if !g.HasNode(dependsOnID) {
		return &model.NotFoundError{Entity: "stage", ID: dependsOnID}
	}
	if g.WouldCreateCycle(stageID, dependsOnID) {
		return &model.CyclicDependencyError{StageID: stageID, DependsOnStageID: dependsOnID}
	}
	g.link(stageID, dependsOnID)
	return nil
}

func (g *Graph) RemoveEdge(stageID, dependsOnID string) {
	delete(g.prereqs[stageID], dependsOnID)
	delete(g.dependents[dependsOnID], stageID)
}

func (g *Graph) link(stageID, dependsOnID string) {
	g.prereqs[stageID][dependsOnID] = struct{}{}
	g.dependents[dependsOnID][stageID] = struct{}{}
}

// WouldCreateCycle reports whether adding "stageID depends on dependsOnID"
// closes a cycle: that is the case when stageID is already reachable from
// dependsOnID by following prerequisite edges. Self edges are cycles.
func (g *Graph) WouldCreateCycle(stageID, dependsOnID string) bool {
	if stageID == dependsOnID {
		return true
	}
	visited := map[string]struct{}{dependsOnID: {}}
	stack := []string{dependsOnID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.prereqs[cur] {
			if next == stageID {
				return true
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return false
}

// Prerequisites returns the direct prerequisites of id, sorted.
func (g *Graph) Prerequisites(id string) []string {
	return sortedKeys(g.prereqs[id])
}

// Dependents returns the stages that directly depend on id, sorted.
func (g *Graph) Dependents(id string) []string {
	return sortedKeys(g.dependents[id])
}

// DownstreamOf returns every stage transitively depending on id in
// breadth-first discovery order. id itself is not included.
func (g *Graph) DownstreamOf(id string) []string {
	if !g.HasNode(id) {
		return nil
	}
	visited := map[string]struct{}{id: {}}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Dependents(cur) {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// TopologicalOrder lists every node after all of its prerequisites. Ties are
// broken by id so the result is deterministic.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.prereqs[id])
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		var unlocked []string
		for _, next := range g.Dependents(cur) {
			indegree[next]--
			if indegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		ready = append(ready, unlocked...)
		sort.Strings(ready)
	}

	if len(order) != len(g.nodes) {
		for _, id := range sortedKeys(g.nodes) {
			if indegree[id] > 0 {
				return nil, &model.CyclicDependencyError{StageID: id, DependsOnStageID: g.Prerequisites(id)[0]}
			}
		}
	}
	return order, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package sync

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph orders tables so that parents come before the tables
// referencing them.
type DependencyGraph struct {
	order    []string
	position map[string]int
	parents  map[string][]string
}

// NewDependencyGraph builds the graph from declared foreign keys using Kahn's
// algorithm with a name tie-break. References to tables outside the set and
// self references are ignored. Cycles return ErrCyclicDependency.
func NewDependencyGraph(tables []TableSchema) (*DependencyGraph, error) {
	names := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		names[t.Name] = struct{}{}
	}

	parents := make(map[string][]string, len(tables))
	children := make(map[string][]string, len(tables))
	indegree := make(map[string]int, len(tables))
	for _, t := range tables {
		indegree[t.Name] += 0
		seen := make(map[string]struct{})
		for _, fk := range t.ForeignKeys {
			if fk.Table == t.Name {
				continue
			}
			if _, ok := names[fk.Table]; !ok {
				continue
			}
			if _, dup := seen[fk.Table]; dup {
				continue
			}
			seen[fk.Table] = struct{}{}
			parents[t.Name] = append(parents[t.Name], fk.Table)
			children[fk.Table] = append(children[fk.Table], t.Name)
			indegree[t.Name]++
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(tables))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, child := range children[current] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(indegree) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(stuck, ", "))
	}

	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}

	return &DependencyGraph{order: order, position: position, parents: parents}, nil
}

// Order returns table names parents first.
func (g *DependencyGraph) Order() []string {
	return append([]string(nil), g.order...)
}

// Position returns the index of table in Order, or -1.
func (g *DependencyGraph) Position(table string) int {
	if p, ok := g.position[table]; ok {
		return p
	}
	return -1
}

// Parents returns the tables table references.
func (g *DependencyGraph) Parents(table string) []string {
	return append([]string(nil), g.parents[table]...)
}

// Order sorts a change set for application: inserts and updates table by
// table in dependency order, then deletes in reverse dependency order. Rows
// of a table follow primary-key order.
func Order(cs *ChangeSet, g *DependencyGraph) ([]TrackedRow, error) {
	if cs == nil || len(cs.Changes) == 0 {
		return nil, nil
	}

	upserts := make([][]TrackedRow, len(g.order))
	deletes := make([][]TrackedRow, len(g.order))
	for _, change := range cs.Changes {
		pos := g.Position(change.Table)
		if pos < 0 {
			return nil, fmt.Errorf("%w: table %s is not part of the scope", ErrInvalidConfig, change.Table)
		}
		if change.IsDelete() {
			deletes[pos] = append(deletes[pos], change)
		} else {
			upserts[pos] = append(upserts[pos], change)
		}
	}

	byKey := func(rows []TrackedRow) {
		sort.SliceStable(rows, func(i, j int) bool {
			return CompareKeys(rows[i].Key, rows[j].Key) < 0
		})
	}

	ordered := make([]TrackedRow, 0, len(cs.Changes))
	for pos := range g.order {
		byKey(upserts[pos])
		ordered = append(ordered, upserts[pos]...)
	}
	for pos := len(g.order) - 1; pos >= 0; pos-- {
		byKey(deletes[pos])
		ordered = append(ordered, deletes[pos]...)
	}
	return ordered, nil
}

package sync

import (
	"fmt"
)

// Setup is the validated table configuration of a scope.
type Setup struct {
	tables map[string]TableSchema
	graph  *DependencyGraph
}

// NewSetup validates the tables and builds their dependency graph.
// Cycles are rejected here, before any session starts.
func NewSetup(tables ...TableSchema) (*Setup, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no tables configured", ErrInvalidConfig)
	}

	byName := make(map[string]TableSchema, len(tables))
	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: table without a name", ErrInvalidConfig)
		}
		if len(t.PrimaryKey) == 0 {
			return nil, fmt.Errorf("%w: table %s has no primary key", ErrInvalidConfig, t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("%w: table %s configured twice", ErrInvalidConfig, t.Name)
		}
		byName[t.Name] = t
	}

	graph, err := NewDependencyGraph(tables)
	if err != nil {
		return nil, err
	}

	return &Setup{tables: byName, graph: graph}, nil
}

// Graph returns the dependency graph of all configured tables.
func (s *Setup) Graph() *DependencyGraph {
	return s.graph
}

// Table returns the schema of a configured table.
func (s *Setup) Table(name string) (TableSchema, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Tables resolves names to schemas in dependency order. No names selects
// every configured table.
func (s *Setup) Tables(names []string) ([]TableSchema, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := s.tables[name]; !ok {
			return nil, fmt.Errorf("%w: unknown table %s", ErrInvalidConfig, name)
		}
		wanted[name] = struct{}{}
	}

	out := make([]TableSchema, 0, len(s.tables))
	for _, name := range s.graph.order {
		if len(wanted) > 0 {
			if _, ok := wanted[name]; !ok {
				continue
			}
		}
		out = append(out, s.tables[name])
	}
	return out, nil
}

func tableNames(tables []TableSchema) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

func tableIndex(tables []TableSchema) map[string]TableSchema {
	idx := make(map[string]TableSchema, len(tables))
	for _, t := range tables {
		idx[t.Name] = t
	}
	return idx
}

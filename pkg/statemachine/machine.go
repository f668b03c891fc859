// Package statemachine holds the legal-transition tables shared by the
// order, voucher, group and settlement aggregates.
package statemachine

import (
	"fmt"
	"sort"

	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
)

// Machine is an immutable set of allowed edges between states of type S.
type Machine[S comparable] struct {
	name  string
	edges map[S]map[S]struct{}
	known map[S]struct{}
}

// Edge is a single legal transition.
type Edge[S comparable] struct {
	From S
	To   S
}

// New builds a machine from its edges. States with no outgoing edge are terminal.
func New[S comparable](name string, edges ...Edge[S]) *Machine[S] {
	m := &Machine[S]{
		name:  name,
		edges: make(map[S]map[S]struct{}),
		known: make(map[S]struct{}),
	}
	for _, e := range edges {
		if m.edges[e.From] == nil {
			m.edges[e.From] = make(map[S]struct{})
		}
		m.edges[e.From][e.To] = struct{}{}
		m.known[e.From] = struct{}{}
		m.known[e.To] = struct{}{}
	}
	return m
}

func (m *Machine[S]) Name() string { return m.name }

// CanTransition reports whether from -> to is a legal edge.
func (m *Machine[S]) CanTransition(from, to S) bool {
	next, ok := m.edges[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether s has no outgoing edges.
func (m *Machine[S]) IsTerminal(s S) bool {
	_, known := m.known[s]
	return known && len(m.edges[s]) == 0
}

// Validate returns a CodeStateConflict error carrying reason when from -> to is illegal.
func (m *Machine[S]) Validate(from, to S, reason string) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return pkgerrors.StateConflict(reason, fmt.Sprintf("%s cannot move from %v to %v", m.name, from, to))
}

// Sources lists every state with an edge into to. Guarded updates use it as
// the allowed current statuses in their WHERE clause.
func (m *Machine[S]) Sources(to S) []S {
	var out []S
	for from, next := range m.edges {
		if _, ok := next[to]; ok {
			out = append(out, from)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

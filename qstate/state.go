// Package qstate tracks the lifecycle of a keychain instance with an
// explicit state machine: only listed transitions are allowed.
package qstate

import (
	"fmt"
	"slices"
	"sync"
)

type State interface {
	comparable
	fmt.Stringer
}

// Transition names one allowed edge.
type Transition[S State] struct {
	From S
	To   S
	Name string // Used in logs.
}

type edge[S State] struct {
	From, To S
}

// Machine enforces the allowed transitions.
type Machine[S State] struct {
	mu      sync.RWMutex
	current S

	edges    map[edge[S]]string
	onChange func(from, to S, name string)
}

// New returns a machine in the initial state. onChange, if set, runs after
// every successful transition with the machine lock held.
func New[S State](initial S, transitions []Transition[S], onChange func(from, to S, name string)) *Machine[S] {
	m := &Machine[S]{
		current:  initial,
		edges:    make(map[edge[S]]string, len(transitions)),
		onChange: onChange,
	}
	for _, t := range transitions {
		m.edges[edge[S]{From: t.From, To: t.To}] = t.Name
	}
	return m
}

// CanTransitionTo reports whether the current state has an edge to to.
func (m *Machine[S]) CanTransitionTo(to S) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[edge[S]{From: m.current, To: to}]
	return ok
}

// TransitionTo moves to a new state or returns an error if no edge exists.
func (m *Machine[S]) TransitionTo(to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.current
	name, ok := m.edges[edge[S]{From: from, To: to}]
	if !ok {
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	m.current = to
	if m.onChange != nil {
		m.onChange(from, to, name)
	}
	return nil
}

// MustTransitionTo transitions or panics.
func (m *Machine[S]) MustTransitionTo(to S) {
	if err := m.TransitionTo(to); err != nil {
		panic(err)
	}
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// In reports whether the current state is one of states.
func (m *Machine[S]) In(states ...S) bool {
	return slices.Contains(states, m.Current())
}

package statemachine

import (
	"context"
	"fmt"
)

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S, E ~string] func(ctx context.Context, from S, event E, data any) bool

// Action executes side effects during state transitions. Returning an error prevents the transition.
type Action[S, E ~string] func(ctx context.Context, from, to S, event E, data any) error

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition[S, E ~string] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E]  // All must pass for transition to proceed
	Actions []Action[S, E] // Executed in order; the first error aborts
}

// Step records one applied transition.
type Step[S, E ~string] struct {
	From  S
	To    S
	Event E
}

// Machine is an immutable transition table. It carries no current state, so
// a single Machine can drive any number of records concurrently: callers pass
// the state in and get the next one back.
type Machine[S, E ~string] struct {
	transitions map[S]map[E][]Transition[S, E]
	// events keeps registration order per source state for Settle.
	events map[S][]E
	size   int
}

func newMachine[S, E ~string]() *Machine[S, E] {
	return &Machine[S, E]{
		transitions: make(map[S]map[E][]Transition[S, E]),
		events:      make(map[S][]E),
	}
}

func (m *Machine[S, E]) add(t Transition[S, E]) error {
	if t.From == "" || t.To == "" || t.Event == "" {
		return ErrInvalidTransition
	}
	byEvent, ok := m.transitions[t.From]
	if !ok {
		byEvent = make(map[E][]Transition[S, E])
		m.transitions[t.From] = byEvent
	}
	if _, seen := byEvent[t.Event]; !seen {
		m.events[t.From] = append(m.events[t.From], t.Event)
	}
	// Multiple transitions allowed for same from/event to support guard-based branching
	byEvent[t.Event] = append(byEvent[t.Event], t)
	m.size++
	return nil
}

// match returns the first transition whose guards all pass.
func (m *Machine[S, E]) match(ctx context.Context, from S, event E, data any) (*Transition[S, E], error) {
	candidates := m.transitions[from][event]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(string(from), string(event))
	}
	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, from, event, data) {
			return &candidates[i], nil
		}
	}
	return nil, NewErrTransitionRejected(string(from), string(event))
}

func guardsPass[S, E ~string](ctx context.Context, guards []Guard[S, E], from S, event E, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}

// Fire applies event to from and returns the resulting state.
func (m *Machine[S, E]) Fire(ctx context.Context, from S, event E, data any) (S, error) {
	if event == "" {
		return from, ErrInvalidEvent
	}
	t, err := m.match(ctx, from, event, data)
	if err != nil {
		return from, err
	}
	for _, action := range t.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, t.To, event, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}
	return t.To, nil
}

// CanFire reports whether event would be accepted from state from.
func (m *Machine[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	_, err := m.match(ctx, from, event, data)
	return err == nil
}

// Events lists the events defined for from, in registration order.
func (m *Machine[S, E]) Events(from S) []E {
	return append([]E(nil), m.events[from]...)
}

// Settle repeatedly fires the first acceptable event from the current state
// until none applies, returning the final state and the steps taken. Guards
// see the data as mutated by earlier actions, which lets one call cascade
// through several states. The number of steps is bounded by the size of the
// table; exceeding it means the guards never stabilise.
func (m *Machine[S, E]) Settle(ctx context.Context, from S, data any) (S, []Step[S, E], error) {
	var steps []Step[S, E]
	current := from
	for {
		fired := false
		for _, event := range m.events[current] {
			if !m.CanFire(ctx, current, event, data) {
				continue
			}
			next, err := m.Fire(ctx, current, event, data)
			if err != nil {
				return current, steps, err
			}
			steps = append(steps, Step[S, E]{From: current, To: next, Event: event})
			current = next
			fired = true
			break
		}
		if !fired {
			return current, steps, nil
		}
		if len(steps) > m.size {
			return current, steps, fmt.Errorf("%w: from %q after %d steps", ErrUnstable, from, len(steps))
		}
	}
}

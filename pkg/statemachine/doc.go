// Package statemachine provides a small, type-safe finite-state-machine
// table for Go applications.
//
// States and events are any string-based types. A Machine is built once with
// functional options and is immutable afterwards; it holds no current state,
// so one table can evaluate any number of records concurrently:
//
//	type Status string
//	type Event string
//
//	machine := statemachine.MustNew(
//	    statemachine.WithTransition(Status("draft"), Status("review"), Event("submit")),
//	)
//
//	next, err := machine.Fire(ctx, "draft", "submit", nil)
//
// # Guards and Actions
//
// Guards veto a transition based on runtime data. When several transitions
// share a source state and event, the first whose guards all pass wins.
// Actions run after the guards succeed and before the new state is returned;
// an action error aborts the transition.
//
// Settle drives a record through every transition its data allows, in
// registration order, which is how a record that is several states behind
// catches up in one pass.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* ... */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* ... */ }
package statemachine

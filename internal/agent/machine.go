package agent

import (
	"fmt"
	"time"
)

// State is an agent lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateSpawning State = "spawning"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	// StateStopped is terminal: no outgoing transitions.
	StateStopped State = "stopped"
	// StateFailed is quasi-terminal: its only outgoing edge is Recover.
	StateFailed State = "failed"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventStart   Event = "start"
	EventSpawned Event = "spawned"
	EventPause   Event = "pause"
	EventResume  Event = "resume"
	EventStop    Event = "stop"
	EventFail    Event = "fail"
	EventRecover Event = "recover"
)

// IllegalTransitionError reports an event the current state does not accept.
// Always a programmer error; the machine's state is left unchanged.
type IllegalTransitionError struct {
	From  State
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s does not accept %s", e.From, e.Event)
}

// Transition is one accepted state change, recorded in history.
type Transition struct {
	From  State
	Event Event
	To    State
	At    time.Time
}

type transitionKey struct {
	from  State
	event Event
}

// transitions is the full lifecycle table. Anything absent is illegal.
var transitions = map[transitionKey]State{
	{StateIdle, EventStart}:      StateSpawning,
	{StateSpawning, EventSpawned}: StateActive,
	{StateSpawning, EventFail}:    StateFailed,
	{StateActive, EventPause}:     StatePaused,
	{StateActive, EventStop}:      StateStopping,
	{StateActive, EventFail}:      StateFailed,
	{StatePaused, EventResume}:    StateActive,
	{StatePaused, EventStop}:      StateStopping,
	{StateStopping, EventStop}:    StateStopped,
	{StateStopping, EventFail}:    StateFailed,
	{StateFailed, EventRecover}:   StateIdle,
}

// Machine is a pure per-agent transition table with history. It performs no
// I/O; the supervisor does the actual spawn/kill work and reports outcomes
// as events.
//
// Machine is not safe for concurrent use; the supervisor serializes access.
type Machine struct {
	state   State
	history []Transition
}

// NewMachine creates a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Can reports whether the current state accepts the event.
func (m *Machine) Can(event Event) bool {
	_, ok := transitions[transitionKey{m.state, event}]
	return ok
}

// Transition applies an event. Accepted transitions are appended to history;
// rejected events return an IllegalTransitionError and leave the state
// unchanged.
func (m *Machine) Transition(event Event) (State, error) {
	next, ok := transitions[transitionKey{m.state, event}]
	if !ok {
		return m.state, &IllegalTransitionError{From: m.state, Event: event}
	}

	m.history = append(m.history, Transition{
		From:  m.state,
		Event: event,
		To:    next,
		At:    time.Now().UTC(),
	})
	m.state = next
	return next, nil
}

// History returns the ordered log of accepted transitions.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

package stream

import (
	"fmt"
)

// State is a stream session's protocol state.
type State string

const (
	StateStart         State = "START"
	StateMetaSent      State = "META_SENT"
	StateNarrationSent State = "NARRATION_SENT"
	StateWaiting       State = "WAITING"
	StateSummarySent   State = "SUMMARY_SENT"
	StateMessageSent   State = "MESSAGE_SENT"
	StateDone          State = "DONE"
)

// transitions lists the only legal forward moves.
var transitions = map[State][]State{
	StateStart:         {StateMetaSent},
	StateMetaSent:      {StateNarrationSent, StateMessageSent},
	StateNarrationSent: {StateWaiting},
	StateWaiting:       {StateSummarySent, StateMessageSent},
	StateSummarySent:   {StateDone},
	StateMessageSent:   {StateDone},
}

// IllegalTransitionError reports a protocol violation.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("stream: illegal transition %s -> %s", e.From, e.To)
}

// StateMachine tracks one session's progress through the stream protocol.
// It is not safe for concurrent use; a session drives it from a single goroutine.
type StateMachine struct {
	current State
	history []State
}

// NewStateMachine returns a machine in StateStart.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateStart, history: []State{StateStart}}
}

// State returns the current state.
func (m *StateMachine) State() State {
	return m.current
}

// History returns every state visited, in order.
func (m *StateMachine) History() []State {
	return append([]State(nil), m.history...)
}

// Can reports whether moving to next is legal.
func (m *StateMachine) Can(next State) bool {
	for _, s := range transitions[m.current] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves to next, or returns *IllegalTransitionError leaving the state unchanged.
func (m *StateMachine) Transition(next State) error {
	if !m.Can(next) {
		return &IllegalTransitionError{From: m.current, To: next}
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}

// MustTransition is Transition for call sites where an illegal move is a programming error.
func (m *StateMachine) MustTransition(next State) {
	if err := m.Transition(next); err != nil {
		panic(err)
	}
}

// Done reports whether the machine reached StateDone.
func (m *StateMachine) Done() bool {
	return m.current == StateDone
}

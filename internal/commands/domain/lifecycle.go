package commands

import "fmt"

// State is the lifecycle state of a (group, deviceType, action) slot.
type State string

const (
	StateIdle     State = "idle"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Trigger moves a slot between states.
type Trigger string

const (
	TriggerBreach Trigger = "breach"
	TriggerClear  Trigger = "clear"
	TriggerExpire Trigger = "expire"
)

// ErrInvalidTransition is returned for triggers that do not apply to the current state.
type ErrInvalidTransition struct {
	From    State
	Trigger Trigger
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("commands: %s not allowed in state %s", e.Trigger, e.From)
}

// Transition returns the next state. A breach while Active keeps the slot Active without a new
// command; a breach while Stopping re-activates it before the stop marker expires.
func Transition(from State, trigger Trigger) (State, error) {
	switch from {
	case StateIdle, "":
		if trigger == TriggerBreach {
			return StateActive, nil
		}
	case StateActive:
		switch trigger {
		case TriggerBreach:
			return StateActive, nil
		case TriggerClear:
			return StateStopping, nil
		}
	case StateStopping:
		switch trigger {
		case TriggerExpire:
			return StateIdle, nil
		case TriggerBreach:
			return StateActive, nil
		}
	}
	return from, ErrInvalidTransition{From: from, Trigger: trigger}
}

// Lifecycle tracks slot states in memory.
type Lifecycle struct {
	states map[Key]State
}

// NewLifecycle constructs an empty lifecycle tracker.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{states: make(map[Key]State)}
}

// State returns the state of a slot.
func (l *Lifecycle) State(key Key) State {
	if state, ok := l.states[key]; ok {
		return state
	}
	return StateIdle
}

// Apply transitions a slot and stores the result. Idle slots are forgotten.
func (l *Lifecycle) Apply(key Key, trigger Trigger) (State, error) {
	next, err := Transition(l.State(key), trigger)
	if err != nil {
		return next, err
	}
	if next == StateIdle {
		delete(l.states, key)
	} else {
		l.states[key] = next
	}
	return next, nil
}

// Forget returns a slot to Idle without a transition, e.g. after an external deletion.
func (l *Lifecycle) Forget(key Key) {
	delete(l.states, key)
}

package council

import "fmt"

// State is a position in the council protocol.
type State string

const (
	StateIdle    State = "idle"
	StateStage1  State = "stage1"
	StateStage2  State = "stage2"
	StateStage3  State = "stage3"
	StateDone    State = "done"
	StateAborted State = "aborted"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateIdle:   {StateStage1},
	StateStage1: {StateStage2, StateAborted},
	StateStage2: {StateStage3, StateAborted},
	StateStage3: {StateDone},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// run tracks the state of a single council invocation.
type run struct {
	state State
}

func (r *run) advance(to State) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("council: illegal transition %s -> %s", r.state, to))
	}
	r.state = to
}

package pipeline

import (
	"fmt"

	"weatherlake/internal/models"
)

// State is the orchestrator's per-run state machine position.
type State string

const (
	StatePending      State = "PENDING"
	StateIngesting    State = "INGESTING"
	StateValidating   State = "VALIDATING"
	StateTransforming State = "TRANSFORMING"
	StatePersisting   State = "PERSISTING"
	StateSuccess      State = "SUCCESS"
	StateFailed       State = "FAILED"
	StatePartial      State = "PARTIAL"
)

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StatePartial
}

// transitions is the allowed successor set for each state. The happy path is
// linear; FAILED is reachable from every non-terminal state, PARTIAL once
// partial data has been detected past ingestion.
var transitions = map[State][]State{
	StatePending:      {StateIngesting, StateFailed},
	StateIngesting:    {StateValidating, StateFailed},
	StateValidating:   {StateTransforming, StatePartial, StateFailed},
	StateTransforming: {StatePersisting, StatePartial, StateFailed},
	StatePersisting:   {StateSuccess, StatePartial, StateFailed},
}

// advance validates and returns the transition from one state to the next.
// Pure function: callers own the side effects of entering the new state.
func advance(from, to State) (State, error) {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, &models.InvalidInputError{
		Field:   "state",
		Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
	}
}

// terminalStatus maps the terminal state onto the audit ledger status.
func terminalStatus(s State) models.RunStatus {
	switch s {
	case StateSuccess:
		return models.RunStatusSuccess
	case StatePartial:
		return models.RunStatusPartial
	default:
		return models.RunStatusFailed
	}
}

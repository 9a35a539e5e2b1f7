package session

// State is where the session stands in the current turn.
type State int

const (
	StateIdle State = iota
	StateAwaitingAllResponses
	// StateComplete means every pane finished, some may have failed.
	StateComplete
	// StateErrored means every pane failed.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAllResponses:
		return "awaiting-all-responses"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

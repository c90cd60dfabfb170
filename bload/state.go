package bload

import "strconv"

// State is the position of a Loader in the load protocol.
type State int32

const (
	StateIdle State = iota
	StateHeaderValidating
	StateBeforeHooksRunning
	StateSegmentsLoading
	StateAfterHooksRunning
	StateActive
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeaderValidating:
		return "header-validating"
	case StateBeforeHooksRunning:
		return "before-hooks-running"
	case StateSegmentsLoading:
		return "segments-loading"
	case StateAfterHooksRunning:
		return "after-hooks-running"
	case StateActive:
		return "active"
	case StateAborting:
		return "aborting"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

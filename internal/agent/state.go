package agent

// State is the position of a loop in its run lifecycle.
type State int32

const (
	StateIdle State = iota
	StateAwaitingPromptHook
	StateDispatching
	StateStreaming
	StateExecutingTools
	StateDone
	StateBlocked
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPromptHook:
		return "awaiting_prompt_hook"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateBlocked:
		return "blocked"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

package worker

import "fmt"

// State is the bring-up progress of a worker. It only moves forward.
type State int32

const (
	Uninitialized State = iota
	Instantiated
	StackSet
	TLSInitialized
	// Running is entered immediately before the entrypoint is called and
	// is terminal.
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Instantiated:
		return "instantiated"
	case StackSet:
		return "stack_set"
	case TLSInitialized:
		return "tls_initialized"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

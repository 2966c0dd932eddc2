package runner

import "fmt"

// State is a step of the execution context lifecycle. States only advance.
type State int

const (
	Uninitialized State = iota
	BackendSelected
	DeviceBound
	DescriptorBound
	SourceCompiled
	BuffersReady
	ArgumentsMarshaled
	LaunchConfigured
	Executed
	Finalized
)

var stateNames = [...]string{
	"Uninitialized", "BackendSelected", "DeviceBound", "DescriptorBound", "SourceCompiled",
	"BuffersReady", "ArgumentsMarshaled", "LaunchConfigured", "Executed", "Finalized",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// expect panics unless the context is in state want. Calling a step out of
// order is a programming error, never a runtime condition.
func (c *Context) expect(step string, want State) {
	if c.state != want {
		panic(fmt.Sprintf("runner: %s requires state %s, context is %s", step, want, c.state))
	}
}

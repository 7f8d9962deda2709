package daemon

import "sync/atomic"

// ExecutionCounter numbers executions for the lifetime of the process. Only non-silent executions
// advance it.
type ExecutionCounter struct {
	value atomic.Int64
}

// Next returns the count assigned to an execution: the incremented value for a non-silent one, the
// current value for a silent one.
func (c *ExecutionCounter) Next(silent bool) int {
	if silent {
		return c.Current()
	}
	return int(c.value.Add(1))
}

func (c *ExecutionCounter) Current() int {
	return int(c.value.Load())
}

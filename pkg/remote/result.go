// Package remote provides pooled SSH connections for executing commands on
// remote hosts.
package remote

import "time"

// Result carries the outcome of one remote command execution.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Success reports whether the command exited zero within its bound.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

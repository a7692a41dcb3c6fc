// Package casestate reconstructs the lifecycle state of a case from the
// artifacts left in its run directory. It never consults a process table:
// the inspecting process may run on another host than the solver.
package casestate

import "strings"

// State is the lifecycle state of a case run. The numeric order follows
// the progression of a run.
type State int

const (
	Unknown State = iota
	Staging
	Staged
	Preprocessed
	Running
	Computed
	Finalizing
	Finalized
	ExceededTimeLimit
	Failed
)

var stateNames = [...]string{
	Unknown:           "UNKNOWN",
	Staging:           "STAGING",
	Staged:            "STAGED",
	Preprocessed:      "PREPROCESSED",
	Running:           "RUNNING",
	Computed:          "COMPUTED",
	Finalizing:        "FINALIZING",
	Finalized:         "FINALIZED",
	ExceededTimeLimit: "EXCEEDED_TIME_LIMIT",
	Failed:            "FAILED",
}

// States lists every state in progression order.
var States = []State{
	Unknown, Staging, Staged, Preprocessed, Running,
	Computed, Finalizing, Finalized, ExceededTimeLimit, Failed,
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState is the inverse of String. Unrecognized names yield Unknown.
func ParseState(name string) State {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return Unknown
}

// Done reports whether the state is terminal.
func (s State) Done() bool {
	return s == Finalized || s == Failed || s == ExceededTimeLimit
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	*s = ParseState(string(b))
	return nil
}

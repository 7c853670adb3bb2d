package worker

import (
	"encoding/json"
	"fmt"
	"os/exec"
)

// An Executor does the actual work for a reserved order. Executors may be
// shared between pollers and should be threadsafe. The returned exit code
// and output are reported back to the scheduler as-is; an execution failure
// is expressed as a nonzero exit code, not an error.
type Executor interface {
	Execute(payload json.RawMessage) (exitCode int64, output string)
}

// commandPayload is the shape CommandExecutor expects in an order payload.
type commandPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// CommandExecutor runs the payload's "command" with its "args" as a local
// subprocess and captures the combined output.
type CommandExecutor struct{}

func (ce *CommandExecutor) Execute(payload json.RawMessage) (int64, string) {
	var cp commandPayload
	if err := json.Unmarshal(payload, &cp); err != nil {
		return 1, fmt.Sprintf("could not parse payload: %s", err)
	}
	if cp.Command == "" {
		return 1, "payload has no command to run"
	}
	out, err := exec.Command(cp.Command, cp.Args...).CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return int64(exitErr.ExitCode()), string(out)
		}
		// The command never started (not found, not executable).
		return 127, err.Error()
	}
	return 0, string(out)
}

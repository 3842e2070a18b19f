package process

import (
	"os/exec"
	"path/filepath"

	"github.com/loykin/botvisor/internal/logger"
)

// Spec describes how the worker is launched.
type Spec struct {
	Name    string            `json:"name"`    // used for log file names and metric labels
	Command string            `json:"command"` // runtime, e.g. "node"; empty runs the script directly
	Args    []string          `json:"args"`    // runtime arguments placed before the script
	Script  string            `json:"script"`  // entry point, relative to Dir unless absolute
	Dir     string            `json:"dir"`     // working directory of the worker
	Env     []string          `json:"env"`     // extra KEY=VALUE entries
	Log     logger.FileConfig `json:"log"`     // stdout/stderr capture
}

// EntryPoint is the path whose existence is checked before spawning.
func (s Spec) EntryPoint() string {
	if filepath.IsAbs(s.Script) || s.Dir == "" {
		return s.Script
	}
	return filepath.Join(s.Dir, s.Script)
}

// BuildCommand constructs the worker command without a shell so that the
// spawned PID is the runtime itself and matches the expected image name.
func (s Spec) BuildCommand() *exec.Cmd {
	var cmd *exec.Cmd
	if s.Command == "" {
		// #nosec G204
		cmd = exec.Command(s.EntryPoint(), s.Args...)
	} else {
		args := append(append([]string{}, s.Args...), s.Script)
		// #nosec G204
		cmd = exec.Command(s.Command, args...)
	}
	cmd.Dir = s.Dir
	return cmd
}

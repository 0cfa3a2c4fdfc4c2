package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Invocation is one collaborator execution
type Invocation struct {
	Stage   string
	Command string
	Args    []string
	Env     []string  // full environment of the child
	Output  io.Writer // receives stdout and stderr
}

// Runner executes collaborators. Tests inject fakes.
type Runner interface {
	Run(inv Invocation) error
}

// ExecRunner runs collaborators as child processes. A started stage is not
// cancelled from here; an external scheduler that wants a timeout kills the
// whole batch.
type ExecRunner struct{}

// Run executes the invocation and waits for it
func (ExecRunner) Run(inv Invocation) error {
	cmd := exec.Command(inv.Command, inv.Args...)
	cmd.Env = inv.Env
	cmd.Stdout = inv.Output
	cmd.Stderr = inv.Output

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d", inv.Command, exitErr.ExitCode())
		}
		return fmt.Errorf("start %s: %w", inv.Command, err)
	}
	return nil
}

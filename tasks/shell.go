package tasks

import (
	"context"

	"tangled.sh/tangled.sh/deployer/task"
)

// ShellExec runs the `command` parameter, on the controller or on the host
// depending on the stage.
type ShellExec struct {
	task.Base
}

func NewShellExec(b task.Base) task.Task {
	return &ShellExec{Base: b}
}

func (t *ShellExec) Name() string {
	return NameShellExec
}

func (t *ShellExec) Run(ctx context.Context) (bool, error) {
	command := t.StringParameter("command", "")
	if command == "" {
		return false, task.Fatal(NameShellExec + ": parameter `command` is required")
	}

	ok, _ := t.RunCommand(ctx, command)
	return ok, nil
}

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Shell executes a command line and returns its combined output. A non-zero
// exit status is reported as an error.
type Shell interface {
	Exec(ctx context.Context, command string) (string, error)
}

// LocalShell runs commands with `<Path> -c <command>` in the working
// directory of the current process.
type LocalShell struct {
	Path string
}

func (s LocalShell) Exec(ctx context.Context, command string) (string, error) {
	path := s.Path
	if path == "" {
		path = "sh"
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-c", command)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), fmt.Errorf("%w, exit code: %d", err, exitErr.ExitCode())
		}
		return out.String(), err
	}

	return out.String(), nil
}

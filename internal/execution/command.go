package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
)

// Command is an external process invocation.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory, the current one when empty.
	Dir string
}

// String renders the command as a shell line.
func (c Command) String() string {
	words := make([]string, 0, len(c.Args)+1)
	words = append(words, ShellQuote(c.Path))
	for _, a := range c.Args {
		words = append(words, ShellQuote(a))
	}
	return strings.Join(words, " ")
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_./=:,+@%-]+$`)

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Runner runs external commands to completion.
type Runner interface {
	// Run blocks until the process exits and returns its exit code. The
	// error is reserved for processes that could not be run at all.
	Run(ctx context.Context, cmd Command, out io.Writer) (int, error)
}

// ExecRunner runs commands as child processes, writing their stdout and
// stderr to out.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = out
	c.Stderr = out

	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to run %s: %w", cmd.Path, err)
	}
	return 0, nil
}

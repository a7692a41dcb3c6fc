package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/vk/casegrid/internal/execution"
)

// ErrNoJobID is returned when the queue accepted a script but printed no
// job identifier.
var ErrNoJobID = errors.New("no job id in submission output")

// Submitter hands a batch script to a queue system.
type Submitter interface {
	// Submit queues the script to start after every job of deps has ended,
	// and returns the new job token.
	Submit(ctx context.Context, script string, deps []string) (string, error)
}

var jobIDPattern = regexp.MustCompile(`\d{8}`)

// SlurmSubmitter submits scripts with sbatch.
type SlurmSubmitter struct {
	Runner execution.Runner
	// Exec is the submission command, "sbatch" when empty.
	Exec string
	// Retries is the number of extra attempts when sbatch cannot be run.
	// A rejected script is never retried.
	Retries uint64
	// Backoff returns the retry policy, exponential when nil.
	Backoff func() backoff.BackOff
}

// Submit implements Submitter. sbatch runs from the script directory so
// job output files land next to the scripts.
func (s *SlurmSubmitter) Submit(ctx context.Context, script string, deps []string) (string, error) {
	exe := s.Exec
	if exe == "" {
		exe = "sbatch"
	}
	var args []string
	if len(deps) > 0 {
		args = append(args, "--dependency=afterany:"+strings.Join(deps, ":"))
	}
	args = append(args, filepath.Base(script))
	cmd := execution.Command{Path: exe, Args: args, Dir: filepath.Dir(script)}

	var token string
	op := func() error {
		var out bytes.Buffer
		code, err := s.Runner.Run(ctx, cmd, &out)
		if err != nil {
			return err
		}
		if code != 0 {
			return backoff.Permanent(fmt.Errorf("%s rejected %s (exit code %d): %s",
				exe, script, code, strings.TrimSpace(out.String())))
		}
		id := jobIDPattern.FindString(out.String())
		if id == "" {
			return backoff.Permanent(fmt.Errorf("%w: %q", ErrNoJobID, strings.TrimSpace(out.String())))
		}
		token = id
		return nil
	}

	var policy backoff.BackOff
	if s.Backoff != nil {
		policy = s.Backoff()
	} else {
		policy = backoff.NewExponentialBackOff()
	}
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, s.Retries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return token, nil
}

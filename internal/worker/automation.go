package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/applybot/jobtracker/internal/job"
)

// Automation launches the external program that does the real work for a job.
type Automation interface {
	Start(ctx context.Context, j *job.Job) (Run, error)
}

// Run is a launched automation. Poll must not block.
type Run interface {
	Poll() (exitCode int, exited bool, err error)
}

// CommandAutomation runs "<Interpreter> <Script>" as a child process with its
// output discarded. The job id is passed through the JOB_ID environment variable.
type CommandAutomation struct {
	Interpreter string
	Script      string
	Dir         string
}

func (a *CommandAutomation) Start(_ context.Context, j *job.Job) (Run, error) {
	args := []string{}
	if a.Script != "" {
		args = append(args, a.Script)
	}
	cmd := exec.Command(a.Interpreter, args...)
	cmd.Dir = a.Dir
	cmd.Env = append(os.Environ(), "JOB_ID="+j.ID)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start automation: %w", err)
	}

	r := &commandRun{done: make(chan struct{})}
	go func() {
		r.err = cmd.Wait()
		r.code = cmd.ProcessState.ExitCode()
		close(r.done)
	}()
	return r, nil
}

type commandRun struct {
	done chan struct{}
	code int
	err  error
}

func (r *commandRun) Poll() (int, bool, error) {
	select {
	case <-r.done:
	default:
		return 0, false, nil
	}

	var exitErr *exec.ExitError
	if r.err != nil && !errors.As(r.err, &exitErr) {
		return r.code, true, fmt.Errorf("wait automation: %w", r.err)
	}
	return r.code, true, nil
}

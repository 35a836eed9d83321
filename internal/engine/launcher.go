package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mattjoyce/nfgate/internal/log"
)

// Capture files created in the execution space for each launch.
const (
	StdoutFile = "engine_out.txt"
	StderrFile = "engine_err.txt"
)

// ErrLaunch matches every *LaunchError.
var ErrLaunch = errors.New("engine launch failed")

// LaunchError reports a failure to spawn the engine.
type LaunchError struct {
	Command string
	Dir     string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q in %s: %v", e.Command, e.Dir, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLaunch) true for any LaunchError.
func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// Process is a running engine. It is owned by the launcher's wait goroutine.
type Process struct {
	Pid     int
	Started time.Time

	done     chan struct{}
	exitCode int
	err      error
}

// Done is closed once the process has exited and its capture files are closed.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the exit code after Done is closed; -1 before that or when
// the process was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Err returns the error from waiting on the process once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Launcher spawns engine commands detached from the caller.
type Launcher struct {
	logger *slog.Logger
}

// NewLauncher returns a launcher logging under the "engine" component.
func NewLauncher() *Launcher {
	return &Launcher{logger: log.WithComponent("engine")}
}

// Launch starts cmd in workDir and returns once the process has been spawned.
// The exit status is only logged.
func (l *Launcher) Launch(ctx context.Context, cmd Command, workDir string) error {
	_, err := l.Start(ctx, cmd, workDir)
	return err
}

// Start is Launch returning a handle on the spawned process. ctx only guards
// the spawn; the engine keeps running after it is cancelled.
func (l *Launcher) Start(ctx context.Context, cmd Command, workDir string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Command: cmd.String(), Dir: workDir, Err: err}
	}

	stdout, err := openCapture(filepath.Join(workDir, StdoutFile))
	if err != nil {
		return nil, &LaunchError{Command: cmd.String(), Dir: workDir, Err: err}
	}
	stderr, err := openCapture(filepath.Join(workDir, StderrFile))
	if err != nil {
		_ = stdout.Close()
		return nil, &LaunchError{Command: cmd.String(), Dir: workDir, Err: err}
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = workDir
	c.Stdout = stdout
	c.Stderr = stderr
	configureCommandProcess(c)

	if err := c.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, &LaunchError{Command: cmd.String(), Dir: workDir, Err: err}
	}

	p := &Process{
		Pid:     c.Process.Pid,
		Started: time.Now().UTC(),
		done:    make(chan struct{}),
	}
	l.logger.Info("engine started", "pid", p.Pid, "dir", workDir, "command", cmd.String())

	go l.wait(c, p, stdout, stderr)
	return p, nil
}

func (l *Launcher) wait(c *exec.Cmd, p *Process, files ...*os.File) {
	err := c.Wait()
	for _, f := range files {
		if cerr := f.Close(); cerr != nil {
			l.logger.Warn("close capture file failed", "file", f.Name(), "error", cerr)
		}
	}

	p.err = err
	p.exitCode = c.ProcessState.ExitCode()
	elapsed := time.Since(p.Started)
	if err != nil {
		l.logger.Warn("engine exited with error", "pid", p.Pid, "exit_code", p.exitCode, "elapsed", elapsed, "error", err)
	} else {
		l.logger.Info("engine exited", "pid", p.Pid, "exit_code", p.exitCode, "elapsed", elapsed)
	}
	close(p.done)
}

func openCapture(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

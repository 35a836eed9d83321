package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// ErrUnavailable is returned when the engine cannot be run or does not report
// a version.
var ErrUnavailable = errors.New("engine unavailable")

const defaultProbeTimeout = 10 * time.Second

// ParseVersion extracts the version number from the engine's version output.
func ParseVersion(engineName, output string) (string, bool) {
	re, err := regexp.Compile(regexp.QuoteMeta(engineName) + ` version\s*([\d.]+)`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Runner runs a command to completion and returns its standard output.
type Runner interface {
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	return exec.CommandContext(ctx, cmd.Path, cmd.Args...).Output()
}

// Prober detects whether the engine is installed.
type Prober struct {
	Binary  string
	Timeout time.Duration
	Runner  Runner
}

// NewProber returns a prober for binary using os/exec.
func NewProber(binary string, timeout time.Duration) *Prober {
	return &Prober{Binary: binary, Timeout: timeout, Runner: ExecRunner{}}
}

// DetectVersion runs "<engine> -v" and returns the reported version. Results
// are not cached.
func (p *Prober) DetectVersion(ctx context.Context) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	cmd := Command{Path: p.Binary, Args: []string{"-v"}}
	out, err := runner.Output(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, cmd, err)
	}

	name := filepath.Base(p.Binary)
	version, ok := ParseVersion(name, string(out))
	if !ok {
		return "", fmt.Errorf("%w: no version in %s output", ErrUnavailable, name)
	}
	return version, nil
}

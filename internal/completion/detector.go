// Package completion decides whether a job has finished by looking for the
// report the engine writes at the end of a run.
package completion

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattjoyce/nfgate/internal/execspace"
)

// Status is the outcome of a completion check.
type Status int

const (
	NotFinished Status = iota
	Finished
	// NotFound means the execution space does not exist.
	NotFound
)

func (s Status) String() string {
	switch s {
	case NotFinished:
		return "not_finished"
	case Finished:
		return "finished"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SpaceOpener resolves existing execution spaces.
type SpaceOpener interface {
	Open(ctx context.Context, workflowID, jobID string) (execspace.Space, error)
}

// Detector checks execution spaces for a completion report.
type Detector struct {
	spaces SpaceOpener
}

// NewDetector returns a detector over spaces.
func NewDetector(spaces SpaceOpener) *Detector {
	return &Detector{spaces: spaces}
}

// IsFinished reports whether the job's report exists. It only reads the
// filesystem.
func (d *Detector) IsFinished(ctx context.Context, workflowID, jobID string) (Status, error) {
	sp, err := d.spaces.Open(ctx, workflowID, jobID)
	if errors.Is(err, execspace.ErrNotFound) {
		return NotFound, nil
	}
	if err != nil {
		return NotFinished, err
	}

	_, err = os.Stat(sp.ReportPath())
	switch {
	case err == nil:
		return Finished, nil
	case os.IsNotExist(err):
		return NotFinished, nil
	default:
		return NotFinished, fmt.Errorf("check report for job %q: %w", jobID, err)
	}
}

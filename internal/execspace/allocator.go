// Package execspace allocates the per-job directories nested inside a
// workflow space.
package execspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/nfgate/internal/workflowspace"
)

// ReportFile is written by the engine into the execution space when a run ends.
const ReportFile = "report.html"

// ErrNotFound is returned by Open for a missing or malformed execution space.
var ErrNotFound = errors.New("execution space not found")

// Space is the directory a single job runs in.
type Space struct {
	WorkflowID string
	JobID      string
	Dir        string
}

// ReportPath returns where the engine writes its completion report.
func (s Space) ReportPath() string {
	return filepath.Join(s.Dir, ReportFile)
}

// Allocator creates execution spaces under the workflows root.
type Allocator struct {
	root  string
	newID func() string
}

// NewAllocator creates an allocator for workflow spaces rooted at workflowsRoot.
func NewAllocator(workflowsRoot string) (*Allocator, error) {
	trimmed := strings.TrimSpace(workflowsRoot)
	if trimmed == "" {
		return nil, fmt.Errorf("workflows root is empty")
	}
	return &Allocator{root: filepath.Clean(trimmed), newID: uuid.NewString}, nil
}

// Allocate creates a fresh execution space for workflowID. The workflow space
// must already exist. Collisions are not retried.
func (a *Allocator) Allocate(ctx context.Context, workflowID string) (Space, error) {
	if err := ctx.Err(); err != nil {
		return Space{}, err
	}
	if err := workflowspace.ValidateID(workflowID); err != nil {
		return Space{}, err
	}

	jobID := a.newID()
	dir := filepath.Join(a.root, workflowID, jobID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Space{}, fmt.Errorf("create execution space for job %q: %w", jobID, err)
	}
	return Space{WorkflowID: workflowID, JobID: jobID, Dir: dir}, nil
}

// Open returns an existing execution space.
func (a *Allocator) Open(ctx context.Context, workflowID, jobID string) (Space, error) {
	if err := ctx.Err(); err != nil {
		return Space{}, err
	}
	for _, id := range []string{workflowID, jobID} {
		if err := workflowspace.ValidateID(id); err != nil {
			return Space{}, fmt.Errorf("%w: %s", ErrNotFound, err)
		}
	}

	dir := filepath.Join(a.root, workflowID, jobID)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return Space{}, fmt.Errorf("%w: %s/%s", ErrNotFound, workflowID, jobID)
	}
	if err != nil {
		return Space{}, fmt.Errorf("open execution space %s/%s: %w", workflowID, jobID, err)
	}
	if !info.IsDir() {
		return Space{}, fmt.Errorf("%w: %s/%s is not a directory", ErrNotFound, workflowID, jobID)
	}
	return Space{WorkflowID: workflowID, JobID: jobID, Dir: dir}, nil
}

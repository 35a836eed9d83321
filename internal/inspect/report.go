// Package inspect renders a diagnostic report for a single workflow job:
// its record, execution directory contents and the tail of the engine logs.
package inspect

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/nfgate/internal/engine"
	"github.com/mattjoyce/nfgate/internal/execspace"
	"github.com/mattjoyce/nfgate/internal/jobstore"
)

// DefaultTailLines is how many trailing log lines a report includes.
const DefaultTailLines = 20

// JobGetter reads job records.
type JobGetter interface {
	Get(ctx context.Context, jobID string) (*jobstore.Record, error)
}

// SpaceOpener resolves execution directories.
type SpaceOpener interface {
	Open(ctx context.Context, workflowID, jobID string) (execspace.Space, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	JobID       string     `json:"job_id"`
	WorkflowID  string     `json:"workflow_id"`
	WorkspaceID string     `json:"workspace_id"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	ExecDir     string     `json:"exec_dir,omitempty"`
	HasReport   bool       `json:"has_report"`
	Artifacts   []string   `json:"artifacts"`
	StdoutTail  []string   `json:"stdout_tail,omitempty"`
	StderrTail  []string   `json:"stderr_tail,omitempty"`
}

// Inspector gathers reports.
type Inspector struct {
	jobs      JobGetter
	spaces    SpaceOpener
	tailLines int
}

func New(jobs JobGetter, spaces SpaceOpener) *Inspector {
	return &Inspector{jobs: jobs, spaces: spaces, tailLines: DefaultTailLines}
}

// BuildReport renders a terminal-friendly report for a job.
func (in *Inspector) BuildReport(ctx context.Context, workflowID, jobID string) (string, error) {
	report, err := in.gather(ctx, workflowID, jobID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Workflow    : %s\n", report.WorkflowID)
	fmt.Fprintf(&out, "Workspace   : %s\n", report.WorkspaceID)
	fmt.Fprintf(&out, "State       : %s\n", report.State)
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339))
	if report.StoppedAt != nil {
		fmt.Fprintf(&out, "Stopped     : %s\n", report.StoppedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&out, "Exec dir    : %s\n", renderUnset(report.ExecDir, "<missing>"))
	fmt.Fprintf(&out, "Report      : %s\n", yesNo(report.HasReport))
	fmt.Fprintf(&out, "\n")

	if len(report.Artifacts) == 0 {
		fmt.Fprintf(&out, "artifacts  : <none>\n")
	} else {
		fmt.Fprintf(&out, "artifacts  :\n")
		for _, a := range report.Artifacts {
			fmt.Fprintf(&out, "  - %s\n", a)
		}
	}

	writeTail(&out, engine.StdoutFile, report.StdoutTail)
	writeTail(&out, engine.StderrFile, report.StderrTail)

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable job report.
func (in *Inspector) BuildJSONReport(ctx context.Context, workflowID, jobID string) (string, error) {
	report, err := in.gather(ctx, workflowID, jobID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func (in *Inspector) gather(ctx context.Context, workflowID, jobID string) (*Report, error) {
	if strings.TrimSpace(workflowID) == "" || strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("workflow_id and job_id are required")
	}

	rec, err := in.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", jobID, err)
	}
	if rec.WorkflowID != workflowID {
		return nil, fmt.Errorf("job %q: %w", jobID, jobstore.ErrJobNotFound)
	}

	report := &Report{
		JobID:       rec.ID,
		WorkflowID:  rec.WorkflowID,
		WorkspaceID: rec.WorkspaceID,
		State:       string(rec.State),
		CreatedAt:   rec.CreatedAt,
		StoppedAt:   rec.StoppedAt,
		Artifacts:   make([]string, 0),
	}

	space, err := in.spaces.Open(ctx, workflowID, jobID)
	if errors.Is(err, execspace.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open exec dir: %w", err)
	}
	report.ExecDir = space.Dir

	if _, err := os.Stat(space.ReportPath()); err == nil {
		report.HasReport = true
	}
	if report.Artifacts, err = listArtifacts(space.Dir); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if report.StdoutTail, err = tailFile(filepath.Join(space.Dir, engine.StdoutFile), in.tailLines); err != nil {
		return nil, err
	}
	if report.StderrTail, err = tailFile(filepath.Join(space.Dir, engine.StderrFile), in.tailLines); err != nil {
		return nil, err
	}
	return report, nil
}

func listArtifacts(dir string) ([]string, error) {
	artifacts := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

// tailFile returns the last n lines of path. A missing file has no lines.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return tail(f, n)
}

func tail(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return ring, nil
}

func writeTail(out *strings.Builder, name string, lines []string) {
	fmt.Fprintf(out, "\n%s (last %d lines):\n", name, len(lines))
	if len(lines) == 0 {
		fmt.Fprintf(out, "  <empty>\n")
		return
	}
	for _, l := range lines {
		fmt.Fprintf(out, "  %s\n", l)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Package orchestrator ties workflow storage, workspaces, the engine launcher
// and the job store together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/nfgate/internal/completion"
	"github.com/mattjoyce/nfgate/internal/engine"
	"github.com/mattjoyce/nfgate/internal/events"
	"github.com/mattjoyce/nfgate/internal/execspace"
	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/log"
	"github.com/mattjoyce/nfgate/internal/workflowspace"
	"github.com/mattjoyce/nfgate/internal/workspace"
)

// WorkflowStore stores workflow definitions.
type WorkflowStore interface {
	Create(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)
	Update(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)
	List(ctx context.Context) ([]workflowspace.Space, error)
	Get(ctx context.Context, id string) (workflowspace.Space, error)
	DefinitionPath(ctx context.Context, id string) (string, error)
}

// SpaceAllocator creates execution spaces.
type SpaceAllocator interface {
	Allocate(ctx context.Context, workflowID string) (execspace.Space, error)
}

// Launcher spawns the engine.
type Launcher interface {
	Launch(ctx context.Context, cmd engine.Command, workDir string) error
}

// VersionProber reports the installed engine version.
type VersionProber interface {
	DetectVersion(ctx context.Context) (string, error)
}

// CompletionDetector checks whether a job wrote its report.
type CompletionDetector interface {
	IsFinished(ctx context.Context, workflowID, jobID string) (completion.Status, error)
}

// JobStore persists job records.
type JobStore interface {
	Save(ctx context.Context, rec jobstore.Record) error
	Get(ctx context.Context, id string) (*jobstore.Record, error)
	MarkStopped(ctx context.Context, id string) (bool, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*jobstore.Record, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, any) {}

// Deps are the collaborators of a Manager. All are required except Events.
type Deps struct {
	EngineBinary string
	Workflows    WorkflowStore
	Workspaces   workspace.Resolver
	Spaces       SpaceAllocator
	Launcher     Launcher
	Prober       VersionProber
	Detector     CompletionDetector
	Jobs         JobStore
	Events       Publisher
}

// Manager runs workflow jobs. It holds no job state of its own; the job store
// is consulted on every call.
type Manager struct {
	engineBin  string
	workflows  WorkflowStore
	workspaces workspace.Resolver
	spaces     SpaceAllocator
	launcher   Launcher
	prober     VersionProber
	detector   CompletionDetector
	jobs       JobStore
	events     Publisher
	logger     *slog.Logger
	now        func() time.Time

	// jobs already reported with a missing execution space
	missingWarned sync.Map
}

// New validates deps and returns a Manager.
func New(deps Deps) (*Manager, error) {
	switch {
	case deps.EngineBinary == "":
		return nil, fmt.Errorf("engine binary is empty")
	case deps.Workflows == nil, deps.Workspaces == nil, deps.Spaces == nil:
		return nil, fmt.Errorf("workflow, workspace and execution space stores are required")
	case deps.Launcher == nil, deps.Prober == nil, deps.Detector == nil:
		return nil, fmt.Errorf("launcher, prober and detector are required")
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job store is required")
	}
	if deps.Events == nil {
		deps.Events = discardPublisher{}
	}
	return &Manager{
		engineBin:  deps.EngineBinary,
		workflows:  deps.Workflows,
		workspaces: deps.Workspaces,
		spaces:     deps.Spaces,
		launcher:   deps.Launcher,
		prober:     deps.Prober,
		detector:   deps.Detector,
		jobs:       deps.Jobs,
		events:     deps.Events,
		logger:     log.WithComponent("orchestrator"),
		now:        time.Now,
	}, nil
}

// CreateWorkflow stores a new workflow definition. An empty id gets a fresh one.
func (m *Manager) CreateWorkflow(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error) {
	sp, err := m.workflows.Create(ctx, name, r, id)
	if err != nil {
		m.logger.Warn("create workflow failed", "workflow_id", id, "error", err)
		return workflowspace.Space{}, err
	}
	m.logger.Info("workflow created", "workflow_id", sp.ID, "definition", sp.DefinitionName, "digest", sp.Digest)
	m.publishWorkflow(sp)
	return sp, nil
}

// UpdateWorkflow replaces the definition of an existing or new workflow id.
func (m *Manager) UpdateWorkflow(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error) {
	sp, err := m.workflows.Update(ctx, name, r, id)
	if err != nil {
		m.logger.Warn("update workflow failed", "workflow_id", id, "error", err)
		return workflowspace.Space{}, err
	}
	m.logger.Info("workflow updated", "workflow_id", sp.ID, "definition", sp.DefinitionName, "digest", sp.Digest)
	m.publishWorkflow(sp)
	return sp, nil
}

// ListWorkflows returns all stored workflows.
func (m *Manager) ListWorkflows(ctx context.Context) ([]workflowspace.Space, error) {
	return m.workflows.List(ctx)
}

// GetWorkflow returns the descriptor of workflow id.
func (m *Manager) GetWorkflow(ctx context.Context, id string) (workflowspace.Space, error) {
	sp, err := m.workflows.Get(ctx, id)
	if errors.Is(err, workflowspace.ErrNotFound) {
		return workflowspace.Space{}, &NotFoundError{Resource: "workflow", ID: id}
	}
	return sp, err
}

// WorkflowDefinition returns the path of the definition file of workflow id.
func (m *Manager) WorkflowDefinition(ctx context.Context, id string) (string, error) {
	path, err := m.workflows.DefinitionPath(ctx, id)
	if errors.Is(err, workflowspace.ErrNotFound) {
		return "", &NotFoundError{Resource: "workflow", ID: id}
	}
	return path, err
}

// StartJob launches the engine for workflowID against workspaceID and records
// the job as RUNNING. It returns once the engine has been spawned.
//
// Nothing is recorded when the launch fails; the allocated execution space is
// left on disk.
func (m *Manager) StartJob(ctx context.Context, workflowID, workspaceID string) (*jobstore.Record, error) {
	version, err := m.prober.DetectVersion(ctx)
	if err != nil {
		m.logger.Error("engine probe failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	m.logger.Info("using engine", "binary", m.engineBin, "version", version)

	ws, err := m.workspaces.Resolve(ctx, workspaceID)
	if errors.Is(err, workspace.ErrNotFound) {
		return nil, &NotFoundError{Resource: "workspace", ID: workspaceID}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %q: %w", workspaceID, err)
	}

	script, err := m.WorkflowDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	sp, err := m.spaces.Allocate(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("allocate execution space: %w", err)
	}
	logger := log.WithJob(workflowID, sp.JobID)

	cmd := engine.BuildCommand(m.engineBin, script, ws.Dir, ws.MetsName)
	if err := m.launcher.Launch(ctx, cmd, sp.Dir); err != nil {
		logger.Error("engine launch failed", "dir", sp.Dir, "error", err)
		return nil, err
	}

	rec := jobstore.Record{
		ID:          sp.JobID,
		WorkflowID:  workflowID,
		WorkspaceID: workspaceID,
		State:       jobstore.StateRunning,
		Description: jobstore.Description,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.jobs.Save(ctx, rec); err != nil {
		logger.Error("save job record failed", "error", err)
		return nil, fmt.Errorf("save job record: %w", err)
	}
	logger.Info("job started", "workspace_id", workspaceID, "command", cmd.String())
	m.publishJob(events.JobStarted, &rec)
	return &rec, nil
}

// GetJobStatus returns the current record of a job, first moving it to
// STOPPED if the engine has written its report. Safe to call repeatedly and
// concurrently.
func (m *Manager) GetJobStatus(ctx context.Context, workflowID, jobID string) (*jobstore.Record, error) {
	rec, err := m.jobs.Get(ctx, jobID)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		return nil, &NotFoundError{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", jobID, err)
	}
	if rec.WorkflowID != workflowID {
		return nil, &NotFoundError{Resource: "job", ID: jobID}
	}
	if rec.State != jobstore.StateRunning {
		return rec, nil
	}

	status, err := m.detector.IsFinished(ctx, workflowID, jobID)
	if err != nil {
		return nil, fmt.Errorf("check job %q completion: %w", jobID, err)
	}
	logger := m.logger.With(slog.String("workflow_id", workflowID), slog.String("job_id", jobID))
	switch status {
	case completion.NotFinished:
		return rec, nil
	case completion.NotFound:
		// Stays RUNNING; the reconciler asks again on every sweep.
		if _, seen := m.missingWarned.LoadOrStore(jobID, struct{}{}); seen {
			logger.Debug("execution space missing for running job")
		} else {
			logger.Warn("execution space missing for running job")
		}
		return rec, nil
	}

	transitioned, err := m.jobs.MarkStopped(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("stop job %q: %w", jobID, err)
	}
	rec, err = m.jobs.Get(ctx, jobID)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		return nil, &NotFoundError{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", jobID, err)
	}
	if transitioned {
		logger.Info("job stopped")
		m.publishJob(events.JobStopped, rec)
	}
	return rec, nil
}

// ListJobs returns the jobs of workflowID, oldest first.
func (m *Manager) ListJobs(ctx context.Context, workflowID string) ([]*jobstore.Record, error) {
	recs, err := m.jobs.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list jobs of workflow %q: %w", workflowID, err)
	}
	if len(recs) > 0 {
		return recs, nil
	}
	if _, err := m.WorkflowDefinition(ctx, workflowID); err != nil {
		return nil, err
	}
	return recs, nil
}

// EngineVersion probes the engine without starting a job.
func (m *Manager) EngineVersion(ctx context.Context) (string, error) {
	v, err := m.prober.DetectVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return v, nil
}

func (m *Manager) publishJob(eventType string, rec *jobstore.Record) {
	m.events.Publish(eventType, events.JobPayload{
		WorkflowID:  rec.WorkflowID,
		JobID:       rec.ID,
		WorkspaceID: rec.WorkspaceID,
		State:       string(rec.State),
	})
}

func (m *Manager) publishWorkflow(sp workflowspace.Space) {
	m.events.Publish(events.WorkflowStored, events.WorkflowPayload{
		WorkflowID: sp.ID,
		Definition: sp.DefinitionName,
		Digest:     sp.Digest,
	})
}

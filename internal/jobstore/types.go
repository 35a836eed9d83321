package jobstore

import (
	"errors"
	"time"
)

// State is the lifecycle state of a workflow job.
type State string

const (
	// StateQueued is reserved; no code path in this service produces it.
	StateQueued  State = "QUEUED"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

// Description is the constant tag stored with every job record.
const Description = "Workflow-Job"

// Record is the persisted status entry for one execution of a workflow
// against a workspace.
type Record struct {
	ID          string
	WorkflowID  string
	WorkspaceID string
	State       State
	Description string
	CreatedAt   time.Time
	StoppedAt   *time.Time
}

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateKey signals a job id collision. Job ids are fresh UUIDs, so
	// this is an integrity failure rather than a normal outcome.
	ErrDuplicateKey = errors.New("duplicate job id")
)

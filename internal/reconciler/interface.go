package reconciler

import (
	"context"
	"time"

	"github.com/mattjoyce/nfgate/internal/jobstore"
)

//go:generate mockgen -destination=mocks/mock_reconciler.go -package=mocks github.com/mattjoyce/nfgate/internal/reconciler JobLister,StatusChecker,StagingPruner

// JobLister finds jobs by state.
type JobLister interface {
	ListByState(ctx context.Context, state jobstore.State) ([]*jobstore.Record, error)
}

// StatusChecker refreshes a job's state from its execution space.
type StatusChecker interface {
	GetJobStatus(ctx context.Context, workflowID, jobID string) (*jobstore.Record, error)
}

// StagingPruner removes abandoned workflow uploads.
type StagingPruner interface {
	PruneStaging(ctx context.Context, olderThan time.Duration) (int, error)
}

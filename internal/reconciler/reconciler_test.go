package reconciler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/reconciler/mocks"
)

// syncBuffer guards a bytes.Buffer shared with the background loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func newTestSlogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), buf
}

func running(id, wf string) *jobstore.Record {
	return &jobstore.Record{ID: id, WorkflowID: wf, WorkspaceID: "ws", State: jobstore.StateRunning}
}

func TestSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jobs := mocks.NewMockJobLister(ctrl)
	status := mocks.NewMockStatusChecker(ctrl)
	pruner := mocks.NewMockStagingPruner(ctrl)
	slogger, logBuf := newTestSlogger()
	r := New(time.Minute, jobs, status, pruner, slogger)
	ctx := context.Background()

	t.Run("no running jobs", func(t *testing.T) {
		jobs.EXPECT().ListByState(ctx, jobstore.StateRunning).Return(nil, nil)
		pruner.EXPECT().PruneStaging(ctx, StagingMaxAge).Return(0, nil)

		n, err := r.Sweep(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("finished jobs are counted, failures skipped", func(t *testing.T) {
		logBuf.Reset()

		jobs.EXPECT().ListByState(ctx, jobstore.StateRunning).Return([]*jobstore.Record{
			running("job-1", "wf-1"),
			running("job-2", "wf-1"),
			running("job-3", "wf-2"),
		}, nil)
		gomock.InOrder(
			status.EXPECT().GetJobStatus(ctx, "wf-1", "job-1").Return(&jobstore.Record{ID: "job-1", State: jobstore.StateStopped}, nil),
			status.EXPECT().GetJobStatus(ctx, "wf-1", "job-2").Return(nil, errors.New("disk error")),
			status.EXPECT().GetJobStatus(ctx, "wf-2", "job-3").Return(running("job-3", "wf-2"), nil),
		)
		pruner.EXPECT().PruneStaging(ctx, StagingMaxAge).Return(2, nil)

		n, err := r.Sweep(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Contains(t, logBuf.String(), "job reconciled")
		assert.Contains(t, logBuf.String(), "refresh job failed")
		assert.Contains(t, logBuf.String(), "pruned staging directories")
	})

	t.Run("list error", func(t *testing.T) {
		jobs.EXPECT().ListByState(ctx, jobstore.StateRunning).Return(nil, errors.New("db error"))

		_, err := r.Sweep(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "list running jobs: db error")
	})

	t.Run("prune error is logged", func(t *testing.T) {
		logBuf.Reset()
		jobs.EXPECT().ListByState(ctx, jobstore.StateRunning).Return(nil, nil)
		pruner.EXPECT().PruneStaging(ctx, StagingMaxAge).Return(0, errors.New("permission denied"))

		_, err := r.Sweep(ctx)
		assert.NoError(t, err)
		assert.Contains(t, logBuf.String(), "prune staging directories failed")
	})
}

func TestSweepWithoutPruner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jobs := mocks.NewMockJobLister(ctrl)
	status := mocks.NewMockStatusChecker(ctrl)
	slogger, _ := newTestSlogger()
	r := New(time.Minute, jobs, status, nil, slogger)

	jobs.EXPECT().ListByState(gomock.Any(), jobstore.StateRunning).Return(nil, nil)
	_, err := r.Sweep(context.Background())
	assert.NoError(t, err)
}

func TestStartDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	slogger, logBuf := newTestSlogger()
	r := New(0, mocks.NewMockJobLister(ctrl), mocks.NewMockStatusChecker(ctrl), nil, slogger)

	assert.NoError(t, r.Start(context.Background()))
	r.Stop()
	assert.Contains(t, logBuf.String(), "reconciler disabled")
}

func TestStartLoopsUntilStopped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jobs := mocks.NewMockJobLister(ctrl)
	status := mocks.NewMockStatusChecker(ctrl)
	slogger, _ := newTestSlogger()
	r := New(10*time.Millisecond, jobs, status, nil, slogger)

	swept := make(chan struct{}, 16)
	jobs.EXPECT().ListByState(gomock.Any(), jobstore.StateRunning).DoAndReturn(
		func(context.Context, jobstore.State) ([]*jobstore.Record, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		}).MinTimes(2)

	assert.NoError(t, r.Start(context.Background()))
	for range 2 {
		select {
		case <-swept:
		case <-time.After(5 * time.Second):
			t.Fatal("reconciler did not sweep")
		}
	}
	r.Stop()
	r.Stop()
}

func TestStartInitialSweepError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jobs := mocks.NewMockJobLister(ctrl)
	slogger, _ := newTestSlogger()
	r := New(time.Minute, jobs, mocks.NewMockStatusChecker(ctrl), nil, slogger)

	jobs.EXPECT().ListByState(gomock.Any(), jobstore.StateRunning).Return(nil, errors.New("db closed"))
	err := r.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "initial reconcile sweep")
}

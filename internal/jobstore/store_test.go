package jobstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/nfgate/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db)
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, Record{ID: "job-1", WorkflowID: "wf-1", WorkspaceID: "ws-1", State: StateRunning}))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.ID)
	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, "ws-1", rec.WorkspaceID)
	assert.Equal(t, StateRunning, rec.State)
	assert.Equal(t, Description, rec.Description)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.StoppedAt)
}

func TestSaveDuplicateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	rec := Record{ID: "job-1", WorkflowID: "wf-1", WorkspaceID: "ws-1"}
	require.NoError(t, s.Save(ctx, rec))

	err := s.Save(ctx, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestSaveValidatesFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	assert.Error(t, s.Save(context.Background(), Record{WorkflowID: "wf", WorkspaceID: "ws"}))
	assert.Error(t, s.Save(context.Background(), Record{ID: "j", WorkspaceID: "ws"}))
	assert.Error(t, s.Save(context.Background(), Record{ID: "j", WorkflowID: "wf"}))
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMarkStoppedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Save(ctx, Record{ID: "job-1", WorkflowID: "wf-1", WorkspaceID: "ws-1"}))

	transitioned, err := s.MarkStopped(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = s.MarkStopped(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, transitioned)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
	require.NotNil(t, rec.StoppedAt)
	assert.True(t, fixed.Equal(*rec.StoppedAt))
}

func TestMarkStoppedUnknownJob(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.MarkStopped(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMarkStoppedConcurrentCallers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, Record{ID: "job-1", WorkflowID: "wf-1", WorkspaceID: "ws-1"}))

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkStopped(ctx, "job-1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				wins++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, wins, "exactly one caller performs the transition")

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
}

func TestListByStateAndWorkflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range []Record{
		{ID: "a", WorkflowID: "wf-1", WorkspaceID: "ws"},
		{ID: "b", WorkflowID: "wf-2", WorkspaceID: "ws"},
		{ID: "c", WorkflowID: "wf-1", WorkspaceID: "ws"},
	} {
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(ctx, r))
	}
	_, err := s.MarkStopped(ctx, "b")
	require.NoError(t, err)

	running, err := s.ListByState(ctx, StateRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(running))

	stopped, err := s.ListByState(ctx, StateStopped)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(stopped))

	wf1, err := s.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(wf1))

	none, err := s.ListByWorkflow(ctx, "wf-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ids(recs []*Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
